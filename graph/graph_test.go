// Copyright 2024 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testKey struct {
	kind string
	name string
}

func (k testKey) FuncName() string { return k.kind }

func TestEvaluateChain(t *testing.T) {
	runs := make(map[string]int)
	funcs := map[string]Func{
		"leaf": func(ctx context.Context, key Key, env Env) (Value, error) {
			runs["leaf"]++
			return "l", nil
		},
		"mid": func(ctx context.Context, key Key, env Env) (Value, error) {
			runs["mid"]++
			v, err := env.Get(testKey{"leaf", "a"})
			if err != nil {
				return nil, err
			}
			return v.(string) + "m", nil
		},
		"top": func(ctx context.Context, key Key, env Env) (Value, error) {
			runs["top"]++
			v, err := env.Get(testKey{"mid", "a"})
			if err != nil {
				return nil, err
			}
			return v.(string) + "t", nil
		},
	}
	g := New(funcs)
	ctx := context.Background()

	v, err := g.Evaluate(ctx, testKey{"top", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "lmt" {
		t.Errorf("want lmt, got %v", v)
	}
	if d := cmp.Diff(Stats{Computed: 3}, g.Stats()); d != "" {
		t.Errorf("stats after first evaluation (-want +got):\n%s", d)
	}

	// A second evaluation is a pure cache hit.
	if _, err := g.Evaluate(ctx, testKey{"top", "a"}); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(Stats{Computed: 3, CacheHits: 1}, g.Stats()); d != "" {
		t.Errorf("stats after second evaluation (-want +got):\n%s", d)
	}
	if d := cmp.Diff(map[string]int{"leaf": 1, "mid": 1, "top": 1}, runs); d != "" {
		t.Errorf("function runs (-want +got):\n%s", d)
	}
}

func TestInvalidate(t *testing.T) {
	runs := make(map[string]int)
	chain := func(dep *testKey, suffix string) Func {
		return func(ctx context.Context, key Key, env Env) (Value, error) {
			runs[key.(testKey).kind]++
			if dep == nil {
				return suffix, nil
			}
			v, err := env.Get(*dep)
			if err != nil {
				return nil, err
			}
			return v.(string) + suffix, nil
		}
	}
	leaf := testKey{"leaf", "a"}
	mid := testKey{"mid", "a"}
	top := testKey{"top", "a"}
	other := testKey{"other", "b"}
	g := New(map[string]Func{
		"leaf":  chain(nil, "l"),
		"mid":   chain(&leaf, "m"),
		"top":   chain(&mid, "t"),
		"other": chain(nil, "o"),
	})
	ctx := context.Background()

	for _, k := range []testKey{top, other} {
		if _, err := g.Evaluate(ctx, k); err != nil {
			t.Fatal(err)
		}
	}

	// Invalidating the leaf dirties the whole chain but not the
	// unrelated node.
	g.Invalidate(leaf)
	if _, err := g.Evaluate(ctx, top); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Evaluate(ctx, other); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{"leaf": 2, "mid": 2, "top": 2, "other": 1}
	if d := cmp.Diff(want, runs); d != "" {
		t.Errorf("runs after leaf invalidation (-want +got):\n%s", d)
	}

	// Invalidating the middle leaves the leaf cached.
	g.Invalidate(mid)
	if _, err := g.Evaluate(ctx, top); err != nil {
		t.Fatal(err)
	}
	want = map[string]int{"leaf": 2, "mid": 3, "top": 3, "other": 1}
	if d := cmp.Diff(want, runs); d != "" {
		t.Errorf("runs after mid invalidation (-want +got):\n%s", d)
	}

	// Invalidating an unknown key is a no-op.
	g.Invalidate(testKey{"leaf", "zzz"})
	if _, err := g.Evaluate(ctx, top); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(want, runs); d != "" {
		t.Errorf("runs after no-op invalidation (-want +got):\n%s", d)
	}
}

func TestInject(t *testing.T) {
	leafRuns := 0
	g := New(map[string]Func{
		"leaf": func(ctx context.Context, key Key, env Env) (Value, error) {
			leafRuns++
			return "computed", nil
		},
		"top": func(ctx context.Context, key Key, env Env) (Value, error) {
			return env.Get(testKey{"leaf", "a"})
		},
	})
	ctx := context.Background()

	g.Inject(testKey{"leaf", "a"}, "injected")
	v, err := g.Evaluate(ctx, testKey{"top", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "injected" {
		t.Errorf("want injected, got %v", v)
	}
	if leafRuns != 0 {
		t.Errorf("leaf function ran %d times for an injected node", leafRuns)
	}

	// Invalidating the injected node falls back to the function.
	g.Invalidate(testKey{"leaf", "a"})
	v, err = g.Evaluate(ctx, testKey{"top", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if v.(string) != "computed" || leafRuns != 1 {
		t.Errorf("want computed after invalidation, got %v with %d leaf runs", v, leafRuns)
	}
}

func TestErrorsNotCached(t *testing.T) {
	fail := true
	errJam := errors.New("jam")
	g := New(map[string]Func{
		"flaky": func(ctx context.Context, key Key, env Env) (Value, error) {
			if fail {
				return nil, errJam
			}
			return "ok", nil
		},
	})
	ctx := context.Background()
	key := testKey{"flaky", "a"}

	if _, err := g.Evaluate(ctx, key); !errors.Is(err, errJam) {
		t.Fatalf("want jam error, got %v", err)
	}
	// The same error again, not a cached success or a cached error value.
	if _, err := g.Evaluate(ctx, key); !errors.Is(err, errJam) {
		t.Fatalf("want jam error on retry, got %v", err)
	}
	fail = false
	v, err := g.Evaluate(ctx, key)
	if err != nil || v.(string) != "ok" {
		t.Fatalf("want ok after clearing failure, got %v, %v", v, err)
	}
	if got := g.Stats().Computed; got != 3 {
		t.Errorf("want 3 computations, got %d", got)
	}
}

func TestSameKeyRequestsShareOneComputation(t *testing.T) {
	var calls int32
	g := New(map[string]Func{
		"slow": func(ctx context.Context, key Key, env Env) (Value, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Evaluate(ctx, testKey{"slow", "a"})
			if err != nil || v.(string) != "done" {
				t.Errorf("got %v, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("want 1 call for 10 concurrent requests, got %d", calls)
	}
}

func TestIndependentKeysEvaluateConcurrently(t *testing.T) {
	var calls int32
	g := New(map[string]Func{
		"slow": func(ctx context.Context, key Key, env Env) (Value, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(10 * time.Millisecond)
			return key.(testKey).name, nil
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			v, err := g.Evaluate(ctx, testKey{"slow", name})
			if err != nil || v.(string) != name {
				t.Errorf("key %q: got %v, %v", name, v, err)
			}
		}(name)
	}
	wg.Wait()
	if calls != 5 {
		t.Errorf("want 5 calls, got %d", calls)
	}
}

func TestCancellation(t *testing.T) {
	var blocked int32 = 1
	g := New(map[string]Func{
		"block": func(ctx context.Context, key Key, env Env) (Value, error) {
			if atomic.LoadInt32(&blocked) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "ok", nil
		},
	})
	key := testKey{"block", "a"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := g.Evaluate(ctx, key); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	// The cancelled attempt was not committed.
	atomic.StoreInt32(&blocked, 0)
	v, err := g.Evaluate(context.Background(), key)
	if err != nil || v.(string) != "ok" {
		t.Fatalf("want ok after cancellation, got %v, %v", v, err)
	}
	if hits := g.Stats().CacheHits; hits != 0 {
		t.Errorf("want no cache hits, got %d", hits)
	}
}

func TestUnregisteredFuncPanics(t *testing.T) {
	g := New(nil)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for an unregistered function")
		}
		if !strings.Contains(r.(string), "no function registered") {
			t.Errorf("unexpected panic message %q", r)
		}
	}()
	g.Evaluate(context.Background(), testKey{"nosuch", "a"})
}

func TestBuildID(t *testing.T) {
	g := New(nil)
	first := g.BuildID()
	if g.BuildID() != first {
		t.Errorf("BuildID changed without NewBuild")
	}
	second := g.NewBuild()
	if second == first {
		t.Errorf("NewBuild returned the previous id")
	}
	if g.BuildID() != second {
		t.Errorf("BuildID does not match NewBuild result")
	}
}
