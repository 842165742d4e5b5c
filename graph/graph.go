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

// Package graph implements a small memoizing dependency graph. Values are
// derived from keys by registered functions, dependencies are recorded as
// the functions request other values, and invalidating a key dirties its
// transitive reverse dependencies so the next evaluation recomputes only
// the affected subgraph.
package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Key identifies a node. Implementations must be valid map keys; two keys
// are the same node exactly when they compare equal.
type Key interface {
	// FuncName names the registered Func that derives this key's value.
	FuncName() string
}

// Value is the result of evaluating a node.
type Value interface{}

// Env is handed to a Func so it can request the values of other nodes.
// Every Get records a dependency edge from the requesting node.
type Env interface {
	Get(key Key) (Value, error)
}

// Func derives the value for a key. It must be deterministic given its
// key and the values it requests through env.
type Func func(ctx context.Context, key Key, env Env) (Value, error)

// Stats counts graph activity since construction.
type Stats struct {
	// Computed is the number of times a node function ran.
	Computed uint64
	// CacheHits is the number of requests served from an already-clean node.
	CacheHits uint64
	// Invalidated is the number of nodes dirtied by Invalidate calls.
	Invalidated uint64
}

type node struct {
	value Value
	deps  []Key
	rdeps map[Key]bool
	dirty bool
}

type flight struct {
	done  chan struct{}
	value Value
	err   error
}

// Graph evaluates and caches nodes. Concurrent Evaluate calls are safe and
// concurrent requests for the same key share one computation. Invalidate
// and Inject must not run concurrently with Evaluate.
type Graph struct {
	mu      sync.Mutex
	funcs   map[string]Func
	nodes   map[Key]*node
	flights map[Key]*flight
	buildID uuid.UUID
	stats   Stats
}

// New returns a Graph that derives values using the given functions,
// keyed by Key.FuncName.
func New(funcs map[string]Func) *Graph {
	fns := make(map[string]Func, len(funcs))
	for name, fn := range funcs {
		fns[name] = fn
	}
	return &Graph{
		funcs:   fns,
		nodes:   make(map[Key]*node),
		flights: make(map[Key]*flight),
		buildID: uuid.New(),
	}
}

// BuildID identifies the current build generation.
func (g *Graph) BuildID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buildID
}

// NewBuild starts a new build generation and returns its id.
func (g *Graph) NewBuild() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buildID = uuid.New()
	return g.buildID
}

// Evaluate returns the value for key, computing it and any dependencies
// not already cached. Errors are never cached; a failed node is attempted
// again on the next request.
func (g *Graph) Evaluate(ctx context.Context, key Key) (Value, error) {
	return g.get(ctx, key)
}

func (g *Graph) get(ctx context.Context, key Key) (Value, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.value, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n, ok := g.nodes[key]; ok && !n.dirty {
		g.stats.CacheHits++
		g.mu.Unlock()
		return n.value, nil
	}
	f := &flight{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	f.value, f.err = g.compute(ctx, key)

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()
	close(f.done)
	return f.value, f.err
}

func (g *Graph) compute(ctx context.Context, key Key) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := g.funcs[key.FuncName()]
	if !ok {
		panic(fmt.Sprintf("no function registered for %q (key %v)", key.FuncName(), key))
	}
	env := &depEnv{graph: g, ctx: ctx, seen: make(map[Key]bool)}
	value, err := fn(ctx, key, env)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Computed++
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.commitLocked(key, value, env.deps)
	return value, nil
}

// commitLocked installs the freshly computed value, replacing any dependency
// edges left from a previous computation of the same key.
func (g *Graph) commitLocked(key Key, value Value, deps []Key) {
	n := &node{value: value, deps: deps, rdeps: make(map[Key]bool)}
	if old, ok := g.nodes[key]; ok {
		for _, d := range old.deps {
			if dn, ok := g.nodes[d]; ok {
				delete(dn.rdeps, key)
			}
		}
		n.rdeps = old.rdeps
	}
	g.nodes[key] = n
	for _, d := range deps {
		if dn, ok := g.nodes[d]; ok {
			dn.rdeps[key] = true
		}
	}
}

// Inject installs a value for key without running its function, as if it
// had been computed with no dependencies. Later evaluations use the
// injected value until the key is invalidated.
func (g *Graph) Inject(key Key, value Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitLocked(key, value, nil)
}

// Invalidate dirties the named keys and everything that transitively
// depends on them. Unknown keys are ignored.
func (g *Graph) Invalidate(keys ...Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var walk func(k Key)
	walk = func(k Key) {
		n, ok := g.nodes[k]
		if !ok || n.dirty {
			return
		}
		n.dirty = true
		g.stats.Invalidated++
		for rd := range n.rdeps {
			walk(rd)
		}
	}
	for _, k := range keys {
		walk(k)
	}
}

// Stats returns a snapshot of the graph's counters.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

type depEnv struct {
	graph *Graph
	ctx   context.Context
	seen  map[Key]bool
	deps  []Key
}

func (e *depEnv) Get(key Key) (Value, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	value, err := e.graph.get(e.ctx, key)
	if err != nil {
		return nil, err
	}
	if !e.seen[key] {
		e.seen[key] = true
		e.deps = append(e.deps, key)
	}
	return value, nil
}
