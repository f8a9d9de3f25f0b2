//  Copyright (c) 2023 Uber Technologies, Inc.
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

// Package inference implements the effect checker. It closes the declared effects of every
// function over the call graph, so that each function's reachable set holds everything its
// transitive callees may do, and checks that the declared effects cover the reachable ones.
//
// The closure is a fixed point over the strongly connected components of the call graph,
// computed callees-first; independent (weakly connected) parts of the graph are closed in
// parallel.
package inference

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/util/orderedmap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Witness is the shortest call path from a function to one that declares an effect the function
// is missing.
type Witness struct {
	Effect decl.EffectDeclaration
	// Path starts at the checked function and ends at the declaring one.
	Path []string
}

func (w Witness) String() string {
	return w.Effect.String() + " via " + strings.Join(w.Path, " -> ")
}

// ClosureResult is the effect verdict of one function.
type ClosureResult struct {
	FunctionID string
	Declared   decl.EffectSet
	// Reachable holds the non-pure effects of the function and everything it transitively calls.
	Reachable decl.EffectSet
	Sound     bool
	// Missing lists the reachable effects no declared effect covers, sorted.
	Missing   []decl.EffectDeclaration
	Witnesses []Witness
}

// Options configure the effect checker.
type Options struct {
	// Workers bounds the number of components closed in parallel; 0 means unbounded.
	Workers int
	Logger  *zap.Logger
}

// Result holds the closure of every function, in declaration order.
type Result struct {
	graph   *Graph
	results *orderedmap.OrderedMap[string, *ClosureResult]
}

// Lookup returns the result of a function.
func (r *Result) Lookup(id string) (*ClosureResult, bool) {
	return r.results.Load(id)
}

// Function returns the result of a function, or nil when it is not part of the program.
func (r *Result) Function(id string) *ClosureResult {
	c, _ := r.results.Load(id)
	return c
}

// All returns every result in declaration order.
func (r *Result) All() []*ClosureResult {
	out := make([]*ClosureResult, 0, r.results.Len())
	r.results.OrderedRange(func(_ string, c *ClosureResult) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Unsound returns the results that miss at least one effect.
func (r *Result) Unsound() []*ClosureResult {
	var out []*ClosureResult
	for _, c := range r.All() {
		if !c.Sound {
			out = append(out, c)
		}
	}
	return out
}

// Converged runs one more propagation round over the closed sets and reports whether it changed
// nothing.
func (r *Result) Converged() bool {
	reach := make([]decl.EffectSet, r.graph.Len())
	declared := make([]decl.EffectSet, r.graph.Len())
	for v := range reach {
		c := r.results.Value(r.graph.ID(v))
		reach[v] = c.Reachable.Copy()
		declared[v] = c.Declared
	}
	all := make([]int, r.graph.Len())
	for i := range all {
		all[i] = i
	}
	return !round(r.graph, all, declared, reach)
}

// Check closes the effects of prog and checks every function for soundness. It only fails when
// ctx is done.
func Check(ctx context.Context, prog *decl.Program, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := NewGraph(prog, logger)
	fns := prog.Functions()

	declared := make([]decl.EffectSet, g.Len())
	reach := make([]decl.EffectSet, g.Len())
	for v, f := range fns {
		declared[v] = f.DeclaredEffects()
		reach[v] = nonPure(declared[v])
	}

	sccs := g.SCCs()
	for _, scc := range sccs {
		slices.Sort(scc)
	}
	// Components touch disjoint slots of reach, so they can be closed concurrently.
	eg, ectx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		eg.SetLimit(opts.Workers)
	}
	for _, comp := range g.WeakComponents() {
		eg.Go(func() error {
			return closeComponent(ectx, g, sccs, comp, declared, reach, logger)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{graph: g, results: orderedmap.New[string, *ClosureResult]()}
	for v, f := range fns {
		c := &ClosureResult{FunctionID: f.ID, Declared: declared[v], Reachable: reach[v]}
		c.Missing = declared[v].Uncovered(reach[v])
		c.Sound = len(c.Missing) == 0
		for _, e := range c.Missing {
			path := g.ShortestPath(v, func(w int) bool { return declared[w].Contains(e) })
			if path == nil {
				logger.Error("no witness for missing effect", zap.String("function", f.ID), zap.Stringer("effect", e))
				continue
			}
			w := Witness{Effect: e}
			for _, n := range path {
				w.Path = append(w.Path, g.ID(n))
			}
			c.Witnesses = append(c.Witnesses, w)
		}
		res.results.Store(f.ID, c)
	}
	return res, nil
}

// closeComponent propagates reachable effects within one weakly connected component until no set
// changes.
func closeComponent(ctx context.Context, g *Graph, sccs [][]int, comp []int, declared, reach []decl.EffectSet, logger *zap.Logger) error {
	in := make(map[int]bool, len(comp))
	for _, v := range comp {
		in[v] = true
	}
	// Callees come before callers; members of one SCC share their reachable set.
	var order []int
	for _, scc := range sccs {
		if !in[scc[0]] {
			continue
		}
		order = append(order, scc...)
		shared := make(decl.EffectSet)
		for _, v := range scc {
			shared = shared.Union(reach[v])
			for _, w := range g.Callees(v) {
				shared = shared.Union(reach[w])
			}
		}
		for _, v := range scc {
			reach[v] = shared.Copy()
		}
	}

	for rounds := 1; ; rounds++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !round(g, order, declared, reach) {
			return nil
		}
		if rounds >= config.MaxFixedPointRounds {
			logger.Error("effect closure did not converge", zap.Int("rounds", rounds), zap.String("component", g.ID(comp[0])))
			return fmt.Errorf("effect closure of the component of %s did not converge after %d rounds", g.ID(comp[0]), rounds)
		}
	}
}

// round recomputes reach[v] = nonPure(declared[v]) ∪ reach[callees] for every node of order and
// reports whether any set grew.
func round(g *Graph, order []int, declared, reach []decl.EffectSet) bool {
	changed := false
	for _, v := range order {
		next := nonPure(declared[v]).Union(reach[v])
		for _, w := range g.Callees(v) {
			next = next.Union(reach[w])
		}
		if !next.Eq(reach[v]) {
			reach[v] = next
			changed = true
		}
	}
	return changed
}

func nonPure(s decl.EffectSet) decl.EffectSet {
	out := make(decl.EffectSet, len(s))
	for e := range s {
		if e.Kind != decl.Pure {
			out.Add(e)
		}
	}
	return out
}
