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

// Package facts exports the effect model of a program as Datalog facts and evaluates them with
// Mangle. The base facts record the call graph, the declared effects and the taint tables; rules
// derive which effects, sinks and sources every function reaches through its callees. The output
// is the hand-off point for downstream flow analysis.
package facts

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/taint"
	"go.uber.org/zap"
)

// Schema declares the predicates and the reachability rules.
const Schema = `
Decl function(F) bound [/string].
Decl calls(Caller, Callee) bound [/string, /string].
Decl declares(F, Resource, Access) bound [/string, /string, /string].
Decl sink_resource(Resource, Sink) bound [/string, /string].
Decl source_resource(Resource, Source) bound [/string, /string].
Decl writes_access(Access) bound [/string].
Decl reads_access(Access) bound [/string].

Decl reaches(F, G) bound [/string, /string].
Decl reaches_effect(F, Resource, Access) bound [/string, /string, /string].
Decl reaches_sink(F, Sink) bound [/string, /string].
Decl reaches_source(F, Source) bound [/string, /string].

writes_access("w").
writes_access("rw").
reads_access("r").
reads_access("rw").

reaches(F, G) :- calls(F, G).
reaches(F, H) :- calls(F, G), reaches(G, H).

reaches_effect(F, R, A) :- declares(F, R, A).
reaches_effect(F, R, A) :- reaches(F, G), declares(G, R, A).

reaches_sink(F, S) :- reaches_effect(F, R, A), writes_access(A), sink_resource(R, S).
reaches_source(F, S) :- reaches_effect(F, R, A), reads_access(A), source_resource(R, S).
`

// Predicate names of the base and derived facts.
const (
	PredFunction       = "function"
	PredCalls          = "calls"
	PredDeclares       = "declares"
	PredSinkResource   = "sink_resource"
	PredSourceResource = "source_resource"
	PredReaches        = "reaches"
	PredReachesEffect  = "reaches_effect"
	PredReachesSink    = "reaches_sink"
	PredReachesSource  = "reaches_source"
)

// Facts holds the evaluated fact store of one program.
type Facts struct {
	base    []ast.Atom
	effects map[string][]decl.EffectDeclaration
	sinks   map[string][]taint.Sink
	sources map[string][]taint.Source
	callees map[string][]string
}

// Build exports prog and table as facts and evaluates the reachability rules.
func Build(prog *decl.Program, table *taint.Table, logger *zap.Logger) (*Facts, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	unit, err := parse.Unit(strings.NewReader(Schema))
	if err != nil {
		return nil, fmt.Errorf("parse fact schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze fact schema: %w", err)
	}

	f := &Facts{}
	for _, fn := range prog.Functions() {
		f.base = append(f.base, ast.NewAtom(PredFunction, ast.String(fn.ID)))
		for _, callee := range fn.Calls {
			if _, ok := prog.Lookup(callee); !ok {
				continue
			}
			f.base = append(f.base, ast.NewAtom(PredCalls, ast.String(fn.ID), ast.String(callee)))
		}
		for _, e := range fn.DeclaredEffects().Sorted() {
			if e.Kind == decl.Pure {
				continue
			}
			f.base = append(f.base, ast.NewAtom(PredDeclares, ast.String(fn.ID), ast.String(e.Resource), ast.String(e.Access.String())))
		}
	}
	sinks, sources := table.Sinks(), table.Sources()
	for _, r := range slices.Sorted(maps.Keys(sinks)) {
		if sinks[r] == taint.SinkNone {
			continue
		}
		f.base = append(f.base, ast.NewAtom(PredSinkResource, ast.String(r), ast.String(sinks[r].String())))
	}
	for _, r := range slices.Sorted(maps.Keys(sources)) {
		if sources[r] == taint.SourceNone {
			continue
		}
		f.base = append(f.base, ast.NewAtom(PredSourceResource, ast.String(r), ast.String(sources[r].String())))
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, a := range f.base {
		store.Add(a)
	}
	if _, err := engine.EvalProgramWithStats(info, store); err != nil {
		return nil, fmt.Errorf("evaluate facts: %w", err)
	}
	if err := f.index(store); err != nil {
		return nil, err
	}
	logger.Debug("evaluated effect facts", zap.Int("base", len(f.base)), zap.Int("functions", prog.Len()))
	return f, nil
}

func (f *Facts) index(store factstore.FactStore) error {
	f.effects = make(map[string][]decl.EffectDeclaration)
	f.sinks = make(map[string][]taint.Sink)
	f.sources = make(map[string][]taint.Source)
	f.callees = make(map[string][]string)

	err := scan(store, PredReaches, 2, func(args []string) error {
		f.callees[args[0]] = append(f.callees[args[0]], args[1])
		return nil
	})
	if err != nil {
		return err
	}
	err = scan(store, PredReachesEffect, 3, func(args []string) error {
		e, err := decl.ParseEffect(args[1] + ":" + args[2])
		if err != nil {
			return err
		}
		f.effects[args[0]] = append(f.effects[args[0]], e)
		return nil
	})
	if err != nil {
		return err
	}
	err = scan(store, PredReachesSink, 2, func(args []string) error {
		s, ok := taint.ParseSink(args[1])
		if !ok {
			return fmt.Errorf("unknown sink %q", args[1])
		}
		f.sinks[args[0]] = append(f.sinks[args[0]], s)
		return nil
	})
	if err != nil {
		return err
	}
	err = scan(store, PredReachesSource, 2, func(args []string) error {
		s, ok := taint.ParseSource(args[1])
		if !ok {
			return fmt.Errorf("unknown source %q", args[1])
		}
		f.sources[args[0]] = append(f.sources[args[0]], s)
		return nil
	})
	if err != nil {
		return err
	}

	for id := range f.effects {
		slices.SortFunc(f.effects[id], decl.CompareEffects)
		f.effects[id] = slices.Compact(f.effects[id])
	}
	for id := range f.sinks {
		slices.Sort(f.sinks[id])
		f.sinks[id] = slices.Compact(f.sinks[id])
	}
	for id := range f.sources {
		slices.Sort(f.sources[id])
		f.sources[id] = slices.Compact(f.sources[id])
	}
	for id := range f.callees {
		slices.Sort(f.callees[id])
		f.callees[id] = slices.Compact(f.callees[id])
	}
	return nil
}

// scan calls fn with the string arguments of every fact of a predicate.
func scan(store factstore.FactStore, pred string, arity int, fn func([]string) error) error {
	q := ast.NewQuery(ast.PredicateSym{Symbol: pred, Arity: arity})
	return store.GetFacts(q, func(a ast.Atom) error {
		args := make([]string, len(a.Args))
		for i, arg := range a.Args {
			c, ok := arg.(ast.Constant)
			if !ok || c.Type != ast.StringType {
				return fmt.Errorf("%s: argument %d is not a string: %v", pred, i, arg)
			}
			args[i] = c.Symbol
		}
		if err := fn(args); err != nil {
			return fmt.Errorf("%s: %w", pred, err)
		}
		return nil
	})
}

// ReachableEffects returns the effects id declares or reaches through its callees, sorted.
func (f *Facts) ReachableEffects(id string) []decl.EffectDeclaration { return f.effects[id] }

// ReachableSinks returns the sinks id may write to, sorted.
func (f *Facts) ReachableSinks(id string) []taint.Sink { return f.sinks[id] }

// ReachableSources returns the sources id may read from, sorted.
func (f *Facts) ReachableSources(id string) []taint.Source { return f.sources[id] }

// Reaches returns the functions id transitively calls, sorted.
func (f *Facts) Reaches(id string) []string { return f.callees[id] }

// WriteTo writes the schema followed by the base facts as a Mangle source unit.
func (f *Facts) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	write := func(s string) {
		m, _ := bw.WriteString(s)
		n += int64(m)
	}
	write(strings.TrimLeft(Schema, "\n"))
	write("\n")
	for _, a := range f.base {
		write(a.String())
		write(".\n")
	}
	return n, bw.Flush()
}
