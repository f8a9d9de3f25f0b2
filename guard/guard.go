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

// Package guard synthesizes runtime guards: every contract obligation that could not be proved
// statically becomes a check the code generator emits into the function, either on entry
// (preconditions and implicit side conditions) or on every exit (postconditions).
package guard

import (
	"fmt"
	"slices"

	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/util/orderedmap"
	"go.uber.org/contractaway/vcgen"
)

// RuntimeGuard is a check over a function's parameters (and `result` for Post guards) that must
// hold at Position when the function runs.
type RuntimeGuard struct {
	Position  decl.ContractKind
	Condition expr.Expr
	Message   string

	// Kind is the kind of VC the guard stems from.
	Kind vcgen.Kind
	// Status is the verdict that left the VC open: Disproved or Unknown.
	Status solver.Verdict
}

func (g RuntimeGuard) String() string {
	pos := "entry"
	if g.Position == decl.Post {
		pos = "exit"
	}
	return fmt.Sprintf("on %s: %s (%s)", pos, g.Condition, g.Message)
}

type key struct {
	position  decl.ContractKind
	condition string
}

// Set holds the guards of every function, in the order the functions first produced one.
type Set struct {
	guards *orderedmap.OrderedMap[string, []RuntimeGuard]
}

// Synthesize derives the guards of the VCs that are not Proved. Call-site VCs get no guard of
// their own since the entry guard of the callee covers them. Guards of a function are
// deduplicated by position and condition text, Pre guards first.
func Synthesize(vcs []*vcgen.VC) *Set {
	s := &Set{guards: orderedmap.New[string, []RuntimeGuard]()}
	seen := make(map[string]map[key]bool)
	for _, vc := range vcs {
		if vc.Status() == solver.Proved || vc.Kind == vcgen.KindCallSite || vc.Guard == nil {
			continue
		}
		k := key{position: vc.Position, condition: vc.Guard.String()}
		if seen[vc.FunctionID] == nil {
			seen[vc.FunctionID] = make(map[key]bool)
		}
		if seen[vc.FunctionID][k] {
			continue
		}
		seen[vc.FunctionID][k] = true

		g := RuntimeGuard{
			Position:  vc.Position,
			Condition: vc.Guard,
			Message:   vc.Message(),
			Kind:      vc.Kind,
			Status:    vc.Status(),
		}
		s.guards.Store(vc.FunctionID, append(s.guards.Value(vc.FunctionID), g))
	}
	s.guards.OrderedRange(func(_ string, gs []RuntimeGuard) bool {
		slices.SortStableFunc(gs, func(a, b RuntimeGuard) int { return int(a.Position) - int(b.Position) })
		return true
	})
	return s
}

// For returns the guards of a function.
func (s *Set) For(functionID string) []RuntimeGuard {
	return s.guards.Value(functionID)
}

// Functions returns the ids of the functions that need at least one guard.
func (s *Set) Functions() []string {
	return s.guards.Keys()
}

// Len returns the total number of guards.
func (s *Set) Len() int {
	n := 0
	s.guards.OrderedRange(func(_ string, gs []RuntimeGuard) bool {
		n += len(gs)
		return true
	})
	return n
}
