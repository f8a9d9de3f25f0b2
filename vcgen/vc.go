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

// Package vcgen turns the contracts of a declaration snapshot into verification conditions (VCs).
//
// Every precondition yields an entry VC that is resolved from the call-site VCs of its callers,
// every postcondition a VC over the symbolic summary of the function body, every call of a
// function with preconditions a call-site VC, and every division, array read and (optionally)
// arithmetic operation of the body an implicit side VC. Arithmetic keeps fixed-width
// two's-complement semantics throughout.
package vcgen

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
)

// Kind classifies VCs.
type Kind uint8

const (
	// KindPrecondition is the entry VC of a precondition; it is derived from call sites.
	KindPrecondition Kind = iota + 1
	// KindPostcondition checks a postcondition against the body summary.
	KindPostcondition
	// KindCallSite checks a callee's precondition at one call in the caller's body.
	KindCallSite
	// KindDivision checks that a divisor is non-zero.
	KindDivision
	// KindBounds checks that an index is within its array or string.
	KindBounds
	// KindOverflow checks that an arithmetic operation does not wrap.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindPostcondition:
		return "postcondition"
	case KindCallSite:
		return "call-site precondition"
	case KindDivision:
		return "division by zero"
	case KindBounds:
		return "index out of bounds"
	case KindOverflow:
		return "arithmetic overflow"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// IsSide reports whether k is an implicit side condition of the body.
func (k Kind) IsSide() bool { return k >= KindDivision }

// Reasons an entry VC stays Unknown.
const (
	ReasonNoCallerFacts solver.Reason = "no caller-side facts"
	ReasonExported      solver.Reason = "exported function"
	ReasonSitesUnproved solver.Reason = "not all call sites proved"
)

// DerivedSolver is the solver name recorded on outcomes of entry VCs.
const DerivedSolver = "call sites"

// ErrAlreadyResolved is returned when a VC is resolved a second time.
var ErrAlreadyResolved = errors.New("verification condition already resolved")

// VC is a single verification condition owned by FunctionID.
type VC struct {
	ID         string
	FunctionID string
	Kind       Kind
	// Origin is the contract the VC stems from; for call-site VCs it is the callee's precondition,
	// for side VCs it is nil.
	Origin *decl.Contract
	// Index is the position of Origin among the preconditions or postconditions it belongs to.
	Index int
	// Callee is the called function of a call-site VC.
	Callee string
	// Query is what the solver discharges; nil for entry VCs and for VCs resolved at generation.
	Query *solver.Query
	// Guard is the runtime-checkable form of the VC over the owner's parameters (and result for
	// postconditions); nil for call-site VCs.
	Guard    expr.Expr
	Position decl.ContractKind
	Outcome  solver.Outcome
	// Sites are the call-site VCs an entry VC is derived from, filled in by Link.
	Sites []*VC

	exported bool
	callers  []string
	resolved atomic.Bool
}

// Status returns the verdict of the VC, Unproved until it is resolved.
func (v *VC) Status() solver.Verdict { return v.Outcome.Verdict }

// Derived reports whether the VC is resolved from other VCs rather than by a solver.
func (v *VC) Derived() bool { return v.Kind == KindPrecondition }

// Pending reports whether the VC still needs a solver.
func (v *VC) Pending() bool { return !v.Derived() && v.Query != nil && !v.resolved.Load() }

// Resolve records the outcome of the VC. It succeeds exactly once.
func (v *VC) Resolve(o solver.Outcome) error {
	if o.Verdict == solver.Unproved {
		return fmt.Errorf("resolving %s without a verdict", v.ID)
	}
	if !v.resolved.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, v.ID)
	}
	v.Outcome = o
	return nil
}

// Message returns the violation message of the VC: the contract's own message when it has one,
// otherwise a description quoting the contract source.
func (v *VC) Message() string {
	if v.Origin != nil && v.Origin.Message != "" {
		return v.Origin.Message
	}
	switch {
	case v.Kind == KindCallSite && v.Origin != nil:
		return fmt.Sprintf("precondition `%s` of %s violated", v.Origin.Text(), v.Callee)
	case v.Origin != nil:
		return fmt.Sprintf("%s `%s` violated", v.Origin.Kind, v.Origin.Text())
	case v.Guard != nil:
		return fmt.Sprintf("%s: `%s` violated", v.Kind, v.Guard)
	}
	return v.Kind.String()
}

type entryKey struct {
	fn    string
	index int
}

// Link attaches every call-site VC to the entry VC of the callee precondition it checks.
func Link(vcs []*VC) {
	entries := make(map[entryKey]*VC)
	for _, v := range vcs {
		if v.Kind == KindPrecondition {
			entries[entryKey{v.FunctionID, v.Index}] = v
		}
	}
	for _, v := range vcs {
		if v.Kind != KindCallSite {
			continue
		}
		if e := entries[entryKey{v.Callee, v.Index}]; e != nil {
			e.Sites = append(e.Sites, v)
		}
	}
}

// ResolveEntry derives the outcome of an entry VC from its linked call sites: it is Proved only
// when the function is not exported, has callers, and every caller's call sites are Proved.
// Entry VCs already resolved at generation keep their outcome.
func ResolveEntry(v *VC) error {
	if !v.Derived() {
		return fmt.Errorf("%s is not an entry VC", v.ID)
	}
	if v.resolved.Load() {
		return nil
	}
	return v.Resolve(entryOutcome(v))
}

func entryOutcome(v *VC) solver.Outcome {
	switch {
	case v.exported:
		return derived(solver.UnknownOutcome(ReasonExported, "unknown callers may violate it"))
	case len(v.callers) == 0:
		return derived(solver.UnknownOutcome(ReasonNoCallerFacts, ""))
	}

	covered := make(map[string]bool, len(v.callers))
	var failing []string
	for _, s := range v.Sites {
		covered[s.FunctionID] = true
		if s.Status() != solver.Proved {
			failing = append(failing, s.ID+" ("+s.Status().String()+")")
		}
	}
	for _, c := range v.callers {
		if !covered[c] {
			failing = append(failing, c+" (no call site)")
		}
	}
	if len(failing) > 0 {
		return derived(solver.UnknownOutcome(ReasonSitesUnproved, strings.Join(failing, ", ")))
	}
	return derived(solver.ProvedOutcome())
}

func derived(o solver.Outcome) solver.Outcome {
	o.Solver = DerivedSolver
	return o
}
