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

// Package solver defines the discharge interface shared by the proof backends: a Query asks
// whether the conjunction of its assumptions entails its goal, and an Outcome records whether
// that was Proved, Disproved (with a counterexample), or left Unknown (with a reason).
//
// Outcomes are values, never errors: a backend that times out, runs into an unsupported
// construct, or cannot decide the query returns an Unknown outcome and the caller falls back to
// a runtime guard.
//
// Both backends give the expression language the same meaning: len of a string counts
// characters, and integer division or remainder by zero yields an unconstrained value of the
// operand type, so a goal that depends on it is never proved.
package solver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/contractaway/expr"
)

// Verdict is the status of a verification condition.
type Verdict uint8

const (
	// Unproved is the status of a VC that has not been discharged yet.
	Unproved Verdict = iota
	// Proved means the goal holds for all inputs satisfying the assumptions.
	Proved
	// Disproved means a counterexample was found.
	Disproved
	// Unknown means the backend could not decide; see Outcome.Reason.
	Unknown
)

func (v Verdict) String() string {
	switch v {
	case Proved:
		return "proved"
	case Disproved:
		return "disproved"
	case Unknown:
		return "unknown"
	}
	return "unproved"
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(b []byte) error {
	for _, c := range []Verdict{Unproved, Proved, Disproved, Unknown} {
		if c.String() == string(b) {
			*v = c
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", b)
}

// Reason explains an Unknown outcome.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonUnsupported Reason = "unsupported"
	ReasonIncomplete  Reason = "incomplete"
	ReasonTooLarge    Reason = "too large"
	ReasonInternal    Reason = "internal error"
	ReasonUnavailable Reason = "solver unavailable"
	// ReasonUnboundedDomain marks a quantifier over an unbounded domain.
	ReasonUnboundedDomain Reason = "unbounded domain"
)

// Var declares a free variable of a query.
type Var struct {
	Name string
	Type expr.Type
}

// Query asks for the validity of `Assumptions[0] && ... && Assumptions[n-1] ==> Goal` where the
// free variables range over the values of their declared types.
type Query struct {
	Vars        []Var
	Assumptions []expr.Expr
	Goal        expr.Expr
}

// VarType returns the declared type of name.
func (q *Query) VarType(name string) (expr.Type, bool) {
	for _, v := range q.Vars {
		if v.Name == name {
			return v.Type, true
		}
	}
	return expr.Type{}, false
}

// Env returns a typing environment over the query variables.
func (q *Query) Env() expr.Env {
	vars := make(map[string]expr.Type, len(q.Vars))
	for _, v := range q.Vars {
		vars[v.Name] = v.Type
	}
	return expr.Env{Vars: vars}
}

// Formula returns the query as a single implication.
func (q *Query) Formula() expr.Expr {
	return expr.ImpliesE(expr.Conj(q.Assumptions...), q.Goal)
}

// String renders the query on one line.
func (q *Query) String() string {
	var sb strings.Builder
	for i, v := range q.Vars {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.Name + ": " + v.Type.String())
	}
	sb.WriteString(" |= ")
	sb.WriteString(q.Formula().String())
	return sb.String()
}

// Fingerprint returns a stable digest of the query text. Two queries with the same fingerprint
// have the same meaning.
func (q *Query) Fingerprint() string {
	h := sha256.New()
	for _, v := range q.Vars {
		h.Write([]byte(v.Name + ":" + v.Type.String() + ";"))
	}
	for _, a := range q.Assumptions {
		h.Write([]byte("A:" + a.String() + ";"))
	}
	if q.Goal != nil {
		h.Write([]byte("G:" + q.Goal.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Binding is one variable assignment of a counterexample.
type Binding struct {
	Name  string
	Value string
}

// Counterexample is an ordered assignment of input values that violates a goal.
type Counterexample []Binding

// Lookup returns the value bound to name.
func (c Counterexample) Lookup(name string) (string, bool) {
	for _, b := range c {
		if b.Name == name {
			return b.Value, true
		}
	}
	return "", false
}

// String renders bindings as "x = 2147483647, y = 0".
func (c Counterexample) String() string {
	parts := make([]string, len(c))
	for i, b := range c {
		parts[i] = b.Name + " = " + b.Value
	}
	return strings.Join(parts, ", ")
}

// Outcome is the result of discharging a query.
type Outcome struct {
	Verdict        Verdict
	Counterexample Counterexample
	Reason         Reason
	// Detail adds free-form context to Reason.
	Detail string
	// Solver names the backend that produced the outcome.
	Solver string
}

// ProvedOutcome returns a Proved outcome.
func ProvedOutcome() Outcome { return Outcome{Verdict: Proved} }

// DisprovedOutcome returns a Disproved outcome carrying cex.
func DisprovedOutcome(cex Counterexample) Outcome {
	return Outcome{Verdict: Disproved, Counterexample: cex}
}

// UnknownOutcome returns an Unknown outcome.
func UnknownOutcome(reason Reason, detail string) Outcome {
	return Outcome{Verdict: Unknown, Reason: reason, Detail: detail}
}

// Explain renders the reason and detail of an Unknown outcome.
func (o Outcome) Explain() string {
	switch {
	case o.Detail == "":
		return string(o.Reason)
	case o.Reason == "":
		return o.Detail
	}
	return string(o.Reason) + ": " + o.Detail
}

// Solver discharges queries. Implementations must be safe for concurrent use and must honor
// ctx, returning an Unknown(timeout) outcome when it expires.
type Solver interface {
	Name() string
	Check(ctx context.Context, q *Query) Outcome
}

// Chain tries its solvers in order; the first outcome that is not Unknown wins. When every solver
// gives up, the first Unknown outcome is returned with the other reasons appended to its detail.
type Chain []Solver

// Name implements Solver.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Check implements Solver.
func (c Chain) Check(ctx context.Context, q *Query) Outcome {
	var (
		first  Outcome
		others []string
	)
	for i, s := range c {
		if ctx.Err() != nil {
			if i == 0 {
				return UnknownOutcome(ReasonTimeout, ctx.Err().Error())
			}
			break
		}
		o := s.Check(ctx, q)
		if o.Solver == "" {
			o.Solver = s.Name()
		}
		if o.Verdict != Unknown {
			return o
		}
		if i == 0 {
			first = o
			continue
		}
		others = append(others, o.Solver+": "+o.Explain())
	}
	if len(c) == 0 {
		return UnknownOutcome(ReasonUnavailable, "no solver configured")
	}
	if len(others) > 0 {
		if first.Detail != "" {
			first.Detail += "; "
		}
		first.Detail += strings.Join(others, "; ")
	}
	return first
}
