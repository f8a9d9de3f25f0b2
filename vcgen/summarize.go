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

package vcgen

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/hook"
)

// errUnsupported marks bodies and contracts outside the summarizable fragment.
var errUnsupported = errors.New("unsupported")

func unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUnsupported, fmt.Sprintf(format, args...))
}

// callSite is a call to a program function found in a body.
type callSite struct {
	callee *decl.FunctionSpec
	// args and guard are over the caller's parameters, with calls not inlined.
	args  []expr.Expr
	guard expr.Expr
}

// sideCond is an implicit condition the body relies on.
type sideCond struct {
	kind  Kind
	cond  expr.Expr
	guard expr.Expr
}

// bodySummary is the symbolic meaning of a function body over its parameters.
type bodySummary struct {
	// value is the returned value with locals substituted and calls kept; nil for void bodies.
	value expr.Expr
	sites []callSite
	sides []sideCond
}

// summarizer computes body summaries and inlines calls to pure functions. It is not safe for
// concurrent use; the generator creates one per function.
type summarizer struct {
	gen *Generator
	// inlined caches the call-free values of callees.
	inlined map[string]expr.Expr
	active  map[string]bool
}

func newSummarizer(g *Generator) *summarizer {
	return &summarizer{gen: g, inlined: make(map[string]expr.Expr), active: make(map[string]bool)}
}

// bodyWalker walks one body, collecting call sites and side conditions.
type bodyWalker struct {
	s   *summarizer
	f   *decl.FunctionSpec
	env expr.Env
	out *bodySummary
	err error
}

func (s *summarizer) summarize(f *decl.FunctionSpec) (*bodySummary, error) {
	w := &bodyWalker{s: s, f: f, env: s.gen.env(f), out: &bodySummary{}}
	switch b := f.Body.(type) {
	case *decl.ExprBody:
		w.out.value = w.eval(b.Result, nil, expr.B(true))
	case *decl.Block:
		fl, err := w.stmts(b.Stmts, nil, expr.B(true))
		if err != nil {
			return nil, err
		}
		if !fl.returns && w.returnsValue() {
			return nil, unsupportedf("%s: missing return", f.ID)
		}
		w.out.value = fl.value
	default:
		return nil, unsupportedf("%s has no summarizable body", f.ID)
	}
	if w.err != nil {
		return nil, w.err
	}
	if w.out.value == nil && w.returnsValue() {
		return nil, unsupportedf("%s: missing return value", f.ID)
	}
	return w.out, nil
}

func (w *bodyWalker) returnsValue() bool {
	k := w.f.ReturnType.Kind
	return k != expr.Void && k != expr.Invalid
}

// flow is the result of walking a statement list to its end.
type flow struct {
	value   expr.Expr
	returns bool
}

type state map[string]expr.Expr

func (st state) with(name string, v expr.Expr) state {
	out := make(state, len(st)+1)
	for k, x := range st {
		out[k] = x
	}
	out[name] = v
	return out
}

// stmts walks list under path. The statements following an if are walked once per branch, so
// every path ends in its own return and the branches fold into a ternary.
func (w *bodyWalker) stmts(list []decl.Stmt, st state, path expr.Expr) (flow, error) {
	for i, stmt := range list {
		switch s := stmt.(type) {
		case *decl.Let:
			st = st.with(s.Name, w.eval(s.Value, st, path))
		case *decl.Assign:
			st = st.with(s.Name, w.eval(s.Value, st, path))
		case *decl.ExprStmt:
			w.eval(s.X, st, path)
		case *decl.Return:
			if s.Value == nil {
				return flow{returns: true}, nil
			}
			return flow{value: w.eval(s.Value, st, path), returns: true}, nil
		case *decl.While:
			return flow{}, unsupportedf("%s: loop", w.f.ID)
		case *decl.If:
			c := w.eval(s.Cond, st, path)
			rest := list[i+1:]
			then, err := w.stmts(slices.Concat(s.Then, rest), st, expr.Conj(path, c))
			if err != nil {
				return flow{}, err
			}
			els, err := w.stmts(slices.Concat(s.Else, rest), st, expr.Conj(path, expr.NotE(c)))
			if err != nil {
				return flow{}, err
			}
			switch {
			case then.returns != els.returns:
				return flow{}, unsupportedf("%s: not every path returns", w.f.ID)
			case then.value == nil && els.value == nil:
				return flow{returns: then.returns}, nil
			case then.value == nil || els.value == nil:
				return flow{}, unsupportedf("%s: inconsistent return values", w.f.ID)
			}
			return flow{value: expr.Ite(c, then.value, els.value), returns: true}, nil
		default:
			return flow{}, unsupportedf("%s: statement %T", w.f.ID, stmt)
		}
	}
	return flow{}, nil
}

// eval substitutes the current locals into e and records what evaluating it requires.
func (w *bodyWalker) eval(e expr.Expr, st state, path expr.Expr) expr.Expr {
	if e == nil {
		return nil
	}
	v := expr.Substitute(e, st)
	w.collect(v, path)
	return v
}

// collect walks e in evaluation order. Operands that are only evaluated conditionally (ternary
// branches, the right side of && || ==>) are collected under the extra condition.
func (w *bodyWalker) collect(e expr.Expr, guard expr.Expr) {
	switch e := e.(type) {
	case *expr.UnaryExpr:
		w.collect(e.X, guard)
		if e.Op == expr.Neg {
			w.overflow(e, guard)
		}
	case *expr.BinaryExpr:
		w.collect(e.X, guard)
		switch e.Op {
		case expr.And, expr.Implies:
			w.collect(e.Y, expr.Conj(guard, e.X))
		case expr.Or:
			w.collect(e.Y, expr.Conj(guard, expr.NotE(e.X)))
		default:
			w.collect(e.Y, guard)
		}
		if (e.Op == expr.Div || e.Op == expr.Mod) && !nonZeroConst(e.Y) {
			w.side(KindDivision, expr.Bin(expr.Ne, e.Y, expr.I(0)), guard)
		}
		if e.Op == expr.Add || e.Op == expr.Sub || e.Op == expr.Mul {
			w.overflow(e, guard)
		}
	case *expr.TernaryExpr:
		w.collect(e.Cond, guard)
		w.collect(e.Then, expr.Conj(guard, e.Cond))
		w.collect(e.Else, expr.Conj(guard, expr.NotE(e.Cond)))
	case *expr.CallExpr:
		for _, a := range e.Args {
			w.collect(a, guard)
		}
		if callee, ok := w.s.gen.prog.Lookup(e.Target); ok {
			w.out.sites = append(w.out.sites, callSite{callee: callee, args: e.Args, guard: guard})
		}
	case *expr.BuiltinCall:
		for _, a := range e.Args {
			w.collect(a, guard)
		}
	case *expr.IndexExpr:
		w.collect(e.Array, guard)
		w.collect(e.Index, guard)
		if t, err := expr.TypeOf(e.Array, w.env); err == nil && (t.Kind == expr.Array || t.Kind == expr.String) {
			w.side(KindBounds, expr.Conj(
				expr.Bin(expr.Le, expr.I(0), e.Index),
				expr.Bin(expr.Lt, e.Index, expr.LenE(e.Array)),
			), guard)
		}
	case *expr.ArrayLit:
		for _, a := range e.Elems {
			w.collect(a, guard)
		}
	case *expr.Quantifier:
		// Side conditions under a binder cannot be stated over the parameters alone.
		if expr.Any(e.Body, func(n expr.Expr) bool {
			c, ok := n.(*expr.CallExpr)
			if !ok {
				return false
			}
			_, known := w.s.gen.prog.Lookup(c.Target)
			return known
		}) && w.err == nil {
			w.err = unsupportedf("%s: call under a quantifier", w.f.ID)
		}
	}
}

func nonZeroConst(e expr.Expr) bool {
	l, ok := e.(*expr.IntLit)
	return ok && l.Value != 0
}

func (w *bodyWalker) side(kind Kind, cond, guard expr.Expr) {
	w.out.sides = append(w.out.sides, sideCond{kind: kind, cond: cond, guard: guard})
}

// overflow records that e does not wrap around, when overflow checking is enabled and the type of
// e is known.
func (w *bodyWalker) overflow(e expr.Expr, guard expr.Expr) {
	if !w.s.gen.opts.CheckOverflow {
		return
	}
	t, err := expr.TypeOf(e, w.env)
	if err != nil || t.Kind != expr.Int || t.IsUntyped() {
		return
	}
	if cond := noOverflow(e, t, w.s.gen.opts.IntWidth); cond != nil {
		w.side(KindOverflow, cond, guard)
	}
}

// noOverflow returns the condition under which e evaluates without wrapping in type t.
func noOverflow(e expr.Expr, t expr.Type, width int) expr.Expr {
	lo, hi := expr.I(t.MinValue(width)), expr.I(t.MaxValue(width))
	zero := expr.I(0)
	if u, ok := e.(*expr.UnaryExpr); ok {
		if t.Unsigned {
			return expr.Bin(expr.Eq, u.X, zero)
		}
		return expr.Bin(expr.Ne, u.X, lo)
	}
	b, ok := e.(*expr.BinaryExpr)
	if !ok {
		return nil
	}
	x, y := b.X, b.Y
	// (x*y)/x == y detects wrapping except for -1 * MIN, whose quotient wraps back to MIN.
	mulOK := expr.Bin(expr.Or, expr.Bin(expr.Eq, x, zero), expr.Bin(expr.Eq, expr.Bin(expr.Div, expr.Bin(expr.Mul, x, y), x), y))
	switch {
	case t.Unsigned && b.Op == expr.Add:
		return expr.Bin(expr.Ge, expr.Bin(expr.Add, x, y), x)
	case t.Unsigned && b.Op == expr.Sub:
		return expr.Bin(expr.Ge, x, y)
	case t.Unsigned:
		return mulOK
	case b.Op == expr.Add:
		return expr.Conj(
			expr.ImpliesE(expr.Bin(expr.Gt, y, zero), expr.Bin(expr.Le, x, expr.Bin(expr.Sub, hi, y))),
			expr.ImpliesE(expr.Bin(expr.Lt, y, zero), expr.Bin(expr.Ge, x, expr.Bin(expr.Sub, lo, y))),
		)
	case b.Op == expr.Sub:
		return expr.Conj(
			expr.ImpliesE(expr.Bin(expr.Lt, y, zero), expr.Bin(expr.Le, x, expr.Bin(expr.Add, hi, y))),
			expr.ImpliesE(expr.Bin(expr.Gt, y, zero), expr.Bin(expr.Ge, x, expr.Bin(expr.Add, lo, y))),
		)
	}
	return expr.Conj(
		expr.NotE(expr.Conj(expr.Bin(expr.Eq, x, expr.I(-1)), expr.Bin(expr.Eq, y, lo))),
		mulOK,
	)
}

// inline replaces every call in e by the summary of its callee: intrinsics through the hook
// package, program functions when they are pure, non-recursive and summarizable.
func (s *summarizer) inline(e expr.Expr) (expr.Expr, error) {
	if e == nil {
		return nil, nil
	}
	var err error
	out := expr.Rewrite(e, func(n expr.Expr) expr.Expr {
		c, ok := n.(*expr.CallExpr)
		if !ok || err != nil {
			return n
		}
		v, cerr := s.inlineCall(c)
		if cerr != nil {
			err = cerr
			return n
		}
		return v
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *summarizer) inlineCall(c *expr.CallExpr) (expr.Expr, error) {
	g, ok := s.gen.prog.Lookup(c.Target)
	if !ok {
		if v, ok := hook.Summarize(c.Target, c.Args); ok {
			return v, nil
		}
		return nil, unsupportedf("call to unknown function %s", c.Target)
	}
	switch {
	case !g.IsPure():
		return nil, unsupportedf("call to effectful function %s", g.ID)
	case s.active[g.ID]:
		return nil, unsupportedf("recursive call to %s", g.ID)
	case len(c.Args) != len(g.Params):
		return nil, unsupportedf("call to %s with %d arguments, want %d", g.ID, len(c.Args), len(g.Params))
	}

	v, ok := s.inlined[g.ID]
	if !ok {
		s.active[g.ID] = true
		sum, err := s.summarize(g)
		if err == nil {
			v, err = s.inline(sum.value)
		}
		delete(s.active, g.ID)
		if err != nil {
			return nil, fmt.Errorf("inlining %s: %w", g.ID, err)
		}
		if v == nil {
			return nil, unsupportedf("%s returns no value", g.ID)
		}
		s.inlined[g.ID] = v
	}

	sub := make(map[string]expr.Expr, len(g.Params))
	for i, p := range g.Params {
		sub[p.Name] = c.Args[i]
	}
	return expr.Substitute(v, sub), nil
}
