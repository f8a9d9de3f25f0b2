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

package expr

import (
	"slices"
	"strconv"
)

// Walk traverses e in depth-first pre-order, calling fn on every node. When fn returns false the
// children of that node are skipped. Quantifier domains are visited before the body.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch e := e.(type) {
	case *UnaryExpr:
		Walk(e.X, fn)
	case *BinaryExpr:
		Walk(e.X, fn)
		Walk(e.Y, fn)
	case *TernaryExpr:
		Walk(e.Cond, fn)
		Walk(e.Then, fn)
		Walk(e.Else, fn)
	case *CallExpr:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	case *BuiltinCall:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	case *IndexExpr:
		Walk(e.Array, fn)
		Walk(e.Index, fn)
	case *ArrayLit:
		for _, a := range e.Elems {
			Walk(a, fn)
		}
	case *Quantifier:
		switch d := e.Domain.(type) {
		case *IntRange:
			Walk(d.Lo, fn)
			Walk(d.Hi, fn)
		case *ArrayIndices:
			Walk(d.Array, fn)
		}
		Walk(e.Body, fn)
	}
}

// Any reports whether pred holds for some node of e.
func Any(e Expr, pred func(Expr) bool) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if found {
			return false
		}
		if pred(n) {
			found = true
			return false
		}
		return true
	})
	return found
}

// FreeVars returns the sorted names of variables that occur free in e.
func FreeVars(e Expr) []string {
	set := make(map[string]bool)
	collectFree(e, nil, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func collectFree(e Expr, bound map[string]int, out map[string]bool) {
	switch e := e.(type) {
	case nil:
	case *VarRef:
		if bound[e.Name] == 0 {
			out[e.Name] = true
		}
	case *UnaryExpr:
		collectFree(e.X, bound, out)
	case *BinaryExpr:
		collectFree(e.X, bound, out)
		collectFree(e.Y, bound, out)
	case *TernaryExpr:
		collectFree(e.Cond, bound, out)
		collectFree(e.Then, bound, out)
		collectFree(e.Else, bound, out)
	case *CallExpr:
		for _, a := range e.Args {
			collectFree(a, bound, out)
		}
	case *BuiltinCall:
		for _, a := range e.Args {
			collectFree(a, bound, out)
		}
	case *IndexExpr:
		collectFree(e.Array, bound, out)
		collectFree(e.Index, bound, out)
	case *ArrayLit:
		for _, a := range e.Elems {
			collectFree(a, bound, out)
		}
	case *Quantifier:
		// The domain is evaluated outside the binder.
		switch d := e.Domain.(type) {
		case *IntRange:
			collectFree(d.Lo, bound, out)
			collectFree(d.Hi, bound, out)
		case *ArrayIndices:
			collectFree(d.Array, bound, out)
		}
		if bound == nil {
			bound = make(map[string]int)
		}
		bound[e.Var]++
		collectFree(e.Body, bound, out)
		bound[e.Var]--
	}
}

// Substitute replaces free occurrences of the variables in sub with their mapped expressions.
// Quantifier-bound variables shadow the substitution and are renamed when a replacement would
// otherwise be captured.
func Substitute(e Expr, sub map[string]Expr) Expr {
	if len(sub) == 0 || e == nil {
		return e
	}
	switch e := e.(type) {
	case *VarRef:
		if r, ok := sub[e.Name]; ok {
			return r
		}
		return e
	case *IntLit, *BoolLit, *StringLit, *CharLit:
		return e
	case *UnaryExpr:
		return &UnaryExpr{Op: e.Op, X: Substitute(e.X, sub)}
	case *BinaryExpr:
		return &BinaryExpr{Op: e.Op, X: Substitute(e.X, sub), Y: Substitute(e.Y, sub)}
	case *TernaryExpr:
		return &TernaryExpr{Cond: Substitute(e.Cond, sub), Then: Substitute(e.Then, sub), Else: Substitute(e.Else, sub)}
	case *CallExpr:
		return &CallExpr{Target: e.Target, Args: substAll(e.Args, sub)}
	case *BuiltinCall:
		return &BuiltinCall{Fn: e.Fn, Args: substAll(e.Args, sub)}
	case *IndexExpr:
		return &IndexExpr{Array: Substitute(e.Array, sub), Index: Substitute(e.Index, sub)}
	case *ArrayLit:
		return &ArrayLit{Elem: e.Elem, Elems: substAll(e.Elems, sub)}
	case *Quantifier:
		return substQuantifier(e, sub)
	default:
		return e
	}
}

func substAll(xs []Expr, sub map[string]Expr) []Expr {
	out := make([]Expr, len(xs))
	for i, x := range xs {
		out[i] = Substitute(x, sub)
	}
	return out
}

func substQuantifier(q *Quantifier, sub map[string]Expr) Expr {
	var domain Domain
	switch d := q.Domain.(type) {
	case *IntRange:
		domain = &IntRange{Lo: Substitute(d.Lo, sub), Hi: Substitute(d.Hi, sub)}
	case *ArrayIndices:
		domain = &ArrayIndices{Array: Substitute(d.Array, sub)}
	default:
		domain = q.Domain
	}

	inner := make(map[string]Expr, len(sub))
	captured := false
	for name, r := range sub {
		if name == q.Var {
			continue
		}
		inner[name] = r
		if slices.Contains(FreeVars(r), q.Var) {
			captured = true
		}
	}

	v, body := q.Var, q.Body
	if captured {
		v = freshName(q.Var, body, inner)
		body = Substitute(body, map[string]Expr{q.Var: V(v)})
	}
	return &Quantifier{Kind: q.Kind, Var: v, Domain: domain, Body: Substitute(body, inner)}
}

// freshName derives a variable name from base that is free in neither body nor the replacements.
func freshName(base string, body Expr, sub map[string]Expr) string {
	taken := make(map[string]bool)
	for _, n := range FreeVars(body) {
		taken[n] = true
	}
	for name, r := range sub {
		taken[name] = true
		for _, n := range FreeVars(r) {
			taken[n] = true
		}
	}
	for i := 1; ; i++ {
		cand := base + "_" + strconv.Itoa(i)
		if !taken[cand] {
			return cand
		}
	}
}

// Rewrite rebuilds e bottom-up, replacing every node n by fn(n) after its children have been
// rewritten. fn must return its argument unchanged for nodes it does not handle.
func Rewrite(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	var out Expr
	switch e := e.(type) {
	case *UnaryExpr:
		out = &UnaryExpr{Op: e.Op, X: Rewrite(e.X, fn)}
	case *BinaryExpr:
		out = &BinaryExpr{Op: e.Op, X: Rewrite(e.X, fn), Y: Rewrite(e.Y, fn)}
	case *TernaryExpr:
		out = &TernaryExpr{Cond: Rewrite(e.Cond, fn), Then: Rewrite(e.Then, fn), Else: Rewrite(e.Else, fn)}
	case *CallExpr:
		out = &CallExpr{Target: e.Target, Args: rewriteAll(e.Args, fn)}
	case *BuiltinCall:
		out = &BuiltinCall{Fn: e.Fn, Args: rewriteAll(e.Args, fn)}
	case *IndexExpr:
		out = &IndexExpr{Array: Rewrite(e.Array, fn), Index: Rewrite(e.Index, fn)}
	case *ArrayLit:
		out = &ArrayLit{Elem: e.Elem, Elems: rewriteAll(e.Elems, fn)}
	case *Quantifier:
		var domain Domain
		switch d := e.Domain.(type) {
		case *IntRange:
			domain = &IntRange{Lo: Rewrite(d.Lo, fn), Hi: Rewrite(d.Hi, fn)}
		case *ArrayIndices:
			domain = &ArrayIndices{Array: Rewrite(d.Array, fn)}
		default:
			domain = e.Domain
		}
		out = &Quantifier{Kind: e.Kind, Var: e.Var, Domain: domain, Body: Rewrite(e.Body, fn)}
	default:
		out = e
	}
	return fn(out)
}

func rewriteAll(xs []Expr, fn func(Expr) Expr) []Expr {
	out := make([]Expr, len(xs))
	for i, x := range xs {
		out[i] = Rewrite(x, fn)
	}
	return out
}
