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

package bitblast

import (
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
)

// polarity is the position of a subformula relative to the asserted formula.
type polarity int8

const (
	both polarity = 0
	pos  polarity = 1
	neg  polarity = -1
)

func (p polarity) flip() polarity { return -p }

// lenWidth is the width of string and array lengths.
const lenWidth = expr.DefaultWidth

// maxLenBits bounds symbolic lengths to 2^maxLenBits-1 so that sums of lengths never wrap.
const maxLenBits = 28

type symArray struct {
	name   string
	elem   expr.Type
	length bv
	reads  []arrayRead
}

type arrayRead struct {
	index bv
	value bv
}

// arrayTerm is either a literal (elems != nil) or a symbolic array parameter.
type arrayTerm struct {
	elems  []bv
	elem   expr.Type
	symbol *symArray
}

// stringTerm is a concrete string or a symbolic one known only by its length and by uninterpreted
// predicates over it.
type stringTerm struct {
	concrete bool
	value    string
	key      string
	length   bv
}

type skolem struct {
	name string
	typ  expr.Type
	bits bv
}

type encoder struct {
	c     *circuit
	opts  Options
	env   expr.Env
	query *solver.Query

	ints    map[string]bv
	bools   map[string]lit
	arrays  map[string]*symArray
	strs    map[string]stringTerm
	preds   map[string]lit
	memoInt map[string]bv
	memoB   map[string]lit
	skolems []skolem

	// indexTerms are the ground index expressions met so far, used to instantiate quantifiers.
	indexTerms []expr.Expr
	// incomplete lists abstractions that make a satisfying assignment untrustworthy.
	incomplete []string
}

func newEncoder(q *solver.Query, opts Options) *encoder {
	return &encoder{
		c:       newCircuit(opts.MaxClauses),
		opts:    opts,
		env:     q.Env(),
		query:   q,
		ints:    make(map[string]bv),
		bools:   make(map[string]lit),
		arrays:  make(map[string]*symArray),
		strs:    make(map[string]stringTerm),
		preds:   make(map[string]lit),
		memoInt: make(map[string]bv),
		memoB:   make(map[string]lit),
	}
}

func (e *encoder) markIncomplete(why string) {
	if !slices.Contains(e.incomplete, why) {
		e.incomplete = append(e.incomplete, why)
	}
}

// root encodes `assumptions && !goal`. The goal is encoded first so that its Skolem witnesses
// and index terms are available when instantiating quantified assumptions.
func (e *encoder) root() lit {
	goal := e.boolean(e.query.Goal, neg)
	for _, a := range e.query.Assumptions {
		e.collectIndexTerms(a)
	}
	conj := []lit{-goal}
	for _, a := range e.query.Assumptions {
		if hasUnbounded(a) {
			// Dropping an assumption only weakens the query.
			continue
		}
		conj = append(conj, e.boolean(a, pos))
	}
	return e.c.andAll(conj...)
}

func hasUnbounded(x expr.Expr) bool {
	return expr.Any(x, func(n expr.Expr) bool {
		q, ok := n.(*expr.Quantifier)
		if !ok {
			return false
		}
		_, unbounded := q.Domain.(*expr.Unbounded)
		return unbounded
	})
}

func (e *encoder) typeOf(x expr.Expr) expr.Type {
	t, err := expr.TypeOf(x, e.env)
	if err != nil {
		bail(solver.ReasonUnsupported, "%v", err)
	}
	return t
}

// intShape returns the width and signedness used to encode integer expressions of type t.
func (e *encoder) intShape(t expr.Type) (int, bool) {
	return t.BitWidth(e.opts.IntWidth), t.Unsigned
}

func (e *encoder) boolean(x expr.Expr, p polarity) lit {
	key := strconv.Itoa(int(p)) + ":" + x.String()
	if l, ok := e.memoB[key]; ok {
		return l
	}
	l := e.booleanUncached(x, p)
	e.memoB[key] = l
	return l
}

func (e *encoder) booleanUncached(x expr.Expr, p polarity) lit {
	switch x := x.(type) {
	case *expr.BoolLit:
		return boolLit(x.Value)
	case *expr.VarRef:
		if t, ok := e.env.Vars[x.Name]; !ok || t.Kind != expr.Bool {
			bail(solver.ReasonUnsupported, "%q is not a boolean variable", x.Name)
		}
		l, ok := e.bools[x.Name]
		if !ok {
			l = e.c.fresh()
			e.bools[x.Name] = l
		}
		return l
	case *expr.UnaryExpr:
		if x.Op != expr.Not {
			bail(solver.ReasonUnsupported, "non-boolean operand %s", x)
		}
		return -e.boolean(x.X, p.flip())
	case *expr.BinaryExpr:
		return e.binaryBool(x, p)
	case *expr.TernaryExpr:
		return e.c.ite(e.boolean(x.Cond, both), e.boolean(x.Then, p), e.boolean(x.Else, p))
	case *expr.BuiltinCall:
		if x.Fn == expr.Len {
			bail(solver.ReasonUnsupported, "len used as a condition")
		}
		return e.stringPred(x.Fn, e.str(x.Args[0]), e.str(x.Args[1]))
	case *expr.IndexExpr:
		return e.read(x)[0]
	case *expr.Quantifier:
		return e.quantifier(x, p)
	case *expr.CallExpr:
		bail(solver.ReasonUnsupported, "call to %s", x.Target)
	}
	bail(solver.ReasonUnsupported, "cannot encode %s as a condition", x)
	return litFalse
}

func (e *encoder) binaryBool(x *expr.BinaryExpr, p polarity) lit {
	switch x.Op {
	case expr.And:
		return e.c.and(e.boolean(x.X, p), e.boolean(x.Y, p))
	case expr.Or:
		return e.c.or(e.boolean(x.X, p), e.boolean(x.Y, p))
	case expr.Implies:
		return e.c.or(-e.boolean(x.X, p.flip()), e.boolean(x.Y, p))
	}
	if !x.Op.IsCompare() {
		bail(solver.ReasonUnsupported, "%s is not a condition", x)
	}

	tx, ty := e.typeOf(x.X), e.typeOf(x.Y)
	t, ok := expr.Unify(tx, ty)
	if !ok {
		bail(solver.ReasonUnsupported, "comparing %s with %s", tx, ty)
	}
	var eq lit
	switch t.Kind {
	case expr.Bool:
		eq = e.c.iff(e.boolean(x.X, both), e.boolean(x.Y, both))
	case expr.String:
		eq = e.stringEq(e.str(x.X), e.str(x.Y))
	case expr.Int, expr.Char:
		w, unsigned := e.intShape(t)
		a, b := e.intTerm(x.X, w, unsigned), e.intTerm(x.Y, w, unsigned)
		switch x.Op {
		case expr.Lt:
			return e.c.lt(a, b, unsigned)
		case expr.Le:
			return e.c.le(a, b, unsigned)
		case expr.Gt:
			return e.c.lt(b, a, unsigned)
		case expr.Ge:
			return e.c.le(b, a, unsigned)
		}
		eq = e.c.eqBV(a, b)
	default:
		bail(solver.ReasonUnsupported, "equality on %s", t)
	}
	switch x.Op {
	case expr.Eq:
		return eq
	case expr.Ne:
		return -eq
	}
	bail(solver.ReasonUnsupported, "ordering on %s", t)
	return litFalse
}

// intTerm encodes an integer expression at width w.
func (e *encoder) intTerm(x expr.Expr, w int, unsigned bool) bv {
	key := strconv.Itoa(w) + strconv.FormatBool(unsigned) + ":" + x.String()
	if v, ok := e.memoInt[key]; ok {
		return v
	}
	v := e.intTermUncached(x, w, unsigned)
	e.memoInt[key] = v
	return v
}

func (e *encoder) intTermUncached(x expr.Expr, w int, unsigned bool) bv {
	switch x := x.(type) {
	case *expr.IntLit:
		return e.c.constBV(x.Value, w)
	case *expr.CharLit:
		return e.c.constBV(int64(x.Value), w)
	case *expr.VarRef:
		t, ok := e.env.Vars[x.Name]
		if !ok || !t.IsInt() {
			bail(solver.ReasonUnsupported, "%q is not an integer variable", x.Name)
		}
		v, ok := e.ints[x.Name]
		if !ok {
			vw, _ := e.intShape(t)
			v = e.c.freshBV(vw)
			e.ints[x.Name] = v
		}
		return fit(v, w, t.Unsigned)
	case *expr.UnaryExpr:
		if x.Op != expr.Neg {
			bail(solver.ReasonUnsupported, "boolean operand %s", x)
		}
		return e.c.neg(e.intTerm(x.X, w, unsigned))
	case *expr.BinaryExpr:
		if !x.Op.IsArith() {
			bail(solver.ReasonUnsupported, "%s is not an integer", x)
		}
		a, b := e.intTerm(x.X, w, unsigned), e.intTerm(x.Y, w, unsigned)
		switch x.Op {
		case expr.Add:
			return e.c.add(a, b)
		case expr.Sub:
			return e.c.sub(a, b)
		case expr.Mul:
			return e.c.mul(a, b)
		case expr.Div:
			q, _ := e.c.divRem(a, b, unsigned)
			return q
		default:
			_, r := e.c.divRem(a, b, unsigned)
			return r
		}
	case *expr.TernaryExpr:
		return e.c.iteBV(e.boolean(x.Cond, both), e.intTerm(x.Then, w, unsigned), e.intTerm(x.Else, w, unsigned))
	case *expr.BuiltinCall:
		if x.Fn != expr.Len {
			bail(solver.ReasonUnsupported, "%s is not an integer", x)
		}
		return fit(e.length(x.Args[0]), w, false)
	case *expr.IndexExpr:
		t := e.typeOf(x)
		return fit(e.read(x), w, t.Unsigned)
	case *expr.CallExpr:
		bail(solver.ReasonUnsupported, "call to %s", x.Target)
	}
	bail(solver.ReasonUnsupported, "cannot encode %s as an integer", x)
	return nil
}

func (e *encoder) length(x expr.Expr) bv {
	t := e.typeOf(x)
	switch t.Kind {
	case expr.String:
		return e.str(x).length
	case expr.Array:
		a := e.array(x)
		if a.symbol != nil {
			return a.symbol.length
		}
		return e.c.constBV(int64(len(a.elems)), lenWidth)
	}
	bail(solver.ReasonUnsupported, "len of %s", t)
	return nil
}

// freshLength returns a non-negative length bounded by 2^maxLenBits-1.
func (e *encoder) freshLength() bv {
	l := e.c.freshBV(lenWidth)
	for i := maxLenBits; i < lenWidth; i++ {
		e.c.assert(-l[i])
	}
	return l
}

func elemWidth(t expr.Type, fallback int) int {
	if t.Kind == expr.Bool {
		return 1
	}
	return t.BitWidth(fallback)
}

func (e *encoder) array(x expr.Expr) arrayTerm {
	switch x := x.(type) {
	case *expr.ArrayLit:
		t := e.typeOf(x)
		elem := *t.Elem
		w, unsigned := elemWidth(elem, e.opts.IntWidth), elem.Unsigned
		elems := make([]bv, len(x.Elems))
		for i, el := range x.Elems {
			if elem.Kind == expr.Bool {
				elems[i] = bv{e.boolean(el, both)}
			} else {
				elems[i] = e.intTerm(el, w, unsigned)
			}
		}
		return arrayTerm{elems: elems, elem: elem}
	case *expr.VarRef:
		t, ok := e.env.Vars[x.Name]
		if !ok || t.Kind != expr.Array || t.Elem == nil {
			bail(solver.ReasonUnsupported, "%q is not an array", x.Name)
		}
		a, ok := e.arrays[x.Name]
		if !ok {
			a = &symArray{name: x.Name, elem: *t.Elem, length: e.freshLength()}
			e.arrays[x.Name] = a
		}
		return arrayTerm{symbol: a, elem: a.elem}
	}
	bail(solver.ReasonUnsupported, "array expression %s", x)
	return arrayTerm{}
}

// read encodes arr[i]. Out-of-bounds reads yield an unconstrained value; reads of a symbolic array
// at equal indices are constrained to be equal.
func (e *encoder) read(x *expr.IndexExpr) bv {
	if e.typeOf(x.Array).Kind == expr.String {
		bail(solver.ReasonUnsupported, "indexing into string %s", x.Array)
	}
	e.noteIndex(x.Index)
	it := e.typeOf(x.Index)
	iw, iu := e.intShape(it)
	idx := fit(e.intTerm(x.Index, iw, iu), 64, iu)
	a := e.array(x.Array)
	w := elemWidth(a.elem, e.opts.IntWidth)

	if a.symbol == nil {
		out := e.c.freshBV(w)
		for k := len(a.elems) - 1; k >= 0; k-- {
			out = e.c.iteBV(e.c.eqBV(idx, e.c.constBV(int64(k), 64)), a.elems[k], out)
		}
		return out
	}

	for _, r := range a.symbol.reads {
		if e.c.eqBV(r.index, idx) == litTrue {
			return r.value
		}
	}
	v := e.c.freshBV(w)
	for _, r := range a.symbol.reads {
		e.c.implies(e.c.eqBV(r.index, idx), e.c.eqBV(r.value, v))
	}
	a.symbol.reads = append(a.symbol.reads, arrayRead{index: idx, value: v})
	return v
}

func (e *encoder) noteIndex(i expr.Expr) {
	s := i.String()
	for _, t := range e.indexTerms {
		if t.String() == s {
			return
		}
	}
	e.indexTerms = append(e.indexTerms, i)
}

// collectIndexTerms records the ground index expressions of x.
func (e *encoder) collectIndexTerms(x expr.Expr) {
	expr.Walk(x, func(n expr.Expr) bool {
		if ix, ok := n.(*expr.IndexExpr); ok && e.ground(ix.Index) {
			e.noteIndex(ix.Index)
		}
		return true
	})
}

func (e *encoder) ground(x expr.Expr) bool {
	for _, v := range expr.FreeVars(x) {
		if _, ok := e.env.Vars[v]; !ok {
			return false
		}
	}
	return true
}

func (e *encoder) str(x expr.Expr) stringTerm {
	switch x := x.(type) {
	case *expr.StringLit:
		return stringTerm{concrete: true, value: x.Value, key: strconv.Quote(x.Value), length: e.c.constBV(int64(utf8.RuneCountInString(x.Value)), lenWidth)}
	case *expr.VarRef:
		if t, ok := e.env.Vars[x.Name]; !ok || t.Kind != expr.String {
			bail(solver.ReasonUnsupported, "%q is not a string", x.Name)
		}
		s, ok := e.strs[x.Name]
		if !ok {
			s = stringTerm{key: x.Name, length: e.freshLength()}
			e.strs[x.Name] = s
		}
		return s
	case *expr.BinaryExpr:
		if x.Op != expr.Concat {
			break
		}
		a, b := e.str(x.X), e.str(x.Y)
		if a.concrete && b.concrete {
			return e.str(expr.S(a.value + b.value))
		}
		return stringTerm{key: "(" + a.key + "++" + b.key + ")", length: e.c.add(a.length, b.length)}
	case *expr.TernaryExpr:
		if c := e.boolean(x.Cond, both); c.isConst() {
			if c == litTrue {
				return e.str(x.Then)
			}
			return e.str(x.Else)
		}
	}
	bail(solver.ReasonUnsupported, "string expression %s", x)
	return stringTerm{}
}

func (e *encoder) stringPred(fn expr.Builtin, s, sub stringTerm) lit {
	if s.concrete && sub.concrete {
		switch fn {
		case expr.Contains:
			return boolLit(strings.Contains(s.value, sub.value))
		case expr.StartsWith:
			return boolLit(strings.HasPrefix(s.value, sub.value))
		default:
			return boolLit(strings.HasSuffix(s.value, sub.value))
		}
	}
	if (sub.concrete && sub.value == "") || s.key == sub.key {
		return litTrue
	}
	e.markIncomplete("symbolic strings")
	key := fn.String() + "(" + s.key + "," + sub.key + ")"
	if l, ok := e.preds[key]; ok {
		return l
	}
	l := e.c.fresh()
	e.preds[key] = l
	// A match needs room for the needle.
	e.c.implies(l, -e.c.ult(s.length, sub.length))
	if fn != expr.Contains {
		e.c.implies(l, e.stringPred(expr.Contains, s, sub))
	}
	return l
}

func (e *encoder) stringEq(a, b stringTerm) lit {
	if a.concrete && b.concrete {
		return boolLit(a.value == b.value)
	}
	if a.key == b.key {
		return litTrue
	}
	e.markIncomplete("symbolic strings")
	x, y := a.key, b.key
	if x > y {
		x, y = y, x
	}
	key := "==(" + x + "," + y + ")"
	if l, ok := e.preds[key]; ok {
		return l
	}
	l := e.c.fresh()
	e.preds[key] = l
	e.c.implies(l, e.c.eqBV(a.length, b.length))
	return l
}

// quantifier encodes a bounded quantifier. A universal in negative (existential in positive)
// position is Skolemized, so its witness shows up in counterexamples; otherwise constant domains
// up to UnrollLimit are expanded, and anything else is instantiated once with the ground terms
// seen so far, which is sound for proofs only.
func (e *encoder) quantifier(q *expr.Quantifier, p polarity) lit {
	var lo, hi expr.Expr
	switch d := q.Domain.(type) {
	case *expr.IntRange:
		lo, hi = d.Lo, d.Hi
	case *expr.ArrayIndices:
		lo, hi = expr.I(0), expr.LenE(d.Array)
	default:
		bail(solver.ReasonUnboundedDomain, "%s", q)
	}
	vt, err := expr.BoundVarType(q, e.env)
	if err != nil {
		bail(solver.ReasonUnsupported, "%v", err)
	}
	w, unsigned := e.intShape(vt)
	loBV, hiBV := e.intTerm(lo, w, unsigned), e.intTerm(hi, w, unsigned)
	forall := q.Kind == expr.Forall

	inRange := func(t bv) lit { return e.c.and(e.c.le(loBV, t, unsigned), e.c.lt(t, hiBV, unsigned)) }

	if (forall && p == neg) || (!forall && p == pos) {
		name := e.skolemName(q.Var)
		e.env = e.env.With(name, vt)
		sk := e.intTerm(expr.V(name), w, unsigned)
		e.skolems = append(e.skolems, skolem{name: name, typ: vt, bits: sk})
		body := e.boolean(expr.Substitute(q.Body, map[string]expr.Expr{q.Var: expr.V(name)}), p)
		if forall {
			return e.c.or(-inRange(sk), body)
		}
		return e.c.and(inRange(sk), body)
	}
	if l, lok := e.c.constValue(loBV, unsigned); lok {
		if h, hok := e.c.constValue(hiBV, unsigned); hok && h-l <= int64(e.opts.UnrollLimit) {
			out := boolLit(forall)
			for k := l; k < h; k++ {
				body := e.boolean(expr.Substitute(q.Body, map[string]expr.Expr{q.Var: expr.I(k)}), p)
				if forall {
					out = e.c.and(out, body)
				} else {
					out = e.c.or(out, body)
				}
			}
			return out
		}
	}

	if p == both {
		bail(solver.ReasonUnsupported, "quantifier under equivalence: %s", q)
	}

	e.markIncomplete("quantifier instantiation")
	out := boolLit(forall)
	for _, t := range e.instances(lo, vt) {
		tb := e.intTerm(t, w, unsigned)
		body := e.boolean(expr.Substitute(q.Body, map[string]expr.Expr{q.Var: t}), p)
		if forall {
			out = e.c.and(out, e.c.or(-inRange(tb), body))
		} else {
			out = e.c.or(out, e.c.and(inRange(tb), body))
		}
	}
	return out
}

// instances returns ground terms of type t: the lower bound, index terms, query variables and
// Skolem constants.
func (e *encoder) instances(lo expr.Expr, t expr.Type) []expr.Expr {
	var out []expr.Expr
	seen := make(map[string]bool)
	add := func(x expr.Expr) {
		if seen[x.String()] || !e.ground(x) {
			return
		}
		if xt, err := expr.TypeOf(x, e.env); err != nil || !xt.IsInt() {
			return
		} else if _, ok := expr.Unify(xt, t); !ok {
			return
		}
		seen[x.String()] = true
		out = append(out, x)
	}
	add(lo)
	for _, x := range e.indexTerms {
		add(x)
	}
	for _, v := range e.query.Vars {
		add(expr.V(v.Name))
	}
	for _, s := range e.skolems {
		add(expr.V(s.name))
	}
	return out
}

func (e *encoder) skolemName(base string) string {
	taken := func(n string) bool {
		_, ok := e.env.Vars[n]
		return ok
	}
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		if n := base + "_" + strconv.Itoa(i); !taken(n) {
			return n
		}
	}
}
