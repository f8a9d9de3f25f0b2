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

package smtlib

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
)

// indexWidth is the sort of array indices; narrower index expressions are extended to it.
const indexWidth = 64

// lenWidth is the width of array lengths.
const lenWidth = expr.DefaultWidth

// maxLen bounds symbolic lengths, matching the in-process backend.
const maxLen = 1 << 28

// UnsupportedError reports a query the renderer cannot express.
type UnsupportedError struct {
	Reason solver.Reason
	Detail string
}

func (e *UnsupportedError) Error() string { return string(e.Reason) + ": " + e.Detail }

func unsupported(reason solver.Reason, format string, args ...any) {
	panic(&UnsupportedError{Reason: reason, Detail: fmt.Sprintf(format, args...)})
}

type polarity int8

const (
	both polarity = 0
	pos  polarity = 1
	neg  polarity = -1
)

// valueProbe asks the model for the value of one term.
type valueProbe struct {
	name string
	typ  expr.Type
	term string
}

type readProbe struct {
	index, cell string
}

// arrayProbe asks for the length of an array parameter and the cells the query reads.
type arrayProbe struct {
	name   string
	elem   expr.Type
	length string
	reads  []readProbe
}

// probe is one entry of the counterexample, either a scalar or an array.
type probe struct {
	value *valueProbe
	array *arrayProbe
}

// Script is a rendered query together with what to ask of a satisfying model.
type Script struct {
	// Text is the SMT-LIB2 input fed to the solver.
	Text string

	probes []probe
}

type renderer struct {
	intWidth int
	env      expr.Env
	query    *solver.Query

	decls   []string
	globals map[string]bool
	arrays  map[string]*arrayProbe
	skolems []valueProbe
	seen    map[string]bool
	fresh   int
}

// Render translates q into an SMT-LIB2 script that is unsatisfiable exactly when q is valid.
// Untyped integer constants are intWidth bits wide.
func Render(q *solver.Query, intWidth int) (s *Script, err error) {
	defer func() {
		if r := recover(); r != nil {
			ue, ok := r.(*UnsupportedError)
			if !ok {
				panic(r)
			}
			s, err = nil, ue
		}
	}()
	if q.Goal == nil {
		unsupported(solver.ReasonUnsupported, "query without goal")
	}
	if intWidth <= 0 {
		intWidth = expr.DefaultWidth
	}
	r := &renderer{
		intWidth: intWidth,
		env:      q.Env(),
		query:    q,
		globals:  make(map[string]bool),
		arrays:   make(map[string]*arrayProbe),
		seen:     make(map[string]bool),
	}
	return r.render(), nil
}

func (r *renderer) render() *Script {
	for _, v := range r.query.Vars {
		r.declareVar(v)
	}
	// The goal goes first so its Skolem constants keep the bound variable's name.
	goal := r.boolean(r.query.Goal, neg, false)
	var asserts []string
	for _, a := range r.query.Assumptions {
		if hasUnbounded(a) {
			continue
		}
		asserts = append(asserts, "(assert "+r.boolean(a, pos, false)+")")
	}
	asserts = append(asserts, "(assert (not "+goal+"))")

	var sb strings.Builder
	sb.WriteString("(set-option :produce-models true)\n(set-logic ALL)\n")
	for _, d := range r.decls {
		sb.WriteString(d + "\n")
	}
	for _, a := range asserts {
		sb.WriteString(a + "\n")
	}
	sb.WriteString("(check-sat)\n")

	probes := r.probes()
	var terms []string
	for _, p := range probes {
		switch {
		case p.value != nil:
			terms = append(terms, p.value.term)
		case p.array != nil:
			terms = append(terms, p.array.length)
			for _, rd := range p.array.reads {
				terms = append(terms, rd.index, rd.cell)
			}
		}
	}
	if len(terms) > 0 {
		sb.WriteString("(get-value (" + strings.Join(terms, " ") + "))\n")
	}
	return &Script{Text: sb.String(), probes: probes}
}

func (r *renderer) probes() []probe {
	var out []probe
	for _, v := range r.query.Vars {
		switch v.Type.Kind {
		case expr.Int, expr.Char, expr.Bool, expr.String:
			out = append(out, probe{value: &valueProbe{name: v.Name, typ: v.Type, term: symbol(v.Name)}})
		case expr.Array:
			out = append(out, probe{array: r.arrays[v.Name]})
		}
	}
	for i := range r.skolems {
		out = append(out, probe{value: &r.skolems[i]})
	}
	return out
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

var _simpleSymbol = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// symbol renders name as an SMT-LIB symbol, quoting it when necessary.
func symbol(name string) string {
	if _simpleSymbol.MatchString(name) {
		return name
	}
	return "|" + strings.ReplaceAll(name, "|", "_") + "|"
}

func bvSort(w int) string { return "(_ BitVec " + strconv.Itoa(w) + ")" }

func (r *renderer) sort(t expr.Type) string {
	switch t.Kind {
	case expr.Int, expr.Char:
		return bvSort(t.BitWidth(r.intWidth))
	case expr.Bool:
		return "Bool"
	case expr.String:
		return "String"
	case expr.Array:
		if t.Elem == nil {
			break
		}
		return "(Array " + bvSort(indexWidth) + " " + r.sort(*t.Elem) + ")"
	}
	unsupported(solver.ReasonUnsupported, "no sort for %s", t)
	return ""
}

func (r *renderer) declare(name, sort string) {
	r.decls = append(r.decls, "(declare-const "+name+" "+sort+")")
}

func (r *renderer) freshName(prefix string) string {
	r.fresh++
	return prefix + "!" + strconv.Itoa(r.fresh)
}

func (r *renderer) declareVar(v solver.Var) {
	name := symbol(v.Name)
	r.declare(name, r.sort(v.Type))
	r.globals[v.Name] = true
	switch v.Type.Kind {
	case expr.String:
		r.decls = append(r.decls, fmt.Sprintf("(assert (< (str.len %s) %d))", name, maxLen))
	case expr.Array:
		length := symbol("len!" + v.Name)
		r.declare(length, bvSort(lenWidth))
		r.decls = append(r.decls, fmt.Sprintf("(assert (bvult %s %s))", length, bvConst(maxLen, lenWidth)))
		r.arrays[v.Name] = &arrayProbe{name: v.Name, elem: *v.Type.Elem, length: length}
	}
}

func (r *renderer) typeOf(x expr.Expr) expr.Type {
	t, err := expr.TypeOf(x, r.env)
	if err != nil {
		unsupported(solver.ReasonUnsupported, "%v", err)
	}
	return t
}

func (r *renderer) shape(t expr.Type) (int, bool) { return t.BitWidth(r.intWidth), t.Unsigned }

// bvConst renders v as a w-bit two's-complement constant.
func bvConst(v int64, w int) string {
	u := uint64(v)
	if w < 64 {
		u &= 1<<uint(w) - 1
	}
	return "(_ bv" + strconv.FormatUint(u, 10) + " " + strconv.Itoa(w) + ")"
}

// resize converts a from width from to width to.
func resize(a string, from, to int, unsigned bool) string {
	switch {
	case from == to:
		return a
	case from > to:
		return fmt.Sprintf("((_ extract %d 0) %s)", to-1, a)
	case unsigned:
		return fmt.Sprintf("((_ zero_extend %d) %s)", to-from, a)
	default:
		return fmt.Sprintf("((_ sign_extend %d) %s)", to-from, a)
	}
}

func (r *renderer) boolean(x expr.Expr, p polarity, bound bool) string {
	switch x := x.(type) {
	case *expr.BoolLit:
		return strconv.FormatBool(x.Value)
	case *expr.VarRef:
		if t, ok := r.env.Vars[x.Name]; !ok || t.Kind != expr.Bool {
			unsupported(solver.ReasonUnsupported, "%q is not a boolean variable", x.Name)
		}
		return symbol(x.Name)
	case *expr.UnaryExpr:
		if x.Op != expr.Not {
			unsupported(solver.ReasonUnsupported, "non-boolean operand %s", x)
		}
		return "(not " + r.boolean(x.X, -p, bound) + ")"
	case *expr.BinaryExpr:
		return r.binaryBool(x, p, bound)
	case *expr.TernaryExpr:
		return "(ite " + r.boolean(x.Cond, both, bound) + " " + r.boolean(x.Then, p, bound) + " " + r.boolean(x.Else, p, bound) + ")"
	case *expr.BuiltinCall:
		if x.Fn == expr.Len || len(x.Args) != 2 {
			unsupported(solver.ReasonUnsupported, "%s used as a condition", x)
		}
		s, sub := r.str(x.Args[0], bound), r.str(x.Args[1], bound)
		switch x.Fn {
		case expr.Contains:
			return "(str.contains " + s + " " + sub + ")"
		case expr.StartsWith:
			return "(str.prefixof " + sub + " " + s + ")"
		default:
			return "(str.suffixof " + sub + " " + s + ")"
		}
	case *expr.IndexExpr:
		return r.read(x, bound)
	case *expr.Quantifier:
		return r.quantifier(x, p, bound)
	case *expr.CallExpr:
		unsupported(solver.ReasonUnsupported, "call to %s", x.Target)
	}
	unsupported(solver.ReasonUnsupported, "cannot render %s as a condition", x)
	return ""
}

var _bvCompare = map[expr.BinOp][2]string{
	expr.Lt: {"bvslt", "bvult"},
	expr.Le: {"bvsle", "bvule"},
	expr.Gt: {"bvsgt", "bvugt"},
	expr.Ge: {"bvsge", "bvuge"},
}

func (r *renderer) binaryBool(x *expr.BinaryExpr, p polarity, bound bool) string {
	switch x.Op {
	case expr.And:
		return "(and " + r.boolean(x.X, p, bound) + " " + r.boolean(x.Y, p, bound) + ")"
	case expr.Or:
		return "(or " + r.boolean(x.X, p, bound) + " " + r.boolean(x.Y, p, bound) + ")"
	case expr.Implies:
		return "(=> " + r.boolean(x.X, -p, bound) + " " + r.boolean(x.Y, p, bound) + ")"
	}
	if !x.Op.IsCompare() {
		unsupported(solver.ReasonUnsupported, "%s is not a condition", x)
	}
	tx, ty := r.typeOf(x.X), r.typeOf(x.Y)
	t, ok := expr.Unify(tx, ty)
	if !ok {
		unsupported(solver.ReasonUnsupported, "comparing %s with %s", tx, ty)
	}

	var a, b string
	switch t.Kind {
	case expr.Bool:
		a, b = r.boolean(x.X, both, bound), r.boolean(x.Y, both, bound)
	case expr.String:
		a, b = r.str(x.X, bound), r.str(x.Y, bound)
	case expr.Int, expr.Char:
		w, unsigned := r.shape(t)
		a, b = r.intTerm(x.X, w, unsigned, bound), r.intTerm(x.Y, w, unsigned, bound)
		if ops, ok := _bvCompare[x.Op]; ok {
			op := ops[0]
			if unsigned {
				op = ops[1]
			}
			return "(" + op + " " + a + " " + b + ")"
		}
	default:
		unsupported(solver.ReasonUnsupported, "equality on %s", t)
	}
	switch x.Op {
	case expr.Eq:
		return "(= " + a + " " + b + ")"
	case expr.Ne:
		return "(distinct " + a + " " + b + ")"
	}
	unsupported(solver.ReasonUnsupported, "ordering on %s", t)
	return ""
}

var _bvArith = map[expr.BinOp][2]string{
	expr.Add: {"bvadd", "bvadd"},
	expr.Sub: {"bvsub", "bvsub"},
	expr.Mul: {"bvmul", "bvmul"},
	expr.Div: {"bvsdiv", "bvudiv"},
	expr.Mod: {"bvsrem", "bvurem"},
}

func (r *renderer) intTerm(x expr.Expr, w int, unsigned, bound bool) string {
	switch x := x.(type) {
	case *expr.IntLit:
		return bvConst(x.Value, w)
	case *expr.CharLit:
		return bvConst(int64(x.Value), w)
	case *expr.VarRef:
		t, ok := r.env.Vars[x.Name]
		if !ok || !t.IsInt() {
			unsupported(solver.ReasonUnsupported, "%q is not an integer variable", x.Name)
		}
		vw, _ := r.shape(t)
		return resize(symbol(x.Name), vw, w, t.Unsigned)
	case *expr.UnaryExpr:
		if x.Op != expr.Neg {
			unsupported(solver.ReasonUnsupported, "boolean operand %s", x)
		}
		return "(bvneg " + r.intTerm(x.X, w, unsigned, bound) + ")"
	case *expr.BinaryExpr:
		ops, ok := _bvArith[x.Op]
		if !ok {
			unsupported(solver.ReasonUnsupported, "%s is not an integer", x)
		}
		op := ops[0]
		if unsigned {
			op = ops[1]
		}
		a, b := r.intTerm(x.X, w, unsigned, bound), r.intTerm(x.Y, w, unsigned, bound)
		t := "(" + op + " " + a + " " + b + ")"
		if lit, ok := x.Y.(*expr.IntLit); ok && lit.Value != 0 {
			return t
		}
		if x.Op == expr.Div || x.Op == expr.Mod {
			// Division by zero is left unconstrained.
			if bound {
				unsupported(solver.ReasonUnsupported, "division inside a quantifier: %s", x)
			}
			dz := r.freshName("divzero")
			r.declare(dz, bvSort(w))
			t = "(ite (= " + b + " " + bvConst(0, w) + ") " + dz + " " + t + ")"
		}
		return t
	case *expr.TernaryExpr:
		return "(ite " + r.boolean(x.Cond, both, bound) + " " + r.intTerm(x.Then, w, unsigned, bound) + " " + r.intTerm(x.Else, w, unsigned, bound) + ")"
	case *expr.BuiltinCall:
		if x.Fn != expr.Len || len(x.Args) != 1 {
			unsupported(solver.ReasonUnsupported, "%s is not an integer", x)
		}
		return r.length(x.Args[0], w, bound)
	case *expr.IndexExpr:
		t := r.typeOf(x)
		ew, _ := r.shape(t)
		return resize(r.read(x, bound), ew, w, t.Unsigned)
	case *expr.CallExpr:
		unsupported(solver.ReasonUnsupported, "call to %s", x.Target)
	}
	unsupported(solver.ReasonUnsupported, "cannot render %s as an integer", x)
	return ""
}

func (r *renderer) length(x expr.Expr, w int, bound bool) string {
	t := r.typeOf(x)
	switch t.Kind {
	case expr.String:
		return "((_ int2bv " + strconv.Itoa(w) + ") (str.len " + r.str(x, bound) + "))"
	case expr.Array:
		switch a := x.(type) {
		case *expr.ArrayLit:
			return bvConst(int64(len(a.Elems)), w)
		case *expr.VarRef:
			if p := r.arrays[a.Name]; p != nil {
				return resize(p.length, lenWidth, w, true)
			}
		}
	}
	unsupported(solver.ReasonUnsupported, "len of %s", x)
	return ""
}

// array renders an array-valued expression; literals become fresh constants pinned at each index.
func (r *renderer) array(x expr.Expr, bound bool) string {
	switch x := x.(type) {
	case *expr.VarRef:
		if r.arrays[x.Name] == nil {
			unsupported(solver.ReasonUnsupported, "%q is not an array", x.Name)
		}
		return symbol(x.Name)
	case *expr.ArrayLit:
		if bound && !r.ground(x) {
			unsupported(solver.ReasonUnsupported, "array literal over a bound variable: %s", x)
		}
		t := r.typeOf(x)
		elem := *t.Elem
		name := r.freshName("array")
		r.declare(name, r.sort(t))
		for k, el := range x.Elems {
			var v string
			if elem.Kind == expr.Bool {
				v = r.boolean(el, both, bound)
			} else {
				w, unsigned := r.shape(elem)
				v = r.intTerm(el, w, unsigned, bound)
			}
			r.decls = append(r.decls, "(assert (= (select "+name+" "+bvConst(int64(k), indexWidth)+") "+v+"))")
		}
		return name
	}
	unsupported(solver.ReasonUnsupported, "array expression %s", x)
	return ""
}

func (r *renderer) read(x *expr.IndexExpr, bound bool) string {
	if r.typeOf(x.Array).Kind == expr.String {
		unsupported(solver.ReasonUnsupported, "indexing into string %s", x.Array)
	}
	it := r.typeOf(x.Index)
	iw, iu := r.shape(it)
	idx := resize(r.intTerm(x.Index, iw, iu, bound), iw, indexWidth, iu)
	a := r.array(x.Array, bound)
	cell := "(select " + a + " " + idx + ")"

	if v, ok := x.Array.(*expr.VarRef); ok && r.ground(x.Index) {
		if p := r.arrays[v.Name]; p != nil && !r.seen[cell] {
			r.seen[cell] = true
			p.reads = append(p.reads, readProbe{index: idx, cell: cell})
		}
	}
	return cell
}

// ground reports whether x only mentions query variables and Skolem constants.
func (r *renderer) ground(x expr.Expr) bool {
	for _, v := range expr.FreeVars(x) {
		if !r.globals[v] {
			return false
		}
	}
	return true
}

func (r *renderer) str(x expr.Expr, bound bool) string {
	switch x := x.(type) {
	case *expr.StringLit:
		return quote(x.Value)
	case *expr.VarRef:
		if t, ok := r.env.Vars[x.Name]; !ok || t.Kind != expr.String {
			unsupported(solver.ReasonUnsupported, "%q is not a string", x.Name)
		}
		return symbol(x.Name)
	case *expr.BinaryExpr:
		if x.Op == expr.Concat {
			return "(str.++ " + r.str(x.X, bound) + " " + r.str(x.Y, bound) + ")"
		}
	case *expr.TernaryExpr:
		return "(ite " + r.boolean(x.Cond, both, bound) + " " + r.str(x.Then, bound) + " " + r.str(x.Else, bound) + ")"
	}
	unsupported(solver.ReasonUnsupported, "string expression %s", x)
	return ""
}

// quote renders s as an SMT-LIB 2.6 string literal.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range s {
		switch {
		case c == '"':
			sb.WriteString(`""`)
		case c == '\\' || c < 0x20 || c > 0x7e:
			fmt.Fprintf(&sb, `\u{%x}`, c)
		default:
			sb.WriteRune(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// quantifier renders a bounded quantifier. Outside any binder, a universal in negative (existential
// in positive) position becomes a Skolem constant whose value is reported in counterexamples.
func (r *renderer) quantifier(q *expr.Quantifier, p polarity, bound bool) string {
	var lo, hi expr.Expr
	switch d := q.Domain.(type) {
	case *expr.IntRange:
		lo, hi = d.Lo, d.Hi
	case *expr.ArrayIndices:
		lo, hi = expr.I(0), expr.LenE(d.Array)
	default:
		unsupported(solver.ReasonUnboundedDomain, "%s", q)
	}
	vt, err := expr.BoundVarType(q, r.env)
	if err != nil {
		unsupported(solver.ReasonUnsupported, "%v", err)
	}
	w, unsigned := r.shape(vt)
	loT, hiT := r.intTerm(lo, w, unsigned, bound), r.intTerm(hi, w, unsigned, bound)
	le, lt := "bvsle", "bvslt"
	if unsigned {
		le, lt = "bvule", "bvult"
	}
	inRange := func(v string) string {
		return "(and (" + le + " " + loT + " " + v + ") (" + lt + " " + v + " " + hiT + "))"
	}
	forall := q.Kind == expr.Forall

	if !bound && ((forall && p == neg) || (!forall && p == pos)) {
		name := r.skolemName(q.Var)
		r.declare(symbol(name), bvSort(w))
		r.env = r.env.With(name, vt)
		r.globals[name] = true
		r.skolems = append(r.skolems, valueProbe{name: name, typ: vt, term: symbol(name)})
		body := r.boolean(expr.Substitute(q.Body, map[string]expr.Expr{q.Var: expr.V(name)}), p, false)
		if forall {
			return "(=> " + inRange(symbol(name)) + " " + body + ")"
		}
		return "(and " + inRange(symbol(name)) + " " + body + ")"
	}

	// The binder scopes over the bounds as well, so avoid capturing their variables.
	v, body := q.Var, q.Body
	for clash := true; clash; {
		clash = false
		for _, fv := range append(expr.FreeVars(lo), expr.FreeVars(hi)...) {
			if fv == v {
				clash = true
			}
		}
		if clash {
			v += "!b"
		}
	}
	if v != q.Var {
		body = expr.Substitute(body, map[string]expr.Expr{q.Var: expr.V(v)})
	}
	saved := r.env
	r.env = r.env.With(v, vt)
	inner := r.boolean(body, p, true)
	r.env = saved

	binder := "((" + symbol(v) + " " + bvSort(w) + "))"
	if forall {
		return "(forall " + binder + " (=> " + inRange(symbol(v)) + " " + inner + "))"
	}
	return "(exists " + binder + " (and " + inRange(symbol(v)) + " " + inner + "))"
}

func (r *renderer) skolemName(base string) string {
	taken := func(n string) bool {
		_, ok := r.env.Vars[n]
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
