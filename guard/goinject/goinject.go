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

// Package goinject renders runtime guards into Go function declarations. Entry guards are
// prepended to the body; exit guards bind the returned value to a local and check it before every
// return. A violated guard panics with "contract violation: <message>".
package goinject

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"math"
	"strconv"
	"strings"

	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/guard"
	"golang.org/x/tools/go/ast/astutil"
)

// ErrNotRenderable is wrapped by errors about guards that have no Go rendering.
var ErrNotRenderable = errors.New("guard cannot be rendered as Go")

// Inject adds guards to fn, the Go rendering of spec. fn is only modified when every guard can be
// rendered. The "strings" import is added to file when a guard needs it.
func Inject(fset *token.FileSet, file *ast.File, fn *ast.FuncDecl, spec *decl.FunctionSpec, guards []guard.RuntimeGuard) error {
	if fn.Body == nil {
		return fmt.Errorf("%w: %s has no body", ErrNotRenderable, fn.Name.Name)
	}
	r := &renderer{pkg: packageOf(spec.ID)}

	var pre, post []ast.Stmt
	for _, g := range guards {
		env := spec.Env()
		if g.Position == decl.Pre {
			delete(env.Vars, expr.ResultName)
		}
		cond, err := r.render(g.Condition, env)
		if err != nil {
			return fmt.Errorf("guard %q of %s: %w", g.Condition, spec.ID, err)
		}
		check := violation(cond, g.Message)
		if g.Position == decl.Post {
			post = append(post, check)
		} else {
			pre = append(pre, check)
		}
	}

	if len(post) > 0 {
		if err := wrapReturns(fn, post); err != nil {
			return err
		}
	}
	fn.Body.List = append(pre, fn.Body.List...)
	if r.needsStrings {
		astutil.AddImport(fset, file, "strings")
	}
	if r.needsUTF8 {
		astutil.AddImport(fset, file, "unicode/utf8")
	}
	return nil
}

// violation returns `if !(cond) { panic("contract violation: msg") }`.
func violation(cond ast.Expr, message string) ast.Stmt {
	return &ast.IfStmt{
		Cond: &ast.UnaryExpr{Op: token.NOT, X: &ast.ParenExpr{X: cond}},
		Body: &ast.BlockStmt{List: []ast.Stmt{
			&ast.ExprStmt{X: &ast.CallExpr{
				Fun:  ast.NewIdent("panic"),
				Args: []ast.Expr{stringLit(config.ViolationPrefix + message)},
			}},
		}},
	}
}

// wrapReturns rewrites every return of fn (outside nested function literals) into
// `{ var contractResult T = v; <checks>; return contractResult }`.
func wrapReturns(fn *ast.FuncDecl, checks []ast.Stmt) error {
	results := fn.Type.Results
	if results == nil || results.NumFields() != 1 {
		return fmt.Errorf("%w: exit guards on %s need exactly one result", ErrNotRenderable, fn.Name.Name)
	}
	var named ast.Expr
	if names := results.List[0].Names; len(names) == 1 {
		named = ast.NewIdent(names[0].Name)
	}

	if named == nil {
		bare := false
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.FuncLit:
				return false
			case *ast.ReturnStmt:
				bare = bare || len(n.Results) != 1
			}
			return !bare
		})
		if bare {
			return fmt.Errorf("%w: bare return in %s", ErrNotRenderable, fn.Name.Name)
		}
	}

	astutil.Apply(fn.Body, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.FuncLit:
			return false
		case *ast.ReturnStmt:
			value := named
			if len(n.Results) == 1 {
				value = n.Results[0]
			}
			// Declared with the result type so untyped constants keep it.
			list := []ast.Stmt{&ast.DeclStmt{Decl: &ast.GenDecl{
				Tok: token.VAR,
				Specs: []ast.Spec{&ast.ValueSpec{
					Names:  []*ast.Ident{ast.NewIdent(config.GuardResultName)},
					Type:   results.List[0].Type,
					Values: []ast.Expr{value},
				}},
			}}}
			list = append(list, checks...)
			list = append(list, &ast.ReturnStmt{Results: []ast.Expr{ast.NewIdent(config.GuardResultName)}})
			c.Replace(&ast.BlockStmt{List: list})
			return false
		}
		return true
	}, nil)
	return nil
}

// renderer translates contract expressions into Go expressions.
type renderer struct {
	// pkg is the package of the guarded function; calls into it are unqualified.
	pkg          string
	needsStrings bool
	needsUTF8    bool
}

func packageOf(id string) string {
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return ""
}

var _goBinOps = map[expr.BinOp]token.Token{
	expr.Add:    token.ADD,
	expr.Sub:    token.SUB,
	expr.Mul:    token.MUL,
	expr.Div:    token.QUO,
	expr.Mod:    token.REM,
	expr.Concat: token.ADD,
	expr.Eq:     token.EQL,
	expr.Ne:     token.NEQ,
	expr.Lt:     token.LSS,
	expr.Le:     token.LEQ,
	expr.Gt:     token.GTR,
	expr.Ge:     token.GEQ,
	expr.And:    token.LAND,
	expr.Or:     token.LOR,
}

func (r *renderer) render(e expr.Expr, env expr.Env) (ast.Expr, error) {
	switch e := e.(type) {
	case *expr.IntLit:
		lit := &ast.BasicLit{Kind: token.INT, Value: strconv.FormatInt(e.Value, 10)}
		if e.Value == math.MinInt64 {
			// MinInt64 has no positive counterpart.
			lit.Value = strconv.FormatInt(math.MaxInt64, 10)
			return &ast.BinaryExpr{X: &ast.UnaryExpr{Op: token.SUB, X: lit}, Op: token.SUB, Y: &ast.BasicLit{Kind: token.INT, Value: "1"}}, nil
		}
		if e.Value < 0 {
			lit.Value = strconv.FormatInt(-e.Value, 10)
			return &ast.UnaryExpr{Op: token.SUB, X: lit}, nil
		}
		return lit, nil
	case *expr.BoolLit:
		return ast.NewIdent(strconv.FormatBool(e.Value)), nil
	case *expr.StringLit:
		return stringLit(e.Value), nil
	case *expr.CharLit:
		return &ast.BasicLit{Kind: token.CHAR, Value: strconv.QuoteRune(e.Value)}, nil
	case *expr.VarRef:
		if e.Name == expr.ResultName {
			return ast.NewIdent(config.GuardResultName), nil
		}
		return ast.NewIdent(e.Name), nil
	case *expr.UnaryExpr:
		x, err := r.render(e.X, env)
		if err != nil {
			return nil, err
		}
		op := token.NOT
		if e.Op == expr.Neg {
			op = token.SUB
		}
		return &ast.UnaryExpr{Op: op, X: paren(x)}, nil
	case *expr.BinaryExpr:
		x, err := r.render(e.X, env)
		if err != nil {
			return nil, err
		}
		y, err := r.render(e.Y, env)
		if err != nil {
			return nil, err
		}
		if e.Op == expr.Implies {
			return &ast.BinaryExpr{X: &ast.UnaryExpr{Op: token.NOT, X: paren(x)}, Op: token.LOR, Y: operand(y, token.LOR, true)}, nil
		}
		op := _goBinOps[e.Op]
		return &ast.BinaryExpr{X: operand(x, op, false), Op: op, Y: operand(y, op, true)}, nil
	case *expr.TernaryExpr:
		return r.ternary(e, env)
	case *expr.CallExpr:
		args, err := r.renderAll(e.Args, env)
		if err != nil {
			return nil, err
		}
		return &ast.CallExpr{Fun: r.callee(e.Target), Args: args}, nil
	case *expr.BuiltinCall:
		args, err := r.renderAll(e.Args, env)
		if err != nil {
			return nil, err
		}
		if e.Fn == expr.Len {
			// len is an int in Go but a default-width integer in contracts. String length counts
			// characters, as the solvers do.
			var call ast.Expr = &ast.CallExpr{Fun: ast.NewIdent("len"), Args: args}
			if t, err := expr.TypeOf(e.Args[0], env); err == nil && t.Kind == expr.String {
				r.needsUTF8 = true
				call = &ast.CallExpr{
					Fun:  &ast.SelectorExpr{X: ast.NewIdent("utf8"), Sel: ast.NewIdent("RuneCountInString")},
					Args: args,
				}
			}
			return &ast.CallExpr{Fun: goType(expr.IntType(expr.DefaultWidth)), Args: []ast.Expr{call}}, nil
		}
		r.needsStrings = true
		fn := map[expr.Builtin]string{expr.Contains: "Contains", expr.StartsWith: "HasPrefix", expr.EndsWith: "HasSuffix"}[e.Fn]
		return &ast.CallExpr{
			Fun:  &ast.SelectorExpr{X: ast.NewIdent("strings"), Sel: ast.NewIdent(fn)},
			Args: args,
		}, nil
	case *expr.IndexExpr:
		a, err := r.render(e.Array, env)
		if err != nil {
			return nil, err
		}
		i, err := r.render(e.Index, env)
		if err != nil {
			return nil, err
		}
		return &ast.IndexExpr{X: paren(a), Index: i}, nil
	case *expr.ArrayLit:
		elems, err := r.renderAll(e.Elems, env)
		if err != nil {
			return nil, err
		}
		return &ast.CompositeLit{Type: goType(expr.ArrayOf(e.Elem)), Elts: elems}, nil
	case *expr.Quantifier:
		return r.quantifier(e, env)
	}
	return nil, fmt.Errorf("%w: %T", ErrNotRenderable, e)
}

func (r *renderer) renderAll(xs []expr.Expr, env expr.Env) ([]ast.Expr, error) {
	out := make([]ast.Expr, len(xs))
	for i, x := range xs {
		v, err := r.render(x, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *renderer) callee(target string) ast.Expr {
	pkg := packageOf(target)
	name := target[len(pkg):]
	name = strings.TrimPrefix(name, ".")
	if pkg == "" || pkg == r.pkg {
		return ast.NewIdent(name)
	}
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	return &ast.SelectorExpr{X: ast.NewIdent(pkg), Sel: ast.NewIdent(name)}
}

// ternary renders `c ? a : b` as `func() T { if c { return a }; return b }()`.
func (r *renderer) ternary(e *expr.TernaryExpr, env expr.Env) (ast.Expr, error) {
	t, err := expr.TypeOf(e, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRenderable, err)
	}
	if t.IsUntyped() {
		t = expr.IntType(expr.DefaultWidth)
	}
	c, err := r.render(e.Cond, env)
	if err != nil {
		return nil, err
	}
	a, err := r.render(e.Then, env)
	if err != nil {
		return nil, err
	}
	b, err := r.render(e.Else, env)
	if err != nil {
		return nil, err
	}
	return iife(goType(t),
		&ast.IfStmt{Cond: c, Body: &ast.BlockStmt{List: []ast.Stmt{&ast.ReturnStmt{Results: []ast.Expr{a}}}}},
		&ast.ReturnStmt{Results: []ast.Expr{b}},
	), nil
}

// quantifier renders a bounded quantifier as an immediately invoked loop:
//
//	func() bool { for i := lo; i < hi; i++ { if !(body) { return false } }; return true }()
func (r *renderer) quantifier(q *expr.Quantifier, env expr.Env) (ast.Expr, error) {
	t, err := expr.BoundVarType(q, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRenderable, err)
	}
	body, err := r.render(q.Body, env.With(q.Var, t))
	if err != nil {
		return nil, err
	}

	var loop ast.Stmt
	v := ast.NewIdent(q.Var)
	switch d := q.Domain.(type) {
	case *expr.IntRange:
		lo, err := r.render(d.Lo, env)
		if err != nil {
			return nil, err
		}
		hi, err := r.render(d.Hi, env)
		if err != nil {
			return nil, err
		}
		if _, ok := d.Lo.(*expr.IntLit); ok {
			lo = &ast.CallExpr{Fun: goType(t), Args: []ast.Expr{lo}}
		}
		loop = &ast.ForStmt{
			Init: &ast.AssignStmt{Lhs: []ast.Expr{v}, Tok: token.DEFINE, Rhs: []ast.Expr{lo}},
			Cond: &ast.BinaryExpr{X: ast.NewIdent(q.Var), Op: token.LSS, Y: operand(hi, token.LSS, true)},
			Post: &ast.IncDecStmt{X: ast.NewIdent(q.Var), Tok: token.INC},
		}
	case *expr.ArrayIndices:
		a, err := r.render(d.Array, env)
		if err != nil {
			return nil, err
		}
		loop = &ast.RangeStmt{Key: v, Tok: token.DEFINE, X: a}
	default:
		return nil, fmt.Errorf("%w: quantifier over %s", ErrNotRenderable, q.Domain)
	}

	// forall returns false on the first counterexample, exists returns true on the first witness.
	test, early, final := &ast.UnaryExpr{Op: token.NOT, X: &ast.ParenExpr{X: body}}, "false", "true"
	var cond ast.Expr = test
	if q.Kind == expr.Exists {
		cond, early, final = body, "true", "false"
	}
	inner := &ast.BlockStmt{List: []ast.Stmt{&ast.IfStmt{
		Cond: cond,
		Body: &ast.BlockStmt{List: []ast.Stmt{&ast.ReturnStmt{Results: []ast.Expr{ast.NewIdent(early)}}}},
	}}}
	switch l := loop.(type) {
	case *ast.ForStmt:
		l.Body = inner
	case *ast.RangeStmt:
		l.Body = inner
	}
	return iife(ast.NewIdent("bool"), loop, &ast.ReturnStmt{Results: []ast.Expr{ast.NewIdent(final)}}), nil
}

func iife(result ast.Expr, stmts ...ast.Stmt) ast.Expr {
	return &ast.CallExpr{Fun: &ast.FuncLit{
		Type: &ast.FuncType{
			Params:  &ast.FieldList{},
			Results: &ast.FieldList{List: []*ast.Field{{Type: result}}},
		},
		Body: &ast.BlockStmt{List: stmts},
	}}
}

// goType renders a contract type as a Go type expression.
func goType(t expr.Type) ast.Expr {
	switch t.Kind {
	case expr.Bool:
		return ast.NewIdent("bool")
	case expr.String:
		return ast.NewIdent("string")
	case expr.Char:
		return ast.NewIdent("rune")
	case expr.Array:
		elem := expr.IntType(expr.DefaultWidth)
		if t.Elem != nil {
			elem = *t.Elem
		}
		return &ast.ArrayType{Elt: goType(elem)}
	}
	w := t.Width
	if w == 0 {
		w = expr.DefaultWidth
	}
	name := "int" + strconv.Itoa(w)
	if t.Unsigned {
		name = "u" + name
	}
	return ast.NewIdent(name)
}

func stringLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

// paren parenthesizes compound operands of unary and index expressions; the printer does not
// add parentheses on its own.
func paren(e ast.Expr) ast.Expr {
	switch e.(type) {
	case *ast.BinaryExpr, *ast.UnaryExpr:
		return &ast.ParenExpr{X: e}
	}
	return e
}

// operand parenthesizes e as an operand of a binary op when it binds looser than op. Right
// operands of equal precedence are parenthesized too, since Go operators associate to the left.
func operand(e ast.Expr, op token.Token, right bool) ast.Expr {
	b, ok := e.(*ast.BinaryExpr)
	if !ok {
		return e
	}
	if p := b.Op.Precedence(); p < op.Precedence() || (right && p == op.Precedence()) {
		return &ast.ParenExpr{X: e}
	}
	return e
}
