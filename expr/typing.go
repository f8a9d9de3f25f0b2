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
	"errors"
	"fmt"
)

// ErrIllTyped is wrapped by every error TypeOf returns.
var ErrIllTyped = errors.New("ill-typed expression")

// Env supplies the types of free variables and the return types of called functions.
type Env struct {
	Vars map[string]Type
	// Calls resolves the return type of a call target; nil means no calls are typeable.
	Calls func(target string) (Type, bool)
}

// With returns a copy of env where name is bound to t.
func (env Env) With(name string, t Type) Env {
	vars := make(map[string]Type, len(env.Vars)+1)
	for k, v := range env.Vars {
		vars[k] = v
	}
	vars[name] = t
	return Env{Vars: vars, Calls: env.Calls}
}

func typeErr(e Expr, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrIllTyped, e, fmt.Sprintf(format, args...))
}

// Unify returns the common type of a and b. Untyped integer constants take the type of the
// other operand.
func Unify(a, b Type) (Type, bool) {
	switch {
	case a.Equal(b):
		return a, true
	case a.IsUntyped() && b.IsInt():
		return b, true
	case b.IsUntyped() && a.IsInt():
		return a, true
	}
	return Type{}, false
}

// TypeOf computes the type of e under env.
func TypeOf(e Expr, env Env) (Type, error) {
	switch e := e.(type) {
	case *IntLit:
		return untypedInt, nil
	case *BoolLit:
		return BoolType, nil
	case *StringLit:
		return StringType, nil
	case *CharLit:
		return CharType, nil
	case *VarRef:
		t, ok := env.Vars[e.Name]
		if !ok {
			return Type{}, typeErr(e, "undefined variable %q", e.Name)
		}
		return t, nil
	case *UnaryExpr:
		t, err := TypeOf(e.X, env)
		if err != nil {
			return Type{}, err
		}
		if e.Op == Not {
			if t.Kind != Bool {
				return Type{}, typeErr(e, "operand of ! is %s", t)
			}
			return BoolType, nil
		}
		if !t.IsInt() {
			return Type{}, typeErr(e, "operand of unary - is %s", t)
		}
		return t, nil
	case *BinaryExpr:
		return typeOfBinary(e, env)
	case *TernaryExpr:
		c, err := TypeOf(e.Cond, env)
		if err != nil {
			return Type{}, err
		}
		if c.Kind != Bool {
			return Type{}, typeErr(e, "condition is %s", c)
		}
		t, err := TypeOf(e.Then, env)
		if err != nil {
			return Type{}, err
		}
		f, err := TypeOf(e.Else, env)
		if err != nil {
			return Type{}, err
		}
		u, ok := Unify(t, f)
		if !ok {
			return Type{}, typeErr(e, "branches have types %s and %s", t, f)
		}
		return u, nil
	case *CallExpr:
		for _, a := range e.Args {
			if _, err := TypeOf(a, env); err != nil {
				return Type{}, err
			}
		}
		if env.Calls != nil {
			if t, ok := env.Calls(e.Target); ok {
				return t, nil
			}
		}
		return Type{}, typeErr(e, "unknown call target %q", e.Target)
	case *BuiltinCall:
		return typeOfBuiltin(e, env)
	case *IndexExpr:
		a, err := TypeOf(e.Array, env)
		if err != nil {
			return Type{}, err
		}
		i, err := TypeOf(e.Index, env)
		if err != nil {
			return Type{}, err
		}
		if !i.IsInt() {
			return Type{}, typeErr(e, "index is %s", i)
		}
		switch {
		case a.Kind == Array && a.Elem != nil:
			return *a.Elem, nil
		case a.Kind == String:
			return CharType, nil
		}
		return Type{}, typeErr(e, "cannot index %s", a)
	case *ArrayLit:
		elem := e.Elem
		for _, x := range e.Elems {
			t, err := TypeOf(x, env)
			if err != nil {
				return Type{}, err
			}
			if elem.Kind == Invalid {
				elem = t
				continue
			}
			u, ok := Unify(elem, t)
			if !ok {
				return Type{}, typeErr(e, "element of type %s in array of %s", t, elem)
			}
			elem = u
		}
		if elem.IsUntyped() {
			elem = IntType(DefaultWidth)
		}
		return ArrayOf(elem), nil
	case *Quantifier:
		vt, err := BoundVarType(e, env)
		if err != nil {
			return Type{}, err
		}
		b, err := TypeOf(e.Body, env.With(e.Var, vt))
		if err != nil {
			return Type{}, err
		}
		if b.Kind != Bool {
			return Type{}, typeErr(e, "quantifier body is %s", b)
		}
		return BoolType, nil
	}
	return Type{}, fmt.Errorf("%w: unknown node %T", ErrIllTyped, e)
}

// BoundVarType returns the type of the variable bound by q.
func BoundVarType(q *Quantifier, env Env) (Type, error) {
	switch d := q.Domain.(type) {
	case *IntRange:
		lo, err := TypeOf(d.Lo, env)
		if err != nil {
			return Type{}, err
		}
		hi, err := TypeOf(d.Hi, env)
		if err != nil {
			return Type{}, err
		}
		u, ok := Unify(lo, hi)
		if !ok || !u.IsInt() {
			return Type{}, typeErr(q, "range bounds have types %s and %s", lo, hi)
		}
		if u.IsUntyped() {
			u = IntType(DefaultWidth)
		}
		return u, nil
	case *ArrayIndices:
		a, err := TypeOf(d.Array, env)
		if err != nil {
			return Type{}, err
		}
		if a.Kind != Array && a.Kind != String {
			return Type{}, typeErr(q, "indices of %s", a)
		}
		return IntType(DefaultWidth), nil
	case *Unbounded:
		return d.Type, nil
	}
	return Type{}, typeErr(q, "missing domain")
}

func typeOfBinary(e *BinaryExpr, env Env) (Type, error) {
	x, err := TypeOf(e.X, env)
	if err != nil {
		return Type{}, err
	}
	y, err := TypeOf(e.Y, env)
	if err != nil {
		return Type{}, err
	}
	switch {
	case e.Op == Concat:
		if x.Kind != String || y.Kind != String {
			return Type{}, typeErr(e, "++ operands are %s and %s", x, y)
		}
		return StringType, nil
	case e.Op.IsArith():
		u, ok := Unify(x, y)
		if !ok || !u.IsInt() {
			return Type{}, typeErr(e, "arithmetic on %s and %s", x, y)
		}
		return u, nil
	case e.Op.IsCompare():
		u, ok := Unify(x, y)
		if !ok {
			return Type{}, typeErr(e, "comparing %s with %s", x, y)
		}
		if e.Op != Eq && e.Op != Ne && !u.IsInt() {
			return Type{}, typeErr(e, "ordering on %s", u)
		}
		return BoolType, nil
	default:
		if x.Kind != Bool || y.Kind != Bool {
			return Type{}, typeErr(e, "logical operands are %s and %s", x, y)
		}
		return BoolType, nil
	}
}

func typeOfBuiltin(e *BuiltinCall, env Env) (Type, error) {
	args := make([]Type, len(e.Args))
	for i, a := range e.Args {
		t, err := TypeOf(a, env)
		if err != nil {
			return Type{}, err
		}
		args[i] = t
	}
	if e.Fn == Len {
		if len(args) != 1 || (args[0].Kind != String && args[0].Kind != Array) {
			return Type{}, typeErr(e, "len expects one string or array")
		}
		return IntType(DefaultWidth), nil
	}
	if len(args) != 2 || args[0].Kind != String || args[1].Kind != String {
		return Type{}, typeErr(e, "%s expects two strings", e.Fn)
	}
	return BoolType, nil
}
