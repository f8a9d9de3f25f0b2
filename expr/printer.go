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
	"strconv"
	"strings"
)

// Binding strength of each operator, higher binds tighter. Ternaries and quantifiers sit below
// every binary operator.
const (
	_precLowest = iota
	_precImplies
	_precOr
	_precAnd
	_precCompare
	_precAdd
	_precMul
	_precUnary
	_precPostfix
)

var _binOpText = map[BinOp]string{
	Add:     "+",
	Sub:     "-",
	Mul:     "*",
	Div:     "/",
	Mod:     "%",
	Eq:      "==",
	Ne:      "!=",
	Lt:      "<",
	Le:      "<=",
	Gt:      ">",
	Ge:      ">=",
	And:     "&&",
	Or:      "||",
	Implies: "==>",
	Concat:  "++",
}

// String returns the source text of op.
func (op BinOp) String() string {
	if s, ok := _binOpText[op]; ok {
		return s
	}
	return "?"
}

// String returns the source text of op.
func (op UnOp) String() string {
	switch op {
	case Neg:
		return "-"
	case Not:
		return "!"
	}
	return "?"
}

// String returns the source name of b.
func (b Builtin) String() string {
	switch b {
	case Len:
		return "len"
	case Contains:
		return "contains"
	case StartsWith:
		return "startsWith"
	case EndsWith:
		return "endsWith"
	}
	return "?"
}

// String returns "forall" or "exists".
func (k QuantKind) String() string {
	if k == Exists {
		return "exists"
	}
	return "forall"
}

func (op BinOp) prec() int {
	switch op {
	case Implies:
		return _precImplies
	case Or:
		return _precOr
	case And:
		return _precAnd
	case Eq, Ne, Lt, Le, Gt, Ge:
		return _precCompare
	case Add, Sub, Concat:
		return _precAdd
	default:
		return _precMul
	}
}

func prec(e Expr) int {
	switch e := e.(type) {
	case *BinaryExpr:
		return e.Op.prec()
	case *UnaryExpr:
		return _precUnary
	case *TernaryExpr, *Quantifier:
		return _precLowest
	default:
		return _precPostfix
	}
}

// wrap renders e, parenthesized when it binds looser than min.
func wrap(e Expr, min int) string {
	if e == nil {
		return "<nil>"
	}
	if prec(e) < min {
		return "(" + e.String() + ")"
	}
	return e.String()
}

func joinArgs(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = wrap(a, _precLowest)
	}
	return strings.Join(parts, ", ")
}

func (e *IntLit) String() string    { return strconv.FormatInt(e.Value, 10) }
func (e *BoolLit) String() string   { return strconv.FormatBool(e.Value) }
func (e *StringLit) String() string { return strconv.Quote(e.Value) }
func (e *CharLit) String() string   { return strconv.QuoteRune(e.Value) }
func (e *VarRef) String() string    { return e.Name }

func (e *UnaryExpr) String() string {
	inner := wrap(e.X, _precUnary)
	// Avoid "--x" reading as a decrement.
	if e.Op == Neg && strings.HasPrefix(inner, "-") {
		inner = "(" + inner + ")"
	}
	return e.Op.String() + inner
}

func (e *BinaryExpr) String() string {
	p := e.Op.prec()
	left, right := p, p+1
	if e.Op == Implies {
		// Implication associates to the right.
		left, right = p+1, p
	}
	if e.Op.IsCompare() {
		left, right = p+1, p+1
	}
	return wrap(e.X, left) + " " + e.Op.String() + " " + wrap(e.Y, right)
}

func (e *TernaryExpr) String() string {
	return wrap(e.Cond, _precImplies) + " ? " + wrap(e.Then, _precImplies) + " : " + wrap(e.Else, _precLowest)
}

func (e *CallExpr) String() string { return e.Target + "(" + joinArgs(e.Args) + ")" }

func (e *BuiltinCall) String() string { return e.Fn.String() + "(" + joinArgs(e.Args) + ")" }

func (e *IndexExpr) String() string {
	return wrap(e.Array, _precPostfix) + "[" + wrap(e.Index, _precLowest) + "]"
}

func (e *ArrayLit) String() string { return "[" + joinArgs(e.Elems) + "]" }

func (e *Quantifier) String() string {
	if u, ok := e.Domain.(*Unbounded); ok {
		return e.Kind.String() + " " + e.Var + ": " + u.Type.String() + ", " + wrap(e.Body, _precLowest)
	}
	return e.Kind.String() + " " + e.Var + " in " + e.Domain.String() + ": " + wrap(e.Body, _precLowest)
}

func (d *IntRange) String() string {
	return wrap(d.Lo, _precAdd) + ".." + wrap(d.Hi, _precAdd)
}

func (d *ArrayIndices) String() string { return "indices(" + wrap(d.Array, _precLowest) + ")" }

func (d *Unbounded) String() string { return d.Type.String() }
