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

// Package expr implements the typed expression IR shared by contract conditions and function
// bodies: literals, variables, operators, calls, the restricted string vocabulary, array reads and
// bounded quantifiers. Nodes are immutable once built; every transformation returns a new tree.
package expr

// ResultName is the reserved variable bound to a function's return value inside
// postconditions.
const ResultName = "result"

// Expr is a node of the expression IR.
type Expr interface {
	exprNode()
	// String renders the node in contract source syntax.
	String() string
}

// IntLit is an integer literal. Literals are untyped until combined with a typed operand.
type IntLit struct{ Value int64 }

// BoolLit is a boolean literal.
type BoolLit struct{ Value bool }

// StringLit is a string literal.
type StringLit struct{ Value string }

// CharLit is a character literal.
type CharLit struct{ Value rune }

// VarRef references a parameter, a local, a quantifier-bound variable, or `result`.
type VarRef struct{ Name string }

// UnOp is a unary operator.
type UnOp uint8

const (
	// Neg is arithmetic negation.
	Neg UnOp = iota + 1
	// Not is logical negation.
	Not
)

// UnaryExpr applies a unary operator.
type UnaryExpr struct {
	Op UnOp
	X  Expr
}

// BinOp is a binary operator.
type BinOp uint8

const (
	Add BinOp = iota + 1
	Sub
	Mul
	Div
	Mod
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
	Implies
	// Concat is string concatenation.
	Concat
)

// IsArith reports whether op is an arithmetic operator on integers.
func (op BinOp) IsArith() bool { return op >= Add && op <= Mod }

// IsCompare reports whether op is a comparison.
func (op BinOp) IsCompare() bool { return op >= Eq && op <= Ge }

// IsLogical reports whether op is a boolean connective.
func (op BinOp) IsLogical() bool { return op == And || op == Or || op == Implies }

// BinaryExpr applies a binary operator.
type BinaryExpr struct {
	Op   BinOp
	X, Y Expr
}

// TernaryExpr is `Cond ? Then : Else`.
type TernaryExpr struct {
	Cond, Then, Else Expr
}

// CallExpr calls a user function (by stable id) or an intrinsic known to the hook package.
type CallExpr struct {
	Target string
	Args   []Expr
}

// Builtin is one of the builtin operations with dedicated solver support.
type Builtin uint8

const (
	// Len is len(string) or len(array).
	Len Builtin = iota + 1
	// Contains is contains(s, sub).
	Contains
	// StartsWith is startsWith(s, prefix).
	StartsWith
	// EndsWith is endsWith(s, suffix).
	EndsWith
)

// BuiltinCall applies a builtin.
type BuiltinCall struct {
	Fn   Builtin
	Args []Expr
}

// IndexExpr is `Array[Index]`.
type IndexExpr struct {
	Array, Index Expr
}

// ArrayLit is an array literal.
type ArrayLit struct {
	Elem  Type
	Elems []Expr
}

// QuantKind is the kind of a quantifier.
type QuantKind uint8

const (
	// Forall is universal quantification.
	Forall QuantKind = iota + 1
	// Exists is existential quantification.
	Exists
)

// Domain is the domain of a quantifier-bound variable.
type Domain interface {
	domainNode()
	String() string
}

// IntRange is the half-open integer range [Lo, Hi).
type IntRange struct{ Lo, Hi Expr }

// ArrayIndices is the index set [0, len(Array)).
type ArrayIndices struct{ Array Expr }

// Unbounded is an unconstrained domain over a type; quantifiers over it are inadmissible.
type Unbounded struct{ Type Type }

// Quantifier binds Var over Domain in Body.
type Quantifier struct {
	Kind   QuantKind
	Var    string
	Domain Domain
	Body   Expr
}

func (*IntLit) exprNode()      {}
func (*BoolLit) exprNode()     {}
func (*StringLit) exprNode()   {}
func (*CharLit) exprNode()     {}
func (*VarRef) exprNode()      {}
func (*UnaryExpr) exprNode()   {}
func (*BinaryExpr) exprNode()  {}
func (*TernaryExpr) exprNode() {}
func (*CallExpr) exprNode()    {}
func (*BuiltinCall) exprNode() {}
func (*IndexExpr) exprNode()   {}
func (*ArrayLit) exprNode()    {}
func (*Quantifier) exprNode()  {}

func (*IntRange) domainNode()     {}
func (*ArrayIndices) domainNode() {}
func (*Unbounded) domainNode()    {}

// Convenience constructors, used heavily by the VC generator and tests.

// I returns an integer literal.
func I(v int64) *IntLit { return &IntLit{Value: v} }

// B returns a boolean literal.
func B(v bool) *BoolLit { return &BoolLit{Value: v} }

// S returns a string literal.
func S(v string) *StringLit { return &StringLit{Value: v} }

// V returns a variable reference.
func V(name string) *VarRef { return &VarRef{Name: name} }

// Result returns a reference to the reserved result variable.
func Result() *VarRef { return &VarRef{Name: ResultName} }

// Bin returns a binary expression.
func Bin(op BinOp, x, y Expr) *BinaryExpr { return &BinaryExpr{Op: op, X: x, Y: y} }

// NotE returns the logical negation of x.
func NotE(x Expr) *UnaryExpr { return &UnaryExpr{Op: Not, X: x} }

// NegE returns the arithmetic negation of x.
func NegE(x Expr) *UnaryExpr { return &UnaryExpr{Op: Neg, X: x} }

// Ite returns a ternary expression.
func Ite(c, t, e Expr) *TernaryExpr { return &TernaryExpr{Cond: c, Then: t, Else: e} }

// LenE returns len(x).
func LenE(x Expr) *BuiltinCall { return &BuiltinCall{Fn: Len, Args: []Expr{x}} }

// Index returns a[i].
func Index(a, i Expr) *IndexExpr { return &IndexExpr{Array: a, Index: i} }

// ForallRange returns `forall v in lo..hi: body`.
func ForallRange(v string, lo, hi, body Expr) *Quantifier {
	return &Quantifier{Kind: Forall, Var: v, Domain: &IntRange{Lo: lo, Hi: hi}, Body: body}
}

// ExistsRange returns `exists v in lo..hi: body`.
func ExistsRange(v string, lo, hi, body Expr) *Quantifier {
	return &Quantifier{Kind: Exists, Var: v, Domain: &IntRange{Lo: lo, Hi: hi}, Body: body}
}

// Conj folds xs with &&, returning true for an empty list.
func Conj(xs ...Expr) Expr {
	var out Expr
	for _, x := range xs {
		if x == nil {
			continue
		}
		if b, ok := x.(*BoolLit); ok && b.Value {
			continue
		}
		if out == nil {
			out = x
		} else {
			out = Bin(And, out, x)
		}
	}
	if out == nil {
		return B(true)
	}
	return out
}

// ImpliesE returns `x ==> y`, simplifying a trivially true antecedent.
func ImpliesE(x, y Expr) Expr {
	if b, ok := x.(*BoolLit); ok && b.Value {
		return y
	}
	return Bin(Implies, x, y)
}

// IsConst reports whether e is a literal.
func IsConst(e Expr) bool {
	switch e.(type) {
	case *IntLit, *BoolLit, *StringLit, *CharLit:
		return true
	}
	return false
}
