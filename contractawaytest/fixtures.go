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

// Package contractawaytest implements fixtures and helpers shared by the tests of the analyses.
package contractawaytest

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
)

// IntMax is the largest 32-bit signed integer.
const IntMax = 2147483647

var (
	x   = expr.V("x")
	a   = expr.V("a")
	b   = expr.V("b")
	arr = expr.V("arr")
)

// IncrementUnsafe is `inc(x: i32) -> i32 ensures result > x { x + 1 }`, which wraps at IntMax.
func IncrementUnsafe() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "demo.IncrementUnsafe",
		Name:       "IncrementUnsafe",
		Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
		ReturnType: expr.Int32,
		Postconditions: []*decl.Contract{
			{Kind: decl.Post, Condition: expr.Bin(expr.Gt, expr.Result(), x), Source: "result > x"},
		},
		Body: &decl.ExprBody{Result: expr.Bin(expr.Add, x, expr.I(1))},
	}
}

// IncrementSafe is IncrementUnsafe with `requires x < IntMax`.
func IncrementSafe() *decl.FunctionSpec {
	f := IncrementUnsafe()
	f.ID, f.Name = "demo.IncrementSafe", "IncrementSafe"
	f.Preconditions = []*decl.Contract{
		{Kind: decl.Pre, Condition: expr.Bin(expr.Lt, x, expr.I(IntMax)), Source: "x < 2147483647"},
	}
	return f
}

// DivideMessage is the violation message of Divide's precondition.
const DivideMessage = "divisor must not be zero"

// Divide is `divide(a: i32, b: i32) -> i32 requires b != 0 { a / b }` with a custom message.
func Divide() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "math.Divide",
		Name:       "Divide",
		Params:     []decl.Param{{Name: "a", Type: expr.Int32}, {Name: "b", Type: expr.Int32}},
		ReturnType: expr.Int32,
		Preconditions: []*decl.Contract{
			{Kind: decl.Pre, Condition: expr.Bin(expr.Ne, b, expr.I(0)), Message: DivideMessage, Source: "b != 0"},
		},
		Body:    &decl.ExprBody{Result: expr.Bin(expr.Div, a, b)},
		Effects: []decl.EffectDeclaration{decl.PureEffect},
	}
}

// Half calls Divide with a constant divisor, so its call site is provable.
func Half() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "math.Half",
		Name:       "Half",
		Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
		ReturnType: expr.Int32,
		Body:       &decl.ExprBody{Result: &expr.CallExpr{Target: "math.Divide", Args: []expr.Expr{x, expr.I(2)}}},
	}
}

// Ratio calls Divide with an unchecked divisor.
func Ratio() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "math.Ratio",
		Name:       "Ratio",
		Params:     []decl.Param{{Name: "a", Type: expr.Int32}, {Name: "b", Type: expr.Int32}},
		ReturnType: expr.Int32,
		Body:       &decl.ExprBody{Result: &expr.CallExpr{Target: "math.Divide", Args: []expr.Expr{a, b}}},
	}
}

// ArrayLiteral returns an array literal of i32 elements.
func ArrayLiteral(elems ...int64) *expr.ArrayLit {
	lit := &expr.ArrayLit{Elem: expr.Int32}
	for _, e := range elems {
		lit.Elems = append(lit.Elems, expr.I(e))
	}
	return lit
}

// NonNegative is `forall i in 0..len(a): a[i] >= 0`.
func NonNegative(array expr.Expr) *expr.Quantifier {
	i := expr.V("i")
	return expr.ForallRange("i", expr.I(0), expr.LenE(array), expr.Bin(expr.Ge, expr.Index(array, i), expr.I(0)))
}

// Samples returns a parameterless function whose postcondition states that the given literal is
// non-negative.
func Samples(elems ...int64) *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "demo.Samples",
		Name:       "Samples",
		ReturnType: expr.BoolType,
		Postconditions: []*decl.Contract{
			{Kind: decl.Post, Condition: NonNegative(ArrayLiteral(elems...))},
		},
		Body: &decl.ExprBody{Result: expr.B(true)},
	}
}

// SumFirst takes an array parameter whose elements are required to be non-negative and returns
// its first element.
func SumFirst() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "demo.First",
		Name:       "First",
		Params:     []decl.Param{{Name: "arr", Type: expr.ArrayOf(expr.Int32)}},
		ReturnType: expr.Int32,
		Preconditions: []*decl.Contract{
			{Kind: decl.Pre, Condition: expr.Bin(expr.Gt, expr.LenE(arr), expr.I(0)), Source: "len(arr) > 0"},
			{Kind: decl.Pre, Condition: NonNegative(arr)},
		},
		Postconditions: []*decl.Contract{
			{Kind: decl.Post, Condition: expr.Bin(expr.Ge, expr.Result(), expr.I(0)), Source: "result >= 0"},
		},
		Body: &decl.ExprBody{Result: expr.Index(arr, expr.I(0))},
	}
}

// Unbounded is a function whose postcondition quantifies over all of i32.
func Unbounded() *decl.FunctionSpec {
	return &decl.FunctionSpec{
		ID:         "demo.Unbounded",
		Name:       "Unbounded",
		ReturnType: expr.BoolType,
		Postconditions: []*decl.Contract{{
			Kind:      decl.Post,
			Condition: &expr.Quantifier{Kind: expr.Forall, Var: "x", Domain: &expr.Unbounded{Type: expr.Int32}, Body: expr.Bin(expr.Gt, x, expr.I(0))},
		}},
		Body: &decl.ExprBody{Result: expr.B(true)},
	}
}

// EffectChain returns `store` (declares db:w) calling `fetch` (declares nothing) calling `send`
// (declares net:w), so store misses net:w through a two-step path.
func EffectChain() []*decl.FunctionSpec {
	store := &decl.FunctionSpec{ID: "svc.store", Name: "store", Calls: []string{"svc.fetch"}, ReturnType: expr.VoidType}
	store.DeclareEffects("db:w")
	fetch := &decl.FunctionSpec{ID: "svc.fetch", Name: "fetch", Calls: []string{"svc.send"}, ReturnType: expr.VoidType}
	send := &decl.FunctionSpec{ID: "svc.send", Name: "send", ReturnType: expr.VoidType}
	send.DeclareEffects("net:w")
	return []*decl.FunctionSpec{store, fetch, send}
}

// Program builds a program from fns, failing the test on error.
func Program(tb testing.TB, fns ...*decl.FunctionSpec) *decl.Program {
	tb.Helper()
	p, err := decl.NewProgram(fns)
	require.NoError(tb, err)
	return p
}

// LoadSnapshot decodes the declaration snapshot at path.
func LoadSnapshot(tb testing.TB, path string) []*decl.FunctionSpec {
	tb.Helper()
	f, err := os.Open(path)
	require.NoError(tb, err)
	defer f.Close()
	fns, err := decl.DecodeSnapshot(f)
	require.NoError(tb, err)
	return fns
}
