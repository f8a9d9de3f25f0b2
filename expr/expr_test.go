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

package expr_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/expr"
	"go.uber.org/goleak"
)

func TestString(t *testing.T) {
	t.Parallel()

	arr := expr.V("arr")
	tests := []struct {
		name string
		e    expr.Expr
		want string
	}{
		{"sum", expr.Bin(expr.Add, expr.V("x"), expr.I(1)), "x + 1"},
		{"post", expr.Bin(expr.Gt, expr.Result(), expr.V("x")), "result > x"},
		{"nested arith", expr.Bin(expr.Mul, expr.Bin(expr.Add, expr.V("a"), expr.V("b")), expr.V("c")), "(a + b) * c"},
		{"left assoc", expr.Bin(expr.Sub, expr.V("a"), expr.Bin(expr.Sub, expr.V("b"), expr.V("c"))), "a - (b - c)"},
		{"implies right", expr.Bin(expr.Implies, expr.V("p"), expr.Bin(expr.Implies, expr.V("q"), expr.V("r"))), "p ==> q ==> r"},
		{"not", expr.NotE(expr.Bin(expr.Eq, expr.V("b"), expr.I(0))), "!(b == 0)"},
		{"double neg", expr.NegE(expr.NegE(expr.V("x"))), "-(-x)"},
		{"ternary", expr.Ite(expr.Bin(expr.Lt, expr.V("a"), expr.V("b")), expr.V("a"), expr.V("b")), "a < b ? a : b"},
		{"string", &expr.BuiltinCall{Fn: expr.StartsWith, Args: []expr.Expr{expr.V("s"), expr.S("http")}}, `startsWith(s, "http")`},
		{"concat", expr.Bin(expr.Concat, expr.V("a"), expr.S("!")), `a ++ "!"`},
		{"forall", expr.ForallRange("i", expr.I(0), expr.LenE(arr), expr.Bin(expr.Ge, expr.Index(arr, expr.V("i")), expr.I(0))), "forall i in 0..len(arr): arr[i] >= 0"},
		{"unbounded", &expr.Quantifier{Kind: expr.Forall, Var: "x", Domain: &expr.Unbounded{Type: expr.Int32}, Body: expr.Bin(expr.Gt, expr.V("x"), expr.I(0))}, "forall x: i32, x > 0"},
		{"exists indices", &expr.Quantifier{Kind: expr.Exists, Var: "j", Domain: &expr.ArrayIndices{Array: arr}, Body: expr.Bin(expr.Eq, expr.Index(arr, expr.V("j")), expr.I(3))}, "exists j in indices(arr): arr[j] == 3"},
		{"array lit", &expr.ArrayLit{Elems: []expr.Expr{expr.I(1), expr.I(-2)}}, "[1, -2]"},
		{"call", &expr.CallExpr{Target: "math.abs", Args: []expr.Expr{expr.V("x")}}, "math.abs(x)"},
		{"char", &expr.CharLit{Value: 'a'}, "'a'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.e.String())
		})
	}
}

func TestConj(t *testing.T) {
	t.Parallel()

	require.Equal(t, "true", expr.Conj().String())
	require.Equal(t, "x > 0", expr.Conj(expr.B(true), expr.Bin(expr.Gt, expr.V("x"), expr.I(0)), nil).String())
	require.Equal(t, "a && b", expr.Conj(expr.V("a"), expr.V("b")).String())
	require.Equal(t, "b", expr.ImpliesE(expr.B(true), expr.V("b")).String())
}

func TestFreeVars(t *testing.T) {
	t.Parallel()

	arr := expr.V("arr")
	q := expr.ForallRange("i", expr.V("lo"), expr.LenE(arr), expr.Bin(expr.Ge, expr.Index(arr, expr.V("i")), expr.V("k")))
	require.Equal(t, []string{"arr", "k", "lo"}, expr.FreeVars(q))

	// A variable that is bound in one place and free in another is still free.
	e := expr.Bin(expr.And, q, expr.Bin(expr.Eq, expr.V("i"), expr.I(0)))
	require.Equal(t, []string{"arr", "i", "k", "lo"}, expr.FreeVars(e))
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	t.Run("params", func(t *testing.T) {
		t.Parallel()
		pre := expr.Bin(expr.Ne, expr.V("b"), expr.I(0))
		got := expr.Substitute(pre, map[string]expr.Expr{"b": expr.Bin(expr.Sub, expr.V("y"), expr.I(1))})
		require.Equal(t, "y - 1 != 0", got.String())
		// The input is untouched.
		require.Equal(t, "b != 0", pre.String())
	})

	t.Run("bound variable shadows", func(t *testing.T) {
		t.Parallel()
		q := expr.ForallRange("i", expr.I(0), expr.V("n"), expr.Bin(expr.Lt, expr.V("i"), expr.V("n")))
		got := expr.Substitute(q, map[string]expr.Expr{"i": expr.I(7), "n": expr.I(3)})
		require.Equal(t, "forall i in 0..3: i < 3", got.String())
	})

	t.Run("capture avoided", func(t *testing.T) {
		t.Parallel()
		q := expr.ForallRange("i", expr.I(0), expr.I(4), expr.Bin(expr.Lt, expr.V("i"), expr.V("n")))
		got := expr.Substitute(q, map[string]expr.Expr{"n": expr.Bin(expr.Add, expr.V("i"), expr.I(1))})
		require.Equal(t, "forall i_1 in 0..4: i_1 < i + 1", got.String())
	})
}

func TestRewrite(t *testing.T) {
	t.Parallel()

	e := expr.Bin(expr.Add, expr.I(1), expr.Bin(expr.Mul, expr.I(2), expr.V("x")))
	got := expr.Rewrite(e, func(n expr.Expr) expr.Expr {
		if l, ok := n.(*expr.IntLit); ok {
			return expr.I(l.Value * 10)
		}
		return n
	})
	require.Equal(t, "10 + 20 * x", got.String())
	require.True(t, expr.Any(e, func(n expr.Expr) bool {
		v, ok := n.(*expr.VarRef)
		return ok && v.Name == "x"
	}))
}

func TestTypeOf(t *testing.T) {
	t.Parallel()

	env := expr.Env{
		Vars: map[string]expr.Type{
			"x":   expr.Int32,
			"b":   expr.UintType(8),
			"s":   expr.StringType,
			"arr": expr.ArrayOf(expr.Int32),
			"ok":  expr.BoolType,
		},
		Calls: func(target string) (expr.Type, bool) {
			if target == "inc" {
				return expr.Int32, true
			}
			return expr.Type{}, false
		},
	}

	good := []struct {
		e    expr.Expr
		want expr.Type
	}{
		{expr.Bin(expr.Add, expr.V("x"), expr.I(1)), expr.Int32},
		{expr.Bin(expr.Add, expr.I(1), expr.V("b")), expr.UintType(8)},
		{expr.Bin(expr.Gt, expr.V("x"), expr.I(0)), expr.BoolType},
		{expr.Index(expr.V("arr"), expr.I(0)), expr.Int32},
		{expr.Index(expr.V("s"), expr.I(0)), expr.CharType},
		{expr.Bin(expr.Concat, expr.V("s"), expr.S("x")), expr.StringType},
		{expr.LenE(expr.V("s")), expr.Int32},
		{&expr.CallExpr{Target: "inc", Args: []expr.Expr{expr.V("x")}}, expr.Int32},
		{&expr.ArrayLit{Elems: []expr.Expr{expr.I(1), expr.I(2)}}, expr.ArrayOf(expr.Int32)},
		{expr.ForallRange("i", expr.I(0), expr.LenE(expr.V("arr")), expr.Bin(expr.Ge, expr.Index(expr.V("arr"), expr.V("i")), expr.I(0))), expr.BoolType},
	}
	for _, tt := range good {
		got, err := expr.TypeOf(tt.e, env)
		require.NoError(t, err, tt.e.String())
		require.True(t, tt.want.Equal(got), "%s: want %s, got %s", tt.e, tt.want, got)
	}

	bad := []expr.Expr{
		expr.Bin(expr.Add, expr.V("x"), expr.V("b")),
		expr.Bin(expr.And, expr.V("x"), expr.V("ok")),
		expr.V("missing"),
		&expr.CallExpr{Target: "unknown"},
		expr.Index(expr.V("x"), expr.I(0)),
		expr.NotE(expr.V("x")),
	}
	for _, e := range bad {
		_, err := expr.TypeOf(e, env)
		require.Error(t, err, e.String())
		require.True(t, errors.Is(err, expr.ErrIllTyped))
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"i8", "i16", "i32", "i64", "u8", "u64", "bool", "string", "char", "void", "[i32]", "[[u8]]"} {
		typ, err := expr.ParseType(s)
		require.NoError(t, err)
		require.Equal(t, s, typ.String())
	}
	_, err := expr.ParseType("i7")
	require.Error(t, err)

	require.Equal(t, int64(2147483647), expr.Int32.MaxValue(0))
	require.Equal(t, int64(-2147483648), expr.Int32.MinValue(0))
	require.Equal(t, int64(255), expr.UintType(8).MaxValue(0))
}

func TestCodec(t *testing.T) {
	t.Parallel()

	src := `{"forall": "i", "range": [{"int": 0}, {"builtin": "len", "args": [{"var": "arr"}]}],
	         "body": {"op": ">=", "args": [{"index": [{"var": "arr"}, {"var": "i"}]}, {"int": 0}]}}`
	e, err := expr.Decode([]byte(src))
	require.NoError(t, err)
	require.Equal(t, "forall i in 0..len(arr): arr[i] >= 0", e.String())

	// Encoding then decoding gives back the same printed tree.
	exprs := []expr.Expr{
		e,
		expr.Ite(expr.NotE(expr.V("p")), expr.NegE(expr.V("x")), &expr.CharLit{Value: 'z'}),
		&expr.ArrayLit{Elem: expr.UintType(8), Elems: []expr.Expr{expr.I(1)}},
		&expr.Quantifier{Kind: expr.Exists, Var: "j", Domain: &expr.ArrayIndices{Array: expr.V("a")}, Body: expr.B(false)},
		&expr.Quantifier{Kind: expr.Forall, Var: "x", Domain: &expr.Unbounded{Type: expr.Int32}, Body: expr.B(true)},
		&expr.CallExpr{Target: "f", Args: []expr.Expr{expr.S("a\"b")}},
	}
	for _, want := range exprs {
		b, err := expr.Encode(want)
		require.NoError(t, err)
		got, err := expr.Decode(b)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip of %s mismatch (-want +got):\n%s", want, diff)
		}
	}

	for _, bad := range []string{`{}`, `{"op": "^", "args": [{"int": 1}, {"int": 2}]}`, `{"op": "+", "args": [{"int": 1}]}`, `{"char": "ab"}`, `[1]`, `{"forall": "i", "body": {"bool": true}}`} {
		_, err := expr.Decode([]byte(bad))
		require.ErrorIs(t, err, expr.ErrBadEncoding, bad)
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
