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

package bitblast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/solver/bitblast"
	"go.uber.org/goleak"
)

var (
	x   = expr.V("x")
	y   = expr.V("y")
	arr = expr.V("arr")
	s   = expr.V("s")
)

func check(t *testing.T, q *solver.Query) solver.Outcome {
	t.Helper()
	return bitblast.New(bitblast.DefaultOptions(), nil).Check(context.Background(), q)
}

func i32(names ...string) []solver.Var {
	out := make([]solver.Var, len(names))
	for i, n := range names {
		out[i] = solver.Var{Name: n, Type: expr.Int32}
	}
	return out
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	post := expr.Bin(expr.Gt, expr.Bin(expr.Add, x, expr.I(1)), x)

	t.Run("unsafe", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Vars: i32("x"), Goal: post})
		require.Equal(t, solver.Disproved, out.Verdict)
		require.Equal(t, "x = 2147483647", out.Counterexample.String())
		require.Equal(t, bitblast.Name, out.Solver)
	})

	t.Run("safe", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{
			Vars:        i32("x"),
			Assumptions: []expr.Expr{expr.Bin(expr.Lt, x, expr.I(2147483647))},
			Goal:        post,
		})
		require.Equal(t, solver.Proved, out.Verdict, out.Explain())
	})

	t.Run("unsigned", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Vars: []solver.Var{{Name: "x", Type: expr.UintType(8)}}, Goal: post})
		require.Equal(t, solver.Disproved, out.Verdict)
		require.Equal(t, "x = 255", out.Counterexample.String())
	})
}

func TestArithmetic(t *testing.T) {
	t.Parallel()

	i8 := func(names ...string) []solver.Var {
		out := make([]solver.Var, len(names))
		for i, n := range names {
			out[i] = solver.Var{Name: n, Type: expr.IntType(8)}
		}
		return out
	}
	tests := []struct {
		name string
		q    *solver.Query
		want solver.Verdict
	}{
		{
			name: "division identity",
			q: &solver.Query{
				Vars:        i8("x", "y"),
				Assumptions: []expr.Expr{expr.Bin(expr.Ne, y, expr.I(0))},
				Goal: expr.Bin(expr.Eq,
					expr.Bin(expr.Add, expr.Bin(expr.Mul, expr.Bin(expr.Div, x, y), y), expr.Bin(expr.Mod, x, y)),
					x),
			},
			want: solver.Proved,
		},
		{
			name: "truncated division",
			q: &solver.Query{
				Vars:        i8("x"),
				Assumptions: []expr.Expr{expr.Bin(expr.Eq, x, expr.I(-7))},
				Goal: expr.Conj(
					expr.Bin(expr.Eq, expr.Bin(expr.Div, x, expr.I(2)), expr.I(-3)),
					expr.Bin(expr.Eq, expr.Bin(expr.Mod, x, expr.I(2)), expr.I(-1)),
				),
			},
			want: solver.Proved,
		},
		{
			name: "min over minus one wraps",
			q: &solver.Query{
				Vars:        i8("x"),
				Assumptions: []expr.Expr{expr.Bin(expr.Eq, x, expr.I(-128))},
				Goal:        expr.Bin(expr.Eq, expr.Bin(expr.Div, x, expr.I(-1)), x),
			},
			want: solver.Proved,
		},
		{
			name: "division by zero is unconstrained",
			q: &solver.Query{
				Vars: i8("x"),
				Goal: expr.Bin(expr.Eq, expr.Bin(expr.Div, x, expr.I(0)), expr.I(0)),
			},
			want: solver.Disproved,
		},
		{
			name: "doubling",
			q:    &solver.Query{Vars: i32("x"), Goal: expr.Bin(expr.Eq, expr.Bin(expr.Mul, x, expr.I(2)), expr.Bin(expr.Add, x, x))},
			want: solver.Proved,
		},
		{
			name: "negation is not always positive",
			q: &solver.Query{
				Vars:        i32("x"),
				Assumptions: []expr.Expr{expr.Bin(expr.Lt, x, expr.I(0))},
				Goal:        expr.Bin(expr.Gt, expr.NegE(x), expr.I(0)),
			},
			want: solver.Disproved,
		},
		{
			name: "ternary",
			q: &solver.Query{
				Vars: append(i32("x", "y"), solver.Var{Name: "b", Type: expr.BoolType}),
				Goal: expr.ImpliesE(expr.V("b"), expr.Bin(expr.Eq, expr.Ite(expr.V("b"), x, y), x)),
			},
			want: solver.Proved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := check(t, tt.q)
			require.Equal(t, tt.want, out.Verdict, out.Explain())
		})
	}

	out := check(t, &solver.Query{
		Vars:        i32("x"),
		Assumptions: []expr.Expr{expr.Bin(expr.Lt, x, expr.I(0))},
		Goal:        expr.Bin(expr.Gt, expr.NegE(x), expr.I(0)),
	})
	require.Equal(t, "x = -2147483648", out.Counterexample.String())
}

func TestQuantifiers(t *testing.T) {
	t.Parallel()

	nonNegative := func(a expr.Expr) expr.Expr {
		return expr.ForallRange("i", expr.I(0), expr.LenE(a), expr.Bin(expr.Ge, expr.Index(a, expr.V("i")), expr.I(0)))
	}
	literal := func(vs ...int64) *expr.ArrayLit {
		lit := &expr.ArrayLit{}
		for _, v := range vs {
			lit.Elems = append(lit.Elems, expr.I(v))
		}
		return lit
	}
	arrays := []solver.Var{{Name: "arr", Type: expr.ArrayOf(expr.Int32)}}

	t.Run("literal proved", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Goal: nonNegative(literal(1, 2, 3))})
		require.Equal(t, solver.Proved, out.Verdict, out.Explain())
	})

	t.Run("literal disproved with index", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Goal: nonNegative(literal(1, -5, 3))})
		require.Equal(t, solver.Disproved, out.Verdict)
		require.Equal(t, "i = 1", out.Counterexample.String())
	})

	t.Run("parameter disproved", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Vars: arrays, Goal: nonNegative(arr)})
		require.Equal(t, solver.Disproved, out.Verdict)
		idx, ok := out.Counterexample.Lookup("i")
		require.True(t, ok)
		v, ok := out.Counterexample.Lookup("arr[" + idx + "]")
		require.True(t, ok, out.Counterexample.String())
		require.Equal(t, "-", v[:1])
	})

	t.Run("assumed quantifier instantiated", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{
			Vars:        arrays,
			Assumptions: []expr.Expr{nonNegative(arr)},
			Goal: expr.Conj(
				expr.ImpliesE(expr.Bin(expr.Gt, expr.LenE(arr), expr.I(0)), expr.Bin(expr.Ge, expr.Index(arr, expr.I(0)), expr.I(0))),
				expr.ForallRange("j", expr.I(0), expr.LenE(arr), expr.Bin(expr.Gt, expr.Index(arr, expr.V("j")), expr.I(-1))),
			),
		})
		require.Equal(t, solver.Proved, out.Verdict, out.Explain())
	})

	t.Run("incomplete instantiation is unknown", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{
			Vars:        append(arrays, i32("k")...),
			Assumptions: []expr.Expr{nonNegative(arr)},
			Goal:        expr.Bin(expr.Eq, expr.Index(arr, expr.V("k")), expr.I(3)),
		})
		require.Equal(t, solver.Unknown, out.Verdict)
		require.Equal(t, solver.ReasonIncomplete, out.Reason)
	})

	t.Run("exists unrolled", func(t *testing.T) {
		t.Parallel()
		out := check(t, &solver.Query{Goal: expr.ExistsRange("i", expr.I(0), expr.I(10), expr.Bin(expr.Eq, expr.Bin(expr.Mul, expr.V("i"), expr.V("i")), expr.I(49)))})
		require.Equal(t, solver.Proved, out.Verdict, out.Explain())
	})

	t.Run("unbounded", func(t *testing.T) {
		t.Parallel()
		q := &expr.Quantifier{Kind: expr.Forall, Var: "x", Domain: &expr.Unbounded{Type: expr.Int32}, Body: expr.Bin(expr.Gt, x, expr.I(0))}
		out := check(t, &solver.Query{Goal: q})
		require.Equal(t, solver.Unknown, out.Verdict)
		require.Equal(t, solver.ReasonUnboundedDomain, out.Reason)

		// As an assumption it is dropped, which can only weaken the query.
		out = check(t, &solver.Query{Vars: i32("y"), Assumptions: []expr.Expr{q}, Goal: expr.Bin(expr.Gt, y, expr.I(0))})
		require.Equal(t, solver.Disproved, out.Verdict)
	})
}

func TestStrings(t *testing.T) {
	t.Parallel()

	str := []solver.Var{{Name: "s", Type: expr.StringType}}
	call := func(fn expr.Builtin, a, b expr.Expr) expr.Expr {
		return &expr.BuiltinCall{Fn: fn, Args: []expr.Expr{a, b}}
	}

	out := check(t, &solver.Query{Goal: call(expr.Contains, expr.S("hello world"), expr.S("world"))})
	require.Equal(t, solver.Proved, out.Verdict)

	out = check(t, &solver.Query{Goal: call(expr.EndsWith, expr.Bin(expr.Concat, expr.S("ab"), expr.S("c")), expr.S("bd"))})
	require.Equal(t, solver.Disproved, out.Verdict)

	out = check(t, &solver.Query{
		Vars:        str,
		Assumptions: []expr.Expr{call(expr.StartsWith, s, expr.S("ab"))},
		Goal:        expr.Bin(expr.Ge, expr.LenE(s), expr.I(2)),
	})
	require.Equal(t, solver.Proved, out.Verdict, out.Explain())

	out = check(t, &solver.Query{
		Vars: str,
		Goal: expr.Bin(expr.Eq, expr.LenE(expr.Bin(expr.Concat, s, expr.S("!"))), expr.Bin(expr.Add, expr.LenE(s), expr.I(1))),
	})
	require.Equal(t, solver.Proved, out.Verdict, out.Explain())

	// Length counts characters, not bytes.
	out = check(t, &solver.Query{Goal: expr.Bin(expr.Eq, expr.LenE(expr.S("héllo")), expr.I(5))})
	require.Equal(t, solver.Proved, out.Verdict, out.Explain())

	out = check(t, &solver.Query{Vars: str, Goal: call(expr.StartsWith, s, expr.S("a"))})
	require.Equal(t, solver.Unknown, out.Verdict)
	require.Equal(t, solver.ReasonIncomplete, out.Reason)
}

func TestLimits(t *testing.T) {
	t.Parallel()

	out := check(t, &solver.Query{Vars: i32("x"), Goal: expr.Bin(expr.Eq, &expr.CallExpr{Target: "f", Args: []expr.Expr{x}}, expr.I(0))})
	require.Equal(t, solver.Unknown, out.Verdict)
	require.Equal(t, solver.ReasonUnsupported, out.Reason)

	small := bitblast.New(bitblast.Options{MaxClauses: 50}, nil)
	out = small.Check(context.Background(), &solver.Query{Vars: i32("x", "y"), Goal: expr.Bin(expr.Eq, expr.Bin(expr.Mul, x, y), expr.Bin(expr.Mul, y, x))})
	require.Equal(t, solver.Unknown, out.Verdict)
	require.Equal(t, solver.ReasonTooLarge, out.Reason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = bitblast.New(bitblast.DefaultOptions(), nil).Check(ctx, &solver.Query{Vars: i32("x"), Goal: expr.B(true)})
	require.Equal(t, solver.Unknown, out.Verdict)
	require.Equal(t, solver.ReasonTimeout, out.Reason)
}

// A timed-out check stops its search before returning. The test is not parallel so that the
// goroutine snapshot only covers this check.
func TestCheck_TimeoutStopsSearch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	z := expr.V("z")
	assoc := expr.Bin(expr.Eq,
		expr.Bin(expr.Mul, expr.Bin(expr.Mul, x, y), z),
		expr.Bin(expr.Mul, x, expr.Bin(expr.Mul, y, z)))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := bitblast.New(bitblast.Options{IntWidth: 32}, nil).Check(ctx, &solver.Query{Vars: i32("x", "y", "z"), Goal: assoc})
	require.Equal(t, solver.Unknown, out.Verdict)
	require.Equal(t, solver.ReasonTimeout, out.Reason)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
