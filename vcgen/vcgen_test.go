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

package vcgen_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/contractawaytest"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/solver/bitblast"
	"go.uber.org/contractaway/vcgen"
	"go.uber.org/goleak"
)

func generate(t *testing.T, opts vcgen.Options, fns ...*decl.FunctionSpec) map[string]*vcgen.VC {
	t.Helper()
	vcs := vcgen.New(contractawaytest.Program(t, fns...), opts).Program()
	byID := make(map[string]*vcgen.VC, len(vcs))
	for _, v := range vcs {
		require.NotContains(t, byID, v.ID)
		byID[v.ID] = v
	}
	return byID
}

// discharge runs the bit-blaster on every pending VC and then derives the entry VCs.
func discharge(t *testing.T, vcs map[string]*vcgen.VC) {
	t.Helper()
	s := bitblast.New(bitblast.DefaultOptions(), nil)
	for _, v := range vcs {
		if v.Pending() {
			require.NoError(t, v.Resolve(s.Check(context.Background(), v.Query)))
		}
	}
	for _, v := range vcs {
		if v.Derived() {
			require.NoError(t, vcgen.ResolveEntry(v))
		}
	}
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	t.Run("unsafe", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.IncrementUnsafe())
		require.Len(t, vcs, 1)
		post := vcs["demo.IncrementUnsafe#post0"]
		require.NotNil(t, post)
		require.Equal(t, vcgen.KindPostcondition, post.Kind)
		require.Equal(t, []solver.Var{{Name: "x", Type: expr.Int32}}, post.Query.Vars)
		require.Empty(t, post.Query.Assumptions)
		require.Equal(t, "x + 1 > x", post.Query.Goal.String())
		require.Equal(t, "result > x", post.Guard.String())

		discharge(t, vcs)
		require.Equal(t, solver.Disproved, post.Status())
		v, ok := post.Outcome.Counterexample.Lookup("x")
		require.True(t, ok)
		require.Equal(t, "2147483647", v)
		require.Equal(t, "postcondition `result > x` violated", post.Message())
	})

	t.Run("safe", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.IncrementSafe())
		require.Len(t, vcs, 2)
		post := vcs["demo.IncrementSafe#post0"]
		require.Len(t, post.Query.Assumptions, 1)
		require.Equal(t, "x < 2147483647", post.Query.Assumptions[0].String())

		discharge(t, vcs)
		require.Equal(t, solver.Proved, post.Status())

		entry := vcs["demo.IncrementSafe#pre0"]
		require.Nil(t, entry.Query)
		require.Equal(t, solver.Unknown, entry.Status())
		require.Equal(t, vcgen.ReasonNoCallerFacts, entry.Outcome.Reason)
		require.Equal(t, vcgen.DerivedSolver, entry.Outcome.Solver)
	})
}

func TestDivide(t *testing.T) {
	t.Parallel()

	t.Run("no callers", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.Divide())
		require.Len(t, vcs, 2)

		div := vcs["math.Divide#div0"]
		require.NotNil(t, div)
		require.Equal(t, vcgen.KindDivision, div.Kind)
		require.True(t, div.Kind.IsSide())
		require.Equal(t, "b != 0", div.Guard.String())

		discharge(t, vcs)
		require.Equal(t, solver.Proved, div.Status(), "the precondition is assumed")

		entry := vcs["math.Divide#pre0"]
		require.Equal(t, solver.Unknown, entry.Status())
		require.Equal(t, vcgen.ReasonNoCallerFacts, entry.Outcome.Reason)
		require.Equal(t, contractawaytest.DivideMessage, entry.Message())
		require.Equal(t, "b != 0", entry.Guard.String())
	})

	t.Run("all call sites proved", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.Divide(), contractawaytest.Half())
		site := vcs["math.Half#call0:math.Divide#pre0"]
		require.NotNil(t, site)
		require.Equal(t, vcgen.KindCallSite, site.Kind)
		require.Equal(t, "math.Divide", site.Callee)
		require.Equal(t, "2 != 0", site.Query.Goal.String())

		entry := vcs["math.Divide#pre0"]
		require.Equal(t, []*vcgen.VC{site}, entry.Sites)

		discharge(t, vcs)
		require.Equal(t, solver.Proved, site.Status())
		require.Equal(t, solver.Proved, entry.Status())
		require.Equal(t, vcgen.DerivedSolver, entry.Outcome.Solver)
	})

	t.Run("unchecked caller", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{},
			contractawaytest.Divide(), contractawaytest.Half(), contractawaytest.Ratio())
		site := vcs["math.Ratio#call0:math.Divide#pre0"]
		require.Equal(t, "b != 0", site.Query.Goal.String())

		discharge(t, vcs)
		require.Equal(t, solver.Disproved, site.Status())
		v, _ := site.Outcome.Counterexample.Lookup("b")
		require.Equal(t, "0", v)
		require.Equal(t, contractawaytest.DivideMessage, site.Message())

		entry := vcs["math.Divide#pre0"]
		require.Equal(t, solver.Unknown, entry.Status())
		require.Equal(t, vcgen.ReasonSitesUnproved, entry.Outcome.Reason)
		require.Contains(t, entry.Outcome.Detail, "math.Ratio#call0:math.Divide#pre0 (disproved)")
	})

	t.Run("exported", func(t *testing.T) {
		t.Parallel()
		divide := contractawaytest.Divide()
		divide.Exported = true
		vcs := generate(t, vcgen.Options{}, divide, contractawaytest.Half())
		discharge(t, vcs)
		entry := vcs["math.Divide#pre0"]
		require.Equal(t, solver.Unknown, entry.Status())
		require.Equal(t, vcgen.ReasonExported, entry.Outcome.Reason)
	})

	t.Run("declared caller without a site", func(t *testing.T) {
		t.Parallel()
		caller := &decl.FunctionSpec{
			ID:         "math.Opaque",
			Calls:      []string{"math.Divide"},
			ReturnType: expr.VoidType,
		}
		vcs := generate(t, vcgen.Options{}, contractawaytest.Divide(), caller)
		// Without a body the call cannot be located, so its site stays open.
		site := vcs["math.Opaque#call0:math.Divide#pre0"]
		require.NotNil(t, site)
		require.Equal(t, solver.Unknown, site.Status())
		require.Equal(t, solver.ReasonUnsupported, site.Outcome.Reason)

		discharge(t, vcs)
		require.Equal(t, vcgen.ReasonSitesUnproved, vcs["math.Divide#pre0"].Outcome.Reason)
	})

	t.Run("called from a contract", func(t *testing.T) {
		t.Parallel()
		x := expr.V("x")
		guarded := &decl.FunctionSpec{
			ID:         "math.Guarded",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{{
				Kind:      decl.Post,
				Condition: expr.Bin(expr.Ge, &expr.CallExpr{Target: "math.Divide", Args: []expr.Expr{x, x}}, expr.I(0)),
			}},
			Body: &decl.ExprBody{Result: x},
		}
		vcs := generate(t, vcgen.Options{}, contractawaytest.Divide(), contractawaytest.Half(), guarded)

		discharge(t, vcs)
		require.Equal(t, solver.Proved, vcs["math.Half#call0:math.Divide#pre0"].Status())
		entry := vcs["math.Divide#pre0"]
		require.Equal(t, solver.Unknown, entry.Status(), "a runtime guard on math.Guarded may divide by zero")
		require.Equal(t, vcgen.ReasonSitesUnproved, entry.Outcome.Reason)
		require.Contains(t, entry.Outcome.Detail, "math.Guarded (no call site)")
	})
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	x := expr.V("x")

	t.Run("branches", func(t *testing.T) {
		t.Parallel()
		abs := &decl.FunctionSpec{
			ID:         "demo.Abs",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Ge, expr.Result(), expr.I(0))},
			},
			Body: &decl.Block{Stmts: []decl.Stmt{
				&decl.If{Cond: expr.Bin(expr.Lt, x, expr.I(0)), Then: []decl.Stmt{&decl.Return{Value: expr.NegE(x)}}},
				&decl.Return{Value: x},
			}},
		}
		vcs := generate(t, vcgen.Options{}, abs)
		post := vcs["demo.Abs#post0"]
		require.Equal(t, "(x < 0 ? -x : x) >= 0", post.Query.Goal.String())

		discharge(t, vcs)
		require.Equal(t, solver.Disproved, post.Status())
		v, _ := post.Outcome.Counterexample.Lookup("x")
		require.Equal(t, "-2147483648", v)
	})

	t.Run("locals", func(t *testing.T) {
		t.Parallel()
		f := &decl.FunctionSpec{
			ID:         "demo.Clamp",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Le, expr.Result(), expr.I(10))},
			},
			Body: &decl.Block{Stmts: []decl.Stmt{
				&decl.Let{Name: "y", Type: expr.Int32, Value: x},
				&decl.If{
					Cond: expr.Bin(expr.Gt, expr.V("y"), expr.I(10)),
					Then: []decl.Stmt{&decl.Assign{Name: "y", Value: expr.I(10)}},
				},
				&decl.Return{Value: expr.V("y")},
			}},
		}
		vcs := generate(t, vcgen.Options{}, f)
		discharge(t, vcs)
		require.Equal(t, solver.Proved, vcs["demo.Clamp#post0"].Status())
	})

	t.Run("loop", func(t *testing.T) {
		t.Parallel()
		f := contractawaytest.IncrementUnsafe()
		f.Body = &decl.Block{Stmts: []decl.Stmt{
			&decl.While{Cond: expr.B(true)},
			&decl.Return{Value: x},
		}}
		vcs := generate(t, vcgen.Options{}, f)
		post := vcs["demo.IncrementUnsafe#post0"]
		require.False(t, post.Pending())
		require.Equal(t, solver.Unknown, post.Status())
		require.Equal(t, solver.ReasonUnsupported, post.Outcome.Reason)
		require.Contains(t, post.Outcome.Detail, "loop")
	})

	t.Run("inlined pure callee", func(t *testing.T) {
		t.Parallel()
		double := &decl.FunctionSpec{
			ID:         "demo.double",
			Params:     []decl.Param{{Name: "n", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Body:       &decl.ExprBody{Result: expr.Bin(expr.Add, expr.V("n"), expr.V("n"))},
			Effects:    []decl.EffectDeclaration{decl.PureEffect},
		}
		twice := &decl.FunctionSpec{
			ID:         "demo.Twice",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Eq, expr.Result(), expr.Bin(expr.Mul, expr.I(2), x))},
			},
			Body: &decl.ExprBody{Result: &expr.CallExpr{Target: "demo.double", Args: []expr.Expr{x}}},
		}
		vcs := generate(t, vcgen.Options{}, double, twice)
		post := vcs["demo.Twice#post0"]
		require.Equal(t, "x + x == 2 * x", post.Query.Goal.String())
		discharge(t, vcs)
		require.Equal(t, solver.Proved, post.Status())
	})

	t.Run("intrinsic", func(t *testing.T) {
		t.Parallel()
		f := &decl.FunctionSpec{
			ID:         "demo.Bigger",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}, {Name: "y", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Ge, expr.Result(), x)},
			},
			Body: &decl.ExprBody{Result: &expr.CallExpr{Target: "max", Args: []expr.Expr{x, expr.V("y")}}},
		}
		vcs := generate(t, vcgen.Options{}, f)
		discharge(t, vcs)
		require.Equal(t, solver.Proved, vcs["demo.Bigger#post0"].Status())
	})

	t.Run("recursion", func(t *testing.T) {
		t.Parallel()
		fact := &decl.FunctionSpec{
			ID:         "demo.fact",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Ge, expr.Result(), expr.I(1))},
			},
			Body: &decl.ExprBody{Result: expr.Ite(
				expr.Bin(expr.Le, x, expr.I(0)),
				expr.I(1),
				expr.Bin(expr.Mul, x, &expr.CallExpr{Target: "demo.fact", Args: []expr.Expr{expr.Bin(expr.Sub, x, expr.I(1))}}),
			)},
			Effects: []decl.EffectDeclaration{decl.PureEffect},
		}
		vcs := generate(t, vcgen.Options{}, fact)
		post := vcs["demo.fact#post0"]
		require.Equal(t, solver.Unknown, post.Status())
		require.Contains(t, post.Outcome.Detail, "recursive call to demo.fact")
	})

	t.Run("effectful callee", func(t *testing.T) {
		t.Parallel()
		read := &decl.FunctionSpec{ID: "demo.read", ReturnType: expr.Int32, Body: &decl.ExprBody{Result: expr.I(1)}}
		read.DeclareEffects("fs:r")
		f := &decl.FunctionSpec{
			ID:         "demo.Wrap",
			ReturnType: expr.Int32,
			Postconditions: []*decl.Contract{
				{Kind: decl.Post, Condition: expr.Bin(expr.Eq, expr.Result(), expr.I(1))},
			},
			Body: &decl.ExprBody{Result: &expr.CallExpr{Target: "demo.read"}},
		}
		vcs := generate(t, vcgen.Options{}, read, f)
		post := vcs["demo.Wrap#post0"]
		require.Equal(t, solver.ReasonUnsupported, post.Outcome.Reason)
		require.Contains(t, post.Outcome.Detail, "effectful")
	})
}

func TestQuantifiedContracts(t *testing.T) {
	t.Parallel()

	t.Run("unbounded", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.Unbounded())
		post := vcs["demo.Unbounded#post0"]
		require.Nil(t, post.Query)
		require.Equal(t, solver.Unknown, post.Status())
		require.Equal(t, solver.ReasonUnboundedDomain, post.Outcome.Reason)
	})

	t.Run("unbounded precondition", func(t *testing.T) {
		t.Parallel()
		y := expr.V("y")
		fn := &decl.FunctionSpec{
			ID:         "demo.AllPositive",
			Name:       "AllPositive",
			Params:     []decl.Param{{Name: "x", Type: expr.Int32}},
			ReturnType: expr.Int32,
			Preconditions: []*decl.Contract{{
				Kind:      decl.Pre,
				Condition: &expr.Quantifier{Kind: expr.Forall, Var: "y", Domain: &expr.Unbounded{Type: expr.Int32}, Body: expr.Bin(expr.Gt, y, expr.I(0))},
			}},
			Body: &decl.ExprBody{Result: expr.V("x")},
		}
		vcs := generate(t, vcgen.Options{}, fn)
		entry := vcs["demo.AllPositive#pre0"]
		require.Equal(t, solver.Unknown, entry.Status())
		require.Equal(t, solver.ReasonUnboundedDomain, entry.Outcome.Reason)

		// Deriving the entry from call sites leaves the generation outcome alone.
		discharge(t, vcs)
		require.Equal(t, solver.ReasonUnboundedDomain, entry.Outcome.Reason)
	})

	t.Run("literal", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.Samples(1, -5, 3))
		discharge(t, vcs)
		post := vcs["demo.Samples#post0"]
		require.Equal(t, solver.Disproved, post.Status())
		v, _ := post.Outcome.Counterexample.Lookup("i")
		require.Equal(t, "1", v)
	})

	t.Run("parameter", func(t *testing.T) {
		t.Parallel()
		vcs := generate(t, vcgen.Options{}, contractawaytest.SumFirst())
		bounds := vcs["demo.First#bounds0"]
		require.NotNil(t, bounds)
		require.Equal(t, vcgen.KindBounds, bounds.Kind)

		discharge(t, vcs)
		require.Equal(t, solver.Proved, bounds.Status())
		require.Equal(t, solver.Proved, vcs["demo.First#post0"].Status())
	})
}

func TestOverflow(t *testing.T) {
	t.Parallel()

	vcs := generate(t, vcgen.Options{CheckOverflow: true}, contractawaytest.IncrementUnsafe())
	require.Len(t, vcs, 2)
	over := vcs["demo.IncrementUnsafe#overflow0"]
	require.NotNil(t, over)
	require.Equal(t, vcgen.KindOverflow, over.Kind)
	require.Equal(t, "arithmetic overflow", over.Kind.String())

	discharge(t, vcs)
	require.Equal(t, solver.Disproved, over.Status())
	v, _ := over.Outcome.Counterexample.Lookup("x")
	require.Equal(t, "2147483647", v)

	safe := generate(t, vcgen.Options{CheckOverflow: true}, contractawaytest.IncrementSafe())
	discharge(t, safe)
	require.Equal(t, solver.Proved, safe["demo.IncrementSafe#overflow0"].Status())
}

func TestParamBounds(t *testing.T) {
	t.Parallel()

	lo, hi := int64(0), int64(100)
	f := contractawaytest.IncrementUnsafe()
	f.Params[0].Bounds = &decl.Bounds{Min: &lo, Max: &hi}
	vcs := generate(t, vcgen.Options{}, f)
	post := vcs["demo.IncrementUnsafe#post0"]
	require.Len(t, post.Query.Assumptions, 2)
	discharge(t, vcs)
	require.Equal(t, solver.Proved, post.Status())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	vcs := generate(t, vcgen.Options{}, contractawaytest.IncrementUnsafe())
	post := vcs["demo.IncrementUnsafe#post0"]
	require.True(t, post.Pending())
	require.Error(t, post.Resolve(solver.Outcome{}))
	require.NoError(t, post.Resolve(solver.ProvedOutcome()))
	require.False(t, post.Pending())
	require.ErrorIs(t, post.Resolve(solver.ProvedOutcome()), vcgen.ErrAlreadyResolved)
	require.Equal(t, solver.Proved, post.Status())
	require.Error(t, vcgen.ResolveEntry(post))
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		desc string
		vc   *vcgen.VC
		want string
	}{
		{
			desc: "custom message",
			vc:   &vcgen.VC{Kind: vcgen.KindPrecondition, Origin: &decl.Contract{Kind: decl.Pre, Message: "no"}},
			want: "no",
		},
		{
			desc: "call site",
			vc:   &vcgen.VC{Kind: vcgen.KindCallSite, Callee: "f", Origin: &decl.Contract{Kind: decl.Pre, Source: "x > 0"}},
			want: "precondition `x > 0` of f violated",
		},
		{
			desc: "side condition",
			vc:   &vcgen.VC{Kind: vcgen.KindDivision, Guard: expr.Bin(expr.Ne, expr.V("d"), expr.I(0))},
			want: "division by zero: `d != 0` violated",
		},
		{
			desc: "bare",
			vc:   &vcgen.VC{Kind: vcgen.KindBounds},
			want: "index out of bounds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.vc.Message())
		})
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
