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

package decl_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/goleak"
)

func TestParseEffect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want decl.EffectDeclaration
	}{
		{"db:w", decl.EffectDeclaration{Kind: decl.IO, Resource: "db", Access: decl.Write}},
		{"fs:r", decl.EffectDeclaration{Kind: decl.IO, Resource: "fs", Access: decl.Read}},
		{"net:rw", decl.EffectDeclaration{Kind: decl.IO, Resource: "net", Access: decl.ReadWrite}},
		{" DB : W ", decl.EffectDeclaration{Kind: decl.IO, Resource: "db", Access: decl.Write}},
		{"exec:w", decl.EffectDeclaration{Kind: decl.Process, Resource: "exec", Access: decl.Write}},
		{"heap:rw", decl.EffectDeclaration{Kind: decl.Memory, Resource: "heap", Access: decl.ReadWrite}},
		{"stdin:r", decl.EffectDeclaration{Kind: decl.Console, Resource: "stdin", Access: decl.Read}},
		{"quantum:r", decl.EffectDeclaration{Kind: decl.IO, Resource: "quantum", Access: decl.Read}},
		{"pure", decl.PureEffect},
		{"pure:r", decl.PureEffect},
	}
	for _, tt := range tests {
		got, err := decl.ParseEffect(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "db", "db:x", ":w", "db:", "a b:r", "db:w:r"} {
		_, err := decl.ParseEffect(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, decl.ErrMalformedEffect), bad)
		var m *decl.MalformedEffectError
		require.True(t, errors.As(err, &m))
		require.Equal(t, bad, m.Text)
	}
}

func TestEffectString(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"db:w", "fs:r", "net:rw", "pure"} {
		e, err := decl.ParseEffect(s)
		require.NoError(t, err)
		require.Equal(t, s, e.String())
	}
}

func TestDeclareEffects(t *testing.T) {
	t.Parallel()

	f := &decl.FunctionSpec{ID: "pkg.f"}
	f.DeclareEffects("db:w", "bogus", "net:r", "fs:q")
	require.Len(t, f.Effects, 2)
	require.Len(t, f.RejectedEffects, 2)
	require.Equal(t, "bogus", f.RejectedEffects[0].Text)
	require.False(t, f.IsPure())
	require.True(t, (&decl.FunctionSpec{Effects: []decl.EffectDeclaration{decl.PureEffect}}).IsPure())
}

func TestEffectSet(t *testing.T) {
	t.Parallel()

	dbW := decl.EffectDeclaration{Kind: decl.IO, Resource: "db", Access: decl.Write}
	dbRW := decl.EffectDeclaration{Kind: decl.IO, Resource: "db", Access: decl.ReadWrite}
	netR := decl.EffectDeclaration{Kind: decl.IO, Resource: "net", Access: decl.Read}

	a := decl.NewEffectSet(dbW, netR)
	b := decl.NewEffectSet(netR)
	require.True(t, b.SubsetOf(a))
	require.False(t, a.SubsetOf(b))
	require.True(t, a.Union(b).Eq(a))
	require.False(t, a.Eq(b))
	c := a.Copy()
	delete(c, dbW)
	require.True(t, c.Eq(b))
	require.True(t, a.Contains(dbW))
	require.Empty(t, decl.EffectSet(nil).Union())

	// Coverage is by resource and access inclusion.
	declared := decl.NewEffectSet(dbRW)
	require.True(t, declared.Covers(dbW))
	require.False(t, decl.NewEffectSet(dbW).Covers(dbRW))
	require.False(t, declared.Covers(netR))
	require.True(t, decl.NewEffectSet().Covers(decl.PureEffect))
	require.Equal(t, []decl.EffectDeclaration{netR}, declared.Uncovered(decl.NewEffectSet(dbW, netR, decl.PureEffect)))
	require.Empty(t, declared.Uncovered(decl.NewEffectSet(dbW)))

	require.Equal(t, []decl.EffectDeclaration{dbW, netR}, a.Sorted())
}

func TestNewProgram(t *testing.T) {
	t.Parallel()

	g := &decl.FunctionSpec{ID: "pkg.g", Body: &decl.ExprBody{Result: expr.I(1)}}
	f := &decl.FunctionSpec{
		ID: "pkg.f",
		Body: &decl.Block{Stmts: []decl.Stmt{
			&decl.Let{Name: "y", Value: &expr.CallExpr{Target: "pkg.g"}},
			&decl.ExprStmt{X: &expr.CallExpr{Target: "abs", Args: []expr.Expr{expr.V("y")}}},
			&decl.Return{Value: expr.V("y")},
		}},
		Calls: []string{"pkg.h"},
	}

	p, err := decl.NewProgram([]*decl.FunctionSpec{f, g})
	require.NoError(t, err)
	require.Equal(t, 2, p.Len())

	got, ok := p.Lookup("pkg.f")
	require.True(t, ok)
	// Unknown declared callees are kept; body calls are merged only when they name a function.
	require.Equal(t, []string{"pkg.h", "pkg.g"}, got.Calls)
	require.Equal(t, []string{"pkg.h"}, f.Calls, "input specs are not modified")
	require.Equal(t, []string{"pkg.f"}, p.Callers("pkg.g"))
	require.Empty(t, p.Callers("pkg.f"))

	_, err = decl.NewProgram([]*decl.FunctionSpec{f, {ID: "pkg.f"}})
	require.ErrorIs(t, err, decl.ErrDuplicateFunction)

	// Calls inside contracts run in runtime guards, so they count as callers too.
	k := &decl.FunctionSpec{
		ID: "pkg.k",
		Preconditions: []*decl.Contract{{
			Kind:      decl.Pre,
			Condition: expr.Bin(expr.Gt, &expr.CallExpr{Target: "pkg.g"}, expr.I(0)),
		}},
	}
	p, err = decl.NewProgram([]*decl.FunctionSpec{f, g, k})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pkg.f", "pkg.k"}, p.Callers("pkg.g"))
	got, ok = p.Lookup("pkg.k")
	require.True(t, ok)
	require.Empty(t, got.Calls, "contract calls do not enter the effect call graph")
}

const _snapshot = `{
  "functions": [
    {
      "id": "math.Divide",
      "params": [{"name": "a", "type": "i32"}, {"name": "b", "type": "i32", "min": -100, "max": 100}],
      "returns": "i32",
      "requires": [{"cond": {"op": "!=", "args": [{"var": "b"}, {"int": 0}]}, "message": "divisor must not be zero"}],
      "effects": ["pure"],
      "body": {"return": {"op": "/", "args": [{"var": "a"}, {"var": "b"}]}}
    },
    {
      "id": "math.Clamp",
      "exported": true,
      "params": [{"name": "x", "type": "i32"}],
      "returns": "i32",
      "ensures": [{"cond": {"op": ">=", "args": [{"var": "result"}, {"int": 0}]}, "source": "result >= 0"}],
      "effects": ["log:w", "nonsense"],
      "body": {"block": [
        {"let": "y", "type": "i32", "value": {"var": "x"}},
        {"if": {"op": "<", "args": [{"var": "y"}, {"int": 0}]}, "then": [{"assign": "y", "value": {"int": 0}}]},
        {"while": {"bool": false}, "body": [{"expr": {"call": "math.Divide", "args": [{"var": "y"}, {"int": 1}]}}]},
        {"return": {"var": "y"}}
      ]}
    }
  ]
}`

func TestDecodeSnapshot(t *testing.T) {
	t.Parallel()

	fns, err := decl.DecodeSnapshot(strings.NewReader(_snapshot))
	require.NoError(t, err)
	require.Len(t, fns, 2)

	div := fns[0]
	require.Equal(t, "math.Divide", div.Name)
	require.Equal(t, expr.Int32, div.ReturnType)
	require.Len(t, div.Params, 2)
	require.Nil(t, div.Params[0].Bounds)
	require.Equal(t, int64(-100), *div.Params[1].Bounds.Min)
	require.Equal(t, "b != 0", div.Preconditions[0].Text())
	require.Equal(t, "divisor must not be zero", div.Preconditions[0].Message)
	require.Equal(t, "a / b", div.Body.(*decl.ExprBody).Result.String())
	require.True(t, div.IsPure())

	clamp := fns[1]
	require.True(t, clamp.Exported)
	require.Equal(t, "result >= 0", clamp.Postconditions[0].Text())
	require.Len(t, clamp.Effects, 1)
	require.Len(t, clamp.RejectedEffects, 1)
	block := clamp.Body.(*decl.Block)
	require.Len(t, block.Stmts, 4)
	require.IsType(t, &decl.If{}, block.Stmts[1])
	require.IsType(t, &decl.While{}, block.Stmts[2])

	env := clamp.Env()
	require.Contains(t, env.Vars, "x")
	require.Contains(t, env.Vars, expr.ResultName)

	// Re-encoding gives back the same declarations.
	var buf bytes.Buffer
	require.NoError(t, decl.EncodeSnapshot(&buf, fns))
	again, err := decl.DecodeSnapshot(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(fns, again); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSnapshot_Errors(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{
		`{"functions": [{"name": "noid"}]}`,
		`{"functions": [{"id": "f", "returns": "float"}]}`,
		`{"functions": [{"id": "f", "requires": [{"cond": {"op": "?"}}]}]}`,
		`{"functions": [{"id": "f", "body": {"block": [{}]}}]}`,
		`{"funcs": []}`,
		`not json`,
	} {
		_, err := decl.DecodeSnapshot(strings.NewReader(bad))
		require.ErrorIs(t, err, decl.ErrBadSnapshot, bad)
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
