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

package facts_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/mangle/parse"
	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/contractawaytest"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/facts"
	"go.uber.org/contractaway/inference"
	"go.uber.org/contractaway/taint"
	"go.uber.org/goleak"
)

func fn(id string, calls []string, effects ...string) *decl.FunctionSpec {
	f := &decl.FunctionSpec{ID: id, Name: id, Calls: calls, ReturnType: expr.VoidType}
	f.DeclareEffects(effects...)
	return f
}

func TestBuild(t *testing.T) {
	t.Parallel()

	prog := contractawaytest.Program(t, contractawaytest.EffectChain()...)
	fs, err := facts.Build(prog, taint.NewTable(), nil)
	require.NoError(t, err)

	require.Equal(t, []string{"svc.fetch", "svc.send"}, fs.Reaches("svc.store"))
	require.Equal(t, "[db:w net:w]", effectsString(fs.ReachableEffects("svc.store")))
	require.Equal(t, []taint.Sink{taint.SQLQuery, taint.URLRedirect}, fs.ReachableSinks("svc.store"))
	require.Empty(t, fs.ReachableSources("svc.store"))
	require.Equal(t, []taint.Sink{taint.URLRedirect}, fs.ReachableSinks("svc.fetch"))
	require.Empty(t, fs.Reaches("svc.send"))
}

func effectsString(es []decl.EffectDeclaration) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func TestBuild_Sources(t *testing.T) {
	t.Parallel()

	prog := contractawaytest.Program(t,
		fn("h.handle", []string{"h.read", "h.env", "ext.Missing"}, "log:w"),
		fn("h.read", nil, "http:rw"),
		fn("h.env", nil, "env:r", "pure"),
	)
	fs, err := facts.Build(prog, taint.NewTable(), nil)
	require.NoError(t, err)

	require.Equal(t, []taint.Sink{taint.URLRedirect, taint.LogOutput}, fs.ReachableSinks("h.handle"))
	require.Equal(t, []taint.Source{taint.NetworkInput, taint.Environment}, fs.ReachableSources("h.handle"))
	require.Equal(t, []taint.Source{taint.Environment}, fs.ReachableSources("h.env"))
	require.Equal(t, []string{"h.env", "h.read"}, fs.Reaches("h.handle"))
}

// The Datalog derivation and the fixed-point closure compute the same reachable effects.
func TestBuild_AgreesWithClosure(t *testing.T) {
	t.Parallel()

	fns := []*decl.FunctionSpec{
		fn("a", []string{"b", "e"}, "db:w"),
		fn("b", []string{"c"}),
		fn("c", []string{"b", "d"}, "net:r"),
		fn("d", nil, "fs:rw", "pure"),
		fn("e", []string{"e"}, "console:r"),
		fn("f", nil),
		fn("g", []string{"a", "unknown.fn"}, "shell:w"),
	}
	prog := contractawaytest.Program(t, fns...)
	fs, err := facts.Build(prog, taint.NewTable(), nil)
	require.NoError(t, err)
	closure, err := inference.Check(context.Background(), prog, inference.Options{})
	require.NoError(t, err)

	for _, c := range closure.All() {
		want := c.Reachable.Sorted()
		if len(want) == 0 {
			want = nil
		}
		require.Empty(t, cmp.Diff(want, fs.ReachableEffects(c.FunctionID)), c.FunctionID)
	}
}

func TestWriteTo(t *testing.T) {
	t.Parallel()

	prog := contractawaytest.Program(t, contractawaytest.EffectChain()...)
	fs, err := facts.Build(prog, taint.NewTable(), nil)
	require.NoError(t, err)

	var sb strings.Builder
	n, err := fs.WriteTo(&sb)
	require.NoError(t, err)
	require.Equal(t, int64(sb.Len()), n)

	out := sb.String()
	compact := strings.ReplaceAll(out, " ", "")
	require.Contains(t, compact, `calls("svc.store","svc.fetch").`)
	require.Contains(t, compact, `declares("svc.send","net","w").`)
	require.Contains(t, compact, `sink_resource("db","SqlQuery").`)

	// The dump is itself a valid source unit.
	_, err = parse.Unit(strings.NewReader(out))
	require.NoError(t, err)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
