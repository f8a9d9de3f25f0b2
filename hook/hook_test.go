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

package hook_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/hook"
	"go.uber.org/goleak"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	x, y := expr.V("x"), expr.V("y")
	tests := []struct {
		target string
		args   []expr.Expr
		want   string
	}{
		{"abs", []expr.Expr{x}, "x < 0 ? -x : x"},
		{"math.Abs", []expr.Expr{x}, "x < 0 ? -x : x"},
		{"min", []expr.Expr{x, y}, "x <= y ? x : y"},
		{"max", []expr.Expr{x, expr.I(0)}, "x >= 0 ? x : 0"},
		{"clamp", []expr.Expr{x, expr.I(0), expr.I(9)}, "x < 0 ? 0 : x > 9 ? 9 : x"},
	}
	for _, tt := range tests {
		got, ok := hook.Summarize(tt.target, tt.args)
		require.True(t, ok, tt.target)
		require.Equal(t, tt.want, got.String())
	}

	_, ok := hook.Summarize("abs", []expr.Expr{x, y})
	require.False(t, ok, "arity must match")
	_, ok = hook.Summarize("pkg.absolute", []expr.Expr{x})
	require.False(t, ok)
	require.True(t, hook.IsIntrinsic("math.min"))
	require.False(t, hook.IsIntrinsic("mathmin"))
}

func TestResultType(t *testing.T) {
	t.Parallel()

	got, ok := hook.ResultType("max", []expr.Type{expr.Int32, expr.Int32})
	require.True(t, ok)
	require.Equal(t, expr.Int32, got)

	_, ok = hook.ResultType("max", []expr.Type{expr.Int32, expr.IntType(64)})
	require.False(t, ok)
	_, ok = hook.ResultType("abs", []expr.Type{expr.StringType})
	require.False(t, ok)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
