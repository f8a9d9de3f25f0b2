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

package contractaway

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/cache"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/contractawaytest"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/diagnostic"
	"go.uber.org/contractaway/taint"
	"go.uber.org/goleak"
)

func nativeConfig() *config.Config {
	cfg := config.Default()
	cfg.Solver.Backend = config.BackendNative
	return cfg
}

func checkSnapshot(t *testing.T, opts Options) *Report {
	t.Helper()
	fns := contractawaytest.LoadSnapshot(t, filepath.Join("testdata", "snapshots", "demo.json"))
	if opts.Config == nil {
		opts.Config = nativeConfig()
	}
	r, err := Check(context.Background(), fns, opts)
	require.NoError(t, err)
	return r
}

func diagnosticsOf(r *Report, id string) []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	for _, d := range r.Diagnostics {
		if d.FunctionID == id {
			out = append(out, d)
		}
	}
	return out
}

func TestCheck(t *testing.T) {
	t.Parallel()

	r := checkSnapshot(t, Options{})
	require.Equal(t, []string{
		"demo.IncrementUnsafe", "demo.IncrementSafe", "math.Divide",
		"svc.store", "svc.fetch", "svc.send", "svc.audit",
	}, r.Order)
	require.Len(t, r.Functions, len(r.Order))
	require.True(t, r.HasErrors())

	t.Run("disproved postcondition", func(t *testing.T) {
		t.Parallel()
		fr := r.Functions["demo.IncrementUnsafe"]
		require.Len(t, fr.RuntimeGuards, 1)
		require.Equal(t, decl.Post, fr.RuntimeGuards[0].Position)

		ds := diagnosticsOf(r, "demo.IncrementUnsafe")
		require.Len(t, ds, 1)
		require.Equal(t, diagnostic.Error, ds[0].Severity)
		require.Contains(t, ds[0].Message, "x = 2147483647")
	})

	t.Run("guarded precondition", func(t *testing.T) {
		t.Parallel()
		fr := r.Functions["demo.IncrementSafe"]
		require.Len(t, fr.RuntimeGuards, 1)
		require.Equal(t, decl.Pre, fr.RuntimeGuards[0].Position)
		for _, d := range diagnosticsOf(r, "demo.IncrementSafe") {
			require.Equal(t, diagnostic.Info, d.Severity)
		}
	})

	t.Run("divide", func(t *testing.T) {
		t.Parallel()
		fr := r.Functions["math.Divide"]
		require.Len(t, fr.RuntimeGuards, 1)
		require.Equal(t, "divisor must not be zero", fr.RuntimeGuards[0].Message)
		require.True(t, fr.EffectSound)
		require.Empty(t, fr.Sinks)
	})

	t.Run("effects", func(t *testing.T) {
		t.Parallel()
		store := r.Functions["svc.store"]
		require.False(t, store.EffectSound)
		require.Equal(t, []taint.Sink{taint.SQLQuery}, store.Sinks)
		require.Equal(t, []taint.Sink{taint.SQLQuery, taint.URLRedirect}, store.ReachableSinks)
		require.True(t, r.Functions["svc.send"].EffectSound)

		var unsound []string
		for _, e := range r.Effects {
			if !e.Sound {
				unsound = append(unsound, e.FunctionID)
				require.GreaterOrEqual(t, len(e.WitnessPath), 2)
			}
		}
		require.Equal(t, []string{"svc.store", "svc.fetch"}, unsound)

		// Each unsound function carries its own error.
		for _, id := range unsound {
			ds := diagnosticsOf(r, id)
			require.Len(t, ds, 1, id)
			require.Equal(t, diagnostic.Error, ds[0].Severity)
			require.Equal(t, diagnostic.CodeEffectUnsound, ds[0].Code)
			require.Contains(t, ds[0].Message, "reaches undeclared effect net:w through "+id)
		}
	})

	t.Run("taint and malformed effects", func(t *testing.T) {
		t.Parallel()
		audit := r.Functions["svc.audit"]
		require.Equal(t, []taint.Sink{taint.LogOutput}, audit.Sinks)
		require.Equal(t, []taint.Source{taint.UserInput}, audit.Sources)

		ds := diagnosticsOf(r, "svc.audit")
		require.Len(t, ds, 2)
		require.Equal(t, diagnostic.CodeMalformedEffect, ds[0].Code)
		require.Equal(t, diagnostic.Warning, ds[0].Severity)
		require.Equal(t, diagnostic.CodeUnknownResource, ds[1].Code)
		require.Equal(t, diagnostic.Info, ds[1].Severity)
	})

	t.Run("facts", func(t *testing.T) {
		t.Parallel()
		require.NotNil(t, r.Facts)
		require.Equal(t, []string{"svc.fetch", "svc.send"}, r.Facts.Reaches("svc.store"))
	})
}

func TestCheck_DuplicateIDs(t *testing.T) {
	t.Parallel()

	_, err := Check(context.Background(), []*decl.FunctionSpec{contractawaytest.Divide(), contractawaytest.Divide()}, Options{Config: nativeConfig()})
	require.ErrorIs(t, err, decl.ErrDuplicateFunction)
}

func TestCheck_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Check(ctx, contractawaytest.EffectChain(), Options{Config: nativeConfig()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCheck_Cache(t *testing.T) {
	t.Parallel()

	t.Run("shared cache", func(t *testing.T) {
		t.Parallel()
		c := cache.New(nil)
		checkSnapshot(t, Options{Cache: c})
		require.Positive(t, c.Len())
		_, misses := c.Stats()

		checkSnapshot(t, Options{Cache: c})
		hits, missesAfter := c.Stats()
		require.Equal(t, misses, missesAfter)
		require.Positive(t, hits)
	})

	t.Run("cache file", func(t *testing.T) {
		t.Parallel()
		cfg := nativeConfig()
		cfg.Cache.Path = filepath.Join(t.TempDir(), "cache", "vc.cache")
		checkSnapshot(t, Options{Config: cfg})

		c, err := cache.Open(cfg.Cache.Path, nil)
		require.NoError(t, err)
		require.Positive(t, c.Len())
	})
}

func TestWriteDiagnostics(t *testing.T) {
	t.Parallel()

	ds := []diagnostic.Diagnostic{{
		FunctionID: "demo.f",
		Severity:   diagnostic.Error,
		Code:       diagnostic.CodeContractDisproved,
		Message:    "postcondition `result > x` violated; counterexample: x = 1",
	}}

	var plain strings.Builder
	require.NoError(t, WriteDiagnostics(&plain, ds, false))
	require.Equal(t, "error: demo.f: postcondition `result > x` violated; counterexample: x = 1 [contract-disproved]\n", plain.String())

	var pretty strings.Builder
	require.NoError(t, WriteDiagnostics(&pretty, ds, true))
	for _, part := range []string{"error:", "demo.f", "result > x", "x = 1", "contract-disproved"} {
		require.Contains(t, pretty.String(), part)
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
