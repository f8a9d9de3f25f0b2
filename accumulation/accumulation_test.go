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

package accumulation_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/contractaway/accumulation"
	"go.uber.org/contractaway/cache"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/contractawaytest"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/solver/bitblast"
	"go.uber.org/contractaway/vcgen"
	"go.uber.org/goleak"
)

// counting proves everything and counts its calls.
type counting struct{ calls atomic.Int32 }

func (*counting) Name() string { return "counting" }

func (c *counting) Check(context.Context, *solver.Query) solver.Outcome {
	c.calls.Add(1)
	return solver.ProvedOutcome()
}

type panicking struct{}

func (panicking) Name() string { return "panicking" }

func (panicking) Check(context.Context, *solver.Query) solver.Outcome { panic("boom") }

func byID(vcs []*vcgen.VC) map[string]*vcgen.VC {
	out := make(map[string]*vcgen.VC, len(vcs))
	for _, v := range vcs {
		out[v.ID] = v
	}
	return out
}

func TestRun(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Solver.Backend = config.BackendNative
	prog := contractawaytest.Program(t,
		contractawaytest.IncrementUnsafe(),
		contractawaytest.IncrementSafe(),
		contractawaytest.Divide(),
		contractawaytest.Half(),
	)
	vcs, err := accumulation.Run(context.Background(), prog, accumulation.Options{Config: cfg})
	require.NoError(t, err)

	for _, v := range vcs {
		require.NotEqual(t, solver.Unproved, v.Status(), v.ID)
	}
	m := byID(vcs)
	require.Equal(t, solver.Disproved, m["demo.IncrementUnsafe#post0"].Status())
	require.Equal(t, bitblast.Name, m["demo.IncrementUnsafe#post0"].Outcome.Solver)
	require.Equal(t, solver.Proved, m["demo.IncrementSafe#post0"].Status())
	require.Equal(t, solver.Proved, m["math.Half#call0:math.Divide#pre0"].Status())
	require.Equal(t, solver.Proved, m["math.Divide#pre0"].Status())
	require.Equal(t, vcgen.DerivedSolver, m["math.Divide#pre0"].Outcome.Solver)
}

func TestRun_Panic(t *testing.T) {
	t.Parallel()

	prog := contractawaytest.Program(t, contractawaytest.IncrementUnsafe())
	vcs, err := accumulation.Run(context.Background(), prog, accumulation.Options{Solver: panicking{}})
	require.NoError(t, err)
	require.Len(t, vcs, 1)
	require.Equal(t, solver.Unknown, vcs[0].Status())
	require.Equal(t, solver.ReasonInternal, vcs[0].Outcome.Reason)
	require.Contains(t, vcs[0].Outcome.Detail, "boom")
}

func TestRun_Cache(t *testing.T) {
	t.Parallel()

	c := cache.New(nil)
	s := &counting{}
	prog := contractawaytest.Program(t, contractawaytest.IncrementSafe(), contractawaytest.Divide())
	opts := accumulation.Options{Solver: s, Cache: c}

	_, err := accumulation.Run(context.Background(), prog, opts)
	require.NoError(t, err)
	first := s.calls.Load()
	require.Equal(t, int32(2), first, "the postcondition and the division")
	require.Equal(t, 2, c.Len())

	vcs, err := accumulation.Run(context.Background(), prog, opts)
	require.NoError(t, err)
	require.Equal(t, first, s.calls.Load(), "every query is served from the cache")
	require.Equal(t, solver.Proved, byID(vcs)["demo.IncrementSafe#post0"].Status())

	// Editing the postcondition changes its fingerprint; only that VC is discharged again.
	edited := contractawaytest.IncrementSafe()
	edited.Postconditions[0].Condition = edited.Preconditions[0].Condition
	_, err = accumulation.Run(context.Background(), contractawaytest.Program(t, edited, contractawaytest.Divide()), opts)
	require.NoError(t, err)
	require.Equal(t, first+1, s.calls.Load())
	require.Equal(t, 2, c.Len(), "the stale entry is dropped")
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prog := contractawaytest.Program(t, contractawaytest.IncrementUnsafe())
	_, err := accumulation.Run(ctx, prog, accumulation.Options{Solver: &counting{}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSolver(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Solver.Backend = config.BackendNative
	require.Equal(t, bitblast.Name, accumulation.NewSolver(cfg, nil).Name())

	cfg.Solver.Backend = config.BackendZ3
	require.Equal(t, "z3", accumulation.NewSolver(cfg, nil).Name())

	cfg.Solver.Backend = config.BackendAuto
	cfg.Solver.Z3Path = "/nonexistent/z3"
	require.Equal(t, bitblast.Name, accumulation.NewSolver(cfg, nil).Name())
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
