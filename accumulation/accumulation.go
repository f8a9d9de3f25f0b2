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

// Package accumulation coordinates the verification workflow: it generates the verification
// conditions (VCs) of a program, discharges the pending ones on a bounded pool of workers, and
// derives the entry VCs of preconditions once every call site has been decided.
package accumulation

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/contractaway/cache"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/solver/bitblast"
	"go.uber.org/contractaway/solver/smtlib"
	"go.uber.org/contractaway/vcgen"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configure a verification run.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Solver overrides the backends selected by Config.
	Solver solver.Solver
	// Cache, when set, is consulted before and updated after every solver call.
	Cache  *cache.Cache
	Logger *zap.Logger
}

// NewSolver builds the discharge backends selected by cfg. In auto mode the in-process backend
// runs first and z3 is only consulted for what it leaves undecided, when z3 is installed.
func NewSolver(cfg *config.Config, logger *zap.Logger) solver.Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	native := bitblast.New(bitblast.Options{
		MaxClauses:  cfg.Solver.MaxClauses,
		UnrollLimit: cfg.Solver.UnrollLimit,
		IntWidth:    cfg.IntWidth,
	}, logger.Named(bitblast.Name))
	z3 := smtlib.New(smtlib.Options{
		Path:     cfg.Solver.Z3Path,
		Timeout:  cfg.SolverTimeout(),
		IntWidth: cfg.IntWidth,
	}, logger.Named(smtlib.Name))

	switch cfg.Solver.Backend {
	case config.BackendNative:
		return native
	case config.BackendZ3:
		return z3
	}
	if !z3.Available() {
		return native
	}
	return solver.Chain{native, z3}
}

// Run generates the VCs of prog and resolves every one of them. The returned slice is in
// generation order. Run only fails when ctx is done before all VCs are decided; outcomes computed
// so far are discarded in that case.
func Run(ctx context.Context, prog *decl.Program, opts Options) ([]*vcgen.VC, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := opts.Solver
	if backend == nil {
		backend = NewSolver(cfg, logger)
	}

	vcs := vcgen.New(prog, vcgen.Options{
		IntWidth:      cfg.IntWidth,
		CheckOverflow: cfg.CheckOverflow,
		Logger:        logger,
	}).Program()

	timeout := cfg.SolverTimeout()
	live := make(map[cache.Key]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerCount())
	for _, vc := range vcs {
		if !vc.Pending() {
			continue
		}
		key := cache.Key{FunctionID: vc.FunctionID, Fingerprint: vc.Query.Fingerprint()}
		live[key] = true
		if opts.Cache != nil {
			if o, ok := opts.Cache.Lookup(key); ok {
				if err := vc.Resolve(o); err != nil {
					return nil, err
				}
				continue
			}
		}

		// Each VC is resolved by exactly the goroutine that discharges it.
		g.Go(func() error {
			o := discharge(gctx, backend, vc, timeout, logger)
			if err := vc.Resolve(o); err != nil {
				return err
			}
			if opts.Cache != nil && gctx.Err() == nil {
				opts.Cache.Store(key, o)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, vc := range vcs {
		if vc.Derived() {
			if err := vcgen.ResolveEntry(vc); err != nil {
				return nil, err
			}
		}
	}
	if opts.Cache != nil {
		opts.Cache.Retain(live)
	}
	return vcs, nil
}

// discharge runs the solver on one VC under its own time limit. A panicking backend yields an
// Unknown(internal error) outcome instead of taking the run down.
func discharge(ctx context.Context, s solver.Solver, vc *vcgen.VC, timeout time.Duration, logger *zap.Logger) (out solver.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("solver panicked",
				zap.String("vc", vc.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = solver.UnknownOutcome(solver.ReasonInternal, fmt.Sprintf("INTERNAL PANIC: %v", r))
			out.Solver = s.Name()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	out = s.Check(ctx, vc.Query)
	logger.Debug("discharged verification condition",
		zap.String("vc", vc.ID),
		zap.Stringer("verdict", out.Verdict),
		zap.String("solver", out.Solver),
		zap.Duration("elapsed", time.Since(start)))
	return out
}
