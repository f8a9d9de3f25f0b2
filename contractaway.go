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

// Package contractaway checks the behavioral contracts and declared effects of a program's
// functions. Check turns preconditions and postconditions into verification conditions and
// discharges them with a solver, synthesizes runtime guards for whatever stays unproved, closes
// the declared effects over the call graph to find undeclared ones, and classifies effects as
// taint sinks and sources. Everything is collected in a Report keyed by function id.
package contractaway

import (
	"context"
	"fmt"

	"go.uber.org/contractaway/accumulation"
	"go.uber.org/contractaway/cache"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/diagnostic"
	"go.uber.org/contractaway/facts"
	"go.uber.org/contractaway/guard"
	"go.uber.org/contractaway/inference"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/taint"
	"go.uber.org/contractaway/vcgen"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configure Check.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	Logger *zap.Logger
	// Solver overrides the backends selected by Config.
	Solver solver.Solver
	// Cache overrides the cache file named by Config.
	Cache *cache.Cache
	// Taint defaults to taint.NewTable().
	Taint *taint.Table
}

// FunctionResult is what code generation needs to know about one function.
type FunctionResult struct {
	RuntimeGuards []guard.RuntimeGuard
	EffectSound   bool
	// Sinks and Sources classify the function's own declared effects.
	Sinks   []taint.Sink
	Sources []taint.Source
	// ReachableSinks and ReachableSources also cover everything the function transitively calls.
	ReachableSinks   []taint.Sink
	ReachableSources []taint.Source
}

// Report is the result of Check.
type Report struct {
	// Order lists the function ids in declaration order.
	Order     []string
	Functions map[string]FunctionResult

	Verifications []diagnostic.VerificationReport
	Effects       []diagnostic.EffectReport
	Diagnostics   []diagnostic.Diagnostic

	// Facts holds the Datalog export of the effect model.
	Facts *facts.Facts
	// VCs are the resolved verification conditions, in generation order.
	VCs     []*vcgen.VC
	Program *decl.Program
}

// HasErrors reports whether any diagnostic is an error.
func (r *Report) HasErrors() bool { return diagnostic.HasErrors(r.Diagnostics) }

// Check analyzes fns. It fails only for invalid input, such as duplicate function ids, or when ctx
// is done; every analysis finding is reported in the Report instead.
func Check(ctx context.Context, fns []*decl.FunctionSpec, opts Options) (*Report, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	table := opts.Taint
	if table == nil {
		table = taint.NewTable()
	}

	prog, err := decl.NewProgram(fns)
	if err != nil {
		return nil, err
	}

	vcCache := opts.Cache
	if vcCache == nil && cfg.Cache.Path != "" {
		if vcCache, err = cache.Open(cfg.Cache.Path, logger.Named("cache")); err != nil {
			return nil, fmt.Errorf("open verification cache: %w", err)
		}
		defer func() {
			if err := vcCache.Save(); err != nil {
				logger.Warn("saving verification cache", zap.Error(err))
			}
		}()
	}

	// Contract verification and effect closure share nothing but the immutable program.
	var (
		vcs     []*vcgen.VC
		closure *inference.Result
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		vcs, err = accumulation.Run(ectx, prog, accumulation.Options{
			Config: cfg,
			Solver: opts.Solver,
			Cache:  vcCache,
			Logger: logger.Named("accumulation"),
		})
		return err
	})
	eg.Go(func() error {
		var err error
		closure, err = inference.Check(ectx, prog, inference.Options{
			Workers: cfg.WorkerCount(),
			Logger:  logger.Named("inference"),
		})
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	fs, err := facts.Build(prog, table, logger.Named("facts"))
	if err != nil {
		logger.Error("building effect facts", zap.Error(err))
	}

	guards := guard.Synthesize(vcs)
	engine := diagnostic.NewEngine(cfg, logger)
	engine.AddVerifications(vcs)
	engine.AddEffects(closure)

	report := &Report{
		Functions: make(map[string]FunctionResult, prog.Len()),
		Facts:     fs,
		VCs:       vcs,
		Program:   prog,
	}
	for _, f := range prog.Functions() {
		engine.AddRejectedEffects(f)
		fc := table.ClassifyFunction(f)
		engine.AddUnknownResources(fc)

		res := FunctionResult{
			RuntimeGuards: guards.For(f.ID),
			EffectSound:   true,
			Sinks:         fc.Sinks,
			Sources:       fc.Sources,
		}
		if c := closure.Function(f.ID); c != nil {
			res.EffectSound = c.Sound
		}
		if fs != nil {
			res.ReachableSinks = fs.ReachableSinks(f.ID)
			res.ReachableSources = fs.ReachableSources(f.ID)
		}
		report.Order = append(report.Order, f.ID)
		report.Functions[f.ID] = res
	}
	report.Verifications = engine.VerificationReports()
	report.Effects = engine.EffectReports()
	report.Diagnostics = engine.Diagnostics(true)

	logger.Info("contract check finished",
		zap.Int("functions", prog.Len()),
		zap.Int("vcs", len(vcs)),
		zap.Int("guards", guards.Len()),
		zap.Int("diagnostics", len(report.Diagnostics)),
	)
	return report, nil
}
