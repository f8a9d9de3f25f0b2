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

// Package smtlib discharges queries with an external SMT solver. Queries are rendered as SMT-LIB2
// over fixed-width bit-vectors, arrays indexed by 64-bit vectors, and unicode strings, then piped
// to z3 (`z3 -in -smt2 -T:<secs>`). A sat reply is followed by get-value requests from which the
// counterexample is read back in the same shape the in-process backend produces.
package smtlib

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/zap"
)

// Name is the backend name reported in outcomes.
const Name = "z3"

// Runner feeds an SMT-LIB2 script to a solver process and returns its standard output.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, script string) (string, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, script string) (string, error) { return f(ctx, script) }

// ExecRunner runs a z3 binary.
type ExecRunner struct {
	Path string
	// Timeout is passed to z3 as its own soft limit, rounded up to whole seconds.
	Timeout time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, script string) (string, error) {
	args := []string{"-in", "-smt2"}
	if r.Timeout > 0 {
		args = append(args, "-T:"+strconv.Itoa(int(math.Ceil(r.Timeout.Seconds()))))
	}
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// z3 exits non-zero when get-value follows an unsat answer; the status line is still valid.
	err := cmd.Run()
	if err != nil && stdout.Len() == 0 {
		return "", fmt.Errorf("run %s: %w: %s", r.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Options configure the external backend.
type Options struct {
	// Path is the z3 executable, looked up on PATH when it has no directory part.
	Path    string
	Timeout time.Duration
	// IntWidth is the width of untyped integer constants.
	IntWidth int
	// Runner overrides process execution, mainly for tests.
	Runner Runner
}

// Solver is the z3 backend. It is safe for concurrent use; every check starts a new process.
type Solver struct {
	opts   Options
	runner Runner
	logger *zap.Logger
}

// New returns a z3 solver. When no Runner is given and the executable cannot be found, every
// check is Unknown(solver unavailable).
func New(opts Options, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IntWidth == 0 {
		opts.IntWidth = expr.DefaultWidth
	}
	s := &Solver{opts: opts, runner: opts.Runner, logger: logger}
	if s.runner == nil {
		path := opts.Path
		if path == "" {
			path = "z3"
		}
		if resolved, err := exec.LookPath(path); err == nil {
			s.runner = ExecRunner{Path: resolved, Timeout: opts.Timeout}
		} else {
			logger.Debug("z3 not available", zap.String("path", path), zap.Error(err))
		}
	}
	return s
}

// Available reports whether the solver has something to run.
func (s *Solver) Available() bool { return s.runner != nil }

// Name implements solver.Solver.
func (s *Solver) Name() string { return Name }

// Check implements solver.Solver.
func (s *Solver) Check(ctx context.Context, q *solver.Query) (out solver.Outcome) {
	defer func() { out.Solver = Name }()
	if err := ctx.Err(); err != nil {
		return solver.UnknownOutcome(solver.ReasonTimeout, err.Error())
	}
	if s.runner == nil {
		return solver.UnknownOutcome(solver.ReasonUnavailable, "z3 executable not found")
	}

	script, err := Render(q, s.opts.IntWidth)
	if err != nil {
		var ue *UnsupportedError
		if errors.As(err, &ue) {
			return solver.UnknownOutcome(ue.Reason, ue.Detail)
		}
		return solver.UnknownOutcome(solver.ReasonInternal, err.Error())
	}

	reply, err := s.runner.Run(ctx, script.Text)
	if ctx.Err() != nil {
		return solver.UnknownOutcome(solver.ReasonTimeout, ctx.Err().Error())
	}
	if err != nil {
		s.logger.Warn("z3 failed", zap.Error(err))
		if errors.Is(err, exec.ErrNotFound) {
			return solver.UnknownOutcome(solver.ReasonUnavailable, err.Error())
		}
		return solver.UnknownOutcome(solver.ReasonInternal, err.Error())
	}
	return script.Interpret(reply)
}
