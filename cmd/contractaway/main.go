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

// contractaway checks the contracts and effects of a declaration snapshot emitted by the compiler
// front end. It reports diagnostics, prints runtime guards (optionally injecting them into Go
// source), classifies taint sinks and sources, and can re-check on every change of the snapshot.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/contractaway"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errFindings is returned when the check succeeded but reported errors; it maps to exit code 3,
// like other code checkers.
var errFindings = errors.New("contract check reported errors")

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "contractaway",
	Short: "Check behavioral contracts and declared effects",
	Long: `contractaway verifies the preconditions and postconditions of a declaration snapshot with a
solver, synthesizes runtime guards for what it cannot prove, checks declared effects against
the call graph and classifies effects as taint sinks and sources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}

		zc := zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.Logging.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zc.Level = zap.NewAtomicLevelAt(level)
		if logger, err = zc.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".contractaway.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(checkCmd, guardsCmd, taintCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errFindings):
		os.Exit(3)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadSnapshot decodes the declaration snapshot at path.
func loadSnapshot(path string) ([]*decl.FunctionSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decl.DecodeSnapshot(f)
}

// run checks the snapshot at path with the loaded configuration.
func run(ctx context.Context, path string) (*contractaway.Report, error) {
	fns, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return contractaway.Check(ctx, fns, contractaway.Options{Config: cfg, Logger: logger})
}
