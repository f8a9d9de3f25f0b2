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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/contractaway"
	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/diagnostic"
	"go.uber.org/contractaway/taint"
)

var (
	checkJSON    bool
	checkBackend string
	checkLenient bool
	checkCache   string
	checkWorkers int
)

var checkCmd = &cobra.Command{
	Use:   "check <snapshot.json>",
	Short: "Verify contracts and effects and report diagnostics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyCheckFlags(cmd); err != nil {
			return err
		}
		report, err := run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := writeReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.HasErrors() {
			return errFindings
		}
		return nil
	},
}

func init() {
	f := checkCmd.Flags()
	f.BoolVar(&checkJSON, "json", false, "print the full report as JSON")
	f.StringVar(&checkBackend, "backend", "", "solver backend ("+strings.Join(config.ValidBackends, ", ")+")")
	f.BoolVar(&checkLenient, "lenient", false, "report disproved contracts as warnings")
	f.StringVar(&checkCache, "cache", "", "verification cache file")
	f.IntVar(&checkWorkers, "workers", 0, "parallel solver calls (0: GOMAXPROCS)")
}

// applyCheckFlags overrides the loaded configuration with the flags set on cmd.
func applyCheckFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("backend") {
		cfg.Solver.Backend = checkBackend
	}
	if cmd.Flags().Changed("lenient") {
		cfg.Strict = !checkLenient
	}
	if cmd.Flags().Changed("cache") {
		cfg.Cache.Path = checkCache
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = checkWorkers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

type jsonFunction struct {
	ID               string         `json:"id"`
	RuntimeGuards    []string       `json:"runtime_guards,omitempty"`
	EffectSound      bool           `json:"effect_sound"`
	Sinks            []taint.Sink   `json:"sinks,omitempty"`
	Sources          []taint.Source `json:"sources,omitempty"`
	ReachableSinks   []taint.Sink   `json:"reachable_sinks,omitempty"`
	ReachableSources []taint.Source `json:"reachable_sources,omitempty"`
}

type jsonReport struct {
	Functions     []jsonFunction                  `json:"functions"`
	Verifications []diagnostic.VerificationReport `json:"verifications"`
	Effects       []diagnostic.EffectReport       `json:"effects"`
	Diagnostics   []diagnostic.Diagnostic         `json:"diagnostics"`
}

func writeReport(w io.Writer, report *contractaway.Report) error {
	if checkJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		out := jsonReport{
			Verifications: report.Verifications,
			Effects:       report.Effects,
			Diagnostics:   report.Diagnostics,
		}
		for _, id := range report.Order {
			fr := report.Functions[id]
			jf := jsonFunction{
				ID:               id,
				EffectSound:      fr.EffectSound,
				Sinks:            fr.Sinks,
				Sources:          fr.Sources,
				ReachableSinks:   fr.ReachableSinks,
				ReachableSources: fr.ReachableSources,
			}
			for _, g := range fr.RuntimeGuards {
				jf.RuntimeGuards = append(jf.RuntimeGuards, g.String())
			}
			out.Functions = append(out.Functions, jf)
		}
		return enc.Encode(out)
	}
	if err := contractaway.WriteDiagnostics(w, report.Diagnostics, cfg.PrettyPrint); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d function(s), %d verification condition(s), %d diagnostic(s)\n",
		len(report.Order), len(report.VCs), len(report.Diagnostics))
	return err
}
