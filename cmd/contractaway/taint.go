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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/contractaway"
)

var taintDatalog string

var taintCmd = &cobra.Command{
	Use:   "taint <snapshot.json>",
	Short: "Classify effects as taint sinks and sources",
	Long: `Prints the taint sinks and sources of every function, both for its own declared effects and
for everything it transitively calls. With --datalog, the effect model is also written as Mangle
facts for downstream flow analysis ("-" for standard output).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := printTaint(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if taintDatalog == "" {
			return nil
		}
		if report.Facts == nil {
			return fmt.Errorf("no facts to export")
		}
		if taintDatalog == "-" {
			_, err = report.Facts.WriteTo(cmd.OutOrStdout())
			return err
		}
		f, err := os.Create(taintDatalog)
		if err != nil {
			return err
		}
		if _, err := report.Facts.WriteTo(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

func init() {
	taintCmd.Flags().StringVar(&taintDatalog, "datalog", "", "write the effect facts to this file")
}

func printTaint(w io.Writer, report *contractaway.Report) error {
	for _, id := range report.Order {
		fr := report.Functions[id]
		if len(fr.ReachableSinks) == 0 && len(fr.ReachableSources) == 0 {
			continue
		}
		_, err := fmt.Fprintf(w, "%s\n\tsinks:   %s (reachable: %s)\n\tsources: %s (reachable: %s)\n", id,
			list(fr.Sinks), list(fr.ReachableSinks), list(fr.Sources), list(fr.ReachableSources))
		if err != nil {
			return err
		}
	}
	return nil
}

func list[T fmt.Stringer](xs []T) string {
	if len(xs) == 0 {
		return "-"
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = x.String()
	}
	return strings.Join(parts, ", ")
}
