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
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/contractaway"
	"go.uber.org/contractaway/guard/goinject"
	"go.uber.org/contractaway/util/pathhelper"
	"go.uber.org/zap"
)

var (
	guardsGoFile string
	guardsWrite  bool
)

var guardsCmd = &cobra.Command{
	Use:   "guards <snapshot.json>",
	Short: "Print the runtime guards, or inject them into a Go file",
	Long: `Prints the runtime guards synthesized for every contract that could not be proved.

With --go, the guards are injected into the functions of that Go file whose names match the
function names of the snapshot, and the rewritten file is printed (or written back with -w).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if guardsGoFile == "" {
			return printGuards(cmd.OutOrStdout(), report)
		}
		src, err := injectGuards(guardsGoFile, report)
		if err != nil {
			return err
		}
		if guardsWrite {
			return os.WriteFile(guardsGoFile, src, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(src)
		return err
	},
}

func init() {
	guardsCmd.Flags().StringVar(&guardsGoFile, "go", "", "Go source file to inject the guards into")
	guardsCmd.Flags().BoolVarP(&guardsWrite, "write", "w", false, "write the result back to the Go file")
}

func printGuards(w io.Writer, report *contractaway.Report) error {
	for _, id := range report.Order {
		guards := report.Functions[id].RuntimeGuards
		if len(guards) == 0 {
			continue
		}
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
		for _, g := range guards {
			if _, err := fmt.Fprintf(w, "\t%s [%s]\n", g, g.Status); err != nil {
				return err
			}
		}
	}
	return nil
}

// injectGuards rewrites the functions of a Go file that implement snapshot functions. Functions
// whose guards cannot be rendered are left alone and logged.
func injectGuards(path string, report *contractaway.Report) ([]byte, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*ast.FuncDecl)
	for _, d := range file.Decls {
		if fn, ok := d.(*ast.FuncDecl); ok && fn.Recv == nil {
			byName[fn.Name.Name] = fn
		}
	}

	injected := 0
	for _, id := range report.Order {
		guards := report.Functions[id].RuntimeGuards
		if len(guards) == 0 {
			continue
		}
		spec, _ := report.Program.Lookup(id)
		fn := byName[spec.Name]
		if fn == nil {
			logger.Debug("no Go function for guarded function", zap.String("function", id), zap.String("name", spec.Name))
			continue
		}
		if err := goinject.Inject(fset, file, fn, spec, guards); err != nil {
			logger.Warn("guards not injected", zap.String("function", id), zap.Error(err))
			continue
		}
		injected++
	}
	logger.Info("injected runtime guards", pathhelper.Field("file", path), zap.Int("functions", injected))

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
