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
	"fmt"
	"io"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/contractaway/diagnostic"
)

var (
	codeReferencePattern = regexp.MustCompile("`(.*?)`")
	quotedPattern        = regexp.MustCompile(`"(.*?)"`)
	bindingPattern       = regexp.MustCompile(`(counterexample:)`)

	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	idStyle      = lipgloss.NewStyle().Bold(true)
	codeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

func severityStyle(s diagnostic.Severity) lipgloss.Style {
	switch s {
	case diagnostic.Error:
		return errorStyle
	case diagnostic.Warning:
		return warningStyle
	}
	return infoStyle
}

// PrettyPrint renders a diagnostic with colors: the severity, the function id, code references in
// backquotes and quoted names are highlighted.
func PrettyPrint(d diagnostic.Diagnostic) string {
	msg := codeReferencePattern.ReplaceAllStringFunc(d.Message, func(m string) string { return codeStyle.Render(m) })
	msg = quotedPattern.ReplaceAllStringFunc(msg, func(m string) string { return pathStyle.Render(m) })
	msg = bindingPattern.ReplaceAllStringFunc(msg, func(m string) string { return idStyle.Render(m) })
	return severityStyle(d.Severity).Render(d.Severity.String()+":") + " " +
		idStyle.Render(d.FunctionID) + ": " + msg + " " + faintStyle.Render("["+string(d.Code)+"]")
}

// WriteDiagnostics writes one line per diagnostic, colored when pretty is set.
func WriteDiagnostics(w io.Writer, ds []diagnostic.Diagnostic, pretty bool) error {
	for _, d := range ds {
		line := d.String()
		if pretty {
			line = PrettyPrint(d)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
