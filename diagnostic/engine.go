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

package diagnostic

import (
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/inference"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/taint"
	"go.uber.org/contractaway/vcgen"
	"go.uber.org/zap"
)

// Engine collects analysis results and turns them into reports and diagnostics.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	verifications []VerificationReport
	effects       []EffectReport
	conflicts     []effectConflict
	diagnostics   []Diagnostic
}

// NewEngine creates a diagnostic engine. Severities follow cfg.
func NewEngine(cfg *config.Config, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// VerdictSeverity maps the status of a VC to the severity of its diagnostic. Proved VCs have no
// diagnostic and yield 0.
func (e *Engine) VerdictSeverity(v solver.Verdict) Severity {
	switch v {
	case solver.Proved:
		return 0
	case solver.Disproved:
		if e.cfg.Strict {
			return Error
		}
		return Warning
	}
	if e.cfg.UnknownAsWarning {
		return Warning
	}
	return Info
}

// AddVerifications records the outcome of every VC. VCs must be resolved.
func (e *Engine) AddVerifications(vcs []*vcgen.VC) {
	for _, vc := range vcs {
		outcome := vc.Outcome
		if outcome.Verdict == solver.Unproved {
			e.logger.Warn("reporting unresolved verification condition", zap.String("vc", vc.ID))
			outcome = solver.UnknownOutcome(solver.ReasonInternal, "never resolved")
		}

		r := VerificationReport{
			FunctionID:     vc.FunctionID,
			VCID:           vc.ID,
			ContractKind:   vc.Kind,
			Status:         outcome.Verdict,
			Message:        vc.Message(),
			Counterexample: outcome.Counterexample,
			Solver:         outcome.Solver,
		}
		if vc.Origin != nil {
			r.Source = vc.Origin.Text()
		}
		if outcome.Verdict == solver.Unknown {
			r.Reason = outcome.Explain()
		}
		e.verifications = append(e.verifications, r)

		if sev := e.VerdictSeverity(outcome.Verdict); sev != 0 {
			code := CodeContractUnknown
			if outcome.Verdict == solver.Disproved {
				code = CodeContractDisproved
			}
			e.diagnostics = append(e.diagnostics, Diagnostic{
				FunctionID: vc.FunctionID,
				Severity:   sev,
				Code:       code,
				Message:    verificationMessage(vc, r),
			})
		}
	}
}

func verificationMessage(vc *vcgen.VC, r VerificationReport) string {
	msg := r.Message
	if vc.Origin != nil && vc.Origin.Message != "" && r.Source != "" {
		msg += " (`" + r.Source + "`)"
	}
	if vc.Kind == vcgen.KindCallSite {
		msg += " at call to " + vc.Callee
	}
	switch r.Status {
	case solver.Disproved:
		if len(r.Counterexample) == 0 {
			return msg + "; disproved"
		}
		return msg + "; counterexample: " + r.Counterexample.String()
	case solver.Unknown:
		return msg + "; not proved (" + r.Reason + "), checked at runtime"
	}
	return msg
}

// AddEffects records the effect soundness of every function of res.
func (e *Engine) AddEffects(res *inference.Result) {
	for _, c := range res.All() {
		r := EffectReport{
			FunctionID:     c.FunctionID,
			Sound:          c.Sound,
			MissingEffects: c.Missing,
			Witnesses:      c.Witnesses,
		}
		if len(c.Witnesses) > 0 {
			r.WitnessPath = c.Witnesses[0].Path
		}
		e.effects = append(e.effects, r)

		for _, m := range c.Missing {
			ec := effectConflict{functionID: c.FunctionID, effect: m}
			for i := range c.Witnesses {
				if c.Witnesses[i].Effect == m {
					ec.witness = &c.Witnesses[i]
					break
				}
			}
			e.conflicts = append(e.conflicts, ec)
		}
	}
}

// AddRejectedEffects reports the malformed effect strings of f, which were dropped.
func (e *Engine) AddRejectedEffects(f *decl.FunctionSpec) {
	for _, m := range f.RejectedEffects {
		e.logger.Warn("dropping malformed effect", zap.String("function", f.ID), zap.String("effect", m.Text), zap.String("reason", m.Reason))
		e.diagnostics = append(e.diagnostics, Diagnostic{
			FunctionID: f.ID,
			Severity:   Warning,
			Code:       CodeMalformedEffect,
			Message:    fmt.Sprintf("malformed effect %q ignored: %s", m.Text, m.Reason),
		})
	}
}

// AddUnknownResources reports effects whose resource has no taint classification.
func (e *Engine) AddUnknownResources(fc taint.FunctionClassification) {
	for _, u := range fc.Unknown {
		e.logger.Warn("effect resource is unknown", zap.String("function", fc.FunctionID), zap.Stringer("effect", u))
		e.diagnostics = append(e.diagnostics, Diagnostic{
			FunctionID: fc.FunctionID,
			Severity:   Info,
			Code:       CodeUnknownResource,
			Message:    fmt.Sprintf("effect %s names an unknown resource and is neither a taint sink nor a source", u),
		})
	}
}

// VerificationReports returns the verification reports in VC order.
func (e *Engine) VerificationReports() []VerificationReport { return slices.Clone(e.verifications) }

// EffectReports returns the effect reports in declaration order.
func (e *Engine) EffectReports() []EffectReport { return slices.Clone(e.effects) }

// Diagnostics returns every diagnostic, sorted by function id, then descending severity, then
// code and message. Every unsound function gets its own effect diagnostic; with grouping, each
// of them also names the other functions missing the same effect of the same declaring function.
func (e *Engine) Diagnostics(grouping bool) []Diagnostic {
	conflicts := slices.Clone(e.conflicts)
	slices.SortStableFunc(conflicts, func(a, b effectConflict) int {
		if n := cmp.Compare(a.functionID, b.functionID); n != 0 {
			return n
		}
		return decl.CompareEffects(a.effect, b.effect)
	})
	if grouping {
		conflicts = groupConflicts(conflicts)
	}

	out := slices.Clone(e.diagnostics)
	for _, c := range conflicts {
		out = append(out, Diagnostic{
			FunctionID: c.functionID,
			Severity:   Error,
			Code:       CodeEffectUnsound,
			Message:    c.String(),
		})
	}
	slices.SortStableFunc(out, func(a, b Diagnostic) int {
		if n := cmp.Compare(a.FunctionID, b.FunctionID); n != 0 {
			return n
		}
		if n := cmp.Compare(b.Severity, a.Severity); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Code, b.Code); n != 0 {
			return n
		}
		return cmp.Compare(a.Message, b.Message)
	})
	return out
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(ds []Diagnostic) bool {
	return slices.ContainsFunc(ds, func(d Diagnostic) bool { return d.Severity == Error })
}
