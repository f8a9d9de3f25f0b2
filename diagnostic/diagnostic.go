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

// Package diagnostic assembles the outcome of the analyses into reports: one verification report
// per VC, one effect report per function, and the diagnostics a build integration shows to users.
// Severities follow the configuration, and every list comes out in a deterministic order.
package diagnostic

import (
	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/inference"
	"go.uber.org/contractaway/solver"
	"go.uber.org/contractaway/vcgen"
)

// Severity ranks diagnostics.
type Severity uint8

const (
	// Info reports something the user may want to know, such as an undecided contract.
	Info Severity = iota + 1
	// Warning reports a likely problem that does not fail the build.
	Warning
	// Error reports a problem the build should fail on.
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Code identifies the kind of a diagnostic.
type Code string

// Diagnostic codes.
const (
	CodeContractDisproved Code = "contract-disproved"
	CodeContractUnknown   Code = "contract-unknown"
	CodeEffectUnsound     Code = "effect-unsound"
	CodeMalformedEffect   Code = "malformed-effect"
	CodeUnknownResource   Code = "unknown-resource"
)

// Diagnostic is one user-facing finding.
type Diagnostic struct {
	FunctionID string
	Severity   Severity
	Code       Code
	Message    string
}

func (d Diagnostic) String() string {
	return d.Severity.String() + ": " + d.FunctionID + ": " + d.Message + " [" + string(d.Code) + "]"
}

// VerificationReport is the outcome of one VC.
type VerificationReport struct {
	FunctionID   string
	VCID         string
	ContractKind vcgen.Kind
	Status       solver.Verdict
	Message      string
	// Source is the contract source text, when the VC stems from a contract.
	Source         string
	Counterexample solver.Counterexample
	// Reason explains an Unknown status.
	Reason string
	Solver string
}

// EffectReport is the effect soundness of one function.
type EffectReport struct {
	FunctionID     string
	Sound          bool
	MissingEffects []decl.EffectDeclaration
	// WitnessPath is the call path of the first missing effect; Witnesses holds one per effect.
	WitnessPath []string
	Witnesses   []inference.Witness
}
