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

// Package taint classifies effect declarations as taint sinks and sources for downstream security
// analysis. Writes may be sinks and reads may be sources; a read-write effect may be both. The
// classification is driven by lookup tables held by a Table, so it stays inspectable as data.
package taint

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/contractaway/decl"
)

// Sink is a security-relevant operation that must not receive untrusted data.
type Sink uint8

// Sinks. SinkNone is the absence of a classification.
const (
	SinkNone Sink = iota
	SQLQuery
	FilePath
	URLRedirect
	CommandExecution
	HTMLOutput
	CodeEval
	Deserialization
	LogOutput
)

var sinkNames = [...]string{
	SinkNone:         "None",
	SQLQuery:         "SqlQuery",
	FilePath:         "FilePath",
	URLRedirect:      "UrlRedirect",
	CommandExecution: "CommandExecution",
	HTMLOutput:       "HtmlOutput",
	CodeEval:         "CodeEval",
	Deserialization:  "Deserialization",
	LogOutput:        "LogOutput",
}

func (s Sink) String() string {
	if int(s) < len(sinkNames) {
		return sinkNames[s]
	}
	return "Sink(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s Sink) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSink returns the sink named s, as printed by String.
func ParseSink(s string) (Sink, bool) {
	for i, name := range sinkNames {
		if name == s {
			return Sink(i), true
		}
	}
	return SinkNone, false
}

// Source is an origin of untrusted data.
type Source uint8

// Sources. SourceNone is the absence of a classification.
const (
	SourceNone Source = iota
	DatabaseResult
	FileRead
	NetworkInput
	UserInput
	Environment
)

var sourceNames = [...]string{
	SourceNone:     "None",
	DatabaseResult: "DatabaseResult",
	FileRead:       "FileRead",
	NetworkInput:   "NetworkInput",
	UserInput:      "UserInput",
	Environment:    "Environment",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return "Source(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSource returns the source named s, as printed by String.
func ParseSource(s string) (Source, bool) {
	for i, name := range sourceNames {
		if name == s {
			return Source(i), true
		}
	}
	return SourceNone, false
}

// DefaultSinks maps resource names to the sink their writes reach.
func DefaultSinks() map[string]Sink {
	return map[string]Sink{
		"db": SQLQuery, "database": SQLQuery, "sql": SQLQuery,
		"fs": FilePath, "filesystem": FilePath, "file": FilePath,
		"net": URLRedirect, "network": URLRedirect, "http": URLRedirect,
		"process": CommandExecution, "system": CommandExecution, "exec": CommandExecution, "shell": CommandExecution,
		"html": HTMLOutput, "web": HTMLOutput, "response": HTMLOutput,
		"eval": CodeEval, "code": CodeEval, "script": CodeEval,
		"serialize": Deserialization, "deserialize": Deserialization, "marshal": Deserialization,
		"log": LogOutput, "audit": LogOutput,
	}
}

// DefaultSources maps resource names to the source their reads come from.
func DefaultSources() map[string]Source {
	return map[string]Source{
		"db": DatabaseResult, "database": DatabaseResult, "sql": DatabaseResult,
		"fs": FileRead, "filesystem": FileRead, "file": FileRead,
		"net": NetworkInput, "network": NetworkInput, "http": NetworkInput,
		"console": UserInput, "stdin": UserInput,
		"env": Environment, "environment": Environment,
	}
}

// Table holds the resource lookup tables. It is immutable and safe for concurrent use.
type Table struct {
	sinks   map[string]Sink
	sources map[string]Source
}

// NewTable returns a table with the default resource mappings.
func NewTable() *Table {
	return NewTableFrom(DefaultSinks(), DefaultSources())
}

// NewTableFrom returns a table over the given mappings. Resource names are matched
// case-insensitively; the maps are copied.
func NewTableFrom(sinks map[string]Sink, sources map[string]Source) *Table {
	t := &Table{sinks: make(map[string]Sink, len(sinks)), sources: make(map[string]Source, len(sources))}
	for r, s := range sinks {
		t.sinks[strings.ToLower(r)] = s
	}
	for r, s := range sources {
		t.sources[strings.ToLower(r)] = s
	}
	return t
}

// Sinks returns a copy of the sink table.
func (t *Table) Sinks() map[string]Sink { return maps.Clone(t.sinks) }

// Sources returns a copy of the source table.
func (t *Table) Sources() map[string]Source { return maps.Clone(t.sources) }

// Sink classifies a write or read-write effect. Reads and pure effects are never sinks.
func (t *Table) Sink(e decl.EffectDeclaration) Sink {
	if e.Kind == decl.Pure || !e.Access.Writes() {
		return SinkNone
	}
	return t.sinks[e.Resource]
}

// Source classifies a read or read-write effect. Writes and pure effects are never sources.
func (t *Table) Source(e decl.EffectDeclaration) Source {
	if e.Kind == decl.Pure || !e.Access.Reads() {
		return SourceNone
	}
	return t.sources[e.Resource]
}

// Known reports whether the resource of e means something to the analysis: it appears in a table
// or has a kind other than IO. Unknown resources silently classify as None.
func (t *Table) Known(e decl.EffectDeclaration) bool {
	if e.Kind != decl.IO {
		return true
	}
	_, sink := t.sinks[e.Resource]
	_, source := t.sources[e.Resource]
	return sink || source
}

// Classification is the taint verdict of one effect.
type Classification struct {
	Effect decl.EffectDeclaration
	Sink   Sink
	Source Source
}

// Classify classifies e on both sides.
func (t *Table) Classify(e decl.EffectDeclaration) Classification {
	return Classification{Effect: e, Sink: t.Sink(e), Source: t.Source(e)}
}

// canonicalResource is the resource an effect value without one stands for.
var canonicalResource = map[decl.EffectKind]string{
	decl.Console: "console",
	decl.Process: "process",
	decl.Memory:  "memory",
}

// compoundSuffixes are the access spellings of compound tags, longest first so that "_read_write"
// is not taken for "_write".
var compoundSuffixes = []struct {
	suffix string
	access decl.Access
}{
	{"_read_write", decl.ReadWrite},
	{"_readwrite", decl.ReadWrite},
	{"_write", decl.Write},
	{"_read", decl.Read},
	{"_rw", decl.ReadWrite},
	{"_r", decl.Read},
	{"_w", decl.Write},
}

// ParseKindValue reads an effect from an effect kind and a value string as produced by earlier
// compiler stages: either "<resource>:<access>" or a compound tag such as "database_write". A
// missing resource falls back to the canonical resource of the kind.
func ParseKindValue(kind decl.EffectKind, value string) (decl.EffectDeclaration, bool) {
	if kind == decl.Pure {
		return decl.PureEffect, true
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "pure" {
		return decl.PureEffect, true
	}

	resource, access, ok := "", decl.Access(0), false
	if r, a, found := strings.Cut(value, ":"); found {
		acc, valid := decl.ParseAccess(strings.TrimSpace(a))
		if !valid {
			return decl.EffectDeclaration{}, false
		}
		resource, access, ok = strings.TrimSpace(r), acc, true
	} else {
		for _, c := range compoundSuffixes {
			if r, found := strings.CutSuffix(value, c.suffix); found {
				resource, access, ok = r, c.access, true
				break
			}
		}
	}
	if !ok {
		return decl.EffectDeclaration{}, false
	}
	if resource == "" {
		if resource, ok = canonicalResource[kind]; !ok {
			return decl.EffectDeclaration{}, false
		}
	}
	e, err := decl.ParseEffect(resource + ":" + access.String())
	if err != nil {
		return decl.EffectDeclaration{}, false
	}
	return e, true
}

// ClassifyKindValue classifies an effect given as a kind and a value string; see ParseKindValue.
// It agrees with Classify on every effect expressible in both forms. The boolean is false when
// the value cannot be read as an effect, in which case both sides are None.
func (t *Table) ClassifyKindValue(kind decl.EffectKind, value string) (Classification, bool) {
	e, ok := ParseKindValue(kind, value)
	if !ok {
		return Classification{}, false
	}
	return t.Classify(e), true
}

// FunctionClassification collects the sinks and sources of one function's declared effects.
type FunctionClassification struct {
	FunctionID string
	// Sinks and Sources are deduplicated and sorted.
	Sinks   []Sink
	Sources []Source
	// Unknown lists the effects with a resource the tables do not know.
	Unknown []decl.EffectDeclaration
}

// ClassifyFunction classifies the declared effects of f.
func (t *Table) ClassifyFunction(f *decl.FunctionSpec) FunctionClassification {
	fc := FunctionClassification{FunctionID: f.ID}
	for _, e := range f.DeclaredEffects().Sorted() {
		if e.Kind == decl.Pure {
			continue
		}
		if !t.Known(e) {
			fc.Unknown = append(fc.Unknown, e)
		}
		c := t.Classify(e)
		if c.Sink != SinkNone && !slices.Contains(fc.Sinks, c.Sink) {
			fc.Sinks = append(fc.Sinks, c.Sink)
		}
		if c.Source != SourceNone && !slices.Contains(fc.Sources, c.Source) {
			fc.Sources = append(fc.Sources, c.Source)
		}
	}
	slices.Sort(fc.Sinks)
	slices.Sort(fc.Sources)
	return fc
}
