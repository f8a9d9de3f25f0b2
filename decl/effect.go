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

package decl

import (
	"errors"
	"fmt"
	"strings"
)

// EffectKind classifies the resource an effect touches.
type EffectKind uint8

const (
	// Pure marks a function without observable effects.
	Pure EffectKind = iota + 1
	// IO is the default kind for named external resources (db, fs, net, ...).
	IO
	// Process covers spawning or controlling processes.
	Process
	// Memory covers explicit heap or shared-memory manipulation.
	Memory
	// Console covers terminal input and output.
	Console
)

func (k EffectKind) String() string {
	switch k {
	case Pure:
		return "pure"
	case IO:
		return "io"
	case Process:
		return "process"
	case Memory:
		return "memory"
	case Console:
		return "console"
	}
	return "unknown"
}

// ParseEffectKind parses the lowercase name returned by EffectKind.String.
func ParseEffectKind(s string) (EffectKind, bool) {
	for k := Pure; k <= Console; k++ {
		if strings.EqualFold(s, k.String()) {
			return k, true
		}
	}
	return 0, false
}

// Access is the direction of an effect. It is a bit set: ReadWrite == Read|Write.
type Access uint8

const (
	// Read observes the resource.
	Read Access = 1 << iota
	// Write mutates the resource.
	Write
	// ReadWrite both observes and mutates the resource.
	ReadWrite = Read | Write
)

// String returns the textual access of the effect string format.
func (a Access) String() string {
	switch a {
	case Read:
		return "r"
	case Write:
		return "w"
	case ReadWrite:
		return "rw"
	}
	return "?"
}

// Reads reports whether a includes reading.
func (a Access) Reads() bool { return a&Read != 0 }

// Writes reports whether a includes writing.
func (a Access) Writes() bool { return a&Write != 0 }

// Includes reports whether a grants everything other grants.
func (a Access) Includes(other Access) bool { return a&other == other }

// ParseAccess parses r, w or rw.
func ParseAccess(s string) (Access, bool) {
	switch s {
	case "r":
		return Read, true
	case "w":
		return Write, true
	case "rw":
		return ReadWrite, true
	}
	return 0, false
}

// EffectDeclaration is one parsed entry of a function's effect annotation.
type EffectDeclaration struct {
	Kind     EffectKind
	Resource string
	Access   Access
}

// PureEffect is the declaration produced by the bare string "pure".
var PureEffect = EffectDeclaration{Kind: Pure, Resource: "pure", Access: Read}

// String renders the declaration back in "<resource>:<access>" form.
func (e EffectDeclaration) String() string {
	if e.Kind == Pure {
		return "pure"
	}
	return e.Resource + ":" + e.Access.String()
}

// MarshalText implements encoding.TextMarshaler with the "<resource>:<access>" form.
func (e EffectDeclaration) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// ErrMalformedEffect is wrapped by MalformedEffectError.
var ErrMalformedEffect = errors.New("malformed effect string")

// MalformedEffectError reports an effect string that does not follow "<resource>:<access>".
type MalformedEffectError struct {
	Text   string
	Reason string
}

func (e *MalformedEffectError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedEffect, e.Text, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedEffect.
func (e *MalformedEffectError) Unwrap() error { return ErrMalformedEffect }

// kindByResource lists resources whose kind is not the IO default.
var kindByResource = map[string]EffectKind{
	"pure":    Pure,
	"process": Process,
	"system":  Process,
	"exec":    Process,
	"shell":   Process,
	"memory":  Memory,
	"mem":     Memory,
	"heap":    Memory,
	"alloc":   Memory,
	"console": Console,
	"stdin":   Console,
	"stdout":  Console,
	"stderr":  Console,
}

// KindOfResource derives the effect kind of a resource name. Unknown resources are IO.
func KindOfResource(resource string) EffectKind {
	if k, ok := kindByResource[strings.ToLower(resource)]; ok {
		return k
	}
	return IO
}

// ParseEffect parses one effect string such as "db:w", "fs:r", "net:rw" or "pure". Resource names
// are case-insensitive and normalized to lower case.
func ParseEffect(s string) (EffectDeclaration, error) {
	text := strings.TrimSpace(s)
	if strings.EqualFold(text, "pure") {
		return PureEffect, nil
	}
	resource, access, ok := strings.Cut(text, ":")
	if !ok {
		return EffectDeclaration{}, &MalformedEffectError{Text: s, Reason: "missing ':' separator"}
	}
	resource = strings.ToLower(strings.TrimSpace(resource))
	access = strings.ToLower(strings.TrimSpace(access))
	if resource == "" {
		return EffectDeclaration{}, &MalformedEffectError{Text: s, Reason: "empty resource"}
	}
	if strings.ContainsAny(resource, ": \t") {
		return EffectDeclaration{}, &MalformedEffectError{Text: s, Reason: "invalid resource name"}
	}
	acc, ok := ParseAccess(access)
	if !ok {
		return EffectDeclaration{}, &MalformedEffectError{Text: s, Reason: fmt.Sprintf("unknown access %q, want r, w or rw", access)}
	}
	kind := KindOfResource(resource)
	if kind == Pure {
		return PureEffect, nil
	}
	return EffectDeclaration{Kind: kind, Resource: resource, Access: acc}, nil
}

// ParseEffects parses every string, returning the well-formed declarations and one error per
// rejected string. Malformed entries never abort the batch.
func ParseEffects(ss []string) ([]EffectDeclaration, []error) {
	var (
		out  []EffectDeclaration
		errs []error
	)
	for _, s := range ss {
		e, err := ParseEffect(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, e)
	}
	return out, errs
}
