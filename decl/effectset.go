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
	"cmp"
	"maps"
	"slices"
)

// EffectSet is a set of effect declarations.
type EffectSet map[EffectDeclaration]bool

// NewEffectSet returns a set holding the given effects.
func NewEffectSet(effects ...EffectDeclaration) EffectSet {
	return make(EffectSet).Add(effects...)
}

// Add inserts effects into s and returns s.
func (s EffectSet) Add(effects ...EffectDeclaration) EffectSet {
	for _, e := range effects {
		s[e] = true
	}
	return s
}

func (s EffectSet) Contains(e EffectDeclaration) bool { return s[e] }

// SubsetOf reports whether every effect of s is in other.
func (s EffectSet) SubsetOf(other EffectSet) bool {
	for e := range s {
		if !other.Contains(e) {
			return false
		}
	}
	return true
}

// Union returns a new set holding the effects of s and of every other set.
func (s EffectSet) Union(others ...EffectSet) EffectSet {
	out := maps.Clone(s)
	if out == nil {
		out = make(EffectSet)
	}
	for _, other := range others {
		maps.Copy(out, other)
	}
	return out
}

func (s EffectSet) Eq(other EffectSet) bool {
	return len(s) == len(other) && s.SubsetOf(other)
}

// Copy returns a new set with the effects of s.
func (s EffectSet) Copy() EffectSet { return s.Union() }

// Covers reports whether some declared effect in s covers e: same resource and an access that
// includes e's access. Pure effects are always covered.
func (s EffectSet) Covers(e EffectDeclaration) bool {
	if e.Kind == Pure {
		return true
	}
	for d := range s {
		if d.Kind != Pure && d.Resource == e.Resource && d.Access.Includes(e.Access) {
			return true
		}
	}
	return false
}

// Uncovered returns the effects of reached that s does not cover, sorted.
func (s EffectSet) Uncovered(reached EffectSet) []EffectDeclaration {
	var out []EffectDeclaration
	for _, e := range reached.Sorted() {
		if !s.Covers(e) {
			out = append(out, e)
		}
	}
	return out
}

// Sorted returns the effects ordered by resource, then access.
func (s EffectSet) Sorted() []EffectDeclaration {
	out := make([]EffectDeclaration, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	slices.SortFunc(out, CompareEffects)
	return out
}

// CompareEffects orders effects by resource, access, then kind.
func CompareEffects(a, b EffectDeclaration) int {
	if n := cmp.Compare(a.Resource, b.Resource); n != 0 {
		return n
	}
	if n := cmp.Compare(a.Access, b.Access); n != 0 {
		return n
	}
	return cmp.Compare(a.Kind, b.Kind)
}
