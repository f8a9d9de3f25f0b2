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

// Package bitblast implements an in-process solver for the fixed-width fragment of the contract
// language. Queries are translated into a propositional circuit (two's-complement bit-vectors,
// ripple adders, shift-add multipliers, quotient/remainder division, Skolemized or unrolled
// bounded quantifiers, Ackermann-constrained array reads) and handed to the gini CDCL solver,
// whose search is stopped as soon as the context of the check is done.
//
// The encoding is exact for integers, booleans, array literals and array parameters, so an
// unsatisfiable circuit proves the goal and a satisfying assignment is a real counterexample.
// Symbolic strings and instantiated quantifiers are over-approximated: their unsatisfiability is
// still a proof, but a model found through them is reported as Unknown.
package bitblast

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/contractaway/config"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/zap"
)

// Name is the backend name reported in outcomes.
const Name = "bitblast"

// Options bound the size of the generated circuits.
type Options struct {
	// MaxClauses aborts encoding with Unknown(too large) beyond this many clauses; 0 is unlimited.
	MaxClauses int
	// UnrollLimit is the largest constant quantifier domain expanded in full.
	UnrollLimit int
	// IntWidth is the width of untyped integer constants.
	IntWidth int
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		MaxClauses:  config.DefaultMaxClauses,
		UnrollLimit: config.DefaultUnrollLimit,
		IntWidth:    expr.DefaultWidth,
	}
}

// Solver is the bit-blasting backend. It is stateless and safe for concurrent use.
type Solver struct {
	opts   Options
	logger *zap.Logger
}

// New returns a bit-blasting solver; a nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IntWidth == 0 {
		opts.IntWidth = expr.DefaultWidth
	}
	return &Solver{opts: opts, logger: logger}
}

// Name implements solver.Solver.
func (s *Solver) Name() string { return Name }

// Check implements solver.Solver.
func (s *Solver) Check(ctx context.Context, q *solver.Query) (out solver.Outcome) {
	defer func() { out.Solver = Name }()
	if err := ctx.Err(); err != nil {
		return solver.UnknownOutcome(solver.ReasonTimeout, err.Error())
	}

	enc, root, unknown := s.encode(q)
	if unknown != nil {
		return *unknown
	}
	if root == litFalse {
		return solver.ProvedOutcome()
	}
	enc.c.assert(root)
	s.logger.Debug("solving bit-blasted query",
		zap.Int("vars", enc.c.nvars), zap.Int("clauses", len(enc.c.clauses)))

	status, model := solveCNF(ctx, enc.c.nvars, enc.c.clauses)
	switch status {
	case satUnsat:
		return solver.ProvedOutcome()
	case satSat:
		cex := enc.counterexample(model)
		if len(enc.incomplete) > 0 {
			o := solver.UnknownOutcome(solver.ReasonIncomplete, strings.Join(enc.incomplete, ", "))
			if len(cex) > 0 {
				o.Detail += "; candidate " + cex.String()
			}
			return o
		}
		return solver.DisprovedOutcome(cex)
	}
	if err := ctx.Err(); err != nil {
		return solver.UnknownOutcome(solver.ReasonTimeout, err.Error())
	}
	return solver.UnknownOutcome(solver.ReasonIncomplete, "SAT solver gave up")
}

// encode builds the circuit, turning a bailout into an Unknown outcome.
func (s *Solver) encode(q *solver.Query) (enc *encoder, root lit, unknown *solver.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			s.logger.Debug("query outside the bit-blasted fragment",
				zap.String("reason", string(b.reason)), zap.String("detail", b.detail))
			o := solver.UnknownOutcome(b.reason, b.detail)
			unknown = &o
		}
	}()
	if q.Goal == nil {
		bail(solver.ReasonUnsupported, "query without goal")
	}
	enc = newEncoder(q, s.opts)
	root = enc.root()
	return enc, root, nil
}

type modelReader []bool

func (m modelReader) value(l lit) bool {
	switch l {
	case litTrue:
		return true
	case litFalse:
		return false
	}
	v := int(l)
	if v < 0 {
		v = -v
	}
	b := false
	if v-1 < len(m) {
		b = m[v-1]
	}
	if l < 0 {
		return !b
	}
	return b
}

func (m modelReader) bits(a bv, unsigned bool) int64 {
	var v uint64
	for i, l := range a {
		if i < 64 && m.value(l) {
			v |= 1 << uint(i)
		}
	}
	return extendValue(v, len(a), unsigned)
}

func formatInt(v int64, t expr.Type) string {
	switch {
	case t.Kind == expr.Char:
		return strconv.QuoteRune(rune(v))
	case t.Unsigned:
		return strconv.FormatUint(uint64(v), 10)
	}
	return strconv.FormatInt(v, 10)
}

// counterexample reads back the query variables in declaration order, then Skolem witnesses.
func (e *encoder) counterexample(model []bool) solver.Counterexample {
	m := modelReader(model)
	var cex solver.Counterexample
	for _, v := range e.query.Vars {
		switch {
		case e.ints[v.Name] != nil:
			cex = append(cex, solver.Binding{Name: v.Name, Value: formatInt(m.bits(e.ints[v.Name], v.Type.Unsigned), v.Type)})
		case e.bools[v.Name] != 0:
			cex = append(cex, solver.Binding{Name: v.Name, Value: strconv.FormatBool(m.value(e.bools[v.Name]))})
		case e.arrays[v.Name] != nil:
			cex = append(cex, e.arrayBindings(m, e.arrays[v.Name])...)
		case e.strs[v.Name].length != nil:
			cex = append(cex, solver.Binding{Name: "len(" + v.Name + ")", Value: strconv.FormatInt(m.bits(e.strs[v.Name].length, false), 10)})
		}
	}
	for _, s := range e.skolems {
		cex = append(cex, solver.Binding{Name: s.name, Value: formatInt(m.bits(s.bits, s.typ.Unsigned), s.typ)})
	}
	return cex
}

func (e *encoder) arrayBindings(m modelReader, a *symArray) []solver.Binding {
	n := m.bits(a.length, false)
	out := []solver.Binding{{Name: "len(" + a.name + ")", Value: strconv.FormatInt(n, 10)}}
	type cell struct {
		index int64
		value string
	}
	var cells []cell
	seen := make(map[int64]bool)
	for _, r := range a.reads {
		i := m.bits(r.index, false)
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		val := ""
		if a.elem.Kind == expr.Bool {
			val = strconv.FormatBool(m.value(r.value[0]))
		} else {
			val = formatInt(m.bits(r.value, a.elem.Unsigned), a.elem)
		}
		cells = append(cells, cell{index: i, value: val})
	}
	slices.SortFunc(cells, func(x, y cell) int { return cmp.Compare(x.index, y.index) })
	for _, c := range cells {
		out = append(out, solver.Binding{Name: fmt.Sprintf("%s[%d]", a.name, c.index), Value: c.value})
	}
	return out
}
