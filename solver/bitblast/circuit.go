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

package bitblast

import (
	"fmt"

	"go.uber.org/contractaway/solver"
)

// lit is a DIMACS literal: +v or -v for variable v >= 1.
type lit int

// Variable 1 is pinned to true by a unit clause, so constants are ordinary literals and no
// clause is ever empty.
const (
	litTrue  lit = 1
	litFalse lit = -1
)

func boolLit(b bool) lit {
	if b {
		return litTrue
	}
	return litFalse
}

func (l lit) isConst() bool { return l == litTrue || l == litFalse }

// bailout aborts encoding; Check turns it into an Unknown outcome.
type bailout struct {
	reason solver.Reason
	detail string
}

func bail(reason solver.Reason, format string, args ...any) {
	panic(bailout{reason: reason, detail: fmt.Sprintf(format, args...)})
}

type gateKey struct {
	op   byte
	a, b lit
}

// circuit accumulates a CNF through Tseitin-encoded gates with constant folding and structural
// hashing.
type circuit struct {
	nvars      int
	clauses    [][]int
	maxClauses int
	gates      map[gateKey]lit
}

func newCircuit(maxClauses int) *circuit {
	return &circuit{
		nvars:      1,
		clauses:    [][]int{{int(litTrue)}},
		maxClauses: maxClauses,
		gates:      make(map[gateKey]lit),
	}
}

func (c *circuit) fresh() lit {
	c.nvars++
	return lit(c.nvars)
}

// clause adds the disjunction of ls after dropping false literals; clauses containing a true
// literal are satisfied and skipped.
func (c *circuit) clause(ls ...lit) {
	out := make([]int, 0, len(ls))
	for _, l := range ls {
		switch l {
		case litTrue:
			return
		case litFalse:
			continue
		}
		out = append(out, int(l))
	}
	if len(out) == 0 {
		out = append(out, int(litFalse))
	}
	if c.maxClauses > 0 && len(c.clauses) >= c.maxClauses {
		bail(solver.ReasonTooLarge, "more than %d clauses", c.maxClauses)
	}
	c.clauses = append(c.clauses, out)
}

func (c *circuit) assert(l lit) { c.clause(l) }

func (c *circuit) implies(a, b lit) { c.clause(-a, b) }

func ordered(a, b lit) (lit, lit) {
	if a > b {
		return b, a
	}
	return a, b
}

func (c *circuit) and(a, b lit) lit {
	switch {
	case a == litFalse || b == litFalse || a == -b:
		return litFalse
	case a == litTrue:
		return b
	case b == litTrue || a == b:
		return a
	}
	a, b = ordered(a, b)
	key := gateKey{op: '&', a: a, b: b}
	if g, ok := c.gates[key]; ok {
		return g
	}
	g := c.fresh()
	c.clause(-g, a)
	c.clause(-g, b)
	c.clause(g, -a, -b)
	c.gates[key] = g
	return g
}

func (c *circuit) or(a, b lit) lit { return -c.and(-a, -b) }

func (c *circuit) andAll(ls ...lit) lit {
	out := litTrue
	for _, l := range ls {
		out = c.and(out, l)
	}
	return out
}

func (c *circuit) orAll(ls ...lit) lit {
	out := litFalse
	for _, l := range ls {
		out = c.or(out, l)
	}
	return out
}

func (c *circuit) xor(a, b lit) lit {
	switch {
	case a == litFalse:
		return b
	case b == litFalse:
		return a
	case a == litTrue:
		return -b
	case b == litTrue:
		return -a
	case a == b:
		return litFalse
	case a == -b:
		return litTrue
	}
	// Normalize polarity so x^y, !x^y, ... share one gate.
	neg := false
	if a < 0 {
		a, neg = -a, !neg
	}
	if b < 0 {
		b, neg = -b, !neg
	}
	a, b = ordered(a, b)
	key := gateKey{op: '^', a: a, b: b}
	g, ok := c.gates[key]
	if !ok {
		g = c.fresh()
		c.clause(-g, a, b)
		c.clause(-g, -a, -b)
		c.clause(g, -a, b)
		c.clause(g, a, -b)
		c.gates[key] = g
	}
	if neg {
		return -g
	}
	return g
}

func (c *circuit) iff(a, b lit) lit { return -c.xor(a, b) }

func (c *circuit) ite(cond, t, e lit) lit {
	switch {
	case cond == litTrue:
		return t
	case cond == litFalse:
		return e
	case t == e:
		return t
	case t == litTrue:
		return c.or(cond, e)
	case t == litFalse:
		return c.and(-cond, e)
	case e == litTrue:
		return c.or(-cond, t)
	case e == litFalse:
		return c.and(cond, t)
	}
	g := c.fresh()
	c.clause(-cond, -t, g)
	c.clause(-cond, t, -g)
	c.clause(cond, -e, g)
	c.clause(cond, e, -g)
	return g
}
