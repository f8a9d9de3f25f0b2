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

package smtlib

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
)

// errMalformed is wrapped by every error about unparseable solver output.
var errMalformed = errors.New("malformed solver output")

// sexp is an S-expression: an atom when list is nil.
type sexp struct {
	atom string
	list []sexp
}

func (s sexp) isList() bool { return s.list != nil }

// parseSexps reads every S-expression in src. String literals keep their quotes; quoted symbols
// keep their bars.
func parseSexps(src string) ([]sexp, error) {
	var (
		stack [][]sexp
		cur   = []sexp{}
	)
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			stack = append(stack, cur)
			cur = []sexp{}
			i++
		case c == ')':
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unbalanced ')' at offset %d", errMalformed, i)
			}
			parent := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur = append(parent, sexp{list: cur})
			i++
		case c == '"':
			j := i + 1
			for ; j < len(src); j++ {
				if src[j] == '"' {
					if j+1 < len(src) && src[j+1] == '"' {
						j++
						continue
					}
					break
				}
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string literal", errMalformed)
			}
			cur = append(cur, sexp{atom: src[i : j+1]})
			i = j + 1
		case c == '|':
			j := strings.IndexByte(src[i+1:], '|')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated quoted symbol", errMalformed)
			}
			cur = append(cur, sexp{atom: src[i : i+j+2]})
			i += j + 2
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t\r\n()\";|", rune(src[j])) {
				j++
			}
			cur = append(cur, sexp{atom: src[i:j]})
			i = j
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unbalanced '('", errMalformed)
	}
	return cur, nil
}

// bitvector decodes a bit-vector value: #x..., #b... or (_ bvN w).
func bitvector(s sexp) (uint64, int, error) {
	if s.isList() {
		if len(s.list) == 3 && s.list[0].atom == "_" && strings.HasPrefix(s.list[1].atom, "bv") {
			v, err := strconv.ParseUint(strings.TrimPrefix(s.list[1].atom, "bv"), 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: %w", errMalformed, err)
			}
			w, err := strconv.Atoi(s.list[2].atom)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: %w", errMalformed, err)
			}
			return v, w, nil
		}
		return 0, 0, fmt.Errorf("%w: not a bit-vector", errMalformed)
	}
	switch {
	case strings.HasPrefix(s.atom, "#x"):
		digits := s.atom[2:]
		if len(digits) > 16 {
			digits = digits[len(digits)-16:]
		}
		v, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", errMalformed, err)
		}
		return v, 4 * (len(s.atom) - 2), nil
	case strings.HasPrefix(s.atom, "#b"):
		digits := s.atom[2:]
		if len(digits) > 64 {
			digits = digits[len(digits)-64:]
		}
		v, err := strconv.ParseUint(digits, 2, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %w", errMalformed, err)
		}
		return v, len(s.atom) - 2, nil
	}
	return 0, 0, fmt.Errorf("%w: %q is not a bit-vector", errMalformed, s.atom)
}

// toInt interprets the low w bits of v as a two's-complement or unsigned integer.
func toInt(v uint64, w int, unsigned bool) int64 {
	if w >= 64 || w <= 0 {
		return int64(v)
	}
	v &= 1<<uint(w) - 1
	if !unsigned && v>>uint(w-1)&1 == 1 {
		v |= ^uint64(0) << uint(w)
	}
	return int64(v)
}

// unquote decodes an SMT-LIB string literal, including \u{...} escapes.
func unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '"' || lit[len(lit)-1] != '"' {
		return "", fmt.Errorf("%w: %q is not a string literal", errMalformed, lit)
	}
	body := strings.ReplaceAll(lit[1:len(lit)-1], `""`, `"`)
	var sb strings.Builder
	for i := 0; i < len(body); {
		if strings.HasPrefix(body[i:], `\u{`) {
			end := strings.IndexByte(body[i:], '}')
			if end > 0 {
				if r, err := strconv.ParseUint(body[i+3:i+end], 16, 32); err == nil {
					sb.WriteRune(rune(r))
					i += end + 1
					continue
				}
			}
		}
		r, size := utf8.DecodeRuneInString(body[i:])
		sb.WriteRune(r)
		i += size
	}
	return sb.String(), nil
}

func formatValue(s sexp, t expr.Type) (string, error) {
	switch t.Kind {
	case expr.Bool:
		if s.atom != "true" && s.atom != "false" {
			return "", fmt.Errorf("%w: %q is not a boolean", errMalformed, s.atom)
		}
		return s.atom, nil
	case expr.String:
		v, err := unquote(s.atom)
		if err != nil {
			return "", err
		}
		return strconv.Quote(v), nil
	}
	v, w, err := bitvector(s)
	if err != nil {
		return "", err
	}
	n := toInt(v, w, t.Unsigned)
	switch {
	case t.Kind == expr.Char:
		return strconv.QuoteRune(rune(n)), nil
	case t.Unsigned:
		return strconv.FormatUint(uint64(n), 10), nil
	}
	return strconv.FormatInt(n, 10), nil
}

// Interpret maps the solver's reply to an outcome. The script asserts the negated goal, so unsat
// proves the query and a model is a counterexample.
func (s *Script) Interpret(output string) solver.Outcome {
	output = strings.TrimSpace(output)
	status, rest, _ := strings.Cut(output, "\n")
	switch strings.TrimSpace(status) {
	case "unsat":
		return solver.ProvedOutcome()
	case "timeout":
		return solver.UnknownOutcome(solver.ReasonTimeout, "solver time limit reached")
	case "unknown":
		return solver.UnknownOutcome(solver.ReasonIncomplete, "solver returned unknown")
	case "sat":
	default:
		return solver.UnknownOutcome(solver.ReasonInternal, "unexpected solver output: "+firstLine(output))
	}

	cex, err := s.counterexample(rest)
	if err != nil {
		return solver.UnknownOutcome(solver.ReasonInternal, err.Error())
	}
	return solver.DisprovedOutcome(cex)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (s *Script) counterexample(values string) (solver.Counterexample, error) {
	if len(s.probes) == 0 {
		return nil, nil
	}
	exprs, err := parseSexps(values)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 || !exprs[0].isList() {
		return nil, fmt.Errorf("%w: missing model values", errMalformed)
	}
	pairs := exprs[0].list
	next := func() (sexp, error) {
		if len(pairs) == 0 {
			return sexp{}, fmt.Errorf("%w: too few model values", errMalformed)
		}
		p := pairs[0]
		pairs = pairs[1:]
		if len(p.list) != 2 {
			return sexp{}, fmt.Errorf("%w: model entry is not a pair", errMalformed)
		}
		return p.list[1], nil
	}

	var cex solver.Counterexample
	for _, p := range s.probes {
		if p.value != nil {
			v, err := next()
			if err != nil {
				return nil, err
			}
			text, err := formatValue(v, p.value.typ)
			if err != nil {
				return nil, err
			}
			cex = append(cex, solver.Binding{Name: p.value.name, Value: text})
			continue
		}
		bindings, err := arrayBindings(p.array, next)
		if err != nil {
			return nil, err
		}
		cex = append(cex, bindings...)
	}
	return cex, nil
}

func arrayBindings(a *arrayProbe, next func() (sexp, error)) ([]solver.Binding, error) {
	lv, err := next()
	if err != nil {
		return nil, err
	}
	raw, w, err := bitvector(lv)
	if err != nil {
		return nil, err
	}
	n := toInt(raw, w, true)
	out := []solver.Binding{{Name: "len(" + a.name + ")", Value: strconv.FormatInt(n, 10)}}

	type cell struct {
		index int64
		value string
	}
	var cells []cell
	seen := make(map[int64]bool)
	for range a.reads {
		iv, err := next()
		if err != nil {
			return nil, err
		}
		cv, err := next()
		if err != nil {
			return nil, err
		}
		raw, w, err := bitvector(iv)
		if err != nil {
			return nil, err
		}
		i := toInt(raw, w, false)
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		text, err := formatValue(cv, a.elem)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell{index: i, value: text})
	}
	slices.SortFunc(cells, func(x, y cell) int { return cmp.Compare(x.index, y.index) })
	for _, c := range cells {
		out = append(out, solver.Binding{Name: a.name + "[" + strconv.FormatInt(c.index, 10) + "]", Value: c.value})
	}
	return out, nil
}
