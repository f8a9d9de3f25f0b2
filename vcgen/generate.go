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

package vcgen

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/solver"
	"go.uber.org/zap"
)

// Options configure VC generation.
type Options struct {
	// IntWidth is the width of untyped integers in overflow bounds.
	IntWidth int
	// CheckOverflow adds a side VC for every signed or unsigned +, -, * and unary - of the body.
	CheckOverflow bool
	Logger        *zap.Logger
}

// Generator produces the VCs of a program. It is immutable and safe for concurrent use.
type Generator struct {
	prog *decl.Program
	opts Options
}

// New returns a generator over prog.
func New(prog *decl.Program, opts Options) *Generator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.IntWidth == 0 {
		opts.IntWidth = expr.DefaultWidth
	}
	return &Generator{prog: prog, opts: opts}
}

// Program generates and links the VCs of every function, in declaration order.
func (g *Generator) Program() []*VC {
	var vcs []*VC
	for _, f := range g.prog.Functions() {
		vcs = append(vcs, g.Function(f)...)
	}
	Link(vcs)
	return vcs
}

// env types expressions over f's parameters; calls to program functions take their declared
// return type.
func (g *Generator) env(f *decl.FunctionSpec) expr.Env {
	env := f.Env()
	env.Calls = func(target string) (expr.Type, bool) {
		callee, ok := g.prog.Lookup(target)
		if !ok {
			return expr.Type{}, false
		}
		return callee.ReturnType, true
	}
	return env
}

// Function generates the VCs owned by f: entry VCs for its preconditions, postcondition VCs,
// call-site VCs for the calls in its body and side VCs. VCs that cannot be discharged are
// resolved to Unknown right away.
func (g *Generator) Function(f *decl.FunctionSpec) []*VC {
	var vcs []*VC
	for i, p := range f.Preconditions {
		entry := &VC{
			ID:         f.ID + "#pre" + strconv.Itoa(i),
			FunctionID: f.ID,
			Kind:       KindPrecondition,
			Origin:     p,
			Index:      i,
			Guard:      p.Condition,
			Position:   decl.Pre,
			exported:   f.Exported,
			callers:    g.prog.Callers(f.ID),
		}
		vcs = append(vcs, entry)
		if q := unbounded(p.Condition); q != nil {
			g.giveUp(entry, solver.ReasonUnboundedDomain, q.String())
		}
	}

	s := newSummarizer(g)
	assumptions := g.assumptions(f, s)
	sum, err := s.summarize(f)

	for i, q := range f.Postconditions {
		vc := &VC{
			ID:         f.ID + "#post" + strconv.Itoa(i),
			FunctionID: f.ID,
			Kind:       KindPostcondition,
			Origin:     q,
			Index:      i,
			Guard:      q.Condition,
			Position:   decl.Post,
		}
		vcs = append(vcs, vc)
		if err != nil {
			g.giveUp(vc, solver.ReasonUnsupported, err.Error())
			continue
		}
		goal := q.Condition
		if slices.Contains(expr.FreeVars(goal), expr.ResultName) {
			if sum.value == nil {
				g.giveUp(vc, solver.ReasonUnsupported, f.ID+" returns no value")
				continue
			}
			goal = expr.Substitute(goal, map[string]expr.Expr{expr.ResultName: sum.value})
		}
		g.finish(vc, f, s, assumptions, goal)
	}

	if err != nil {
		// The calls cannot be located in the body; every callee precondition stays open.
		for _, id := range f.Calls {
			callee, ok := g.prog.Lookup(id)
			if !ok {
				continue
			}
			for j, p := range callee.Preconditions {
				vc := g.callSite(f, callee, p, j, len(vcs))
				vcs = append(vcs, vc)
				g.giveUp(vc, solver.ReasonUnsupported, err.Error())
			}
		}
		return vcs
	}

	for _, site := range sum.sites {
		sub := make(map[string]expr.Expr, len(site.callee.Params))
		for i, p := range site.callee.Params {
			if i < len(site.args) {
				sub[p.Name] = site.args[i]
			}
		}
		for j, p := range site.callee.Preconditions {
			vc := g.callSite(f, site.callee, p, j, len(vcs))
			vcs = append(vcs, vc)
			if len(site.args) != len(site.callee.Params) {
				g.giveUp(vc, solver.ReasonUnsupported, fmt.Sprintf("call to %s with %d arguments", site.callee.ID, len(site.args)))
				continue
			}
			g.finish(vc, f, s, append(slices.Clone(assumptions), site.guard), expr.Substitute(p.Condition, sub))
		}
	}

	counts := make(map[Kind]int)
	for _, sd := range sum.sides {
		vc := &VC{
			ID:         f.ID + "#" + sideTag(sd.kind) + strconv.Itoa(counts[sd.kind]),
			FunctionID: f.ID,
			Kind:       sd.kind,
			Guard:      expr.ImpliesE(sd.guard, sd.cond),
			Position:   decl.Pre,
		}
		counts[sd.kind]++
		vcs = append(vcs, vc)
		g.finish(vc, f, s, append(slices.Clone(assumptions), sd.guard), sd.cond)
	}
	return vcs
}

func sideTag(k Kind) string {
	switch k {
	case KindDivision:
		return "div"
	case KindBounds:
		return "bounds"
	}
	return "overflow"
}

func (g *Generator) callSite(f, callee *decl.FunctionSpec, p *decl.Contract, index, n int) *VC {
	return &VC{
		ID:         f.ID + "#call" + strconv.Itoa(n) + ":" + callee.ID + "#pre" + strconv.Itoa(index),
		FunctionID: f.ID,
		Kind:       KindCallSite,
		Origin:     p,
		Index:      index,
		Callee:     callee.ID,
		Position:   decl.Pre,
	}
}

// assumptions returns the facts every VC of f may use: declared parameter bounds and the
// preconditions. Preconditions that cannot be inlined or quantify over an unbounded domain are
// dropped, which only weakens the VCs.
func (g *Generator) assumptions(f *decl.FunctionSpec, s *summarizer) []expr.Expr {
	var out []expr.Expr
	for _, p := range f.Params {
		if p.Bounds == nil || !p.Type.IsInt() {
			continue
		}
		if p.Bounds.Min != nil {
			out = append(out, expr.Bin(expr.Ge, expr.V(p.Name), expr.I(*p.Bounds.Min)))
		}
		if p.Bounds.Max != nil {
			out = append(out, expr.Bin(expr.Le, expr.V(p.Name), expr.I(*p.Bounds.Max)))
		}
	}
	for _, p := range f.Preconditions {
		if p.Condition == nil {
			continue
		}
		c, err := s.inline(p.Condition)
		if err != nil {
			g.opts.Logger.Debug("dropping precondition from assumptions",
				zap.String("function", f.ID), zap.String("precondition", p.Text()), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}

// finish builds the query of vc, or resolves it to Unknown when the goal is out of reach.
func (g *Generator) finish(vc *VC, f *decl.FunctionSpec, s *summarizer, assumptions []expr.Expr, goal expr.Expr) {
	if goal == nil {
		g.giveUp(vc, solver.ReasonUnsupported, "missing condition")
		return
	}
	if q := unbounded(goal); q != nil {
		g.giveUp(vc, solver.ReasonUnboundedDomain, q.String())
		return
	}
	goal, err := s.inline(goal)
	if err != nil {
		g.giveUp(vc, solver.ReasonUnsupported, err.Error())
		return
	}

	query := &solver.Query{Goal: goal}
	for _, p := range f.Params {
		query.Vars = append(query.Vars, solver.Var{Name: p.Name, Type: p.Type})
	}
	env := query.Env()
	for _, a := range assumptions {
		if b, ok := a.(*expr.BoolLit); ok && b.Value {
			continue
		}
		a, err := s.inline(a)
		if err != nil || unbounded(a) != nil {
			continue
		}
		if _, err := expr.TypeOf(a, env); err != nil {
			continue
		}
		query.Assumptions = append(query.Assumptions, a)
	}
	if t, err := expr.TypeOf(goal, env); err != nil || t.Kind != expr.Bool {
		detail := "goal is not a condition"
		if err != nil {
			detail = err.Error()
		}
		g.giveUp(vc, solver.ReasonUnsupported, detail)
		return
	}
	vc.Query = query
}

func (g *Generator) giveUp(vc *VC, reason solver.Reason, detail string) {
	g.opts.Logger.Debug("verification condition left unknown",
		zap.String("vc", vc.ID), zap.String("reason", string(reason)), zap.String("detail", detail))
	if err := vc.Resolve(solver.UnknownOutcome(reason, detail)); err != nil && !errors.Is(err, ErrAlreadyResolved) {
		g.opts.Logger.Error("resolving verification condition", zap.Error(err))
	}
}

// unbounded returns the first quantifier of e over an unbounded domain.
func unbounded(e expr.Expr) *expr.Quantifier {
	var found *expr.Quantifier
	expr.Any(e, func(n expr.Expr) bool {
		q, ok := n.(*expr.Quantifier)
		if !ok {
			return false
		}
		if _, ok := q.Domain.(*expr.Unbounded); ok {
			found = q
			return true
		}
		return false
	})
	return found
}
