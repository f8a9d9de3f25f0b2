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

// Package decl hosts the declaration model the analyses read: function specifications with their
// contracts, parameter bounds, summarizable bodies and effect annotations, collected into an
// immutable Program.
package decl

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/contractaway/expr"
	"go.uber.org/contractaway/util/orderedmap"
)

// ContractKind tells preconditions and postconditions apart.
type ContractKind uint8

const (
	// Pre is a `requires` clause.
	Pre ContractKind = iota + 1
	// Post is an `ensures` clause; it may mention `result`.
	Post
)

func (k ContractKind) String() string {
	if k == Post {
		return "postcondition"
	}
	return "precondition"
}

// Contract is a single requires/ensures clause.
type Contract struct {
	Kind      ContractKind
	Condition expr.Expr
	// Message is the user-supplied violation message, possibly empty.
	Message string
	// Source is the clause as written; Text falls back to the printed condition.
	Source string
}

// Text returns the clause source text.
func (c *Contract) Text() string {
	if c.Source != "" {
		return c.Source
	}
	if c.Condition == nil {
		return ""
	}
	return c.Condition.String()
}

// Bounds are declared numeric bounds of a parameter, both inclusive.
type Bounds struct {
	Min *int64
	Max *int64
}

// Param is a function parameter.
type Param struct {
	Name   string
	Type   expr.Type
	Bounds *Bounds
}

// Body is a summarizable function body: *ExprBody or *Block.
type Body interface{ bodyNode() }

// ExprBody is a body consisting of a single returned expression.
type ExprBody struct{ Result expr.Expr }

// Block is a statement-list body.
type Block struct{ Stmts []Stmt }

func (*ExprBody) bodyNode() {}
func (*Block) bodyNode()    {}

// Stmt is a statement inside a Block.
type Stmt interface{ stmtNode() }

// Let introduces a local.
type Let struct {
	Name  string
	Type  expr.Type
	Value expr.Expr
}

// Assign rebinds a local.
type Assign struct {
	Name  string
	Value expr.Expr
}

// If branches on Cond.
type If struct {
	Cond expr.Expr
	Then []Stmt
	Else []Stmt
}

// While loops while Cond holds.
type While struct {
	Cond expr.Expr
	Body []Stmt
}

// Return returns Value, which is nil for void functions.
type Return struct{ Value expr.Expr }

// ExprStmt evaluates X for its effects.
type ExprStmt struct{ X expr.Expr }

func (*Let) stmtNode()      {}
func (*Assign) stmtNode()   {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*Return) stmtNode()   {}
func (*ExprStmt) stmtNode() {}

// FunctionSpec is the declaration of one function as the front end hands it over.
type FunctionSpec struct {
	// ID is the stable function id, e.g. "pkg.Divide".
	ID             string
	Name           string
	Params         []Param
	ReturnType     expr.Type
	Preconditions  []*Contract
	Postconditions []*Contract
	Effects        []EffectDeclaration
	// RejectedEffects holds effect strings that failed to parse.
	RejectedEffects []*MalformedEffectError
	Body            Body
	// Calls lists the ids of functions called from this function.
	Calls    []string
	Exported bool
}

// DeclareEffects parses effect strings into Effects, keeping malformed ones in RejectedEffects.
func (f *FunctionSpec) DeclareEffects(ss ...string) {
	effects, errs := ParseEffects(ss)
	f.Effects = append(f.Effects, effects...)
	for _, err := range errs {
		var m *MalformedEffectError
		if errors.As(err, &m) {
			f.RejectedEffects = append(f.RejectedEffects, m)
		}
	}
}

// DeclaredEffects returns the declared effects as a set.
func (f *FunctionSpec) DeclaredEffects() EffectSet {
	return NewEffectSet(f.Effects...)
}

// IsPure reports whether f declares no effect other than Pure.
func (f *FunctionSpec) IsPure() bool {
	for _, e := range f.Effects {
		if e.Kind != Pure {
			return false
		}
	}
	return true
}

// Param returns the parameter called name.
func (f *FunctionSpec) Param(name string) (Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Env returns the typing environment of f's contracts: its parameters and, when f returns a
// value, `result`.
func (f *FunctionSpec) Env() expr.Env {
	vars := make(map[string]expr.Type, len(f.Params)+1)
	for _, p := range f.Params {
		vars[p.Name] = p.Type
	}
	if f.ReturnType.Kind != expr.Invalid && f.ReturnType.Kind != expr.Void {
		vars[expr.ResultName] = f.ReturnType
	}
	return expr.Env{Vars: vars}
}

// ErrDuplicateFunction is returned by NewProgram when two specs share an id.
var ErrDuplicateFunction = errors.New("duplicate function id")

// Program is the immutable snapshot of all function declarations.
type Program struct {
	funcs   *orderedmap.OrderedMap[string, *FunctionSpec]
	callers map[string][]string
}

// NewProgram indexes fns by id. Call targets found in bodies that name functions of the program
// are merged into Calls; the passed specs are not modified.
func NewProgram(fns []*FunctionSpec) (*Program, error) {
	funcs := orderedmap.New[string, *FunctionSpec]()
	for _, f := range fns {
		if f == nil {
			continue
		}
		if _, ok := funcs.Load(f.ID); ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFunction, f.ID)
		}
		funcs.Store(f.ID, f)
	}

	p := &Program{funcs: orderedmap.New[string, *FunctionSpec](), callers: make(map[string][]string)}
	funcs.OrderedRange(func(id string, f *FunctionSpec) bool {
		cp := *f
		cp.Calls = mergeCalls(f.Calls, bodyCallTargets(f.Body), funcs)
		p.funcs.Store(id, &cp)
		return true
	})
	// Runtime guards evaluate contracts, so a call inside a contract makes its function a caller
	// even though no call-site VC checks it.
	p.funcs.OrderedRange(func(id string, f *FunctionSpec) bool {
		for _, callee := range mergeCalls(f.Calls, contractCallTargets(f), funcs) {
			p.callers[callee] = append(p.callers[callee], id)
		}
		return true
	})
	return p, nil
}

func mergeCalls(declared, fromBody []string, funcs *orderedmap.OrderedMap[string, *FunctionSpec]) []string {
	seen := make(map[string]bool, len(declared))
	out := make([]string, 0, len(declared)+len(fromBody))
	for _, c := range declared {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range fromBody {
		if _, known := funcs.Load(c); known && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the spec with the given id.
func (p *Program) Lookup(id string) (*FunctionSpec, bool) {
	return p.funcs.Load(id)
}

// Len returns the number of functions.
func (p *Program) Len() int { return p.funcs.Len() }

// Functions returns all specs in declaration order.
func (p *Program) Functions() []*FunctionSpec {
	out := make([]*FunctionSpec, 0, p.funcs.Len())
	p.funcs.OrderedRange(func(_ string, f *FunctionSpec) bool {
		out = append(out, f)
		return true
	})
	return out
}

// Callers returns the ids of functions calling id from their body or their contracts, in
// declaration order.
func (p *Program) Callers(id string) []string { return p.callers[id] }

// bodyCallTargets collects the targets of all call expressions in b.
func bodyCallTargets(b Body) []string {
	var out []string
	visit := func(e expr.Expr) {
		expr.Walk(e, func(n expr.Expr) bool {
			if c, ok := n.(*expr.CallExpr); ok {
				out = append(out, c.Target)
			}
			return true
		})
	}
	switch b := b.(type) {
	case *ExprBody:
		visit(b.Result)
	case *Block:
		WalkStmts(b.Stmts, visit)
	}
	return out
}

// contractCallTargets collects the targets of all call expressions in f's contracts.
func contractCallTargets(f *FunctionSpec) []string {
	var out []string
	for _, c := range slices.Concat(f.Preconditions, f.Postconditions) {
		if c == nil || c.Condition == nil {
			continue
		}
		expr.Walk(c.Condition, func(n expr.Expr) bool {
			if call, ok := n.(*expr.CallExpr); ok {
				out = append(out, call.Target)
			}
			return true
		})
	}
	return out
}

// WalkStmts calls visit on every expression of stmts, recursively.
func WalkStmts(stmts []Stmt, visit func(expr.Expr)) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Let:
			visit(s.Value)
		case *Assign:
			visit(s.Value)
		case *If:
			visit(s.Cond)
			WalkStmts(s.Then, visit)
			WalkStmts(s.Else, visit)
		case *While:
			visit(s.Cond)
			WalkStmts(s.Body, visit)
		case *Return:
			if s.Value != nil {
				visit(s.Value)
			}
		case *ExprStmt:
			visit(s.X)
		}
	}
}
