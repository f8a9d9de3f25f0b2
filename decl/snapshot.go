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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/contractaway/expr"
)

// ErrBadSnapshot is wrapped by every snapshot decoding error.
var ErrBadSnapshot = errors.New("bad declaration snapshot")

// snapshot is the JSON document the front end emits: {"functions": [...]}.
type snapshot struct {
	Functions []functionJSON `json:"functions"`
}

type functionJSON struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Exported bool           `json:"exported,omitempty"`
	Params   []paramJSON    `json:"params,omitempty"`
	Returns  string         `json:"returns,omitempty"`
	Requires []contractJSON `json:"requires,omitempty"`
	Ensures  []contractJSON `json:"ensures,omitempty"`
	Effects  []string       `json:"effects,omitempty"`
	Calls    []string       `json:"calls,omitempty"`
	Body     *bodyJSON      `json:"body,omitempty"`
}

type paramJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Min  *int64 `json:"min,omitempty"`
	Max  *int64 `json:"max,omitempty"`
}

type contractJSON struct {
	Cond    expr.Node `json:"cond"`
	Message string    `json:"message,omitempty"`
	Source  string    `json:"source,omitempty"`
}

type bodyJSON struct {
	Return *expr.Node `json:"return,omitempty"`
	Block  []stmtJSON `json:"block,omitempty"`
}

// stmtJSON is one of {"let", "type", "value"}, {"assign", "value"}, {"if", "then", "else"},
// {"while", "body"}, {"return"} and {"expr"}.
type stmtJSON struct {
	Let    string          `json:"let,omitempty"`
	Type   string          `json:"type,omitempty"`
	Assign string          `json:"assign,omitempty"`
	Value  *expr.Node      `json:"value,omitempty"`
	If     *expr.Node      `json:"if,omitempty"`
	Then   []stmtJSON      `json:"then,omitempty"`
	Else   []stmtJSON      `json:"else,omitempty"`
	While  *expr.Node      `json:"while,omitempty"`
	Body   []stmtJSON      `json:"body,omitempty"`
	Return json.RawMessage `json:"return,omitempty"`
	Expr   *expr.Node      `json:"expr,omitempty"`
}

// DecodeSnapshot reads a JSON declaration snapshot. Malformed effect strings do not fail the
// decoding; they end up in RejectedEffects.
func DecodeSnapshot(r io.Reader) ([]*FunctionSpec, error) {
	var s snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}

	fns := make([]*FunctionSpec, 0, len(s.Functions))
	for i, fj := range s.Functions {
		f, err := fj.toSpec()
		if err != nil {
			return nil, fmt.Errorf("%w: function #%d (%q): %w", ErrBadSnapshot, i, fj.ID, err)
		}
		fns = append(fns, f)
	}
	return fns, nil
}

func (fj functionJSON) toSpec() (*FunctionSpec, error) {
	if fj.ID == "" {
		return nil, errors.New("missing id")
	}
	f := &FunctionSpec{ID: fj.ID, Name: fj.Name, Exported: fj.Exported, Calls: fj.Calls}
	if f.Name == "" {
		f.Name = fj.ID
	}
	var err error
	if f.ReturnType, err = expr.ParseType(fj.Returns); err != nil {
		return nil, fmt.Errorf("return type: %w", err)
	}
	for _, pj := range fj.Params {
		t, err := expr.ParseType(pj.Type)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", pj.Name, err)
		}
		p := Param{Name: pj.Name, Type: t}
		if pj.Min != nil || pj.Max != nil {
			p.Bounds = &Bounds{Min: pj.Min, Max: pj.Max}
		}
		f.Params = append(f.Params, p)
	}
	for _, c := range fj.Requires {
		if c.Cond.Expr == nil {
			return nil, errors.New("precondition without condition")
		}
		f.Preconditions = append(f.Preconditions, &Contract{Kind: Pre, Condition: c.Cond.Expr, Message: c.Message, Source: c.Source})
	}
	for _, c := range fj.Ensures {
		if c.Cond.Expr == nil {
			return nil, errors.New("postcondition without condition")
		}
		f.Postconditions = append(f.Postconditions, &Contract{Kind: Post, Condition: c.Cond.Expr, Message: c.Message, Source: c.Source})
	}
	f.DeclareEffects(fj.Effects...)

	if fj.Body != nil {
		switch {
		case fj.Body.Return != nil:
			f.Body = &ExprBody{Result: fj.Body.Return.Expr}
		default:
			stmts, err := toStmts(fj.Body.Block)
			if err != nil {
				return nil, err
			}
			f.Body = &Block{Stmts: stmts}
		}
	}
	return f, nil
}

func toStmts(in []stmtJSON) ([]Stmt, error) {
	out := make([]Stmt, 0, len(in))
	for _, sj := range in {
		s, err := sj.toStmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (sj stmtJSON) toStmt() (Stmt, error) {
	switch {
	case sj.Let != "":
		if sj.Value == nil {
			return nil, fmt.Errorf("let %q without value", sj.Let)
		}
		var t expr.Type
		if sj.Type != "" {
			var err error
			if t, err = expr.ParseType(sj.Type); err != nil {
				return nil, fmt.Errorf("let %q: %w", sj.Let, err)
			}
		}
		return &Let{Name: sj.Let, Type: t, Value: sj.Value.Expr}, nil
	case sj.Assign != "":
		if sj.Value == nil {
			return nil, fmt.Errorf("assignment to %q without value", sj.Assign)
		}
		return &Assign{Name: sj.Assign, Value: sj.Value.Expr}, nil
	case sj.If != nil:
		then, err := toStmts(sj.Then)
		if err != nil {
			return nil, err
		}
		els, err := toStmts(sj.Else)
		if err != nil {
			return nil, err
		}
		return &If{Cond: sj.If.Expr, Then: then, Else: els}, nil
	case sj.While != nil:
		body, err := toStmts(sj.Body)
		if err != nil {
			return nil, err
		}
		return &While{Cond: sj.While.Expr, Body: body}, nil
	case sj.Return != nil:
		if string(sj.Return) == "null" {
			return &Return{}, nil
		}
		v, err := expr.Decode(sj.Return)
		if err != nil {
			return nil, err
		}
		return &Return{Value: v}, nil
	case sj.Expr != nil:
		return &ExprStmt{X: sj.Expr.Expr}, nil
	}
	return nil, errors.New("unrecognized statement")
}

// EncodeSnapshot writes fns in the format DecodeSnapshot reads.
func EncodeSnapshot(w io.Writer, fns []*FunctionSpec) error {
	s := snapshot{Functions: make([]functionJSON, 0, len(fns))}
	for _, f := range fns {
		fj := functionJSON{ID: f.ID, Name: f.Name, Exported: f.Exported, Calls: f.Calls}
		if f.ReturnType.Kind != expr.Invalid {
			fj.Returns = f.ReturnType.String()
		}
		for _, p := range f.Params {
			pj := paramJSON{Name: p.Name, Type: p.Type.String()}
			if p.Bounds != nil {
				pj.Min, pj.Max = p.Bounds.Min, p.Bounds.Max
			}
			fj.Params = append(fj.Params, pj)
		}
		for _, c := range f.Preconditions {
			fj.Requires = append(fj.Requires, contractJSON{Cond: expr.Node{Expr: c.Condition}, Message: c.Message, Source: c.Source})
		}
		for _, c := range f.Postconditions {
			fj.Ensures = append(fj.Ensures, contractJSON{Cond: expr.Node{Expr: c.Condition}, Message: c.Message, Source: c.Source})
		}
		for _, e := range f.Effects {
			fj.Effects = append(fj.Effects, e.String())
		}
		for _, r := range f.RejectedEffects {
			fj.Effects = append(fj.Effects, r.Text)
		}
		switch b := f.Body.(type) {
		case *ExprBody:
			fj.Body = &bodyJSON{Return: &expr.Node{Expr: b.Result}}
		case *Block:
			stmts, err := fromStmts(b.Stmts)
			if err != nil {
				return fmt.Errorf("function %q: %w", f.ID, err)
			}
			fj.Body = &bodyJSON{Block: stmts}
		}
		s.Functions = append(s.Functions, fj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func fromStmts(in []Stmt) ([]stmtJSON, error) {
	out := make([]stmtJSON, 0, len(in))
	for _, s := range in {
		var sj stmtJSON
		switch s := s.(type) {
		case *Let:
			sj = stmtJSON{Let: s.Name, Value: &expr.Node{Expr: s.Value}}
			if s.Type.Kind != expr.Invalid {
				sj.Type = s.Type.String()
			}
		case *Assign:
			sj = stmtJSON{Assign: s.Name, Value: &expr.Node{Expr: s.Value}}
		case *If:
			then, err := fromStmts(s.Then)
			if err != nil {
				return nil, err
			}
			els, err := fromStmts(s.Else)
			if err != nil {
				return nil, err
			}
			sj = stmtJSON{If: &expr.Node{Expr: s.Cond}, Then: then, Else: els}
		case *While:
			body, err := fromStmts(s.Body)
			if err != nil {
				return nil, err
			}
			sj = stmtJSON{While: &expr.Node{Expr: s.Cond}, Body: body}
		case *Return:
			sj.Return = json.RawMessage("null")
			if s.Value != nil {
				b, err := expr.Encode(s.Value)
				if err != nil {
					return nil, err
				}
				sj.Return = b
			}
		case *ExprStmt:
			sj = stmtJSON{Expr: &expr.Node{Expr: s.X}}
		default:
			return nil, fmt.Errorf("unknown statement %T", s)
		}
		out = append(out, sj)
	}
	return out, nil
}
