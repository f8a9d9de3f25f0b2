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

package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrBadEncoding is wrapped by every decoding error.
var ErrBadEncoding = errors.New("bad expression encoding")

// Node wraps an Expr so it can sit inside JSON documents. The encoding is a single-object tree:
//
//	{"int": 1} {"bool": true} {"str": "s"} {"char": "c"} {"var": "x"}
//	{"op": "+", "args": [x, y]} {"not": x} {"neg": x} {"if": [c, t, e]}
//	{"call": "pkg.f", "args": [...]} {"builtin": "len", "args": [...]}
//	{"index": [a, i]} {"array": [...], "elem": "i32"}
//	{"forall": "i", "range": [lo, hi], "body": b}
//	{"exists": "i", "indices": a, "body": b}
//	{"forall": "x", "over": "i32", "body": b}
type Node struct{ Expr }

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	v, err := encode(n.Expr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(b []byte) error {
	e, err := Decode(b)
	if err != nil {
		return err
	}
	n.Expr = e
	return nil
}

// Encode returns the JSON encoding of e.
func Encode(e Expr) ([]byte, error) { return Node{e}.MarshalJSON() }

var _opsByText = func() map[string]BinOp {
	m := make(map[string]BinOp, len(_binOpText))
	for op, s := range _binOpText {
		m[s] = op
	}
	return m
}()

var _builtinsByName = map[string]Builtin{
	"len":        Len,
	"contains":   Contains,
	"startsWith": StartsWith,
	"endsWith":   EndsWith,
}

type object = map[string]any

func encode(e Expr) (any, error) {
	switch e := e.(type) {
	case *IntLit:
		return object{"int": e.Value}, nil
	case *BoolLit:
		return object{"bool": e.Value}, nil
	case *StringLit:
		return object{"str": e.Value}, nil
	case *CharLit:
		return object{"char": string(e.Value)}, nil
	case *VarRef:
		return object{"var": e.Name}, nil
	case *UnaryExpr:
		x, err := encode(e.X)
		if err != nil {
			return nil, err
		}
		if e.Op == Not {
			return object{"not": x}, nil
		}
		return object{"neg": x}, nil
	case *BinaryExpr:
		args, err := encodeAll(e.X, e.Y)
		if err != nil {
			return nil, err
		}
		return object{"op": e.Op.String(), "args": args}, nil
	case *TernaryExpr:
		args, err := encodeAll(e.Cond, e.Then, e.Else)
		if err != nil {
			return nil, err
		}
		return object{"if": args}, nil
	case *CallExpr:
		args, err := encodeAll(e.Args...)
		if err != nil {
			return nil, err
		}
		return object{"call": e.Target, "args": args}, nil
	case *BuiltinCall:
		args, err := encodeAll(e.Args...)
		if err != nil {
			return nil, err
		}
		return object{"builtin": e.Fn.String(), "args": args}, nil
	case *IndexExpr:
		args, err := encodeAll(e.Array, e.Index)
		if err != nil {
			return nil, err
		}
		return object{"index": args}, nil
	case *ArrayLit:
		elems, err := encodeAll(e.Elems...)
		if err != nil {
			return nil, err
		}
		out := object{"array": elems}
		if e.Elem.Kind != Invalid {
			out["elem"] = e.Elem.String()
		}
		return out, nil
	case *Quantifier:
		body, err := encode(e.Body)
		if err != nil {
			return nil, err
		}
		out := object{e.Kind.String(): e.Var, "body": body}
		switch d := e.Domain.(type) {
		case *IntRange:
			r, err := encodeAll(d.Lo, d.Hi)
			if err != nil {
				return nil, err
			}
			out["range"] = r
		case *ArrayIndices:
			a, err := encode(d.Array)
			if err != nil {
				return nil, err
			}
			out["indices"] = a
		case *Unbounded:
			out["over"] = d.Type.String()
		default:
			return nil, fmt.Errorf("%w: quantifier without domain", ErrBadEncoding)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cannot encode %T", ErrBadEncoding, e)
}

func encodeAll(xs ...Expr) ([]any, error) {
	out := make([]any, len(xs))
	for i, x := range xs {
		v, err := encode(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Decode parses the JSON encoding produced by Encode.
func Decode(b []byte) (Expr, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
	}
	return decodeObject(obj)
}

func decodeObject(obj map[string]json.RawMessage) (Expr, error) {
	str := func(key string) (string, error) {
		var s string
		if err := json.Unmarshal(obj[key], &s); err != nil {
			return "", fmt.Errorf("%w: field %q: %w", ErrBadEncoding, key, err)
		}
		return s, nil
	}

	switch {
	case obj["int"] != nil:
		var v int64
		if err := json.Unmarshal(obj["int"], &v); err != nil {
			return nil, fmt.Errorf("%w: int: %w", ErrBadEncoding, err)
		}
		return I(v), nil
	case obj["bool"] != nil:
		var v bool
		if err := json.Unmarshal(obj["bool"], &v); err != nil {
			return nil, fmt.Errorf("%w: bool: %w", ErrBadEncoding, err)
		}
		return B(v), nil
	case obj["str"] != nil:
		s, err := str("str")
		if err != nil {
			return nil, err
		}
		return S(s), nil
	case obj["char"] != nil:
		s, err := str("char")
		if err != nil {
			return nil, err
		}
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || size != len(s) {
			return nil, fmt.Errorf("%w: char %q is not a single character", ErrBadEncoding, s)
		}
		return &CharLit{Value: r}, nil
	case obj["var"] != nil:
		s, err := str("var")
		if err != nil {
			return nil, err
		}
		return V(s), nil
	case obj["not"] != nil, obj["neg"] != nil:
		op, key := Not, "not"
		if obj["neg"] != nil {
			op, key = Neg, "neg"
		}
		x, err := Decode(obj[key])
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, X: x}, nil
	case obj["op"] != nil:
		s, err := str("op")
		if err != nil {
			return nil, err
		}
		op, ok := _opsByText[s]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrBadEncoding, s)
		}
		args, err := decodeList(obj["args"], 2)
		if err != nil {
			return nil, err
		}
		return Bin(op, args[0], args[1]), nil
	case obj["if"] != nil:
		args, err := decodeList(obj["if"], 3)
		if err != nil {
			return nil, err
		}
		return Ite(args[0], args[1], args[2]), nil
	case obj["call"] != nil:
		target, err := str("call")
		if err != nil {
			return nil, err
		}
		args, err := decodeList(obj["args"], -1)
		if err != nil {
			return nil, err
		}
		return &CallExpr{Target: target, Args: args}, nil
	case obj["builtin"] != nil:
		name, err := str("builtin")
		if err != nil {
			return nil, err
		}
		fn, ok := _builtinsByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown builtin %q", ErrBadEncoding, name)
		}
		want := 2
		if fn == Len {
			want = 1
		}
		args, err := decodeList(obj["args"], want)
		if err != nil {
			return nil, err
		}
		return &BuiltinCall{Fn: fn, Args: args}, nil
	case obj["index"] != nil:
		args, err := decodeList(obj["index"], 2)
		if err != nil {
			return nil, err
		}
		return Index(args[0], args[1]), nil
	case obj["array"] != nil:
		elems, err := decodeList(obj["array"], -1)
		if err != nil {
			return nil, err
		}
		lit := &ArrayLit{Elems: elems}
		if obj["elem"] != nil {
			s, err := str("elem")
			if err != nil {
				return nil, err
			}
			if lit.Elem, err = ParseType(s); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
			}
		}
		return lit, nil
	case obj["forall"] != nil, obj["exists"] != nil:
		return decodeQuantifier(obj, str)
	}
	return nil, fmt.Errorf("%w: unrecognized node", ErrBadEncoding)
}

func decodeQuantifier(obj map[string]json.RawMessage, str func(string) (string, error)) (Expr, error) {
	kind, key := Forall, "forall"
	if obj["exists"] != nil {
		kind, key = Exists, "exists"
	}
	v, err := str(key)
	if err != nil {
		return nil, err
	}
	if obj["body"] == nil {
		return nil, fmt.Errorf("%w: quantifier without body", ErrBadEncoding)
	}
	body, err := Decode(obj["body"])
	if err != nil {
		return nil, err
	}

	var domain Domain
	switch {
	case obj["range"] != nil:
		r, err := decodeList(obj["range"], 2)
		if err != nil {
			return nil, err
		}
		domain = &IntRange{Lo: r[0], Hi: r[1]}
	case obj["indices"] != nil:
		a, err := Decode(obj["indices"])
		if err != nil {
			return nil, err
		}
		domain = &ArrayIndices{Array: a}
	case obj["over"] != nil:
		s, err := str("over")
		if err != nil {
			return nil, err
		}
		t, err := ParseType(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
		}
		domain = &Unbounded{Type: t}
	default:
		return nil, fmt.Errorf("%w: quantifier %q without domain", ErrBadEncoding, v)
	}
	return &Quantifier{Kind: kind, Var: v, Domain: domain, Body: body}, nil
}

// decodeList decodes a JSON array of nodes; want < 0 accepts any length.
func decodeList(raw json.RawMessage, want int) ([]Expr, error) {
	var items []json.RawMessage
	if raw != nil {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
		}
	}
	if want >= 0 && len(items) != want {
		return nil, fmt.Errorf("%w: expected %d operands, got %d", ErrBadEncoding, want, len(items))
	}
	out := make([]Expr, len(items))
	for i, item := range items {
		e, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
