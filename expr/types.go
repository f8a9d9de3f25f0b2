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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TypeKind is the kind of a value type in the contract IR.
type TypeKind uint8

const (
	// Invalid is the zero TypeKind and marks an unknown type.
	Invalid TypeKind = iota
	// Int is a fixed-width two's-complement integer.
	Int
	// Bool is a boolean.
	Bool
	// String is an immutable string.
	String
	// Char is a single character, modeled as a 32-bit integer code point.
	Char
	// Array is a read-only array with an element type.
	Array
	// Void is the return type of functions that return nothing.
	Void
)

// DefaultWidth is the integer width used for untyped integer constants and for builtins such as
// len when no wider context is available.
const DefaultWidth = 32

// Type is a value type. Width is only meaningful for Int (0 means "untyped constant" and takes
// the width of the context it is combined with), Elem only for Array.
type Type struct {
	Kind     TypeKind
	Width    int
	Unsigned bool
	Elem     *Type
}

// IntType returns a signed integer type of the given width.
func IntType(width int) Type { return Type{Kind: Int, Width: width} }

// UintType returns an unsigned integer type of the given width.
func UintType(width int) Type { return Type{Kind: Int, Width: width, Unsigned: true} }

// Int32 is the default 32-bit signed integer type.
var Int32 = IntType(32)

// BoolType is the boolean type.
var BoolType = Type{Kind: Bool}

// StringType is the string type.
var StringType = Type{Kind: String}

// CharType is the character type.
var CharType = Type{Kind: Char}

// VoidType is the unit return type.
var VoidType = Type{Kind: Void}

// ArrayOf returns an array type with the given element type.
func ArrayOf(elem Type) Type {
	e := elem
	return Type{Kind: Array, Elem: &e}
}

// untypedInt is the type of integer literals before they meet a typed operand.
var untypedInt = Type{Kind: Int}

// IsInt reports whether t is an integer-like type (Int or Char).
func (t Type) IsInt() bool { return t.Kind == Int || t.Kind == Char }

// IsUntyped reports whether t is the type of an untyped integer constant.
func (t Type) IsUntyped() bool { return t.Kind == Int && t.Width == 0 }

// BitWidth returns the width used to encode t, resolving untyped constants and characters.
func (t Type) BitWidth(fallback int) int {
	switch {
	case t.Kind == Char:
		return 32
	case t.Kind == Int && t.Width > 0:
		return t.Width
	case fallback > 0:
		return fallback
	default:
		return DefaultWidth
	}
}

// MinValue returns the smallest value representable in t (an integer type) at the given width.
func (t Type) MinValue(fallback int) int64 {
	if t.Unsigned {
		return 0
	}
	w := t.BitWidth(fallback)
	if w >= 64 {
		return math.MinInt64
	}
	return -(int64(1) << (w - 1))
}

// MaxValue returns the largest value representable in t (an integer type). Unsigned 64-bit
// values are clamped to math.MaxInt64 since literals are int64.
func (t Type) MaxValue(fallback int) int64 {
	w := t.BitWidth(fallback)
	if t.Unsigned {
		if w >= 63 {
			return math.MaxInt64
		}
		return int64(1)<<w - 1
	}
	if w >= 64 {
		return math.MaxInt64
	}
	return int64(1)<<(w-1) - 1
}

// Equal reports structural type equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Width != o.Width || t.Unsigned != o.Unsigned {
		return false
	}
	if t.Kind == Array {
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

// String renders t in the snapshot syntax (i32, u8, bool, string, char, [i32], void).
func (t Type) String() string {
	switch t.Kind {
	case Int:
		if t.Width == 0 {
			return "int"
		}
		if t.Unsigned {
			return "u" + strconv.Itoa(t.Width)
		}
		return "i" + strconv.Itoa(t.Width)
	case Bool:
		return "bool"
	case String:
		return "string"
	case Char:
		return "char"
	case Array:
		if t.Elem == nil {
			return "[?]"
		}
		return "[" + t.Elem.String() + "]"
	case Void:
		return "void"
	default:
		return "invalid"
	}
}

// ParseType parses the snapshot syntax produced by Type.String.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "bool":
		return BoolType, nil
	case "string":
		return StringType, nil
	case "char":
		return CharType, nil
	case "void", "":
		return VoidType, nil
	case "int":
		return IntType(DefaultWidth), nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return Type{}, err
		}
		return ArrayOf(elem), nil
	}
	if len(s) > 1 && (s[0] == 'i' || s[0] == 'u') {
		w, err := strconv.Atoi(s[1:])
		if err == nil && (w == 8 || w == 16 || w == 32 || w == 64) {
			return Type{Kind: Int, Width: w, Unsigned: s[0] == 'u'}, nil
		}
	}
	return Type{}, fmt.Errorf("unknown type %q", s)
}
