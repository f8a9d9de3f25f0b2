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

// Package hook implements a hook framework for the VC generator where it hooks into calls of
// well-known intrinsic functions (e.g., `abs(x)`, `min(a, b)`) and replaces them with an
// equivalent expression, so that bodies calling them remain summarizable.
package hook

import (
	"regexp"

	"go.uber.org/contractaway/expr"
)

// intrinsicSig defines the signature of an intrinsic whose semantics we encode directly.
type intrinsicSig struct {
	// nameRegex matches the call target, with or without a package qualifier.
	nameRegex *regexp.Regexp
	arity     int
	// summarize builds the replacement expression from the (already summarized) arguments.
	summarize func(args []expr.Expr) expr.Expr
}

// match checks if a given call target and argument count match the intrinsic's signature.
func (s *intrinsicSig) match(target string, nargs int) bool {
	return s.arity == nargs && s.nameRegex.MatchString(target)
}

var _intrinsics = []intrinsicSig{
	{
		nameRegex: regexp.MustCompile(`^(math\.)?[aA]bs$`),
		arity:     1,
		summarize: func(args []expr.Expr) expr.Expr {
			x := args[0]
			return expr.Ite(expr.Bin(expr.Lt, x, expr.I(0)), expr.NegE(x), x)
		},
	},
	{
		nameRegex: regexp.MustCompile(`^(math\.)?[mM]in$`),
		arity:     2,
		summarize: func(args []expr.Expr) expr.Expr {
			return expr.Ite(expr.Bin(expr.Le, args[0], args[1]), args[0], args[1])
		},
	},
	{
		nameRegex: regexp.MustCompile(`^(math\.)?[mM]ax$`),
		arity:     2,
		summarize: func(args []expr.Expr) expr.Expr {
			return expr.Ite(expr.Bin(expr.Ge, args[0], args[1]), args[0], args[1])
		},
	},
	{
		nameRegex: regexp.MustCompile(`^(math\.)?[cC]lamp$`),
		arity:     3,
		summarize: func(args []expr.Expr) expr.Expr {
			x, lo, hi := args[0], args[1], args[2]
			return expr.Ite(expr.Bin(expr.Lt, x, lo), lo, expr.Ite(expr.Bin(expr.Gt, x, hi), hi, x))
		},
	},
}

// Summarize returns the expression equivalent to calling target with args, if target is a known
// intrinsic.
func Summarize(target string, args []expr.Expr) (expr.Expr, bool) {
	for i := range _intrinsics {
		if sig := &_intrinsics[i]; sig.match(target, len(args)) {
			return sig.summarize(args), true
		}
	}
	return nil, false
}

// IsIntrinsic reports whether target names a known intrinsic of any arity.
func IsIntrinsic(target string) bool {
	for i := range _intrinsics {
		if _intrinsics[i].nameRegex.MatchString(target) {
			return true
		}
	}
	return false
}

// ResultType returns the type of an intrinsic call: every intrinsic returns a value of its
// arguments' common type.
func ResultType(target string, argTypes []expr.Type) (expr.Type, bool) {
	for i := range _intrinsics {
		if !_intrinsics[i].match(target, len(argTypes)) {
			continue
		}
		t := argTypes[0]
		for _, at := range argTypes[1:] {
			u, ok := expr.Unify(t, at)
			if !ok {
				return expr.Type{}, false
			}
			t = u
		}
		return t, t.IsInt()
	}
	return expr.Type{}, false
}
