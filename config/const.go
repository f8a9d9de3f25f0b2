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

package config

import "time"

// This file hosts non-user-configurable parameters --- these are for development and testing purposes only.

// MaxFixedPointRounds bounds the rounds of effect propagation within one weakly-connected
// component of the call graph. Propagation over SCCs in reverse topological order converges in a
// single round, so this only guards against a corrupted graph; hitting it is logged as an error.
const MaxFixedPointRounds = 64

// DefaultMaxClauses is the clause budget of the bit-blasting backend. 32-bit division alone costs
// tens of thousands of clauses, so queries with a handful of divisions and multiplications still
// fit comfortably.
const DefaultMaxClauses = 4_000_000

// DefaultUnrollLimit is the largest constant quantifier domain the bit-blasting backend expands
// in full.
const DefaultUnrollLimit = 64

// DefaultSolverTimeout is the per-VC solver timeout.
const DefaultSolverTimeout = 5 * time.Second

// CacheFormatVersion is the semantic version written into verification cache headers. Caches
// whose major version differs are discarded.
const CacheFormatVersion = "1.1.0"

// ViolationPrefix starts every runtime contract violation message.
const ViolationPrefix = "contract violation: "

// GuardResultName is the variable injected guards bind the returned value to.
const GuardResultName = "contractResult"
