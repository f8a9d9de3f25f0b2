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
	"context"
	"time"

	"github.com/irifrance/gini"
	"github.com/irifrance/gini/z"
)

// _pollInterval is how often a running search checks for cancellation.
const _pollInterval = 5 * time.Millisecond

type satStatus int8

const (
	satUnknown satStatus = 0
	satSat     satStatus = 1
	satUnsat   satStatus = -1
)

// solveCNF decides the DIMACS clauses over variables 1..nvars. The search runs in gini's own
// goroutine and is stopped when ctx is done, in which case the status is satUnknown. On satSat
// the model holds the value of variable v at index v-1.
func solveCNF(ctx context.Context, nvars int, clauses [][]int) (satStatus, []bool) {
	g := gini.NewV(nvars)
	for _, cl := range clauses {
		for _, l := range cl {
			g.Add(z.Dimacs2Lit(l))
		}
		g.Add(z.LitNull)
	}

	search := g.GoSolve()
	ticker := time.NewTicker(_pollInterval)
	defer ticker.Stop()
	for {
		if res, done := search.Test(); done {
			return finish(g, nvars, satStatus(res))
		}
		select {
		case <-ctx.Done():
			// Stop returns once the search goroutine has exited.
			if res := search.Stop(); res != 0 {
				return finish(g, nvars, satStatus(res))
			}
			return satUnknown, nil
		case <-ticker.C:
		}
	}
}

func finish(g *gini.Gini, nvars int, status satStatus) (satStatus, []bool) {
	if status != satSat {
		return status, nil
	}
	model := make([]bool, nvars)
	for v := 1; v <= nvars; v++ {
		model[v-1] = g.Value(z.Dimacs2Lit(v))
	}
	return status, model
}
