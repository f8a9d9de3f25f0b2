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

package inference

import (
	"go.uber.org/contractaway/decl"
	"go.uber.org/zap"
)

// Graph is the call graph of a program. Nodes are numbered in declaration order.
type Graph struct {
	ids   []string
	index map[string]int
	succ  [][]int
}

// NewGraph builds the call graph from the Calls lists of prog. Calls to ids outside the program
// are logged and ignored.
func NewGraph(prog *decl.Program, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	fns := prog.Functions()
	g := &Graph{
		ids:   make([]string, len(fns)),
		index: make(map[string]int, len(fns)),
		succ:  make([][]int, len(fns)),
	}
	for i, f := range fns {
		g.ids[i] = f.ID
		g.index[f.ID] = i
	}
	for i, f := range fns {
		seen := make(map[int]bool, len(f.Calls))
		for _, callee := range f.Calls {
			j, ok := g.index[callee]
			if !ok {
				logger.Debug("ignoring call to unknown function", zap.String("caller", f.ID), zap.String("callee", callee))
				continue
			}
			if !seen[j] {
				seen[j] = true
				g.succ[i] = append(g.succ[i], j)
			}
		}
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.ids) }

// ID returns the function id of node n.
func (g *Graph) ID(n int) string { return g.ids[n] }

// Node returns the node of a function id.
func (g *Graph) Node(id string) (int, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Callees returns the successors of node n.
func (g *Graph) Callees(n int) []int { return g.succ[n] }

// SCCs returns the strongly connected components with Tarjan's algorithm. Components come out in
// reverse topological order of the condensation: every component is listed after all components
// it calls into.
func (g *Graph) SCCs() [][]int {
	const unvisited = -1
	var (
		index   = make([]int, g.Len())
		low     = make([]int, g.Len())
		onStack = make([]bool, g.Len())
		stack   []int
		next    int
		out     [][]int
	)
	for i := range index {
		index[i] = unvisited
	}

	// frame is one activation of the recursive formulation: node v, resuming at its k-th callee.
	type frame struct{ v, k int }
	for root := range g.ids {
		if index[root] != unvisited {
			continue
		}
		calls := []frame{{v: root}}
		index[root], low[root] = next, next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(calls) > 0 {
			top := &calls[len(calls)-1]
			v := top.v
			if top.k < len(g.succ[v]) {
				w := g.succ[v][top.k]
				top.k++
				switch {
				case index[w] == unvisited:
					index[w], low[w] = next, next
					next++
					stack = append(stack, w)
					onStack[w] = true
					calls = append(calls, frame{v: w})
				case onStack[w]:
					low[v] = min(low[v], index[w])
				}
				continue
			}

			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				parent := calls[len(calls)-1].v
				low[parent] = min(low[parent], low[v])
			}
			if low[v] != index[v] {
				continue
			}
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			out = append(out, scc)
		}
	}
	return out
}

// WeakComponents partitions the nodes into weakly connected components, each listed in node
// order. Components share no call edges and can be closed independently.
func (g *Graph) WeakComponents() [][]int {
	parent := make([]int, g.Len())
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for v, ws := range g.succ {
		for _, w := range ws {
			if a, b := find(v), find(w); a != b {
				parent[max(a, b)] = min(a, b)
			}
		}
	}

	byRoot := make(map[int]int)
	var out [][]int
	for v := range g.ids {
		r := find(v)
		i, ok := byRoot[r]
		if !ok {
			i = len(out)
			byRoot[r] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], v)
	}
	return out
}

// ShortestPath returns the shortest call path from node `from` to a node satisfying target,
// excluding paths of length zero, or nil when there is none.
func (g *Graph) ShortestPath(from int, target func(int) bool) []int {
	prev := make(map[int]int, g.Len())
	prev[from] = from
	queue := []int{from}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range g.succ[v] {
			if _, seen := prev[w]; seen {
				continue
			}
			prev[w] = v
			if target(w) {
				path := []int{w}
				for x := w; x != from; {
					x = prev[x]
					path = append(path, x)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, w)
		}
	}
	return nil
}
