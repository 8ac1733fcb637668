package flowtype

import (
	"fmt"
	"sort"
	"strings"
)

// Cycle is an inheritance loop among flow type declarations.
type Cycle struct {
	Path    []string `json:"path"` // ["A", "B", "A"]
	Message string   `json:"message"`
}

// FindCycles reports every inheritance cycle among decls.
//
// Each declaration has at most one parent, so the extends graph is a
// functional graph; Tarjan's algorithm still gives every strongly connected
// component in one pass. Edges to undeclared parents are ignored.
// Results are ordered by the smallest member name for stable output.
func FindCycles(decls []Declaration) []Cycle {
	graph := make(map[string]string, len(decls))
	for _, d := range decls {
		graph[d.Name] = d.Extends
	}

	var cycles []Cycle
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || graph[scc[0]] == scc[0] {
			cycles = append(cycles, cycleFromSCC(scc, graph))
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].Path[0] < cycles[j].Path[0] })
	return cycles
}

// tarjanSCC finds strongly connected components of the extends graph.
func tarjanSCC(graph map[string]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		if w, ok := graph[v]; ok && w != "" {
			if _, declared := graph[w]; declared {
				if _, visited := indices[w]; !visited {
					strongConnect(w)
					lowlink[v] = min(lowlink[v], lowlink[w])
				} else if onStack[w] {
					lowlink[v] = min(lowlink[v], indices[w])
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range sortedNames(graph) {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cycleFromSCC walks the loop starting at its smallest member.
func cycleFromSCC(scc []string, graph map[string]string) Cycle {
	start := scc[0]
	for _, n := range scc[1:] {
		if n < start {
			start = n
		}
	}

	path := []string{start}
	for next := graph[start]; next != start; next = graph[next] {
		path = append(path, next)
	}
	path = append(path, start)

	return Cycle{
		Path:    path,
		Message: fmt.Sprintf("inheritance cycle: %s", strings.Join(path, " -> ")),
	}
}
