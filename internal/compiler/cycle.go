package compiler

import (
	"slices"
)

// fieldGraph is the field-level dependency graph of one entity type:
// edges run from a field to the fields its rules depend on.
type fieldGraph struct {
	nodes []string            // declaration order
	edges map[string][]string // field -> dependency fields, declaration order
	rank  map[string]int      // field -> position in nodes
}

func newFieldGraph() *fieldGraph {
	return &fieldGraph{edges: make(map[string][]string), rank: make(map[string]int)}
}

func (g *fieldGraph) addNode(field string) {
	if _, ok := g.rank[field]; ok {
		return
	}
	g.rank[field] = len(g.nodes)
	g.nodes = append(g.nodes, field)
}

func (g *fieldGraph) addEdge(from, to string) {
	g.addNode(from)
	g.addNode(to)
	if !slices.Contains(g.edges[from], to) {
		g.edges[from] = append(g.edges[from], to)
	}
}

// findCycles returns one cycle path per strongly connected component with
// more than one field, e.g. ["a", "b", "a"]. Paths start at the
// earliest-declared field of the component, and components are reported
// in declaration order of that field.
//
// The algorithm is Tarjan's: visit nodes in declaration order, pop a
// component when a node's lowlink equals its index.
func (g *fieldGraph) findCycles() [][]string {
	var cycles [][]string
	for _, scc := range g.tarjanSCC() {
		if len(scc) < 2 {
			continue
		}
		slices.SortFunc(scc, func(a, b string) int { return g.rank[a] - g.rank[b] })
		cycles = append(cycles, g.cyclePath(scc))
	}
	slices.SortFunc(cycles, func(a, b []string) int { return g.rank[a[0]] - g.rank[b[0]] })
	return cycles
}

func (g *fieldGraph) tarjanSCC() [][]string {
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

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
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

	for _, node := range g.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath finds the shortest cycle through scc[0] that stays inside the
// component, breadth first so the result does not depend on map order.
func (g *fieldGraph) cyclePath(scc []string) []string {
	start := scc[0]
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if !members[next] {
				continue
			}
			if next == start {
				var path []string
				for n := cur; n != ""; n = parent[n] {
					path = append(path, n)
				}
				slices.Reverse(path)
				return append(path, start)
			}
			if _, seen := parent[next]; !seen {
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	// Unreachable for a real component; report the members as found.
	return append(slices.Clone(scc), start)
}
