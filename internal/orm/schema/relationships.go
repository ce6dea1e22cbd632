package schema

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph links each entity type to the entity types it embeds summaries of.
// An edge Video -> User means Video documents hold copies of User data and must be
// revisited when a User changes.
type DependencyGraph struct {
	nodes map[string]struct{}
	edges map[string][]string // embedding type -> referenced types
	paths map[string][]string // "embedding->referenced" -> member paths
}

// NewDependencyGraph builds the graph from root descriptors
func NewDependencyGraph(descriptors []*Descriptor) *DependencyGraph {
	g := &DependencyGraph{
		nodes: make(map[string]struct{}),
		edges: make(map[string][]string),
		paths: make(map[string][]string),
	}

	for _, d := range descriptors {
		from := d.ModelType().Name()
		g.nodes[from] = struct{}{}

		for _, s := range d.Summaries() {
			to := s.ModelType().Name()
			g.nodes[to] = struct{}{}

			key := edgeKey(from, to)
			if _, seen := g.paths[key]; !seen {
				g.edges[from] = append(g.edges[from], to)
			}
			g.paths[key] = append(g.paths[key], s.Container().Path())
		}
	}

	for from := range g.edges {
		sort.Strings(g.edges[from])
	}
	return g
}

// Nodes returns the type names in the graph sorted
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DetectCycles detects types that, through summaries, end up embedding themselves
func (g *DependencyGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, next := range g.edges[node] {
			if !visited[next] {
				dfs(next, path)
				continue
			}
			if !onStack[next] {
				continue
			}
			for i, n := range path {
				if n == next {
					cycle := make([]string, len(path)-i)
					copy(cycle, path[i:])
					cycles = append(cycles, cycle)
					break
				}
			}
		}

		onStack[node] = false
	}

	for _, node := range g.Nodes() {
		if !visited[node] {
			dfs(node, nil)
		}
	}

	return cycles
}

// TopologicalSort returns types with referenced types first
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int, len(g.nodes))
	reverse := make(map[string][]string)
	for node := range g.nodes {
		outDegree[node] = len(g.edges[node])
	}
	for from, targets := range g.edges {
		for _, to := range targets {
			reverse[to] = append(reverse[to], from)
		}
	}

	var queue []string
	for _, node := range g.Nodes() {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		dependents := reverse[node]
		sort.Strings(dependents)
		for _, dep := range dependents {
			outDegree[dep]--
			if outDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular summary dependency detected:\n%s", formatCycles(g.DetectCycles()))
	}
	return result, nil
}

// Dependencies returns the types whose summaries name embeds
func (g *DependencyGraph) Dependencies(name string) []string {
	deps := g.edges[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the types embedding summaries of name
func (g *DependencyGraph) Dependents(name string) []string {
	var out []string
	for from, targets := range g.edges {
		for _, to := range targets {
			if to == name {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Paths returns the member paths through which from embeds summaries of to
func (g *DependencyGraph) Paths(from, to string) []string {
	p := g.paths[edgeKey(from, to)]
	out := make([]string, len(p))
	copy(out, p)
	return out
}

// Report summarizes the graph for operators
func (g *DependencyGraph) Report() *DependencyReport {
	report := &DependencyReport{
		TotalTypes:   len(g.nodes),
		Dependencies: make(map[string][]string),
		Dependents:   make(map[string][]string),
		Paths:        make(map[string][]string),
	}
	for _, name := range g.Nodes() {
		report.Dependencies[name] = g.Dependencies(name)
		report.Dependents[name] = g.Dependents(name)
	}
	for key, p := range g.paths {
		report.Paths[key] = append([]string(nil), p...)
	}

	report.Cycles = g.DetectCycles()
	report.HasCycles = len(report.Cycles) > 0
	if order, err := g.TopologicalSort(); err == nil {
		report.Order = order
	}
	return report
}

// DependencyReport is the result of analysing a DependencyGraph
type DependencyReport struct {
	TotalTypes   int
	Dependencies map[string][]string // type -> types it embeds summaries of
	Dependents   map[string][]string // type -> types embedding its summaries
	Paths        map[string][]string // "from->to" -> member paths
	Cycles       [][]string
	HasCycles    bool
	Order        []string // referenced types first; empty with cycles
}

// String formats the dependency report
func (r *DependencyReport) String() string {
	var b strings.Builder

	b.WriteString("Summary Dependency Report\n")
	fmt.Fprintf(&b, "Total Types: %d\n\n", r.TotalTypes)

	names := make([]string, 0, len(r.Dependents))
	for name := range r.Dependents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dependents := r.Dependents[name]
		if len(dependents) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s is embedded by:\n", name)
		for _, from := range dependents {
			fmt.Fprintf(&b, "  %s via %s\n", from, strings.Join(r.Paths[edgeKey(from, name)], ", "))
		}
	}

	if r.HasCycles {
		b.WriteString("\nCycles:\n")
		b.WriteString(formatCycles(r.Cycles))
		b.WriteString("\n")
	}
	if len(r.Order) > 0 {
		fmt.Fprintf(&b, "\nOrder: %s\n", strings.Join(r.Order, ", "))
	}
	return b.String()
}

func edgeKey(from, to string) string { return from + "->" + to }

func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  Cycle %d: %s -> %s", i+1, strings.Join(cycle, " -> "), cycle[0])
	}
	return b.String()
}
