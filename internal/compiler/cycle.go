package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/dgate/internal/core"
)

// CycleWarning represents a loop in a scenario's stage graph.
//
// Loops are warnings, not errors: a fixed or branch edge back to an earlier
// stage is how a scenario models a retry or rework step.
type CycleWarning struct {
	Path    []string `json:"path"`    // e.g. ["review", "rework", "review"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles detects loops in the stage graph.
//
// The algorithm:
//  1. Build stage → successor stages from each stage's advance_to
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(spec *core.ScenarioSpec) []CycleWarning {
	if spec == nil || len(spec.Stages) == 0 {
		return []CycleWarning{}
	}

	graph := buildStageGraph(spec)
	sccs := tarjanSCC(graph, stageOrder(spec))

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// stageGraph maps stage_id → stage_ids it can advance to.
type stageGraph map[string][]string

// buildStageGraph collects the outgoing edges of every stage. Terminal
// edges (run completes) are omitted.
func buildStageGraph(spec *core.ScenarioSpec) stageGraph {
	graph := make(stageGraph, len(spec.Stages))
	for i, st := range spec.Stages {
		edges := []string{}
		adv := st.AdvanceTo
		switch adv.Kind {
		case core.AdvanceLinear:
			if i+1 < len(spec.Stages) {
				edges = append(edges, spec.Stages[i+1].StageID)
			}
		case core.AdvanceFixed:
			edges = append(edges, adv.StageID)
		case core.AdvanceBranch:
			for _, b := range adv.Branches {
				edges = append(edges, b.NextStageID)
			}
			if adv.Default != "" {
				edges = append(edges, adv.Default)
			}
		}
		graph[st.StageID] = dedupe(edges)
	}
	return graph
}

func stageOrder(spec *core.ScenarioSpec) []string {
	order := make([]string, len(spec.Stages))
	for i, st := range spec.Stages {
		order[i] = st.StageID
	}
	return order
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph stageGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order so results are deterministic.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph stageGraph, order []string) [][]string {
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

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
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

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning. The path starts at
// the lexically smallest stage so messages are stable.
func cycleSCCToWarning(scc []string, graph stageGraph) CycleWarning {
	if len(scc) == 1 {
		stageID := scc[0]
		return CycleWarning{
			Path:    []string{stageID, stageID},
			Message: fmt.Sprintf("Stage advances to itself: %s → %s", stageID, stageID),
			Level:   "warning",
		}
	}

	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)
	path := reconstructCyclePath(sorted, graph)

	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Stage loop detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph stageGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
