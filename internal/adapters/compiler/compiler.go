package compiler

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// Compiler validates a workflow graph and produces its execution levels.
// Compile is a pure function over the graph: no I/O, and identical input
// always yields an identical CompileResult.
type Compiler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{logger: logger.With("component", "compiler")}
}

// Compile runs every validation stage, then levels the graph. A fatal
// finding in any stage short-circuits leveling but not the remaining
// validations, so callers see the full error list in one pass.
func (c *Compiler) Compile(wf *domain.Workflow) domain.CompileResult {
	snapshot, err := wf.Clone()
	if err != nil {
		return domain.CompileResult{
			Errors: []domain.CompileError{{
				Type:    domain.CompileInvalidNode,
				Message: fmt.Sprintf("workflow snapshot failed: %v", err),
			}},
		}
	}

	g := newGraph(snapshot)
	var findings []domain.CompileError

	findings = append(findings, g.validateNodes()...)
	findings = append(findings, g.validateEdges()...)
	findings = append(findings, g.validateEntryExit()...)

	// Reachability needs a start node; without one the graph is already
	// invalid and the warnings would be noise.
	if g.start != "" {
		findings = append(findings, g.validateReachability()...)
		findings = append(findings, g.validateAcyclic()...)
	}

	result := domain.CompileResult{Valid: true, Errors: findings}
	for _, f := range findings {
		if f.Fatal() {
			result.Valid = false
		}
	}
	if !result.Valid {
		c.logger.Debug("graph rejected",
			"workflow_id", wf.ID,
			"findings", len(findings))
		return result
	}

	result.ExecutionOrder = g.level()
	result.TotalLevels = len(result.ExecutionOrder)

	c.logger.Debug("graph compiled",
		"workflow_id", wf.ID,
		"total_levels", result.TotalLevels,
		"nodes", len(snapshot.Nodes))

	return result
}

// graph is the working state built once per compilation: the shared
// adjacency index plus validation-only fields.
type graph struct {
	wf  *domain.Workflow
	idx *domain.GraphIndex

	start     string
	reachable map[string]bool
}

func newGraph(wf *domain.Workflow) *graph {
	return &graph{
		wf:        wf,
		idx:       domain.NewGraphIndex(wf),
		reachable: make(map[string]bool),
	}
}

func (g *graph) validateNodes() []domain.CompileError {
	var findings []domain.CompileError
	seen := make(map[string]bool, len(g.wf.Nodes))
	for _, n := range g.wf.Nodes {
		if n.ID == "" {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileInvalidNode,
				Message: "node with empty id",
			})
			continue
		}
		if seen[n.ID] {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileInvalidNode,
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				NodeID:  n.ID,
			})
		}
		seen[n.ID] = true
	}
	return findings
}

func (g *graph) validateEdges() []domain.CompileError {
	var findings []domain.CompileError
	for _, e := range g.wf.Edges {
		if _, ok := g.idx.Nodes[e.Source]; !ok {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileInvalidEdge,
				Message: fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source),
			})
		}
		if _, ok := g.idx.Nodes[e.Target]; !ok {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileInvalidEdge,
				Message: fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target),
			})
		}
	}
	return findings
}

// validateEntryExit enforces exactly one start node with no incoming
// edges and at least one end node reachable from it.
func (g *graph) validateEntryExit() []domain.CompileError {
	var findings []domain.CompileError

	var starts []string
	for _, n := range g.wf.Nodes {
		if n.Type == domain.TypeStart {
			starts = append(starts, n.ID)
		}
	}
	sort.Strings(starts)

	switch {
	case len(starts) == 0:
		findings = append(findings, domain.CompileError{
			Type:    domain.CompileMissingStart,
			Message: "workflow has no control.start node",
		})
	case len(starts) > 1:
		findings = append(findings, domain.CompileError{
			Type:    domain.CompileMissingStart,
			Message: fmt.Sprintf("workflow has %d control.start nodes, want exactly one", len(starts)),
		})
	default:
		g.start = starts[0]
		if len(g.idx.Incoming[g.start]) > 0 {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileMissingStart,
				Message: "control.start node must have no incoming edges",
				NodeID:  g.start,
			})
			g.start = ""
		}
	}

	if g.start != "" {
		endReachable := false
		for id := range g.walkFrom(g.start) {
			if n, ok := g.idx.Nodes[id]; ok && n.Type == domain.TypeEnd {
				endReachable = true
				break
			}
		}
		if !endReachable {
			findings = append(findings, domain.CompileError{
				Type:    domain.CompileMissingEnd,
				Message: "no control.end node reachable from start",
			})
		}
	}

	return findings
}

// validateReachability reports unreachable nodes as warnings and drops
// them from leveling.
func (g *graph) validateReachability() []domain.CompileError {
	g.reachable = g.walkFrom(g.start)

	var unreachable []string
	for _, n := range g.wf.Nodes {
		if !g.reachable[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}
	sort.Strings(unreachable)

	findings := make([]domain.CompileError, 0, len(unreachable))
	for _, id := range unreachable {
		findings = append(findings, domain.CompileError{
			Type:    domain.CompileUnreachableNode,
			Message: fmt.Sprintf("node %q is not reachable from start and will not execute", id),
			NodeID:  id,
		})
	}
	return findings
}

// walkFrom returns all nodes reachable from origin following every edge.
func (g *graph) walkFrom(origin string) map[string]bool {
	seen := map[string]bool{origin: true}
	queue := []string{origin}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.idx.Outgoing[cur] {
			if _, ok := g.idx.Nodes[e.Target]; !ok {
				continue
			}
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return seen
}

// validateAcyclic rejects any cycle among reachable nodes with a DFS
// color sweep; loop-back edges are already excluded by the index.
func (g *graph) validateAcyclic() []domain.CompileError {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.idx.Nodes))
	var cycleAt string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, e := range g.idx.SortedOutgoing(id) {
			if g.idx.LoopBack[e.ID] || !g.reachable[e.Target] {
				continue
			}
			switch color[e.Target] {
			case white:
				if visit(e.Target) {
					return true
				}
			case gray:
				cycleAt = e.Target
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.sortedReachable() {
		if color[id] == white && visit(id) {
			return []domain.CompileError{{
				Type:    domain.CompileCycle,
				Message: fmt.Sprintf("cycle detected through node %q", cycleAt),
				NodeID:  cycleAt,
			}}
		}
	}
	return nil
}

// level assigns longest-path generations: level(start) = 0, and every
// other node sits one past its deepest non-loop-back predecessor. Node
// ids are sorted within each level so recompilation is idempotent.
func (g *graph) level() [][]string {
	levels := make(map[string]int, len(g.idx.Nodes))

	// Kahn ordering over the reduced (loop-back-free) reachable graph,
	// relaxing levels as nodes drain.
	indeg := make(map[string]int)
	for id := range g.reachable {
		if _, ok := g.idx.Nodes[id]; ok {
			indeg[id] = 0
			levels[id] = 0
		}
	}
	for _, e := range g.wf.Edges {
		if g.idx.LoopBack[e.ID] || !g.reachable[e.Source] || !g.reachable[e.Target] {
			continue
		}
		indeg[e.Target]++
	}

	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.idx.SortedOutgoing(cur) {
			if g.idx.LoopBack[e.ID] || !g.reachable[e.Target] {
				continue
			}
			if next := levels[cur] + 1; next > levels[e.Target] {
				levels[e.Target] = next
			}
			indeg[e.Target]--
			if indeg[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	maxLevel := 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}

	order := make([][]string, maxLevel+1)
	for id, l := range levels {
		order[l] = append(order[l], id)
	}
	for _, level := range order {
		sort.Strings(level)
	}
	return order
}

func (g *graph) sortedReachable() []string {
	ids := make([]string, 0, len(g.reachable))
	for id := range g.reachable {
		if _, ok := g.idx.Nodes[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
