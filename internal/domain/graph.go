package domain

import (
	"sort"
)

// GraphIndex is the adjacency view shared by the compiler and the
// engine: edge maps, loop-back edges, and loop body membership. It is
// built once per compilation or run and never mutated afterwards.
type GraphIndex struct {
	Nodes    map[string]*Node
	Incoming map[string][]Edge
	Outgoing map[string][]Edge

	// LoopBack holds edge ids excluded from cycle detection, leveling
	// and eligibility: the return edges of each loop's iteration cycle,
	// i.e. edges that target a control.loop node from inside its body.
	LoopBack map[string]bool

	// Bodies maps a loop node id to the set of nodes reachable from its
	// iteration handle without passing through the loop node itself.
	Bodies map[string]map[string]bool

	// Owner maps a body node to its innermost owning loop; nodes outside
	// every loop body have no entry.
	Owner map[string]string
}

func NewGraphIndex(wf *Workflow) *GraphIndex {
	g := &GraphIndex{
		Nodes:    make(map[string]*Node, len(wf.Nodes)),
		Incoming: make(map[string][]Edge),
		Outgoing: make(map[string][]Edge),
		LoopBack: make(map[string]bool),
		Bodies:   make(map[string]map[string]bool),
		Owner:    make(map[string]string),
	}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if _, dup := g.Nodes[n.ID]; !dup {
			g.Nodes[n.ID] = n
		}
	}
	for _, e := range wf.Edges {
		g.Outgoing[e.Source] = append(g.Outgoing[e.Source], e)
		g.Incoming[e.Target] = append(g.Incoming[e.Target], e)
	}

	for _, n := range wf.Nodes {
		if n.Type != TypeLoop {
			continue
		}
		body := g.loopBody(n.ID)
		g.Bodies[n.ID] = body
		for _, e := range g.Incoming[n.ID] {
			if body[e.Source] {
				g.LoopBack[e.ID] = true
			}
		}
	}

	// Innermost ownership: among all loops whose body contains a node,
	// the nested loop has the smaller body.
	for loopID, body := range g.Bodies {
		for id := range body {
			current, claimed := g.Owner[id]
			if !claimed || len(body) < len(g.Bodies[current]) {
				g.Owner[id] = loopID
			}
		}
	}

	return g
}

// loopBody walks from the loop's iteration-handle successors, never
// passing through the loop node itself.
func (g *GraphIndex) loopBody(loopID string) map[string]bool {
	body := make(map[string]bool)
	var queue []string
	for _, e := range g.Outgoing[loopID] {
		if e.SourcePort() == HandleIteration && e.Target != loopID {
			if _, ok := g.Nodes[e.Target]; ok {
				queue = append(queue, e.Target)
			}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if body[cur] || cur == loopID {
			continue
		}
		body[cur] = true
		for _, e := range g.Outgoing[cur] {
			if _, ok := g.Nodes[e.Target]; !ok {
				continue
			}
			if e.Target != loopID && !body[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}
	return body
}

// Dependencies returns the incoming edges that constrain scheduling,
// i.e. everything except loop-back edges.
func (g *GraphIndex) Dependencies(nodeID string) []Edge {
	var deps []Edge
	for _, e := range g.Incoming[nodeID] {
		if !g.LoopBack[e.ID] {
			deps = append(deps, e)
		}
	}
	return deps
}

// Downstream returns the transitive closure of nodes reachable from
// origin over non-loop-back edges, excluding origin itself.
func (g *GraphIndex) Downstream(origin string) map[string]bool {
	closure := make(map[string]bool)
	queue := []string{origin}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing[cur] {
			if g.LoopBack[e.ID] {
				continue
			}
			if _, ok := g.Nodes[e.Target]; !ok {
				continue
			}
			if !closure[e.Target] && e.Target != origin {
				closure[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return closure
}

// SortedOutgoing returns a node's outgoing edges in a stable order.
func (g *GraphIndex) SortedOutgoing(nodeID string) []Edge {
	edges := append([]Edge(nil), g.Outgoing[nodeID]...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].ID < edges[j].ID
	})
	return edges
}
