package graph

import (
	"fmt"
	"sort"

	"github.com/skystack/sky-rca/internal/models"
)

// Model is an immutable view of one snapshot's call graph. All queries are
// read-only, so concurrent access needs no locking.
type Model struct {
	nodes   map[string]models.ServiceNode
	order   []string
	out     map[string][]string
	in      map[string][]string
	edges   int
	dropped int
	warns   []string
}

// Build constructs a Model from raw topology data. Edges referencing unknown
// node ids are dropped with a recorded warning rather than failing: topology
// from an external collector is occasionally inconsistent. Parallel edges
// between the same pair merge into one.
func Build(topo models.Topology) *Model {
	m := &Model{
		nodes: make(map[string]models.ServiceNode, len(topo.Nodes)),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}

	for _, node := range topo.Nodes {
		if node.ID == "" {
			m.warns = append(m.warns, "node with empty id skipped")
			continue
		}
		if _, exists := m.nodes[node.ID]; exists {
			m.warns = append(m.warns, fmt.Sprintf("duplicate node %s skipped", node.ID))
			continue
		}
		m.nodes[node.ID] = node
		m.order = append(m.order, node.ID)
	}
	sort.Strings(m.order)

	seen := make(map[[2]string]struct{}, len(topo.Calls))
	for _, call := range topo.Calls {
		if _, ok := m.nodes[call.Source]; !ok {
			m.dropped++
			m.warns = append(m.warns, fmt.Sprintf("edge %s->%s dropped: unknown source", call.Source, call.Target))
			continue
		}
		if _, ok := m.nodes[call.Target]; !ok {
			m.dropped++
			m.warns = append(m.warns, fmt.Sprintf("edge %s->%s dropped: unknown target", call.Source, call.Target))
			continue
		}
		key := [2]string{call.Source, call.Target}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		m.out[call.Source] = append(m.out[call.Source], call.Target)
		m.in[call.Target] = append(m.in[call.Target], call.Source)
		m.edges++
	}

	for id := range m.out {
		sort.Strings(m.out[id])
	}
	for id := range m.in {
		sort.Strings(m.in[id])
	}

	return m
}

// Has reports whether the service id exists in the graph.
func (m *Model) Has(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// Node returns the node record for id.
func (m *Model) Node(id string) (models.ServiceNode, bool) {
	node, ok := m.nodes[id]
	return node, ok
}

// Services returns all service ids in sorted order.
func (m *Model) Services() []string {
	return append([]string(nil), m.order...)
}

// Upstream returns the immediate callers of id, sorted.
func (m *Model) Upstream(id string) []string {
	return append([]string(nil), m.in[id]...)
}

// Downstream returns the services id calls, sorted.
func (m *Model) Downstream(id string) []string {
	return append([]string(nil), m.out[id]...)
}

// FanIn is the number of distinct immediate callers.
func (m *Model) FanIn(id string) int { return len(m.in[id]) }

// FanOut is the number of distinct immediate callees.
func (m *Model) FanOut(id string) int { return len(m.out[id]) }

// ReachableUpstream walks against edge direction from id, bounded by maxDepth,
// and returns each reached service with its hop distance. The visited set
// guarantees termination on cyclic graphs.
func (m *Model) ReachableUpstream(id string, maxDepth int) map[string]int {
	return m.walk(id, maxDepth, m.in)
}

// ReachableDownstream walks along edge direction from id, bounded by maxDepth.
func (m *Model) ReachableDownstream(id string, maxDepth int) map[string]int {
	return m.walk(id, maxDepth, m.out)
}

func (m *Model) walk(id string, maxDepth int, adj map[string][]string) map[string]int {
	reached := make(map[string]int)
	if !m.Has(id) || maxDepth <= 0 {
		return reached
	}

	type item struct {
		id    string
		depth int
	}
	visited := map[string]struct{}{id: {}}
	queue := []item{{id: id, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, next := range adj[cur.id] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			reached[next] = cur.depth + 1
			queue = append(queue, item{id: next, depth: cur.depth + 1})
		}
	}
	return reached
}

// NodeCount returns the number of nodes retained.
func (m *Model) NodeCount() int { return len(m.nodes) }

// EdgeCount returns the number of merged edges retained.
func (m *Model) EdgeCount() int { return m.edges }

// Warnings returns the data-quality warnings recorded during construction.
func (m *Model) Warnings() []string {
	return append([]string(nil), m.warns...)
}

// Stats summarises the graph for analysis output.
func (m *Model) Stats() models.GraphStats {
	return models.GraphStats{
		Nodes:        len(m.nodes),
		Edges:        m.edges,
		DroppedEdges: m.dropped,
	}
}
