// Package graph holds the canonical node/edge state of one diagram session.
//
// A Graph is not safe for concurrent use. The session that owns it serializes
// every read and write; anything that needs to read it elsewhere takes a Clone.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

// Node is a diagram element.
type Node struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Type        sketch.NodeType `json:"type"`
	Color       string          `json:"color,omitempty"`
	ParentID    string          `json:"parent_id,omitempty"`
	Position    sketch.Position `json:"position,omitempty"`
	RelativeTo  string          `json:"relative_to,omitempty"`
	Opacity     *float64        `json:"opacity,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	TargetID      string `json:"target_id"`
	Bidirectional bool   `json:"bidirectional"`
}

// Graph is an insertion-ordered set of nodes and edges.
type Graph struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the edge count.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns a copy of the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Edge returns a copy of the edge with id.
func (g *Graph) Edge(id string) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Edges returns the edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, *g.edges[id])
	}
	return out
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:     make(map[string]*Node, len(g.nodes)),
		nodeOrder: append([]string(nil), g.nodeOrder...),
		edges:     make(map[string]*Edge, len(g.edges)),
		edgeOrder: append([]string(nil), g.edgeOrder...),
	}
	for id, n := range g.nodes {
		cp := *n
		if n.Opacity != nil {
			o := *n.Opacity
			cp.Opacity = &o
		}
		c.nodes[id] = &cp
	}
	for id, e := range g.edges {
		cp := *e
		c.edges[id] = &cp
	}
	return c
}

func (g *Graph) putNode(n Node) {
	if _, ok := g.nodes[n.ID]; !ok {
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	g.nodes[n.ID] = &n
}

func (g *Graph) removeNode(id string) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	g.nodeOrder = removeID(g.nodeOrder, id)
}

func (g *Graph) putEdge(e Edge) {
	if _, ok := g.edges[e.ID]; !ok {
		g.edgeOrder = append(g.edgeOrder, e.ID)
	}
	g.edges[e.ID] = &e
}

func (g *Graph) removeEdge(id string) {
	if _, ok := g.edges[id]; !ok {
		return
	}
	delete(g.edges, id)
	g.edgeOrder = removeID(g.edgeOrder, id)
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// createsParentCycle reports whether setting child's parent to parent would
// make the parent chain loop back to child.
func (g *Graph) createsParentCycle(child, parent string) bool {
	seen := make(map[string]struct{}, 8)
	for cur := parent; cur != ""; {
		if cur == child {
			return true
		}
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
		n, ok := g.nodes[cur]
		if !ok {
			return false
		}
		cur = n.ParentID
	}
	return false
}

const (
	defaultSummaryNodes = 200
	defaultSummaryEdges = 300
)

// Summary renders the graph as compact text for the reasoner. Output is stable
// for a given graph and bounded in size.
func (g *Graph) Summary() string {
	return g.SummaryLimit(defaultSummaryNodes, defaultSummaryEdges)
}

// SummaryLimit is Summary with explicit line caps.
func (g *Graph) SummaryLimit(maxNodes, maxEdges int) string {
	if len(g.nodes) == 0 {
		return "Empty graph - no nodes yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Nodes (%d):", len(g.nodes))
	for i, id := range g.nodeOrder {
		if i == maxNodes {
			fmt.Fprintf(&b, "\n- ... %d more nodes", len(g.nodeOrder)-maxNodes)
			break
		}
		n := g.nodes[id]
		fmt.Fprintf(&b, "\n- %s: %s (%s)", n.ID, summaryLabel(n.Label), n.Type)
		if n.ParentID != "" {
			fmt.Fprintf(&b, " in %s", n.ParentID)
		}
	}

	if len(g.edges) > 0 {
		fmt.Fprintf(&b, "\n\nEdges (%d):", len(g.edges))
		for i, id := range g.edgeOrder {
			if i == maxEdges {
				fmt.Fprintf(&b, "\n- ... %d more edges", len(g.edgeOrder)-maxEdges)
				break
			}
			e := g.edges[id]
			arrow := "->"
			if e.Bidirectional {
				arrow = "<->"
			}
			fmt.Fprintf(&b, "\n- %s %s %s", e.SourceID, arrow, e.TargetID)
		}
	}
	return b.String()
}

// summaryLabelRunes caps labels that arrive through canvas sync, which does not
// enforce the action schema's label length.
const summaryLabelRunes = 100

func summaryLabel(label string) string {
	label = strings.Join(strings.Fields(label), " ")
	if utf8.RuneCountInString(label) <= summaryLabelRunes {
		return label
	}
	return string([]rune(label)[:summaryLabelRunes]) + "..."
}

type wireGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON encodes the graph as ordered node and edge lists.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireGraph{Nodes: g.Nodes(), Edges: g.Edges()})
}
