package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

// ErrMalformedSnapshot wraps every reason a canvas graph could not be decoded.
var ErrMalformedSnapshot = errors.New("malformed canvas graph")

type snapshotNode struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	Type          string   `json:"type"`
	ParentID      string   `json:"parent_id"`
	ParentIDCamel string   `json:"parentId"`
	Color         string   `json:"color"`
	Position      string   `json:"position"`
	RelativeTo    string   `json:"relative_to"`
	Opacity       *float64 `json:"opacity"`
}

type snapshotEdge struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	SourceIDCamel string `json:"sourceId"`
	TargetID      string `json:"target_id"`
	TargetIDCamel string `json:"targetId"`
	Bidirectional bool   `json:"bidirectional"`
}

type snapshotGraph struct {
	Nodes json.RawMessage `json:"nodes"`
	Edges []snapshotEdge  `json:"edges"`
}

// FromSnapshot builds a graph from the client's extracted canvas state. Nodes
// may be a list or an id-keyed object; edge endpoints may use snake or camel
// case. Edges and parent links that point at unknown nodes are dropped; edges
// without an id get a generated one.
func FromSnapshot(raw []byte) (*Graph, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: graph is required", ErrMalformedSnapshot)
	}
	var sg snapshotGraph
	if err := json.Unmarshal(raw, &sg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	nodes, err := decodeSnapshotNodes(sg.Nodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	g := New()
	for i, sn := range nodes {
		id := strings.TrimSpace(sn.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: nodes[%d]: id is required", ErrMalformedSnapshot, i)
		}
		typ := sketch.NodeType(strings.TrimSpace(sn.Type))
		if typ == "" {
			typ = sketch.NodeBox
		} else if !slices.Contains(sketch.NodeTypes, typ) {
			return nil, fmt.Errorf("%w: nodes[%d]: unknown type %q", ErrMalformedSnapshot, i, sn.Type)
		}
		pos := sketch.Position(strings.TrimSpace(sn.Position))
		if !slices.Contains(sketch.Positions, pos) {
			pos = ""
		}
		parent := strings.TrimSpace(sn.ParentID)
		if parent == "" {
			parent = strings.TrimSpace(sn.ParentIDCamel)
		}
		g.putNode(Node{
			ID:          id,
			Label:       sn.Label,
			Description: sn.Description,
			Type:        typ,
			Color:       sn.Color,
			ParentID:    parent,
			Position:    pos,
			RelativeTo:  sn.RelativeTo,
			Opacity:     sn.Opacity,
		})
	}

	// Parent links are resolved after every node is known so order in the
	// snapshot does not matter.
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if n.ParentID == "" {
			continue
		}
		if _, ok := g.nodes[n.ParentID]; !ok || n.ParentID == id {
			n.ParentID = ""
		}
	}
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if n.ParentID != "" && g.createsParentCycle(id, n.ParentID) {
			n.ParentID = ""
		}
	}

	for _, se := range sg.Edges {
		src := firstNonEmpty(se.SourceID, se.SourceIDCamel)
		dst := firstNonEmpty(se.TargetID, se.TargetIDCamel)
		if src == "" || dst == "" {
			continue
		}
		if _, ok := g.nodes[src]; !ok {
			continue
		}
		if _, ok := g.nodes[dst]; !ok {
			continue
		}
		id := strings.TrimSpace(se.ID)
		if id == "" {
			id = "e_" + uuid.NewString()
		}
		g.putEdge(Edge{ID: id, SourceID: src, TargetID: dst, Bidirectional: se.Bidirectional})
	}
	return g, nil
}

// ReplaceFrom swaps the whole graph for the decoded snapshot. On error g is
// left exactly as it was.
func (g *Graph) ReplaceFrom(raw []byte) error {
	next, err := FromSnapshot(raw)
	if err != nil {
		return err
	}
	*g = *next
	return nil
}

func decodeSnapshotNodes(raw json.RawMessage) ([]snapshotNode, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var list []snapshotNode
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		return decodeKeyedNodes(trimmed)
	default:
		return nil, errors.New("nodes must be a list or an object")
	}
}

// decodeKeyedNodes reads {"id": node, ...} keeping document order.
func decodeKeyedNodes(raw []byte) ([]snapshotNode, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []snapshotNode
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}
		var n snapshotNode
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("nodes[%q]: %w", key, err)
		}
		if strings.TrimSpace(n.ID) == "" {
			n.ID = key
		}
		out = append(out, n)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
