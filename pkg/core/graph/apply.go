package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrEndpointNotFound = errors.New("edge endpoint not found")
	ErrParentNotFound   = errors.New("parent node not found")
	ErrParentCycle      = errors.New("parent link would create a cycle")
	ErrMissingField     = errors.New("required field missing")
	ErrUnknownKind      = errors.New("unknown action kind")
	ErrEdgeExists       = errors.New("nodes are already connected")
)

// ApplyError is a rejected action. The graph is unchanged when Apply returns one.
type ApplyError struct {
	Kind   sketch.Kind
	ID     string
	Err    error
	Detail string
}

func (e *ApplyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %v: %s", e.Kind, e.ID, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func reject(a sketch.Action, err error, detail string) *ApplyError {
	return &ApplyError{Kind: a.Kind, ID: a.ID, Err: err, Detail: detail}
}

// Apply validates a against the current graph and mutates it on success.
// Deletes are idempotent; everything else that fails leaves g untouched.
func (g *Graph) Apply(a sketch.Action) error {
	switch a.Kind {
	case sketch.KindCreateNode:
		return g.createNode(a)
	case sketch.KindUpdateNode:
		return g.updateNode(a)
	case sketch.KindDeleteNode:
		g.deleteNode(a.ID)
		return nil
	case sketch.KindCreateEdge:
		return g.createEdge(a)
	case sketch.KindDeleteEdge:
		g.deleteEdge(a)
		return nil
	default:
		return reject(a, ErrUnknownKind, string(a.Kind))
	}
}

func (g *Graph) createNode(a sketch.Action) error {
	label := strings.TrimSpace(a.LabelOr(""))
	if label == "" || a.Type == nil {
		return reject(a, ErrMissingField, "label and type are required")
	}
	parent := strings.TrimSpace(valueOr(a.ParentID))
	if err := g.checkParent(a, parent); err != nil {
		return err
	}

	n := Node{
		ID:          a.ID,
		Label:       label,
		Description: valueOr(a.Description),
		Type:        *a.Type,
		ParentID:    parent,
		RelativeTo:  valueOr(a.RelativeTo),
		Opacity:     a.Opacity,
	}
	if a.Color != nil {
		n.Color = string(*a.Color)
	}
	if a.Position != nil {
		n.Position = *a.Position
	}
	g.putNode(n)
	return nil
}

func (g *Graph) updateNode(a sketch.Action) error {
	cur, ok := g.nodes[a.ID]
	if !ok {
		return reject(a, ErrNodeNotFound, "")
	}
	n := *cur
	if a.ParentID != nil {
		parent := strings.TrimSpace(*a.ParentID)
		if err := g.checkParent(a, parent); err != nil {
			return err
		}
		n.ParentID = parent
	}
	if a.Label != nil && strings.TrimSpace(*a.Label) != "" {
		n.Label = strings.TrimSpace(*a.Label)
	}
	if a.Description != nil {
		n.Description = *a.Description
	}
	if a.Type != nil {
		n.Type = *a.Type
	}
	if a.Color != nil {
		n.Color = string(*a.Color)
	}
	if a.Position != nil {
		n.Position = *a.Position
	}
	if a.RelativeTo != nil {
		n.RelativeTo = *a.RelativeTo
	}
	if a.Opacity != nil {
		n.Opacity = a.Opacity
	}
	g.putNode(n)
	return nil
}

func (g *Graph) checkParent(a sketch.Action, parent string) error {
	if parent == "" {
		return nil
	}
	if _, ok := g.nodes[parent]; !ok {
		return reject(a, ErrParentNotFound, parent)
	}
	if g.createsParentCycle(a.ID, parent) {
		return reject(a, ErrParentCycle, parent)
	}
	return nil
}

func (g *Graph) deleteNode(id string) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	for _, eid := range append([]string(nil), g.edgeOrder...) {
		e := g.edges[eid]
		if e.SourceID == id || e.TargetID == id {
			g.removeEdge(eid)
		}
	}
	for _, n := range g.nodes {
		if n.ParentID == id {
			n.ParentID = ""
		}
	}
	g.removeNode(id)
}

func (g *Graph) createEdge(a sketch.Action) error {
	src, dst := strings.TrimSpace(a.Source()), strings.TrimSpace(a.Target())
	if src == "" || dst == "" {
		return reject(a, ErrMissingField, "source_id and target_id are required")
	}
	if _, ok := g.nodes[src]; !ok {
		return reject(a, ErrEndpointNotFound, "source "+src)
	}
	if _, ok := g.nodes[dst]; !ok {
		return reject(a, ErrEndpointNotFound, "target "+dst)
	}
	// One edge per directed pair; the existing id is what later deletes must use.
	for _, eid := range g.edgeOrder {
		e := g.edges[eid]
		if eid != a.ID && e.SourceID == src && e.TargetID == dst {
			return reject(a, ErrEdgeExists, "existing edge "+eid)
		}
	}
	g.putEdge(Edge{
		ID:            a.ID,
		SourceID:      src,
		TargetID:      dst,
		Bidirectional: a.Bidirectional != nil && *a.Bidirectional,
	})
	return nil
}

// deleteEdge removes the edge with the action id, and also any edge matching
// the action's source/target pair when both are given.
func (g *Graph) deleteEdge(a sketch.Action) {
	g.removeEdge(a.ID)
	src, dst := strings.TrimSpace(a.Source()), strings.TrimSpace(a.Target())
	if src == "" || dst == "" {
		return
	}
	for _, eid := range append([]string(nil), g.edgeOrder...) {
		e := g.edges[eid]
		if e.SourceID == src && e.TargetID == dst {
			g.removeEdge(eid)
		}
	}
}

// Outcome is the result of one action within a batch.
type Outcome struct {
	Index  int
	Action sketch.Action
	Err    error
}

// BatchResult records every action's outcome in order.
type BatchResult struct {
	Outcomes []Outcome
}

// Applied counts successful actions.
func (r BatchResult) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Rejected returns the failed outcomes.
func (r BatchResult) Rejected() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// ApplyBatch applies actions strictly in order. A rejected action is recorded
// and skipped; later actions still run against the graph as it stands.
func (g *Graph) ApplyBatch(actions []sketch.Action) BatchResult {
	res := BatchResult{Outcomes: make([]Outcome, 0, len(actions))}
	for i, a := range actions {
		res.Outcomes = append(res.Outcomes, Outcome{Index: i, Action: a, Err: g.Apply(a)})
	}
	return res
}

func valueOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
