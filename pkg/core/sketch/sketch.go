// Package sketch defines the diagram action vocabulary the reasoner emits and
// the graph store consumes.
package sketch

// Kind is the discriminator of an Action.
type Kind string

const (
	KindCreateNode Kind = "create_node"
	KindUpdateNode Kind = "update_node"
	KindDeleteNode Kind = "delete_node"
	KindCreateEdge Kind = "create_edge"
	KindDeleteEdge Kind = "delete_edge"
)

// Kinds lists every action kind in prompt order.
var Kinds = []Kind{KindCreateNode, KindUpdateNode, KindDeleteNode, KindCreateEdge, KindDeleteEdge}

// NodeType is the semantic or shape kind of a node.
type NodeType string

const (
	NodeDatabase NodeType = "database"
	NodeServer   NodeType = "server"
	NodeClient   NodeType = "client"
	NodeStorage  NodeType = "storage"
	NodeNetwork  NodeType = "network"

	NodeFrame   NodeType = "frame"
	NodeCloud   NodeType = "cloud"
	NodePerson  NodeType = "person"
	NodeProcess NodeType = "process"
	NodeData    NodeType = "data"
	NodeDiamond NodeType = "diamond"
	NodeHexagon NodeType = "hexagon"
	NodeBox     NodeType = "box"
	NodeCircle  NodeType = "circle"
	NodeText    NodeType = "text"
	NodeNote    NodeType = "note"
)

// NodeTypes lists semantic types first, then shape types.
var NodeTypes = []NodeType{
	NodeDatabase, NodeServer, NodeClient, NodeStorage, NodeNetwork,
	NodeFrame, NodeCloud, NodePerson, NodeProcess, NodeData, NodeDiamond,
	NodeHexagon, NodeBox, NodeCircle, NodeText, NodeNote,
}

// Color is a node fill colour.
type Color string

// Colors is the accepted palette.
var Colors = []Color{
	"yellow", "pink", "blue", "green", "orange", "red", "violet", "purple",
	"light-blue", "light-green", "light-violet", "light-red", "light-yellow",
	"black", "white", "gray", "grey",
	"cyan", "teal", "magenta", "brown",
}

// Position places a text or note node relative to another node.
type Position string

// Positions is the accepted set of relative placements.
var Positions = []Position{
	"above", "below", "left", "right", "top", "bottom",
	"top-left", "top-right", "bottom-left", "bottom-right",
}

// Action is one graph mutation. The wire shape is a flat JSON object keyed by
// "action"; which optional fields matter depends on Kind.
type Action struct {
	Kind Kind   `json:"action" validate:"required,action_kind"`
	ID   string `json:"id" validate:"required,max=50,sketch_id"`

	Label       *string   `json:"label,omitempty" validate:"omitempty,max=100"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=200"`
	Type        *NodeType `json:"type,omitempty" validate:"omitempty,node_type"`
	Color       *Color    `json:"color,omitempty" validate:"omitempty,node_color"`
	Opacity     *float64  `json:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	Position    *Position `json:"position,omitempty" validate:"omitempty,node_position"`
	RelativeTo  *string   `json:"relative_to,omitempty"`
	ParentID    *string   `json:"parent_id,omitempty"`

	SourceID      *string `json:"source_id,omitempty"`
	TargetID      *string `json:"target_id,omitempty"`
	Bidirectional *bool   `json:"bidirectional,omitempty"`
}

// Response is the envelope the reasoner must produce.
type Response struct {
	Actions []Action `json:"actions" validate:"required,max=64,dive"`
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// LabelOr returns the label or def when unset.
func (a Action) LabelOr(def string) string { return valueOr(a.Label, def) }

// Source returns the edge source id, or "".
func (a Action) Source() string { return valueOr(a.SourceID, "") }

// Target returns the edge target id, or "".
func (a Action) Target() string { return valueOr(a.TargetID, "") }

// Ptr returns a pointer to v. Handy for building actions in code and tests.
func Ptr[T any](v T) *T { return &v }
