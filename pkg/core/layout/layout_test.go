package layout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/voiceboard/pkg/core/graph"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

func build(t *testing.T, actions ...sketch.Action) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, a := range actions {
		require.NoError(t, g.Apply(a))
	}
	return g
}

func node(id string, typ sketch.NodeType) sketch.Action {
	return sketch.Action{Kind: sketch.KindCreateNode, ID: id, Label: sketch.Ptr(id), Type: sketch.Ptr(typ)}
}

func edge(id, src, dst string) sketch.Action {
	return sketch.Action{Kind: sketch.KindCreateEdge, ID: id, SourceID: sketch.Ptr(src), TargetID: sketch.Ptr(dst)}
}

func boxes(p Positioned) map[string]Box {
	out := make(map[string]Box, len(p.Nodes))
	for _, b := range p.Nodes {
		out[b.ID] = b
	}
	return out
}

func TestLayered_EdgesFlowLeftToRight(t *testing.T) {
	g := build(t,
		node("client", sketch.NodeClient),
		node("api", sketch.NodeServer),
		node("db", sketch.NodeDatabase),
		edge("e1", "client", "api"),
		edge("e2", "api", "db"),
	)

	p, err := Default().Layout(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 3)
	require.Len(t, p.Edges, 2)

	b := boxes(p)
	assert.Less(t, b["client"].X, b["api"].X)
	assert.Less(t, b["api"].X, b["db"].X)
	assert.Equal(t, []string{"client", "api", "db"}, []string{p.Nodes[0].ID, p.Nodes[1].ID, p.Nodes[2].ID})
}

func TestLayered_CycleStillPlacesEveryNode(t *testing.T) {
	g := build(t,
		node("a", sketch.NodeBox),
		node("b", sketch.NodeBox),
		edge("ab", "a", "b"),
		edge("ba", "b", "a"),
	)
	p, err := Default().Layout(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 2)
	for _, n := range p.Nodes {
		assert.Positive(t, n.W)
		assert.Positive(t, n.H)
	}
}

func TestLayered_FrameContainsChildren(t *testing.T) {
	g := build(t,
		node("vpc", sketch.NodeFrame),
		node("web", sketch.NodeServer),
		node("db", sketch.NodeDatabase),
		sketch.Action{Kind: sketch.KindUpdateNode, ID: "web", ParentID: sketch.Ptr("vpc")},
		sketch.Action{Kind: sketch.KindUpdateNode, ID: "db", ParentID: sketch.Ptr("vpc")},
	)

	p, err := Default().Layout(context.Background(), g)
	require.NoError(t, err)
	b := boxes(p)
	frame := b["vpc"]
	for _, id := range []string{"web", "db"} {
		c := b[id]
		assert.GreaterOrEqual(t, c.X, frame.X, id)
		assert.GreaterOrEqual(t, c.Y, frame.Y, id)
		assert.LessOrEqual(t, c.X+c.W, frame.X+frame.W, id)
		assert.LessOrEqual(t, c.Y+c.H, frame.Y+frame.H, id)
	}
}

func TestLayered_NotePlacedRelativeToAnchor(t *testing.T) {
	g := build(t,
		node("api", sketch.NodeServer),
		sketch.Action{
			Kind: sketch.KindCreateNode, ID: "hint", Label: sketch.Ptr("rate limited"),
			Type: sketch.Ptr(sketch.NodeNote), Position: sketch.Ptr(sketch.Position("below")), RelativeTo: sketch.Ptr("api"),
		},
	)

	p, err := Default().Layout(context.Background(), g)
	require.NoError(t, err)
	b := boxes(p)
	assert.GreaterOrEqual(t, b["hint"].Y, b["api"].Y+b["api"].H)
}

func TestLayered_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Default().Layout(ctx, graph.New())
	assert.ErrorIs(t, err, context.Canceled)
}
