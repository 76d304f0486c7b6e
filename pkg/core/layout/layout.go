// Package layout turns a graph into absolute coordinates for the canvas.
package layout

import (
	"context"
	"math"

	"github.com/vango-go/voiceboard/pkg/core/graph"
	"github.com/vango-go/voiceboard/pkg/core/sketch"
)

// Layouter computes positions for every node of g. Implementations must not
// retain or mutate g.
type Layouter interface {
	Layout(ctx context.Context, g *graph.Graph) (Positioned, error)
}

// Box is a node with its computed rectangle. X and Y are absolute.
type Box struct {
	graph.Node
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Positioned is a laid-out graph.
type Positioned struct {
	Nodes []Box        `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// Layered is a left-to-right longest-path layout. Frames are sized to hold
// their children in a grid; text and notes with a relative position are
// placed next to their anchor.
type Layered struct {
	NodeWidth  float64
	NodeHeight float64
	HGap       float64
	VGap       float64
	Padding    float64
}

// Default returns a Layered with canvas-friendly spacing.
func Default() Layered {
	return Layered{NodeWidth: 180, NodeHeight: 90, HGap: 120, VGap: 60, Padding: 40}
}

type sized struct {
	node     graph.Node
	w, h     float64
	children []string
}

func (l Layered) Layout(ctx context.Context, g *graph.Graph) (Positioned, error) {
	if err := ctx.Err(); err != nil {
		return Positioned{}, err
	}

	nodes := g.Nodes()
	byID := make(map[string]*sized, len(nodes))
	order := make([]string, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = &sized{node: n}
		order = append(order, n.ID)
	}

	isAnchored := func(n graph.Node) bool {
		if n.RelativeTo == "" || n.Position == "" {
			return false
		}
		_, ok := byID[n.RelativeTo]
		return ok && n.RelativeTo != n.ID
	}

	var roots []string
	for _, id := range order {
		s := byID[id]
		if isAnchored(s.node) {
			continue
		}
		if p := s.node.ParentID; p != "" {
			if ps, ok := byID[p]; ok {
				ps.children = append(ps.children, id)
				continue
			}
		}
		roots = append(roots, id)
	}

	for _, id := range roots {
		l.measure(byID, id)
	}

	rank := l.rank(g.Edges(), roots, byID)

	pos := make(map[string][2]float64, len(nodes))
	columns := 0
	for _, r := range rank {
		columns = max(columns, r+1)
	}
	colX := make([]float64, columns)
	colW := make([]float64, columns)
	colY := make([]float64, columns)
	for _, id := range roots {
		colW[rank[id]] = math.Max(colW[rank[id]], byID[id].w)
	}
	for c := 1; c < columns; c++ {
		colX[c] = colX[c-1] + colW[c-1] + l.HGap
	}
	for _, id := range roots {
		if err := ctx.Err(); err != nil {
			return Positioned{}, err
		}
		c := rank[id]
		l.place(byID, id, colX[c], colY[c], pos)
		colY[c] += byID[id].h + l.VGap
	}

	for _, id := range order {
		s := byID[id]
		if !isAnchored(s.node) {
			continue
		}
		if s.w == 0 {
			l.measure(byID, id)
		}
		anchor := byID[s.node.RelativeTo]
		ap, ok := pos[s.node.RelativeTo]
		if !ok {
			continue
		}
		x, y := offset(s.node.Position, ap[0], ap[1], anchor.w, anchor.h, s.w, s.h, l.VGap/2)
		l.place(byID, id, x, y, pos)
	}

	out := Positioned{Nodes: make([]Box, 0, len(nodes)), Edges: g.Edges()}
	for _, id := range order {
		s := byID[id]
		p, ok := pos[id]
		if !ok {
			// Anchored to a node that could not be placed; park it at the origin.
			p = [2]float64{0, 0}
		}
		out.Nodes = append(out.Nodes, Box{Node: s.node, X: p[0], Y: p[1], W: s.w, H: s.h})
	}
	return out, nil
}

// measure sizes id and its descendants bottom-up.
func (l Layered) measure(byID map[string]*sized, id string) {
	s := byID[id]
	s.w, s.h = l.NodeWidth, l.NodeHeight
	switch s.node.Type {
	case sketch.NodeText:
		s.h = l.NodeHeight / 2
	case sketch.NodeCircle, sketch.NodeDiamond:
		s.w = l.NodeHeight * 1.2
		s.h = s.w
	}
	if len(s.children) == 0 {
		return
	}
	cols := int(math.Ceil(math.Sqrt(float64(len(s.children)))))
	var rowW, rowH, maxW, total float64
	for i, cid := range s.children {
		l.measure(byID, cid)
		c := byID[cid]
		if i > 0 && i%cols == 0 {
			maxW = math.Max(maxW, rowW)
			total += rowH + l.VGap
			rowW, rowH = 0, 0
		}
		if rowW > 0 {
			rowW += l.HGap / 2
		}
		rowW += c.w
		rowH = math.Max(rowH, c.h)
	}
	maxW = math.Max(maxW, rowW)
	total += rowH
	s.w = math.Max(s.w, maxW+2*l.Padding)
	s.h = math.Max(s.h, total+2*l.Padding)
}

// place records id at (x, y) and lays its children out in the same grid measure used.
func (l Layered) place(byID map[string]*sized, id string, x, y float64, pos map[string][2]float64) {
	pos[id] = [2]float64{x, y}
	s := byID[id]
	if len(s.children) == 0 {
		return
	}
	cols := int(math.Ceil(math.Sqrt(float64(len(s.children)))))
	cx, cy := x+l.Padding, y+l.Padding
	var rowH float64
	for i, cid := range s.children {
		c := byID[cid]
		if i > 0 && i%cols == 0 {
			cx = x + l.Padding
			cy += rowH + l.VGap
			rowH = 0
		}
		l.place(byID, cid, cx, cy, pos)
		cx += c.w + l.HGap/2
		rowH = math.Max(rowH, c.h)
	}
}

// rank assigns each root a column by longest path over edges lifted to root
// ancestors. Nodes left in cycles are appended after the deepest column.
func (l Layered) rank(edges []graph.Edge, roots []string, byID map[string]*sized) map[string]int {
	isRoot := make(map[string]bool, len(roots))
	for _, id := range roots {
		isRoot[id] = true
	}
	rootOf := func(id string) string {
		for seen := 0; id != "" && seen <= len(byID); seen++ {
			if isRoot[id] {
				return id
			}
			s, ok := byID[id]
			if !ok {
				return ""
			}
			if s.node.ParentID != "" {
				id = s.node.ParentID
			} else {
				id = s.node.RelativeTo
			}
		}
		return ""
	}

	out := make(map[string][]string)
	indeg := make(map[string]int, len(roots))
	seenPair := make(map[[2]string]bool)
	for _, e := range edges {
		a, b := rootOf(e.SourceID), rootOf(e.TargetID)
		if a == "" || b == "" || a == b || seenPair[[2]string{a, b}] {
			continue
		}
		seenPair[[2]string{a, b}] = true
		out[a] = append(out[a], b)
		indeg[b]++
	}

	rank := make(map[string]int, len(roots))
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		if indeg[id] == 0 {
			queue = append(queue, id)
			rank[id] = 0
		}
	}
	done := make(map[string]bool, len(roots))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		done[id] = true
		for _, next := range out[id] {
			rank[next] = max(rank[next], rank[id]+1)
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	deepest := 0
	for _, r := range rank {
		deepest = max(deepest, r)
	}
	for _, id := range roots {
		if !done[id] {
			rank[id] = deepest + 1
		}
	}
	return rank
}

func offset(p sketch.Position, ax, ay, aw, ah, w, h, gap float64) (float64, float64) {
	cx := ax + (aw-w)/2
	cy := ay + (ah-h)/2
	switch p {
	case "above", "top":
		return cx, ay - h - gap
	case "below", "bottom":
		return cx, ay + ah + gap
	case "left":
		return ax - w - gap, cy
	case "right":
		return ax + aw + gap, cy
	case "top-left":
		return ax - w - gap, ay - h - gap
	case "top-right":
		return ax + aw + gap, ay - h - gap
	case "bottom-left":
		return ax - w - gap, ay + ah + gap
	case "bottom-right":
		return ax + aw + gap, ay + ah + gap
	default:
		return ax + aw + gap, cy
	}
}
