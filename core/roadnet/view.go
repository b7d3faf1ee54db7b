package roadnet

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/kilianp07/transitsim/core/model"
)

// classView exposes only the edges that permit one class, weighted by time
// cost. Edges for other classes do not exist in the view.
type classView struct {
	net   *Network
	class model.Class
}

var _ graph.Weighted = classView{}

func (g classView) Node(id int64) graph.Node {
	if id < 0 || id >= int64(len(g.net.names)) {
		return nil
	}
	return simple.Node(id)
}

func (g classView) Nodes() graph.Nodes {
	nodes := make([]graph.Node, len(g.net.names))
	for i := range g.net.names {
		nodes[i] = simple.Node(int64(i))
	}
	return iterator.NewOrderedNodes(nodes)
}

func (g classView) From(id int64) graph.Nodes {
	var ids []int64
	for v, e := range g.net.out[id] {
		if e.permits(g.class) {
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		return graph.Empty
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	nodes := make([]graph.Node, len(ids))
	for i, v := range ids {
		nodes[i] = simple.Node(v)
	}
	return iterator.NewOrderedNodes(nodes)
}

func (g classView) permitted(uid, vid int64) *edge {
	e := g.net.out[uid][vid]
	if e == nil || !e.permits(g.class) {
		return nil
	}
	return e
}

func (g classView) HasEdgeBetween(xid, yid int64) bool {
	return g.permitted(xid, yid) != nil || g.permitted(yid, xid) != nil
}

func (g classView) Edge(uid, vid int64) graph.Edge {
	return g.WeightedEdge(uid, vid)
}

func (g classView) WeightedEdge(uid, vid int64) graph.WeightedEdge {
	e := g.permitted(uid, vid)
	if e == nil {
		return nil
	}
	return simple.WeightedEdge{F: simple.Node(uid), T: simple.Node(vid), W: e.timeCost}
}

func (g classView) Weight(xid, yid int64) (float64, bool) {
	if xid == yid {
		return 0, true
	}
	if e := g.permitted(xid, yid); e != nil {
		return e.timeCost, true
	}
	return math.Inf(1), false
}
