// Package roadnet holds the directed road graph vehicles route over.
//
// Each edge carries a mutable time cost, an immutable distance and the set of
// vehicle classes allowed on it. A Network is not safe for concurrent use:
// every vehicle owns its own copy (see Clone) and applies traffic updates to
// it, so different vehicles may briefly disagree about congestion.
package roadnet

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/kilianp07/transitsim/core/model"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrUnknownEdge = errors.New("unknown edge")
)

// EdgeSpec describes one directed edge.
type EdgeSpec struct {
	From     string        `json:"from" yaml:"from"`
	To       string        `json:"to" yaml:"to"`
	TimeCost float64       `json:"time_cost" yaml:"time_cost"`
	Distance float64       `json:"distance" yaml:"distance"`
	Classes  []model.Class `json:"classes" yaml:"classes"`
}

type edge struct {
	timeCost float64
	distance float64
	classes  map[model.Class]struct{}
}

func (e *edge) permits(c model.Class) bool {
	_, ok := e.classes[c]
	return ok
}

// Network is a directed graph of named stations.
type Network struct {
	ids   map[string]int64
	names []string
	out   map[int64]map[int64]*edge
}

// New returns an empty network.
func New() *Network {
	return &Network{ids: make(map[string]int64), out: make(map[int64]map[int64]*edge)}
}

// FromEdges builds a network from edge specs.
func FromEdges(edges []EdgeSpec) (*Network, error) {
	n := New()
	for _, e := range edges {
		if err := n.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// AddNode registers a node and returns its graph id. Adding an existing node
// is a no-op.
func (n *Network) AddNode(name string) int64 {
	if id, ok := n.ids[name]; ok {
		return id
	}
	id := int64(len(n.names))
	n.ids[name] = id
	n.names = append(n.names, name)
	return id
}

// AddEdge inserts or replaces a directed edge. An empty class list is legal
// and makes the edge invisible to every class.
func (n *Network) AddEdge(e EdgeSpec) error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("edge endpoints required")
	}
	if e.From == e.To {
		return fmt.Errorf("self loop on %s", e.From)
	}
	if e.TimeCost < 0 || e.Distance < 0 {
		return fmt.Errorf("edge %s->%s: costs must be non-negative", e.From, e.To)
	}
	u, v := n.AddNode(e.From), n.AddNode(e.To)
	classes := make(map[model.Class]struct{}, len(e.Classes))
	for _, c := range e.Classes {
		classes[c] = struct{}{}
	}
	if n.out[u] == nil {
		n.out[u] = make(map[int64]*edge)
	}
	n.out[u][v] = &edge{timeCost: e.TimeCost, distance: e.Distance, classes: classes}
	return nil
}

// Clone returns an independent deep copy.
func (n *Network) Clone() *Network {
	c := New()
	c.names = append([]string(nil), n.names...)
	for name, id := range n.ids {
		c.ids[name] = id
	}
	for u, vs := range n.out {
		m := make(map[int64]*edge, len(vs))
		for v, e := range vs {
			cls := make(map[model.Class]struct{}, len(e.classes))
			for k := range e.classes {
				cls[k] = struct{}{}
			}
			m[v] = &edge{timeCost: e.timeCost, distance: e.distance, classes: cls}
		}
		c.out[u] = m
	}
	return c
}

// Has reports whether name is a node.
func (n *Network) Has(name string) bool {
	_, ok := n.ids[name]
	return ok
}

// Nodes lists node names in insertion order.
func (n *Network) Nodes() []string {
	return append([]string(nil), n.names...)
}

// Edges lists all edges sorted by endpoints.
func (n *Network) Edges() []EdgeSpec {
	var out []EdgeSpec
	for u, vs := range n.out {
		for v := range vs {
			spec, _ := n.Edge(n.names[u], n.names[v])
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Edge returns a snapshot of the edge from -> to.
func (n *Network) Edge(from, to string) (EdgeSpec, bool) {
	e := n.edge(from, to)
	if e == nil {
		return EdgeSpec{}, false
	}
	spec := EdgeSpec{From: from, To: to, TimeCost: e.timeCost, Distance: e.distance}
	for c := range e.classes {
		spec.Classes = append(spec.Classes, c)
	}
	sort.Slice(spec.Classes, func(i, j int) bool { return spec.Classes[i] < spec.Classes[j] })
	return spec, true
}

func (n *Network) edge(from, to string) *edge {
	u, ok := n.ids[from]
	if !ok {
		return nil
	}
	v, ok := n.ids[to]
	if !ok {
		return nil
	}
	return n.out[u][v]
}

// UpdateTimeCost rewrites the time cost of an existing edge. Distance is
// never touched.
func (n *Network) UpdateTimeCost(from, to string, w float64) error {
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("edge %s->%s: invalid time cost %v", from, to, w)
	}
	e := n.edge(from, to)
	if e == nil {
		return fmt.Errorf("%w: %s->%s", ErrUnknownEdge, from, to)
	}
	e.timeCost = w
	return nil
}

// ShortestPath returns the minimum time-cost path from -> to using only
// edges that permit class. ok is false when no such path exists or either
// endpoint is unknown. A path from a node to itself is that single node.
func (n *Network) ShortestPath(from, to string, class model.Class) ([]string, bool) {
	u, ok := n.ids[from]
	if !ok {
		return nil, false
	}
	v, ok := n.ids[to]
	if !ok {
		return nil, false
	}
	view := classView{net: n, class: class}
	shortest := path.DijkstraFrom(simple.Node(u), view)
	nodes, _ := shortest.To(v)
	if len(nodes) == 0 {
		return nil, false
	}
	out := make([]string, len(nodes))
	for i, nd := range nodes {
		out[i] = n.names[nd.ID()]
	}
	return out, true
}

// PathTime sums time costs along consecutive nodes. A missing edge makes
// the result +Inf.
func (n *Network) PathTime(p []string) float64 {
	return n.sum(p, func(e *edge) float64 { return e.timeCost })
}

// PathDistance sums distances along consecutive nodes. A missing edge makes
// the result +Inf.
func (n *Network) PathDistance(p []string) float64 {
	return n.sum(p, func(e *edge) float64 { return e.distance })
}

func (n *Network) sum(p []string, cost func(*edge) float64) float64 {
	total := 0.0
	for i := 0; i+1 < len(p); i++ {
		e := n.edge(p[i], p[i+1])
		if e == nil {
			return math.Inf(1)
		}
		total += cost(e)
	}
	return total
}

// Nearest returns the path to whichever target is closest by distance,
// where each candidate path is the class-filtered time-shortest one.
func (n *Network) Nearest(from string, targets []string, class model.Class) ([]string, float64, bool) {
	var (
		best     []string
		bestDist = math.Inf(1)
	)
	for _, t := range targets {
		p, ok := n.ShortestPath(from, t, class)
		if !ok {
			continue
		}
		if d := n.PathDistance(p); d < bestDist {
			best, bestDist = p, d
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best, bestDist, true
}
