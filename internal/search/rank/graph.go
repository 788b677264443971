package rank

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
)

// removalCost is the cost of ignoring one removable term node entirely; each
// removal rank of the matching strategy costs one more multiple. It dwarfs
// every per-condition cost so dropped words always rank below any match.
const removalCost = 100

// CostCondition is one edge candidate produced by a criterion's edge
// builder.
type CostCondition[C any] struct {
	Cost      uint32
	Condition C
}

// Computed is a resolved condition: its docids intersected with the most
// recently seen universe, and the term subsets the resolution used on each
// side of the edge.
type Computed struct {
	Docids      *roaring.Bitmap
	UniverseLen uint64
	// Start is nil for conditions on edges leaving the Start node.
	Start *query.LocatedTermSubset
	End   query.LocatedTermSubset
}

// Criterion defines one graph-based ranking criterion: how to turn a pair of
// adjacent term nodes into weighted conditions, and how to resolve one
// condition into docids.
type Criterion[C any] interface {
	Name() string
	// Key returns a canonical identity string for condition interning.
	Key(cond *C) string
	// BuildEdges returns the conditions for the edge between source and
	// dest. Source is nil when the edge leaves the Start node.
	BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[C], error)
	// Resolve computes the docids of cond within universe.
	Resolve(ctx context.Context, sess *Session, cond *C, universe *roaring.Bitmap) (Computed, error)
}

// Edge is one edge of a ranking rule graph. A nil Condition marks an
// unconditional edge: entering End, or skipping a removable term node.
type Edge[C any] struct {
	Source, Dest query.NodeID
	Cost         uint32
	Condition    *interner.Interned[C]
	// NodesToSkip are term nodes this edge implicitly drops; a path using
	// the edge must not also match any of them.
	NodesToSkip *bitset.BitSet
}

// nodeRemoval is the price of ignoring one term node under the current
// matching strategy.
type nodeRemoval struct {
	cost      uint32
	forbidden *bitset.BitSet // nodes that must have been dropped already
}

// Graph is the per-criterion ranking rule graph: the query graph's nodes
// with every adjacency edge replaced by zero or more weighted conditions.
// Edges live in an arena where retraction leaves a hole, so edge indices
// stay stable.
type Graph[C any] struct {
	Query       *query.Graph
	Edges       []*Edge[C]
	EdgesOfNode []*bitset.BitSet
	Conditions  *interner.Interner[C]

	criterion Criterion[C]
}

// BuildGraph constructs the ranking rule graph for one criterion.
// removalCosts, when non-nil, holds per-node skip-edge data derived from the
// matching strategy; nodes absent from it are never skipped.
func BuildGraph[C any](
	sess *Session,
	criterion Criterion[C],
	qg *query.Graph,
	removalCosts map[query.NodeID]nodeRemoval,
) (*Graph[C], error) {
	g := &Graph[C]{
		Query:       qg,
		EdgesOfNode: make([]*bitset.BitSet, len(qg.Nodes)),
		Conditions:  interner.New(criterion.Key),
		criterion:   criterion,
	}
	for i := range g.EdgesOfNode {
		g.EdgesOfNode[i] = bitset.New(64)
	}

	for sourceID := range qg.Nodes {
		source := &qg.Nodes[sourceID]
		var sourceTerm *query.LocatedTermSubset
		switch source.Kind {
		case query.KindStart:
		case query.KindTerm:
			sourceTerm = &source.Term
		default:
			continue
		}
		for d, ok := source.Successors.NextSet(0); ok; d, ok = source.Successors.NextSet(d + 1) {
			destID := query.NodeID(d)
			dest := &qg.Nodes[destID]
			switch dest.Kind {
			case query.KindEnd:
				g.addEdge(Edge[C]{Source: query.NodeID(sourceID), Dest: destID, Cost: 0})
			case query.KindTerm:
				built, err := criterion.BuildEdges(sess, sourceTerm, &dest.Term)
				if err != nil {
					return nil, err
				}
				for _, cc := range built {
					cond := g.Conditions.Insert(cc.Condition)
					g.addEdge(Edge[C]{
						Source:    query.NodeID(sourceID),
						Dest:      destID,
						Cost:      cc.Cost,
						Condition: &cond,
					})
				}
				if removal, ok := removalCosts[destID]; ok {
					g.addEdge(Edge[C]{
						Source:      query.NodeID(sourceID),
						Dest:        destID,
						Cost:        removal.cost,
						NodesToSkip: removal.forbidden,
					})
				}
			}
		}
	}
	return g, nil
}

func (g *Graph[C]) addEdge(e Edge[C]) {
	id := uint(len(g.Edges))
	g.Edges = append(g.Edges, &e)
	g.EdgesOfNode[e.Source].Set(id)
}

// RemoveEdgesWithCondition retracts every edge carrying cond, leaving holes
// in the edge arena.
func (g *Graph[C]) RemoveEdgesWithCondition(cond interner.Interned[C]) {
	for id, e := range g.Edges {
		if e == nil || e.Condition == nil || *e.Condition != cond {
			continue
		}
		g.EdgesOfNode[e.Source].Clear(uint(id))
		g.Edges[id] = nil
	}
}

// FindAllCostsToEnd returns, per node, the sorted distinct total costs of
// the paths from that node to End, by a backward breadth-first traversal
// from End.
func (g *Graph[C]) FindAllCostsToEnd() [][]uint64 {
	n := uint(len(g.Query.Nodes))
	costs := make([][]uint64, n)
	costs[g.Query.End] = []uint64{0}

	enqueued := bitset.New(n)
	var queue []query.NodeID
	endPreds := g.Query.Nodes[g.Query.End].Predecessors
	for p, ok := endPreds.NextSet(0); ok; p, ok = endPreds.NextSet(p + 1) {
		enqueued.Set(p)
		queue = append(queue, query.NodeID(p))
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		costs[cur] = g.costsFromNode(cur, costs)
		preds := g.Query.Nodes[cur].Predecessors
		for p, ok := preds.NextSet(0); ok; p, ok = preds.NextSet(p + 1) {
			if !enqueued.Test(p) {
				enqueued.Set(p)
				queue = append(queue, query.NodeID(p))
			}
		}
	}
	return costs
}

// UpdateAllCostsBeforeNode refreshes the cost lists of node and its
// ancestors after outgoing edges of node were retracted. Propagation stops
// where a node's costs did not change.
func (g *Graph[C]) UpdateAllCostsBeforeNode(node query.NodeID, costs [][]uint64) {
	n := uint(len(g.Query.Nodes))
	enqueued := bitset.New(n)
	enqueued.Set(uint(node))
	queue := []query.NodeID{node}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		updated := g.costsFromNode(cur, costs)
		if equalCosts(updated, costs[cur]) {
			continue
		}
		costs[cur] = updated
		preds := g.Query.Nodes[cur].Predecessors
		for p, ok := preds.NextSet(0); ok; p, ok = preds.NextSet(p + 1) {
			if !enqueued.Test(p) {
				enqueued.Set(p)
				queue = append(queue, query.NodeID(p))
			}
		}
	}
}

func (g *Graph[C]) costsFromNode(node query.NodeID, costs [][]uint64) []uint64 {
	var out []uint64
	edges := g.EdgesOfNode[node]
	for id, ok := edges.NextSet(0); ok; id, ok = edges.NextSet(id + 1) {
		e := g.Edges[id]
		if e == nil {
			continue
		}
		for _, c := range costs[e.Dest] {
			out = append(out, uint64(e.Cost)+c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	w := 0
	for r := 0; r < len(out); r++ {
		if r == 0 || out[r] != out[r-1] {
			out[w] = out[r]
			w++
		}
	}
	return out[:w]
}

func equalCosts(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// removalCostsFor derives the per-node skip-edge data from the matching
// strategy: the cheapest removal rank costs one removalCost unit, the next
// rank two, and each rank forbids matching nodes of cheaper ranks.
func removalCostsFor(ctx context.Context, sess *Session, qg *query.Graph, strategy MatchingStrategy) (map[query.NodeID]nodeRemoval, error) {
	var groups []*bitset.BitSet
	switch strategy {
	case MatchAll:
		return nil, nil
	case MatchLast:
		groups = qg.RemovalOrderLast(sess.Its)
	case MatchFrequency:
		var err error
		groups, err = qg.RemovalOrderFrequency(sess.Its, func(sub *query.LocatedTermSubset) (uint64, error) {
			b, err := sess.TermSubsetDocids(ctx, &sub.Subset)
			if err != nil {
				return 0, err
			}
			return b.GetCardinality(), nil
		})
		if err != nil {
			return nil, err
		}
	}
	out := make(map[query.NodeID]nodeRemoval)
	forbidden := bitset.New(uint(len(qg.Nodes)))
	cost := uint32(removalCost)
	for _, group := range groups {
		snapshot := forbidden.Clone()
		for id, ok := group.NextSet(0); ok; id, ok = group.NextSet(id + 1) {
			out[query.NodeID(id)] = nodeRemoval{cost: cost, forbidden: snapshot}
		}
		forbidden.InPlaceUnion(group)
		cost += removalCost
	}
	return out, nil
}
