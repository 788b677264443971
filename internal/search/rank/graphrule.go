package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
)

// GraphRule turns any Criterion into a RankingRule. Buckets are emitted in
// increasing path-cost order: at each step the rule gathers the docids of
// every path whose total cost equals the next reachable cost, then rebuilds
// a residual query graph from the paths that actually contributed documents.
type GraphRule[C any] struct {
	criterion Criterion[C]
	// strategy is only honored by the first rule of a chain; it prices the
	// skip edges that let paths drop optional query words.
	strategy MatchingStrategy
	state    *graphState[C]
}

type graphState[C any] struct {
	graph    *Graph[C]
	cache    *conditionCache[C]
	deadEnds *deadEndsCache[C]
	allCosts [][]uint64
	curCost  uint64
}

// NewGraphRule wraps a criterion. Pass MatchAll unless this rule is the one
// responsible for dropping optional words.
func NewGraphRule[C any](criterion Criterion[C], strategy MatchingStrategy) *GraphRule[C] {
	return &GraphRule[C]{criterion: criterion, strategy: strategy}
}

func (r *GraphRule[C]) ID() string { return r.criterion.Name() }

func (r *GraphRule[C]) StartIteration(ctx context.Context, sess *Session, universe *roaring.Bitmap, q Query) error {
	if q.Graph == nil {
		r.state = nil
		return nil
	}
	removal, err := removalCostsFor(ctx, sess, q.Graph, r.strategy)
	if err != nil {
		return err
	}
	g, err := BuildGraph(sess, r.criterion, q.Graph.Clone(), removal)
	if err != nil {
		return err
	}
	r.state = &graphState[C]{
		graph:    g,
		cache:    newConditionCache[C](),
		deadEnds: newDeadEndsCache[C](),
		allCosts: g.FindAllCostsToEnd(),
	}
	sess.Logger.StartIteration(r.ID(), universe.GetCardinality())
	return nil
}

func (r *GraphRule[C]) NextBucket(ctx context.Context, sess *Session, universe *roaring.Bitmap) (*Bucket, error) {
	state := r.state
	if state == nil {
		return nil, nil
	}
	cost, ok := nextCost(state.allCosts[state.graph.Query.Root], state.curCost)
	if !ok {
		// All costs exhausted. Whatever remains did not match any path;
		// it forms the final, worst bucket so that the buckets partition
		// the parent universe.
		r.state = nil
		if universe.IsEmpty() {
			return nil, nil
		}
		sess.Logger.NextBucket(r.ID(), state.curCost, universe.GetCardinality())
		return &Bucket{Query: Query{Graph: state.graph.Query}, Candidates: universe.Clone()}, nil
	}
	state.curCost = cost + 1

	bucket := roaring.New()
	uni := universe.Clone()
	var subpaths []subpath[C]
	var usedPaths [][]query.PathEdge

	visitor := newPathVisitor(state.graph, state.allCosts, state.deadEnds, cost)
	err := visitor.visitPaths(func(path []interner.Interned[C]) (bool, error) {
		if uni.IsEmpty() {
			return true, nil
		}
		// Consecutive paths share prefixes; keep the subpath docids that
		// are still valid.
		keep := 0
		for keep < len(path) && keep < len(subpaths) && subpaths[keep].cond == path[keep] {
			keep++
		}
		subpaths = subpaths[:keep]
		for _, cond := range path[keep:] {
			ok, err := r.extendSubpath(ctx, sess, state, uni, &subpaths, cond)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}

		var pathDocids *roaring.Bitmap
		if len(subpaths) > 0 {
			pathDocids = subpaths[len(subpaths)-1].docids.Clone()
		} else {
			pathDocids = uni.Clone()
		}

		edges := make([]query.PathEdge, len(path))
		for i, cond := range path {
			comp := state.cache.entries[cond]
			edges[i] = query.PathEdge{Start: comp.Start, End: comp.End}
		}
		usedPaths = append(usedPaths, edges)

		bucket.Or(pathDocids)
		uni.AndNot(pathDocids)
		for i := range subpaths {
			subpaths[i].docids.AndNot(pathDocids)
		}
		return uni.IsEmpty(), nil
	})
	if err != nil {
		return nil, err
	}

	next := state.graph.Query
	if len(usedPaths) > 0 {
		next = query.BuildFromPaths(usedPaths)
	}
	sess.Logger.NextBucket(r.ID(), cost, bucket.GetCardinality())
	return &Bucket{Query: Query{Graph: next}, Candidates: bucket}, nil
}

func (r *GraphRule[C]) EndIteration(sess *Session) {
	r.state = nil
	sess.Logger.EndIteration(r.ID())
}

type subpath[C any] struct {
	cond   interner.Interned[C]
	docids *roaring.Bitmap
}

// extendSubpath appends cond's docids to the running subpath intersection.
// Empty results feed the dead-ends cache: a universally empty condition is
// retracted from the graph, an empty intersection only forbids the
// condition after the current prefix.
func (r *GraphRule[C]) extendSubpath(
	ctx context.Context,
	sess *Session,
	state *graphState[C],
	uni *roaring.Bitmap,
	subpaths *[]subpath[C],
	cond interner.Interned[C],
) (bool, error) {
	comp, err := state.cache.get(ctx, sess, state.graph, cond, uni)
	if err != nil {
		return false, err
	}
	if comp.Docids.IsEmpty() {
		state.deadEnds.forbidCondition(cond)
		state.graph.RemoveEdgesWithCondition(cond)
		return false, nil
	}
	var docids *roaring.Bitmap
	if n := len(*subpaths); n > 0 {
		docids = roaring.And((*subpaths)[n-1].docids, comp.Docids)
	} else {
		docids = roaring.And(uni, comp.Docids)
	}
	if docids.IsEmpty() {
		prefix := make([]interner.Interned[C], len(*subpaths))
		for i, sp := range *subpaths {
			prefix[i] = sp.cond
		}
		state.deadEnds.forbidConditionAfterPrefix(prefix, cond)
		return false, nil
	}
	*subpaths = append(*subpaths, subpath[C]{cond: cond, docids: docids})
	return true, nil
}

// nextCost returns the smallest cost in the sorted list that is >= from.
func nextCost(costs []uint64, from uint64) (uint64, bool) {
	for _, c := range costs {
		if c >= from {
			return c, true
		}
	}
	return 0, false
}
