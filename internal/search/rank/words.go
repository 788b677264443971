package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// Words is the first criterion of the default chain: documents matching
// every query word come first, then the graph loses one removal group of
// words per bucket, following the matching strategy, until only the
// non-removable words remain. A final bucket collects the documents that
// matched nothing.
type Words struct {
	strategy MatchingStrategy
	state    *wordsState
}

type wordsState struct {
	graph    *query.Graph
	last     *query.Graph
	toRemove []*bitset.BitSet
	bucket   uint64
}

func NewWords(strategy MatchingStrategy) *Words {
	return &Words{strategy: strategy}
}

func (r *Words) ID() string { return "words" }

func (r *Words) StartIteration(ctx context.Context, sess *Session, universe *roaring.Bitmap, q Query) error {
	if q.Graph == nil {
		r.state = nil
		return nil
	}
	g := q.Graph.Clone()
	var groups []*bitset.BitSet
	switch r.strategy {
	case MatchLast:
		groups = g.RemovalOrderLast(sess.Its)
	case MatchFrequency:
		var err error
		groups, err = g.RemovalOrderFrequency(sess.Its, func(sub *query.LocatedTermSubset) (uint64, error) {
			b, err := sess.TermSubsetDocids(ctx, &sub.Subset)
			if err != nil {
				return 0, err
			}
			return b.GetCardinality(), nil
		})
		if err != nil {
			return err
		}
	}
	r.state = &wordsState{graph: g, last: g, toRemove: groups}
	sess.Logger.StartIteration(r.ID(), universe.GetCardinality())
	return nil
}

func (r *Words) NextBucket(ctx context.Context, sess *Session, universe *roaring.Bitmap) (*Bucket, error) {
	st := r.state
	if st == nil {
		return nil, nil
	}
	if st.graph == nil {
		// Remainder: documents matching none of the remaining words.
		r.state = nil
		if universe.IsEmpty() {
			return nil, nil
		}
		sess.Logger.NextBucket(r.ID(), st.bucket, universe.GetCardinality())
		return &Bucket{Query: Query{Graph: st.last}, Candidates: universe.Clone()}, nil
	}

	docids, err := sess.GraphDocids(ctx, st.graph, universe)
	if err != nil {
		return nil, err
	}
	child := st.graph.Clone()
	st.last = child
	if len(st.toRemove) == 0 {
		st.graph = nil
	} else {
		group := st.toRemove[0]
		st.toRemove = st.toRemove[1:]
		var ids []query.NodeID
		for id, ok := group.NextSet(0); ok; id, ok = group.NextSet(id + 1) {
			ids = append(ids, query.NodeID(id))
		}
		st.graph.RemoveNodesKeepEdges(ids)
	}
	sess.Logger.NextBucket(r.ID(), st.bucket, docids.GetCardinality())
	st.bucket++
	return &Bucket{Query: Query{Graph: child}, Candidates: docids}, nil
}

func (r *Words) EndIteration(sess *Session) {
	r.state = nil
	sess.Logger.EndIteration(r.ID())
}
