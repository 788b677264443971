package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/interner"
)

// conditionCache memoizes resolved conditions for one rule iteration. A
// condition is resolved externally at most once; when the universe shrinks,
// the cached docids are narrowed in place by one bitmap intersection.
type conditionCache[C any] struct {
	entries map[interner.Interned[C]]*Computed
}

func newConditionCache[C any]() *conditionCache[C] {
	return &conditionCache[C]{entries: make(map[interner.Interned[C]]*Computed)}
}

// get returns the computed condition, resolving it on first access. The
// returned docids are always a subset of universe.
func (c *conditionCache[C]) get(
	ctx context.Context,
	sess *Session,
	g *Graph[C],
	cond interner.Interned[C],
	universe *roaring.Bitmap,
) (*Computed, error) {
	if e, ok := c.entries[cond]; ok {
		if e.UniverseLen != universe.GetCardinality() {
			e.Docids.And(universe)
			e.UniverseLen = universe.GetCardinality()
		}
		sess.Stats.ConditionCacheHits++
		return e, nil
	}
	computed, err := g.criterion.Resolve(ctx, sess, g.Conditions.Get(cond), universe)
	if err != nil {
		return nil, err
	}
	sess.Stats.ConditionResolutions++
	computed.Docids.And(universe)
	computed.UniverseLen = universe.GetCardinality()
	e := &computed
	c.entries[cond] = e
	return e, nil
}
