package rank

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
)

type probeCond struct{ name string }

// probeCriterion counts external resolutions of its single condition.
type probeCriterion struct {
	resolutions int
	docids      *roaring.Bitmap
}

func (c *probeCriterion) Name() string { return "probe" }

func (c *probeCriterion) Key(t *probeCond) string { return t.name }

func (c *probeCriterion) BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[probeCond], error) {
	return nil, nil
}

func (c *probeCriterion) Resolve(ctx context.Context, sess *Session, cond *probeCond, universe *roaring.Bitmap) (Computed, error) {
	c.resolutions++
	return Computed{Docids: c.docids.Clone()}, nil
}

func TestConditionCacheResolvesOnceAndNarrowsInPlace(t *testing.T) {
	criterion := &probeCriterion{docids: bitmapOf(1, 2, 3, 4, 6, 8)}
	g := &Graph[probeCond]{
		Conditions: interner.New(criterion.Key),
		criterion:  criterion,
	}
	cond := g.Conditions.Insert(probeCond{name: "a"})
	cache := newConditionCache[probeCond]()
	sess := NewSession(query.NewInterners(), nil, nil)
	ctx := context.Background()

	big := bitmapOf(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	first, err := cache.get(ctx, sess, g, cond, big)
	require.NoError(t, err)
	require.Equal(t, 1, criterion.resolutions)
	require.True(t, first.Docids.Equals(bitmapOf(1, 2, 3, 4, 6, 8)))
	require.Equal(t, uint64(10), first.UniverseLen)

	small := bitmapOf(1, 2, 3, 4)
	second, err := cache.get(ctx, sess, g, cond, small)
	require.NoError(t, err)
	require.Equal(t, 1, criterion.resolutions, "shrinking the universe must not re-resolve")
	require.Equal(t, uint64(1), sess.Stats.ConditionCacheHits)
	require.True(t, second.Docids.Equals(bitmapOf(1, 2, 3, 4)))
	require.Equal(t, uint64(4), second.UniverseLen)
	require.True(t, roaring.And(second.Docids, small).Equals(second.Docids),
		"cached docids must stay a subset of the latest universe")

	_, err = cache.get(ctx, sess, g, cond, small)
	require.NoError(t, err)
	require.Equal(t, 1, criterion.resolutions)
	require.Equal(t, uint64(2), sess.Stats.ConditionCacheHits)
}
