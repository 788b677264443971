package rank

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cascadesearch/cascade/internal/search/query"
)

func TestBoostYieldsMatchingBucketFirst(t *testing.T) {
	sess := NewSession(query.NewInterners(), newMapResolver(), nil)
	rule := NewBoost("boost", func(ctx context.Context) (*roaring.Bitmap, error) {
		return bitmapOf(2, 4), nil
	})

	buckets := collectBuckets(t, sess, rule, bitmapOf(1, 2, 3, 4, 5), Query{})
	require.Len(t, buckets, 2)
	require.True(t, buckets[0].Equals(bitmapOf(2, 4)), "matching documents always first")
	require.True(t, buckets[1].Equals(bitmapOf(1, 3, 5)))
}

func TestBoostEvaluatesFilterOnce(t *testing.T) {
	sess := NewSession(query.NewInterners(), newMapResolver(), nil)
	calls := 0
	rule := NewBoost("boost", func(ctx context.Context) (*roaring.Bitmap, error) {
		calls++
		return bitmapOf(1), nil
	})

	collectBuckets(t, sess, rule, bitmapOf(1, 2), Query{})
	collectBuckets(t, sess, rule, bitmapOf(1, 2, 3), Query{})
	require.Equal(t, 1, calls)
}

func TestBoostEvaluationFailureIsFatal(t *testing.T) {
	sess := NewSession(query.NewInterners(), newMapResolver(), nil)
	boom := errors.New("bad filter")
	rule := NewBoost("boost", func(ctx context.Context) (*roaring.Bitmap, error) {
		return nil, boom
	})

	err := rule.StartIteration(context.Background(), sess, bitmapOf(1, 2), Query{})
	require.ErrorIs(t, err, boom)
}
