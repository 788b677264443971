package rank

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

func typoScenario(t *testing.T) (*Session, Query) {
	t.Helper()
	dict := newMapDict("house", "mouse")
	dict.typos1["house"] = []string{"mouse"}
	resolver := newMapResolver()
	resolver.words["house"] = bitmapOf(1, 3)
	resolver.words["mouse"] = bitmapOf(1, 2, 3, 4)
	return buildSession(t, dict, resolver, "house")
}

func scenarioRules() []RankingRule {
	return []RankingRule{
		NewWords(MatchLast),
		NewGraphRule[TypoCondition](TypoCriterion{}, MatchAll),
	}
}

func TestBucketSortWaterfallOrder(t *testing.T) {
	sess, q := typoScenario(t)

	out, err := BucketSort(context.Background(), sess, scenarioRules(),
		bitmapOf(1, 2, 3, 4, 5), q, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3, 2, 4, 5}, out.Docs)
	require.True(t, out.BucketCandidates.Equals(bitmapOf(1, 2, 3, 4, 5)))
}

func TestBucketSortIsDeterministic(t *testing.T) {
	sess1, q1 := typoScenario(t)
	out1, err := BucketSort(context.Background(), sess1, scenarioRules(),
		bitmapOf(1, 2, 3, 4, 5), q1, 0, 10)
	require.NoError(t, err)

	sess2, q2 := typoScenario(t)
	out2, err := BucketSort(context.Background(), sess2, scenarioRules(),
		bitmapOf(1, 2, 3, 4, 5), q2, 0, 10)
	require.NoError(t, err)

	require.Equal(t, out1.Docs, out2.Docs)
}

func TestBucketSortOffsetAndLimitAreAView(t *testing.T) {
	sess, q := typoScenario(t)

	out, err := BucketSort(context.Background(), sess, scenarioRules(),
		bitmapOf(1, 2, 3, 4, 5), q, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 2}, out.Docs)
}

func TestBucketSortBoostOverridesCriteria(t *testing.T) {
	sess, q := typoScenario(t)
	rules := []RankingRule{
		NewBoost("boost", func(ctx context.Context) (*roaring.Bitmap, error) {
			return bitmapOf(2, 4), nil
		}),
		NewWords(MatchLast),
		NewGraphRule[TypoCondition](TypoCriterion{}, MatchAll),
	}

	out, err := BucketSort(context.Background(), sess, rules,
		bitmapOf(1, 2, 3, 4, 5), q, 0, 10)
	require.NoError(t, err)
	// {2,4} is promoted wholesale, internally ordered by the criteria; the
	// rest follows with its own criterion ordering.
	require.Equal(t, []uint32{2, 4, 1, 3, 5}, out.Docs)
}

func TestBucketSortNoRulesOrdersById(t *testing.T) {
	sess, _ := typoScenario(t)

	out, err := BucketSort(context.Background(), sess, nil,
		bitmapOf(9, 3, 7), Query{}, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 7, 9}, out.Docs)
}

func TestBucketSortCancellation(t *testing.T) {
	sess, q := typoScenario(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BucketSort(ctx, sess, scenarioRules(), bitmapOf(1, 2, 3, 4, 5), q, 0, 10)
	require.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestBucketSortSingletonUniverse(t *testing.T) {
	sess, q := typoScenario(t)

	out, err := BucketSort(context.Background(), sess, scenarioRules(),
		bitmapOf(3), q, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []uint32{3}, out.Docs)
}
