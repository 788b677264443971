package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadesearch/cascade/internal/index"
	"github.com/cascadesearch/cascade/internal/search/rank"
	"github.com/cascadesearch/cascade/pkg/config"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

func openEngine(t *testing.T, criteria ...string) (*Engine, *index.Store) {
	t.Helper()
	if len(criteria) == 0 {
		criteria = []string{"words", "typo", "proximity", "attribute", "exactness"}
	}
	store, err := index.Open(index.Options{
		Storage:          config.StorageConfig{InMemory: true},
		SearchableFields: []string{"title", "body"},
		FilterableFields: []string{"genre"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := NewEngine(store, config.SearchConfig{
		Criteria:     criteria,
		DefaultLimit: 20,
		MaxLimit:     100,
	}, nil)
	require.NoError(t, err)
	return engine, store
}

func ingest(t *testing.T, store *index.Store, docs ...index.Document) {
	t.Helper()
	require.NoError(t, store.Index(context.Background(), docs))
}

func hitIDs(res *Result) []string {
	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids
}

func TestSearchExactBeforeTypo(t *testing.T) {
	engine, store := openEngine(t, "words", "typo")
	ingest(t, store,
		index.Document{ID: "exact", Fields: map[string]string{"title": "house"}},
		index.Document{ID: "typo", Fields: map[string]string{"title": "mouse"}},
		index.Document{ID: "other", Fields: map[string]string{"title": "cat"}},
	)

	res, err := engine.Search(context.Background(), Request{Query: "house"})
	require.NoError(t, err)
	require.Equal(t, []string{"exact", "typo", "other"}, hitIDs(res))
}

func TestSearchPhraseRequiresAdjacency(t *testing.T) {
	engine, store := openEngine(t, "words", "typo")
	ingest(t, store,
		index.Document{ID: "ordered", Fields: map[string]string{"title": "new york pizza"}},
		index.Document{ID: "scrambled", Fields: map[string]string{"title": "york new pizza"}},
	)

	res, err := engine.Search(context.Background(), Request{Query: `"new york"`})
	require.NoError(t, err)
	require.Equal(t, "ordered", res.Hits[0].ID)
}

func TestSearchFilterNarrowsUniverse(t *testing.T) {
	engine, store := openEngine(t)
	ingest(t, store,
		index.Document{ID: "a", Fields: map[string]string{"title": "pizza", "genre": "food"}},
		index.Document{ID: "b", Fields: map[string]string{"title": "pizza", "genre": "travel"}},
	)

	res, err := engine.Search(context.Background(), Request{Query: "pizza", Filter: `genre = food`})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, hitIDs(res))
}

func TestSearchBoostPromotesMatches(t *testing.T) {
	engine, store := openEngine(t, "boost(genre = promoted)", "words", "typo")
	ingest(t, store,
		index.Document{ID: "plain", Fields: map[string]string{"title": "pizza"}},
		index.Document{ID: "starred", Fields: map[string]string{"title": "pizza", "genre": "promoted"}},
	)

	res, err := engine.Search(context.Background(), Request{Query: "pizza"})
	require.NoError(t, err)
	require.Equal(t, []string{"starred", "plain"}, hitIDs(res))
}

func TestSearchEmptyQueryListsByID(t *testing.T) {
	engine, store := openEngine(t)
	ingest(t, store,
		index.Document{ID: "first", Fields: map[string]string{"title": "alpha"}},
		index.Document{ID: "second", Fields: map[string]string{"title": "beta"}},
		index.Document{ID: "third", Fields: map[string]string{"title": "gamma"}},
	)

	res, err := engine.Search(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, hitIDs(res))
	require.Equal(t, uint64(3), res.EstimatedTotal)
}

func TestSearchOffsetAndLimit(t *testing.T) {
	engine, store := openEngine(t)
	ingest(t, store,
		index.Document{ID: "a", Fields: map[string]string{"title": "word"}},
		index.Document{ID: "b", Fields: map[string]string{"title": "word"}},
		index.Document{ID: "c", Fields: map[string]string{"title": "word"}},
	)

	page, err := engine.Search(context.Background(), Request{Query: "word", Offset: 1, Limit: 1})
	require.NoError(t, err)
	full, err := engine.Search(context.Background(), Request{Query: "word"})
	require.NoError(t, err)
	require.Equal(t, hitIDs(full)[1:2], hitIDs(page))
}

func TestSearchInvalidFilterIsUserError(t *testing.T) {
	engine, store := openEngine(t)
	ingest(t, store, index.Document{ID: "a", Fields: map[string]string{"title": "x"}})

	_, err := engine.Search(context.Background(), Request{Query: "x", Filter: "genre ="})
	require.ErrorIs(t, err, apperrors.ErrInvalidFilter)
	require.True(t, apperrors.IsUserError(err))
}

func TestSearchInvalidStrategyIsUserError(t *testing.T) {
	engine, _ := openEngine(t)
	_, err := engine.Search(context.Background(), Request{Query: "x", MatchingStrategy: "most"})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestNewEngineRejectsUnknownCriterion(t *testing.T) {
	store, err := index.Open(index.Options{Storage: config.StorageConfig{InMemory: true}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = NewEngine(store, config.SearchConfig{Criteria: []string{"words", "sort"}}, nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidCriterion)

	_, err = NewEngine(store, config.SearchConfig{Criteria: []string{"boost(genre =)"}}, nil)
	require.ErrorIs(t, err, apperrors.ErrInvalidFilter)
}

func TestGraphRuleStrategiesSingleOwner(t *testing.T) {
	specs, err := parseCriteria([]string{"typo", "proximity", "exactness"})
	require.NoError(t, err)
	got := graphRuleStrategies(specs, rank.MatchLast)
	require.Equal(t, []rank.MatchingStrategy{rank.MatchLast, rank.MatchAll, rank.MatchAll}, got)

	specs, err = parseCriteria([]string{"words", "typo", "proximity"})
	require.NoError(t, err)
	got = graphRuleStrategies(specs, rank.MatchFrequency)
	require.Equal(t, []rank.MatchingStrategy{rank.MatchAll, rank.MatchAll, rank.MatchAll}, got)

	specs, err = parseCriteria([]string{"boost(genre = jazz)", "typo", "attribute"})
	require.NoError(t, err)
	got = graphRuleStrategies(specs, rank.MatchLast)
	require.Equal(t, []rank.MatchingStrategy{rank.MatchAll, rank.MatchLast, rank.MatchAll}, got)
}

func TestParseStrategy(t *testing.T) {
	for input, want := range map[string]string{"": "last", "all": "all", "Frequency": "frequency"} {
		_, err := parseStrategy(input)
		require.NoError(t, err, "input %q should map to %s", input, want)
	}
}
