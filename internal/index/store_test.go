package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cascadesearch/cascade/internal/search/filter"
	"github.com/cascadesearch/cascade/internal/search/query"
	"github.com/cascadesearch/cascade/internal/search/rank"
	"github.com/cascadesearch/cascade/pkg/config"
)

var (
	_ rank.Resolver      = (*Snapshot)(nil)
	_ filter.FacetLookup = (*Snapshot)(nil)
	_ query.Dictionary   = (*Snapshot)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Options{
		Storage:          config.StorageConfig{InMemory: true},
		SearchableFields: []string{"title", "body"},
		FilterableFields: []string{"genre"},
		Synonyms:         map[string][]string{"nyc": {"new york"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func indexFixtures(t *testing.T, store *Store) {
	t.Helper()
	err := store.Index(context.Background(), []Document{
		{ID: "a", Fields: map[string]string{
			"title": "The Best Pizza in New York",
			"body":  "A tour of brooklyn pizza ovens.",
			"genre": "food",
		}},
		{ID: "b", Fields: map[string]string{
			"title": "New Jersey Diners",
			"body":  "Pizza and pancakes all night.",
			"genre": "food",
		}},
		{ID: "c", Fields: map[string]string{
			"title": "York Minster",
			"body":  "A cathedral in the north of England.",
			"genre": "travel",
		}},
	})
	require.NoError(t, err)
}

func TestStoreWordDocids(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)
	snap := store.Snapshot()
	ctx := context.Background()

	pizza, err := snap.WordDocids(ctx, "pizza")
	require.NoError(t, err)
	require.True(t, pizza.Equals(roaring.BitmapOf(0, 1)))

	missing, err := snap.WordDocids(ctx, "sushi")
	require.NoError(t, err)
	require.True(t, missing.IsEmpty())
}

func TestStoreFieldDocids(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)
	snap := store.Snapshot()
	ctx := context.Background()

	title, err := snap.WordFieldDocids(ctx, "title", "pizza")
	require.NoError(t, err)
	require.True(t, title.Equals(roaring.BitmapOf(0)))

	body, err := snap.WordFieldDocids(ctx, "body", "pizza")
	require.NoError(t, err)
	require.True(t, body.Equals(roaring.BitmapOf(0, 1)))

	fields, err := snap.SearchableFields(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"title", "body"}, fields)
}

func TestStorePairAndPhraseDocids(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)
	snap := store.Snapshot()
	ctx := context.Background()

	adjacent, err := snap.WordPairProximityDocids(ctx, "new", "york", 1)
	require.NoError(t, err)
	require.True(t, adjacent.Equals(roaring.BitmapOf(0)))

	gap, err := snap.WordPairProximityDocids(ctx, "pizza", "york", 3)
	require.NoError(t, err)
	require.True(t, gap.Equals(roaring.BitmapOf(0)), "pizza in new york")

	tooFar, err := snap.WordPairProximityDocids(ctx, "the", "york", 8)
	require.NoError(t, err)
	require.True(t, tooFar.IsEmpty(), "distances beyond the stored range are empty")

	phrase, err := snap.PhraseDocids(ctx, []string{"new", "york"})
	require.NoError(t, err)
	require.True(t, phrase.Equals(roaring.BitmapOf(0)), "doc b has new but not new york")

	none, err := snap.PhraseDocids(ctx, []string{"york", "pizza"})
	require.NoError(t, err)
	require.True(t, none.IsEmpty())
}

func TestStoreFacets(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)
	snap := store.Snapshot()
	ctx := context.Background()

	food, err := snap.FacetDocids(ctx, "genre", "food")
	require.NoError(t, err)
	require.True(t, food.Equals(roaring.BitmapOf(0, 1)))

	all, err := snap.AllDocids(ctx)
	require.NoError(t, err)
	require.True(t, all.Equals(roaring.BitmapOf(0, 1, 2)))
}

func TestStoreExternalIDs(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)

	ids, err := store.Snapshot().ExternalIDs(context.Background(), []uint32{2, 0})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, ids)
}

func TestStoreReindexKeepsInternalID(t *testing.T) {
	store := openTestStore(t)
	indexFixtures(t, store)
	ctx := context.Background()

	err := store.Index(ctx, []Document{
		{ID: "a", Fields: map[string]string{"title": "Calzone Update"}},
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	calzone, err := snap.WordDocids(ctx, "calzone")
	require.NoError(t, err)
	require.True(t, calzone.Equals(roaring.BitmapOf(0)), "same internal id on reindex")

	all, err := snap.AllDocids(ctx)
	require.NoError(t, err)
	require.True(t, all.Equals(roaring.BitmapOf(0, 1, 2)))
}

func TestStoreRejectsMissingID(t *testing.T) {
	store := openTestStore(t)
	err := store.Index(context.Background(), []Document{{Fields: map[string]string{"title": "x"}}})
	require.Error(t, err)
}

func TestDictionaryLookups(t *testing.T) {
	store := openTestStore(t)
	err := store.Index(context.Background(), []Document{
		{ID: "a", Fields: map[string]string{"title": "house mouse hose horizon"}},
	})
	require.NoError(t, err)
	snap := store.Snapshot()

	ok, err := snap.Exists("house")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = snap.Exists("barn")
	require.NoError(t, err)
	require.False(t, ok)

	within, err := snap.WithinDistance("house", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"hose", "house", "mouse"}, within)

	prefixed, err := snap.WithPrefix("ho")
	require.NoError(t, err)
	require.Equal(t, []string{"horizon", "hose", "house"}, prefixed)

	synonyms, err := snap.Synonyms("nyc")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"new", "york"}}, synonyms)

	none, err := snap.Synonyms("house")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestEmptyStoreDictionary(t *testing.T) {
	store := openTestStore(t)
	snap := store.Snapshot()

	ok, err := snap.Exists("anything")
	require.NoError(t, err)
	require.False(t, ok)

	within, err := snap.WithinDistance("anything", 2)
	require.NoError(t, err)
	require.Empty(t, within)
}

func TestIngestorBatching(t *testing.T) {
	store := openTestStore(t)
	ing := NewIngestor(store, config.StorageConfig{InMemory: true, FlushDocCount: 2}, nil)
	ctx := context.Background()

	payload := func(id, title string) []byte {
		data, err := json.Marshal(Document{ID: id, Fields: map[string]string{"title": title}})
		require.NoError(t, err)
		return data
	}

	require.NoError(t, ing.Handle(ctx, nil, payload("a", "first doc")))
	all, err := store.Snapshot().AllDocids(ctx)
	require.NoError(t, err)
	require.True(t, all.IsEmpty(), "below the batch size nothing is flushed")

	require.NoError(t, ing.Handle(ctx, nil, payload("b", "second doc")))
	all, err = store.Snapshot().AllDocids(ctx)
	require.NoError(t, err)
	require.True(t, all.Equals(roaring.BitmapOf(0, 1)))
}

func BenchmarkTokenize(b *testing.B) {
	text := "The Best Pizza in New York, a tour of brooklyn pizza ovens since 1964."
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Tokenize(text)
	}
}

func TestIngestorDropsMalformedMessages(t *testing.T) {
	store := openTestStore(t)
	ing := NewIngestor(store, config.StorageConfig{InMemory: true, FlushDocCount: 1}, nil)
	ctx := context.Background()

	require.NoError(t, ing.Handle(ctx, []byte("k"), []byte("{not json")))
	require.NoError(t, ing.Flush(ctx))

	all, err := store.Snapshot().AllDocids(ctx)
	require.NoError(t, err)
	require.True(t, all.IsEmpty())
}
