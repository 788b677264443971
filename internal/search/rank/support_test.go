package rank

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// mapDict is a hand-written dictionary for building query graphs in tests.
type mapDict struct {
	words  map[string]struct{}
	typos1 map[string][]string
	typos2 map[string][]string
}

func newMapDict(words ...string) *mapDict {
	d := &mapDict{
		words:  make(map[string]struct{}),
		typos1: make(map[string][]string),
		typos2: make(map[string][]string),
	}
	for _, w := range words {
		d.words[w] = struct{}{}
	}
	return d
}

func (d *mapDict) Exists(word string) (bool, error) {
	_, ok := d.words[word]
	return ok, nil
}

func (d *mapDict) WithinDistance(word string, maxDist uint8) ([]string, error) {
	var out []string
	if _, ok := d.words[word]; ok {
		out = append(out, word)
	}
	out = append(out, d.typos1[word]...)
	if maxDist >= 2 {
		out = append(out, d.typos2[word]...)
	}
	return out, nil
}

func (d *mapDict) WithPrefix(prefix string) ([]string, error) { return nil, nil }

func (d *mapDict) Synonyms(word string) ([][]string, error) { return nil, nil }

// mapResolver is an in-memory docid resolver.
type mapResolver struct {
	words     map[string]*roaring.Bitmap
	phrases   map[string]*roaring.Bitmap
	pairs     map[string]*roaring.Bitmap
	fields    map[string]*roaring.Bitmap // key "field/word"
	fieldList []string

	wordLookups int
}

func newMapResolver() *mapResolver {
	return &mapResolver{
		words:     make(map[string]*roaring.Bitmap),
		phrases:   make(map[string]*roaring.Bitmap),
		pairs:     make(map[string]*roaring.Bitmap),
		fields:    make(map[string]*roaring.Bitmap),
		fieldList: []string{"title", "body"},
	}
}

func (r *mapResolver) get(m map[string]*roaring.Bitmap, key string) *roaring.Bitmap {
	if b, ok := m[key]; ok {
		return b.Clone()
	}
	return roaring.New()
}

func (r *mapResolver) WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error) {
	r.wordLookups++
	return r.get(r.words, word), nil
}

func (r *mapResolver) PhraseDocids(ctx context.Context, words []string) (*roaring.Bitmap, error) {
	return r.get(r.phrases, strings.Join(words, " ")), nil
}

func (r *mapResolver) WordPairProximityDocids(ctx context.Context, left, right string, distance uint8) (*roaring.Bitmap, error) {
	return r.get(r.pairs, fmt.Sprintf("%s|%s|%d", left, right, distance)), nil
}

func (r *mapResolver) WordFieldDocids(ctx context.Context, field, word string) (*roaring.Bitmap, error) {
	return r.get(r.fields, field+"/"+word), nil
}

func (r *mapResolver) SearchableFields(ctx context.Context) ([]string, error) {
	return r.fieldList, nil
}

// buildSession builds a session and query over the raw query string.
func buildSession(t *testing.T, dict query.Dictionary, resolver Resolver, raw string) (*Session, Query) {
	t.Helper()
	its := query.NewInterners()
	terms, err := query.BuildTerms(its, dict, raw)
	require.NoError(t, err)
	g, _, err := query.BuildGraph(its, dict, terms)
	require.NoError(t, err)
	return NewSession(its, resolver, nil), Query{Graph: g}
}

// collectBuckets drains a rule, returning the non-empty buckets in order
// and verifying the partition invariant against the parent universe.
func collectBuckets(t *testing.T, sess *Session, rule RankingRule, universe *roaring.Bitmap, q Query) []*roaring.Bitmap {
	t.Helper()
	ctx := context.Background()
	parent := universe.Clone()
	u := universe.Clone()
	require.NoError(t, rule.StartIteration(ctx, sess, u, q))

	var out []*roaring.Bitmap
	seen := roaring.New()
	for {
		bucket, err := rule.NextBucket(ctx, sess, u)
		require.NoError(t, err)
		if bucket == nil {
			break
		}
		require.False(t, bucket.Candidates.Intersects(seen), "buckets must be disjoint")
		seen.Or(bucket.Candidates)
		u.AndNot(bucket.Candidates)
		if !bucket.Candidates.IsEmpty() {
			out = append(out, bucket.Candidates)
		}
	}
	rule.EndIteration(sess)
	require.True(t, seen.Equals(parent), "buckets must partition the parent universe")
	return out
}

func bitmapOf(ids ...uint32) *roaring.Bitmap { return roaring.BitmapOf(ids...) }
