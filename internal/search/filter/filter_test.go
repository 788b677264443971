package filter

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

type mapLookup struct {
	facets map[string]map[string]*roaring.Bitmap
	all    *roaring.Bitmap
}

func newMapLookup(all ...uint32) *mapLookup {
	return &mapLookup{
		facets: make(map[string]map[string]*roaring.Bitmap),
		all:    roaring.BitmapOf(all...),
	}
}

func (l *mapLookup) set(field, value string, docs ...uint32) {
	if l.facets[field] == nil {
		l.facets[field] = make(map[string]*roaring.Bitmap)
	}
	l.facets[field][value] = roaring.BitmapOf(docs...)
}

func (l *mapLookup) FacetDocids(ctx context.Context, field, value string) (*roaring.Bitmap, error) {
	if b, ok := l.facets[field][value]; ok {
		return b.Clone(), nil
	}
	return roaring.New(), nil
}

func (l *mapLookup) AllDocids(ctx context.Context) (*roaring.Bitmap, error) {
	return l.all.Clone(), nil
}

func storeLookup() *mapLookup {
	l := newMapLookup(1, 2, 3, 4, 5)
	l.set("genre", "jazz", 1, 2)
	l.set("genre", "rock", 3)
	l.set("genre", "folk", 4)
	l.set("year", "1969", 2, 3)
	return l
}

func evaluate(t *testing.T, input string) *roaring.Bitmap {
	t.Helper()
	expr, err := Parse(input)
	require.NoError(t, err)
	got, err := expr.Evaluate(context.Background(), storeLookup())
	require.NoError(t, err)
	return got
}

func TestFilterEquality(t *testing.T) {
	require.True(t, evaluate(t, `genre = jazz`).Equals(roaring.BitmapOf(1, 2)))
	require.True(t, evaluate(t, `genre = "jazz"`).Equals(roaring.BitmapOf(1, 2)))
	require.True(t, evaluate(t, `genre = metal`).IsEmpty())
}

func TestFilterNotEqual(t *testing.T) {
	require.True(t, evaluate(t, `genre != jazz`).Equals(roaring.BitmapOf(3, 4, 5)))
}

func TestFilterIn(t *testing.T) {
	got := evaluate(t, `genre IN (jazz, rock)`)
	require.True(t, got.Equals(roaring.BitmapOf(1, 2, 3)))
}

func TestFilterBooleanOperators(t *testing.T) {
	require.True(t, evaluate(t, `genre = jazz AND year = 1969`).
		Equals(roaring.BitmapOf(2)))
	require.True(t, evaluate(t, `genre = rock OR genre = folk`).
		Equals(roaring.BitmapOf(3, 4)))
	require.True(t, evaluate(t, `NOT genre = jazz`).
		Equals(roaring.BitmapOf(3, 4, 5)))
}

func TestFilterPrecedenceAndParentheses(t *testing.T) {
	// AND binds tighter than OR.
	require.True(t, evaluate(t, `genre = folk OR genre = jazz AND year = 1969`).
		Equals(roaring.BitmapOf(2, 4)))
	require.True(t, evaluate(t, `(genre = folk OR genre = jazz) AND year = 1969`).
		Equals(roaring.BitmapOf(2)))
}

func TestFilterQuotedValuesKeepSpaces(t *testing.T) {
	l := storeLookup()
	l.set("genre", "hard rock", 5)
	expr, err := Parse(`genre = "hard rock"`)
	require.NoError(t, err)
	got, err := expr.Evaluate(context.Background(), l)
	require.NoError(t, err)
	require.True(t, got.Equals(roaring.BitmapOf(5)))
}

func TestFilterSyntaxErrors(t *testing.T) {
	for _, input := range []string{
		``,
		`genre =`,
		`= jazz`,
		`genre jazz`,
		`(genre = jazz`,
		`genre = jazz AND`,
		`genre IN jazz`,
		`genre IN (jazz,`,
		`genre IN ()`,
		`genre = jazz extra`,
		`genre ! jazz`,
	} {
		_, err := Parse(input)
		require.ErrorIs(t, err, apperrors.ErrInvalidFilter, "input %q", input)
		require.True(t, apperrors.IsUserError(err), "input %q", input)
	}
}

func TestFilterOperatorKeywordsAreCaseInsensitive(t *testing.T) {
	got := evaluate(t, `genre = rock or genre = folk and year = 1969`)
	require.True(t, got.Equals(roaring.BitmapOf(3)))
}
