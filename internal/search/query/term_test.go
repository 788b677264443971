package query

import (
	"testing"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/stretchr/testify/require"
)

func TestWordSetLatticeBounds(t *testing.T) {
	its := NewInterners()
	a := its.Words.Insert("apple")
	b := its.Words.Insert("apricot")

	some := SomeSet([]interner.Interned[string]{a, b}, nil)

	require.Equal(t, some, FullSet().Intersect(some))
	require.Equal(t, SubsetNothing, EmptySet().Intersect(some).Kind)
	require.Equal(t, SubsetAll, FullSet().Union(some).Kind)
	require.Equal(t, some, EmptySet().Union(some))
}

func TestWordSetIntersectAndUnionSome(t *testing.T) {
	its := NewInterners()
	a := its.Words.Insert("a")
	b := its.Words.Insert("b")
	c := its.Words.Insert("c")

	left := SomeSet([]interner.Interned[string]{a, b}, nil)
	right := SomeSet([]interner.Interned[string]{b, c}, nil)

	meet := left.Intersect(right)
	require.Equal(t, []interner.Interned[string]{b}, meet.Words)

	join := left.Union(right)
	require.Equal(t, []interner.Interned[string]{a, b, c}, join.Words)
}

// buildRichTerm interns a term with derivations at every typo level.
func buildRichTerm(its *Interners) interner.Interned[QueryTerm] {
	exact := its.Words.Insert("house")
	prefix := its.Words.Insert("houses")
	oneTypo := its.Words.Insert("mouse")
	twoTypo := its.Words.Insert("horse")
	split := its.Phrases.Insert(Phrase{
		Words: []interner.Interned[string]{its.Words.Insert("ho"), its.Words.Insert("use")},
	})
	return its.Terms.Insert(QueryTerm{
		Original: exact,
		MaxTypos: 2,
		IsPrefix: true,
		ZeroTypo: ZeroTypoDerivations{Word: &exact, PrefixWords: []interner.Interned[string]{prefix}},
		OneTypo:  OneTypoDerivations{Words: []interner.Interned[string]{oneTypo}, SplitWords: &split},
		TwoTypo:  TwoTypoDerivations{Words: []interner.Interned[string]{twoTypo}},
	})
}

func TestFullSubsetAdmitsEverything(t *testing.T) {
	its := NewInterners()
	sub := FullSubset(buildRichTerm(its))

	require.Len(t, sub.AllWords(its), 4)
	require.Len(t, sub.AllPhrases(its), 1)
	require.False(t, sub.IsEmpty(its))

	exact, ok := sub.ExactWord(its)
	require.True(t, ok)
	require.Equal(t, "house", *its.Words.Get(exact))
}

func TestRestrictTypoLevel(t *testing.T) {
	its := NewInterners()
	sub := FullSubset(buildRichTerm(its))

	zero := sub.RestrictTypoLevel(0)
	require.Len(t, zero.WordsAtLevel(its, 0), 2) // exact + prefix
	require.Empty(t, zero.WordsAtLevel(its, 1))
	require.Empty(t, zero.WordsAtLevel(its, 2))

	one := sub.RestrictTypoLevel(1)
	require.Empty(t, one.WordsAtLevel(its, 0))
	require.Len(t, one.WordsAtLevel(its, 1), 1)
	require.Len(t, one.AllPhrases(its), 1) // split words cost one typo

	two := sub.RestrictTypoLevel(2)
	require.Len(t, two.AllWords(its), 1)
	require.Empty(t, two.AllPhrases(its))

	_, ok := one.ExactWord(its)
	require.False(t, ok)
}

func TestIntersectOnlyShrinks(t *testing.T) {
	its := NewInterners()
	full := FullSubset(buildRichTerm(its))
	before := len(full.AllWords(its))

	narrowed := full
	narrowed.Intersect(&TermSubset{
		Original: full.Original,
		ZeroTypo: FullSet(),
		OneTypo:  EmptySet(),
		TwoTypo:  EmptySet(),
	})
	require.Less(t, len(narrowed.AllWords(its)), before)

	// Intersecting again with the same restriction is a no-op.
	again := narrowed
	again.Intersect(&TermSubset{
		Original: full.Original,
		ZeroTypo: FullSet(),
		OneTypo:  EmptySet(),
		TwoTypo:  EmptySet(),
	})
	require.Equal(t, narrowed.Key(), again.Key())
}

func TestSubsetKeyDistinguishesNarrowing(t *testing.T) {
	its := NewInterners()
	full := FullSubset(buildRichTerm(its))

	restricted := full.RestrictTypoLevel(0)
	require.NotEqual(t, full.Key(), restricted.Key())

	same := FullSubset(full.Original)
	require.Equal(t, full.Key(), same.Key())
}
