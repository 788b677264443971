// Package query models the user's search query as a directed acyclic graph
// of term nodes, where each node carries a typo/phrase/synonym-tolerant
// "term subset" describing every word the node may match. The graph is built
// once per request and consumed read-only by the ranking rules.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cascadesearch/cascade/internal/search/interner"
)

// Interners groups the request-scoped interners shared by all ranking rules
// of one search.
type Interners struct {
	Words   *interner.Interner[string]
	Phrases *interner.Interner[Phrase]
	Terms   *interner.Interner[QueryTerm]
}

// NewInterners creates an empty interner set for one search request.
func NewInterners() *Interners {
	return &Interners{
		Words:   interner.NewStrings(),
		Phrases: interner.New(phraseKey),
		Terms:   interner.New(termKey),
	}
}

// Phrase is an ordered sequence of interned words that must appear
// contiguously in a document.
type Phrase struct {
	Words []interner.Interned[string]
}

func phraseKey(p *Phrase) string {
	var b strings.Builder
	for _, w := range p.Words {
		fmt.Fprintf(&b, "%d,", w)
	}
	return b.String()
}

// ZeroTypoDerivations holds the derivations of a term that cost no typos.
type ZeroTypoDerivations struct {
	// Word is the term itself, set when it exists in the index.
	Word *interner.Interned[string]
	// PrefixWords are dictionary words starting with the term, populated
	// only for the final term of the query.
	PrefixWords []interner.Interned[string]
	// Synonyms are user-defined equivalent phrases.
	Synonyms []interner.Interned[Phrase]
	// Phrase is set when the term originates from a quoted phrase.
	Phrase *interner.Interned[Phrase]
}

// OneTypoDerivations holds the derivations reachable with one typo.
type OneTypoDerivations struct {
	Words []interner.Interned[string]
	// SplitWords is the phrase obtained by splitting the term in two
	// dictionary words ("sunflower" -> "sun flower").
	SplitWords *interner.Interned[Phrase]
}

// TwoTypoDerivations holds the derivations reachable with two typos.
type TwoTypoDerivations struct {
	Words []interner.Interned[string]
}

// QueryTerm is one position of the user query together with all its
// derivations, grouped by the number of typos they cost.
type QueryTerm struct {
	Original interner.Interned[string]
	// NgramWords lists the constituent original words when this term merges
	// several adjacent query words; empty for plain terms.
	NgramWords []interner.Interned[string]
	MaxTypos   uint8
	IsPrefix   bool

	ZeroTypo ZeroTypoDerivations
	OneTypo  OneTypoDerivations
	TwoTypo  TwoTypoDerivations
}

func termKey(t *QueryTerm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "o%d;n", t.Original)
	for _, w := range t.NgramWords {
		fmt.Fprintf(&b, "%d,", w)
	}
	fmt.Fprintf(&b, ";t%d;p%v;z", t.MaxTypos, t.IsPrefix)
	if t.ZeroTypo.Word != nil {
		fmt.Fprintf(&b, "w%d", *t.ZeroTypo.Word)
	}
	for _, w := range t.ZeroTypo.PrefixWords {
		fmt.Fprintf(&b, "%d,", w)
	}
	for _, p := range t.ZeroTypo.Synonyms {
		fmt.Fprintf(&b, "s%d,", p)
	}
	if t.ZeroTypo.Phrase != nil {
		fmt.Fprintf(&b, "ph%d", *t.ZeroTypo.Phrase)
	}
	b.WriteString(";1")
	for _, w := range t.OneTypo.Words {
		fmt.Fprintf(&b, "%d,", w)
	}
	if t.OneTypo.SplitWords != nil {
		fmt.Fprintf(&b, "sp%d", *t.OneTypo.SplitWords)
	}
	b.WriteString(";2")
	for _, w := range t.TwoTypo.Words {
		fmt.Fprintf(&b, "%d,", w)
	}
	return b.String()
}

// IsEmpty reports whether the term has no derivation at all.
func (t *QueryTerm) IsEmpty() bool {
	return t.ZeroTypo.Word == nil &&
		len(t.ZeroTypo.PrefixWords) == 0 &&
		len(t.ZeroTypo.Synonyms) == 0 &&
		t.ZeroTypo.Phrase == nil &&
		len(t.OneTypo.Words) == 0 &&
		t.OneTypo.SplitWords == nil &&
		len(t.TwoTypo.Words) == 0
}

// SubsetKind is one level of the All/Some/Nothing lattice.
type SubsetKind uint8

const (
	SubsetAll SubsetKind = iota
	SubsetSome
	SubsetNothing
)

// WordSet restricts the derivations of one typo level to "all of them",
// "none of them", or an explicit subset.
type WordSet struct {
	Kind    SubsetKind
	Words   []interner.Interned[string] // sorted, Kind == SubsetSome only
	Phrases []interner.Interned[Phrase] // sorted, Kind == SubsetSome only
}

// FullSet returns the WordSet admitting every derivation.
func FullSet() WordSet { return WordSet{Kind: SubsetAll} }

// EmptySet returns the WordSet admitting no derivation.
func EmptySet() WordSet { return WordSet{Kind: SubsetNothing} }

// SomeSet returns an explicit subset. The slices are sorted in place.
func SomeSet(words []interner.Interned[string], phrases []interner.Interned[Phrase]) WordSet {
	sortHandles(words)
	sortHandles(phrases)
	return WordSet{Kind: SubsetSome, Words: words, Phrases: phrases}
}

// Intersect returns the lattice meet of two WordSets. Intersecting with
// Nothing always yields Nothing; intersecting with All yields the other set.
func (ws WordSet) Intersect(other WordSet) WordSet {
	switch {
	case ws.Kind == SubsetNothing || other.Kind == SubsetNothing:
		return EmptySet()
	case ws.Kind == SubsetAll:
		return other
	case other.Kind == SubsetAll:
		return ws
	default:
		return WordSet{
			Kind:    SubsetSome,
			Words:   intersectSorted(ws.Words, other.Words),
			Phrases: intersectSorted(ws.Phrases, other.Phrases),
		}
	}
}

// Union returns the lattice join of two WordSets. Unioning with All always
// yields All; unioning with Nothing yields the other set.
func (ws WordSet) Union(other WordSet) WordSet {
	switch {
	case ws.Kind == SubsetAll || other.Kind == SubsetAll:
		return FullSet()
	case ws.Kind == SubsetNothing:
		return other
	case other.Kind == SubsetNothing:
		return ws
	default:
		return WordSet{
			Kind:    SubsetSome,
			Words:   unionSorted(ws.Words, other.Words),
			Phrases: unionSorted(ws.Phrases, other.Phrases),
		}
	}
}

func (ws WordSet) key() string {
	switch ws.Kind {
	case SubsetAll:
		return "A"
	case SubsetNothing:
		return "N"
	default:
		var b strings.Builder
		b.WriteString("S")
		for _, w := range ws.Words {
			fmt.Fprintf(&b, "%d,", w)
		}
		b.WriteString("|")
		for _, p := range ws.Phrases {
			fmt.Fprintf(&b, "%d,", p)
		}
		return b.String()
	}
}

// TermSubset narrows a QueryTerm's derivations per typo level. It is the
// unit the ranking rules operate on: the Words rule toggles membership, the
// Typo rule restricts levels, and residual graphs carry intersections.
type TermSubset struct {
	Original  interner.Interned[QueryTerm]
	ZeroTypo  WordSet
	OneTypo   WordSet
	TwoTypo   WordSet
	Mandatory bool
}

// FullSubset returns the subset admitting every derivation of term.
func FullSubset(term interner.Interned[QueryTerm]) TermSubset {
	return TermSubset{
		Original: term,
		ZeroTypo: FullSet(),
		OneTypo:  FullSet(),
		TwoTypo:  FullSet(),
	}
}

// Intersect narrows ts to the derivations admitted by both subsets.
// Both subsets must reference the same original term.
func (ts *TermSubset) Intersect(other *TermSubset) {
	ts.ZeroTypo = ts.ZeroTypo.Intersect(other.ZeroTypo)
	ts.OneTypo = ts.OneTypo.Intersect(other.OneTypo)
	ts.TwoTypo = ts.TwoTypo.Intersect(other.TwoTypo)
	ts.Mandatory = ts.Mandatory || other.Mandatory
}

// Union widens ts to the derivations admitted by either subset.
func (ts *TermSubset) Union(other *TermSubset) {
	ts.ZeroTypo = ts.ZeroTypo.Union(other.ZeroTypo)
	ts.OneTypo = ts.OneTypo.Union(other.OneTypo)
	ts.TwoTypo = ts.TwoTypo.Union(other.TwoTypo)
}

// RestrictTypoLevel returns a copy of ts admitting only the derivations that
// cost exactly level typos.
func (ts TermSubset) RestrictTypoLevel(level uint8) TermSubset {
	out := ts
	if level != 0 {
		out.ZeroTypo = EmptySet()
	}
	if level != 1 {
		out.OneTypo = EmptySet()
	}
	if level != 2 {
		out.TwoTypo = EmptySet()
	}
	return out
}

// levelWords returns the admitted words of one typo level.
func (ts *TermSubset) levelWords(its *Interners, level uint8) []interner.Interned[string] {
	term := its.Terms.Get(ts.Original)
	var candidates []interner.Interned[string]
	var set WordSet
	switch level {
	case 0:
		set = ts.ZeroTypo
		if term.ZeroTypo.Word != nil {
			candidates = append(candidates, *term.ZeroTypo.Word)
		}
		candidates = append(candidates, term.ZeroTypo.PrefixWords...)
	case 1:
		set = ts.OneTypo
		candidates = append(candidates, term.OneTypo.Words...)
	default:
		set = ts.TwoTypo
		candidates = append(candidates, term.TwoTypo.Words...)
	}
	return filterByWordSet(candidates, set)
}

// AllWords returns every single-word derivation admitted by the subset,
// deduplicated and sorted.
func (ts *TermSubset) AllWords(its *Interners) []interner.Interned[string] {
	var out []interner.Interned[string]
	for level := uint8(0); level <= 2; level++ {
		out = append(out, ts.levelWords(its, level)...)
	}
	sortHandles(out)
	return dedupSorted(out)
}

// WordsAtLevel returns the admitted words that cost exactly level typos.
func (ts *TermSubset) WordsAtLevel(its *Interners, level uint8) []interner.Interned[string] {
	out := ts.levelWords(its, level)
	sortHandles(out)
	return dedupSorted(out)
}

// AllPhrases returns every phrase derivation admitted by the subset: the
// original quoted phrase, synonyms (zero typo) and split words (one typo).
func (ts *TermSubset) AllPhrases(its *Interners) []interner.Interned[Phrase] {
	term := its.Terms.Get(ts.Original)
	var zero []interner.Interned[Phrase]
	if term.ZeroTypo.Phrase != nil {
		zero = append(zero, *term.ZeroTypo.Phrase)
	}
	zero = append(zero, term.ZeroTypo.Synonyms...)
	out := filterByPhraseSet(zero, ts.ZeroTypo)

	if term.OneTypo.SplitWords != nil {
		one := filterByPhraseSet(
			[]interner.Interned[Phrase]{*term.OneTypo.SplitWords}, ts.OneTypo)
		out = append(out, one...)
	}
	sortHandles(out)
	return dedupSorted(out)
}

// IsEmpty reports whether the subset admits no derivation at all.
func (ts *TermSubset) IsEmpty(its *Interners) bool {
	return len(ts.AllWords(its)) == 0 && len(ts.AllPhrases(its)) == 0
}

// OriginalPhrase returns the quoted phrase this term was built from, if any.
func (ts *TermSubset) OriginalPhrase(its *Interners) (interner.Interned[Phrase], bool) {
	term := its.Terms.Get(ts.Original)
	if term.ZeroTypo.Phrase != nil {
		return *term.ZeroTypo.Phrase, true
	}
	return 0, false
}

// ExactWord returns the zero-typo word itself (no prefixes, no synonyms),
// when the subset still admits it.
func (ts *TermSubset) ExactWord(its *Interners) (interner.Interned[string], bool) {
	term := its.Terms.Get(ts.Original)
	if term.ZeroTypo.Word == nil {
		return 0, false
	}
	admitted := filterByWordSet([]interner.Interned[string]{*term.ZeroTypo.Word}, ts.ZeroTypo)
	if len(admitted) == 0 {
		return 0, false
	}
	return admitted[0], true
}

// Key returns a canonical identity string for condition interning.
func (ts *TermSubset) Key() string {
	return fmt.Sprintf("t%d;m%v;0%s;1%s;2%s",
		ts.Original, ts.Mandatory, ts.ZeroTypo.key(), ts.OneTypo.key(), ts.TwoTypo.key())
}

// IDRange is an inclusive range of original term indices covered by a node.
// A plain term covers one index; an ngram covers two or three.
type IDRange struct {
	Start, End uint8
}

// Len returns the number of original query words covered.
func (r IDRange) Len() int { return int(r.End) - int(r.Start) + 1 }

// PositionRange is an inclusive range of token positions in the raw query.
type PositionRange struct {
	Start, End uint16
}

// LocatedQueryTerm is a query term with its token positions.
type LocatedQueryTerm struct {
	Term      interner.Interned[QueryTerm]
	Positions PositionRange
}

// LocatedTermSubset is a term subset together with the positions and term
// indices it covers; this is what a Term node of the query graph holds.
type LocatedTermSubset struct {
	Subset    TermSubset
	Positions PositionRange
	TermIDs   IDRange
}

// Key returns a canonical identity string for condition interning.
func (l *LocatedTermSubset) Key() string {
	return fmt.Sprintf("%s;p%d-%d;i%d-%d",
		l.Subset.Key(), l.Positions.Start, l.Positions.End, l.TermIDs.Start, l.TermIDs.End)
}

func sortHandles[T any](hs []interner.Interned[T]) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}

func dedupSorted[T any](hs []interner.Interned[T]) []interner.Interned[T] {
	if len(hs) <= 1 {
		return hs
	}
	w := 1
	for r := 1; r < len(hs); r++ {
		if hs[r] != hs[r-1] {
			hs[w] = hs[r]
			w++
		}
	}
	return hs[:w]
}

func intersectSorted[T any](a, b []interner.Interned[T]) []interner.Interned[T] {
	var out []interner.Interned[T]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func unionSorted[T any](a, b []interner.Interned[T]) []interner.Interned[T] {
	out := make([]interner.Interned[T], 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sortHandles(out)
	return dedupSorted(out)
}

func filterByWordSet(candidates []interner.Interned[string], set WordSet) []interner.Interned[string] {
	switch set.Kind {
	case SubsetAll:
		return candidates
	case SubsetNothing:
		return nil
	default:
		var out []interner.Interned[string]
		for _, c := range candidates {
			if containsSorted(set.Words, c) {
				out = append(out, c)
			}
		}
		return out
	}
}

func filterByPhraseSet(candidates []interner.Interned[Phrase], set WordSet) []interner.Interned[Phrase] {
	switch set.Kind {
	case SubsetAll:
		return candidates
	case SubsetNothing:
		return nil
	default:
		var out []interner.Interned[Phrase]
		for _, c := range candidates {
			if containsSorted(set.Phrases, c) {
				out = append(out, c)
			}
		}
		return out
	}
}

func containsSorted[T any](hs []interner.Interned[T], h interner.Interned[T]) bool {
	i := sort.Search(len(hs), func(i int) bool { return hs[i] >= h })
	return i < len(hs) && hs[i] == h
}
