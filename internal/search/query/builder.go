package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cascadesearch/cascade/internal/search/interner"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

const (
	// MinWordLenOneTypo is the minimum rune length for a word to tolerate
	// one typo.
	MinWordLenOneTypo = 5
	// MinWordLenTwoTypos is the minimum rune length for a word to tolerate
	// two typos.
	MinWordLenTwoTypos = 9
	// MaxNgramSize bounds how many adjacent query words may be merged into
	// one effective search term.
	MaxNgramSize = 3
	// maxPrefixExpansion caps how many dictionary words a prefix term may
	// expand to.
	maxPrefixExpansion = 50
)

// Dictionary resolves words against the index's term dictionary. It is the
// only collaborator the query builder needs from the storage layer.
type Dictionary interface {
	// Exists reports whether word is indexed.
	Exists(word string) (bool, error)
	// WithinDistance returns the indexed words within the given edit
	// distance of word, including word itself if indexed.
	WithinDistance(word string, maxDist uint8) ([]string, error)
	// WithPrefix returns the indexed words starting with prefix.
	WithPrefix(prefix string) ([]string, error)
	// Synonyms returns user-defined equivalent phrases for word.
	Synonyms(word string) ([][]string, error)
}

// TyposAllowed returns the typo budget for a word of the given rune length.
func TyposAllowed(word string) uint8 {
	n := len([]rune(word))
	switch {
	case n >= MinWordLenTwoTypos:
		return 2
	case n >= MinWordLenOneTypo:
		return 1
	default:
		return 0
	}
}

type token struct {
	words    []string // len > 1 for quoted phrases
	isPhrase bool
}

// tokenize splits a raw query into word and quoted-phrase tokens. Words are
// lowercased and stripped of non-alphanumeric separators.
func tokenize(raw string) []token {
	var tokens []token
	inQuote := false
	for i, segment := range strings.Split(raw, `"`) {
		words := splitWords(segment)
		quoted := inQuote && i > 0
		if quoted && len(words) > 0 {
			tokens = append(tokens, token{words: words, isPhrase: true})
		} else {
			for _, w := range words {
				tokens = append(tokens, token{words: []string{w}})
			}
		}
		inQuote = !inQuote
	}
	return tokens
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BuildTerms tokenises the raw query and computes each term's derivations
// against the dictionary. The final word of an unquoted query is treated as
// a prefix.
func BuildTerms(its *Interners, dict Dictionary, raw string) ([]LocatedQueryTerm, error) {
	tokens := tokenize(raw)
	terms := make([]LocatedQueryTerm, 0, len(tokens))
	pos := uint16(0)
	for i, tok := range tokens {
		if tok.isPhrase {
			term := phraseTerm(its, tok.words)
			positions := PositionRange{Start: pos, End: pos + uint16(len(tok.words)) - 1}
			pos += uint16(len(tok.words))
			terms = append(terms, LocatedQueryTerm{Term: its.Terms.Insert(term), Positions: positions})
			continue
		}
		word := tok.words[0]
		isPrefix := i == len(tokens)-1
		term, err := termFromWord(its, dict, word, TyposAllowed(word), isPrefix)
		if err != nil {
			return nil, err
		}
		positions := PositionRange{Start: pos, End: pos}
		pos++
		terms = append(terms, LocatedQueryTerm{Term: its.Terms.Insert(term), Positions: positions})
	}
	return terms, nil
}

func phraseTerm(its *Interners, words []string) QueryTerm {
	handles := make([]interner.Interned[string], len(words))
	for i, w := range words {
		handles[i] = its.Words.Insert(w)
	}
	phrase := its.Phrases.Insert(Phrase{Words: handles})
	return QueryTerm{
		Original: its.Words.Insert(strings.Join(words, " ")),
		MaxTypos: 0,
		ZeroTypo: ZeroTypoDerivations{Phrase: &phrase},
	}
}

func termFromWord(its *Interners, dict Dictionary, word string, maxTypos uint8, isPrefix bool) (QueryTerm, error) {
	term := QueryTerm{
		Original: its.Words.Insert(word),
		MaxTypos: maxTypos,
		IsPrefix: isPrefix,
	}

	exists, err := dict.Exists(word)
	if err != nil {
		return term, fmt.Errorf("looking up word %q: %w", word, err)
	}
	if exists {
		h := its.Words.Insert(word)
		term.ZeroTypo.Word = &h
	}
	if isPrefix {
		prefixed, err := dict.WithPrefix(word)
		if err != nil {
			return term, fmt.Errorf("expanding prefix %q: %w", word, err)
		}
		for _, w := range prefixed {
			if w == word {
				continue
			}
			term.ZeroTypo.PrefixWords = append(term.ZeroTypo.PrefixWords, its.Words.Insert(w))
			if len(term.ZeroTypo.PrefixWords) >= maxPrefixExpansion {
				break
			}
		}
	}
	synonyms, err := dict.Synonyms(word)
	if err != nil {
		return term, fmt.Errorf("looking up synonyms of %q: %w", word, err)
	}
	for _, syn := range synonyms {
		handles := make([]interner.Interned[string], len(syn))
		for i, w := range syn {
			handles[i] = its.Words.Insert(w)
		}
		term.ZeroTypo.Synonyms = append(term.ZeroTypo.Synonyms, its.Phrases.Insert(Phrase{Words: handles}))
	}
	if split := findSplitWords(its, dict, word); split != nil {
		term.OneTypo.SplitWords = split
	}

	if maxTypos >= 1 {
		within1, err := dict.WithinDistance(word, 1)
		if err != nil {
			return term, fmt.Errorf("typo derivations of %q: %w", word, err)
		}
		oneTypoSet := make(map[string]struct{}, len(within1))
		for _, w := range within1 {
			if w == word {
				continue
			}
			oneTypoSet[w] = struct{}{}
			term.OneTypo.Words = append(term.OneTypo.Words, its.Words.Insert(w))
		}
		if maxTypos >= 2 {
			within2, err := dict.WithinDistance(word, 2)
			if err != nil {
				return term, fmt.Errorf("typo derivations of %q: %w", word, err)
			}
			for _, w := range within2 {
				if w == word {
					continue
				}
				if _, seen := oneTypoSet[w]; seen {
					continue
				}
				term.TwoTypo.Words = append(term.TwoTypo.Words, its.Words.Insert(w))
			}
		}
	}
	return term, nil
}

func sameHandles[T any](a, b []interner.Interned[T]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findSplitWords returns the first split of word into two indexed words, or
// nil when none exists.
func findSplitWords(its *Interners, dict Dictionary, word string) *interner.Interned[Phrase] {
	runes := []rune(word)
	for i := 1; i < len(runes); i++ {
		left, right := string(runes[:i]), string(runes[i:])
		leftOK, err := dict.Exists(left)
		if err != nil || !leftOK {
			continue
		}
		rightOK, err := dict.Exists(right)
		if err != nil || !rightOK {
			continue
		}
		phrase := its.Phrases.Insert(Phrase{
			Words: []interner.Interned[string]{its.Words.Insert(left), its.Words.Insert(right)},
		})
		return &phrase
	}
	return nil
}

// BuildGraph builds the query graph from consecutive located terms,
// inserting 2-gram and 3-gram interpretation nodes where adjacent words
// merge into an indexed term. It returns the graph and the located terms
// including the created ngrams.
func BuildGraph(its *Interners, dict Dictionary, terms []LocatedQueryTerm) (*Graph, []LocatedQueryTerm, error) {
	allTerms := append([]LocatedQueryTerm(nil), terms...)

	type nodeData struct {
		kind NodeKind
		term LocatedTermSubset
	}
	data := []nodeData{{kind: KindStart}, {kind: KindEnd}}

	addTermNode := func(term interner.Interned[QueryTerm], positions PositionRange, ids IDRange) {
		data = append(data, nodeData{
			kind: KindTerm,
			term: LocatedTermSubset{
				Subset:    FullSubset(term),
				Positions: positions,
				TermIDs:   ids,
			},
		})
	}

	for idx, lt := range terms {
		addTermNode(lt.Term, lt.Positions, IDRange{Start: uint8(idx), End: uint8(idx)})
		for n := 2; n <= MaxNgramSize; n++ {
			if idx < n-1 {
				continue
			}
			group := terms[idx-n+1 : idx+1]
			ngram, ok, err := makeNgram(its, dict, group)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			located := LocatedQueryTerm{
				Term: ngram,
				Positions: PositionRange{
					Start: group[0].Positions.Start,
					End:   group[len(group)-1].Positions.End,
				},
			}
			allTerms = append(allTerms, located)
			addTermNode(ngram, located.Positions,
				IDRange{Start: uint8(idx - n + 1), End: uint8(idx)})
		}
	}
	if len(data) > MaxNodes {
		return nil, nil, apperrors.Newf(apperrors.ErrQueryTooComplex, 400,
			"query graph has %d nodes, maximum is %d", len(data), MaxNodes)
	}

	nodes := make([]Node, len(data))
	for i, d := range data {
		nodes[i] = newNode(d.kind, len(data))
		nodes[i].Term = d.term
	}
	return assemble(nodes), allTerms, nil
}

// makeNgram merges the original words of a group of adjacent terms into one
// effective term, when the merged word has any derivation in the dictionary.
// Groups containing phrases or prefix expansions other than the final term
// are not merged.
func makeNgram(its *Interners, dict Dictionary, group []LocatedQueryTerm) (interner.Interned[QueryTerm], bool, error) {
	words := make([]string, 0, len(group))
	ngramWords := make([]interner.Interned[string], 0, len(group))
	for i, lt := range group {
		t := its.Terms.Get(lt.Term)
		if t.ZeroTypo.Phrase != nil || len(t.NgramWords) > 0 {
			return 0, false, nil
		}
		if t.IsPrefix && i != len(group)-1 {
			return 0, false, nil
		}
		words = append(words, *its.Words.Get(t.Original))
		ngramWords = append(ngramWords, t.Original)
	}
	merged := strings.Join(words, "")
	last := its.Terms.Get(group[len(group)-1].Term)

	maxTypos := TyposAllowed(merged)
	// An ngram is already a degraded interpretation; its typo budget never
	// exceeds one.
	if maxTypos > 1 {
		maxTypos = 1
	}
	term, err := termFromWord(its, dict, merged, maxTypos, last.IsPrefix)
	if err != nil {
		return 0, false, err
	}
	// Splitting the merged word back into its own constituents is not a new
	// interpretation; without a real derivation the ngram is dropped.
	if sw := term.OneTypo.SplitWords; sw != nil && sameHandles(its.Phrases.Get(*sw).Words, ngramWords) {
		term.OneTypo.SplitWords = nil
	}
	if term.IsEmpty() {
		return 0, false, nil
	}
	term.NgramWords = ngramWords
	return its.Terms.Insert(term), true, nil
}
