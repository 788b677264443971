package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"
)

// The dictionary side of a Snapshot: word existence, fuzzy and prefix
// lookups over the FST, and configured synonyms.

// Exists reports whether word is indexed.
func (s *Snapshot) Exists(word string) (bool, error) {
	if s.fst == nil {
		return false, nil
	}
	_, ok, err := s.fst.Get([]byte(word))
	if err != nil {
		return false, fmt.Errorf("dictionary lookup of %q: %w", word, err)
	}
	return ok, nil
}

// WithinDistance returns the indexed words within maxDist edits of word,
// including word itself if indexed, in lexicographic order.
func (s *Snapshot) WithinDistance(word string, maxDist uint8) ([]string, error) {
	if s.fst == nil {
		return nil, nil
	}
	builder, err := levenshtein.NewLevenshteinAutomatonBuilder(maxDist, false)
	if err != nil {
		return nil, fmt.Errorf("building levenshtein automaton: %w", err)
	}
	dfa, err := builder.BuildDfa(word, maxDist)
	if err != nil {
		return nil, fmt.Errorf("building levenshtein automaton for %q: %w", word, err)
	}

	var words []string
	itr, err := s.fst.Search(dfa, nil, nil)
	for err == nil {
		key, _ := itr.Current()
		words = append(words, string(key))
		err = itr.Next()
	}
	if err != vellum.ErrIteratorDone {
		return nil, fmt.Errorf("fuzzy lookup of %q: %w", word, err)
	}
	return words, nil
}

// WithPrefix returns the indexed words starting with prefix, in
// lexicographic order.
func (s *Snapshot) WithPrefix(prefix string) ([]string, error) {
	if s.fst == nil {
		return nil, nil
	}
	var words []string
	itr, err := s.fst.Iterator([]byte(prefix), nil)
	for err == nil {
		key, _ := itr.Current()
		word := string(key)
		if !strings.HasPrefix(word, prefix) {
			break
		}
		words = append(words, word)
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, fmt.Errorf("prefix lookup of %q: %w", prefix, err)
	}
	return words, nil
}

// Synonyms returns the configured equivalent phrases for word.
func (s *Snapshot) Synonyms(word string) ([][]string, error) {
	phrases := s.synonyms[word]
	if len(phrases) == 0 {
		return nil, nil
	}
	out := make([][]string, 0, len(phrases))
	for _, phrase := range phrases {
		if words := Tokenize(phrase); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out, nil
}
