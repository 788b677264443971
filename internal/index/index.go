// Package index maintains the inverted index behind the search engine. A
// Store persists word, word-pair proximity, per-field and facet posting
// lists in Badger, and exposes immutable read Snapshots that back query
// resolution. The word dictionary is a vellum FST rebuilt on every flush,
// which gives prefix and fuzzy lookups without scanning the key space.
package index

import (
	"strings"
	"unicode"
)

// Document is the unit of ingestion. Fields maps field names to their raw
// text; which fields are searchable or filterable is decided by the store
// configuration, not the document.
type Document struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Tokenize splits field text into lowercase word tokens. It must agree with
// the query-side tokenization or indexed words become unreachable.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
