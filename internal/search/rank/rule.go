// Package rank implements the relevance ranking engine: per-criterion
// ranking rule graphs over the query graph, lazy condition-to-docids
// resolution with universe narrowing, and the bucket waterfall that chains
// the configured criteria into one deterministic document ordering.
package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// Query is the query state handed from one ranking rule to the next. Graph
// is nil for placeholder (empty-query) searches.
type Query struct {
	Graph *query.Graph
}

// Bucket is one refinement step: a sub-universe tied on every criterion
// evaluated so far, plus the residual query to hand to the next rule.
type Bucket struct {
	Query      Query
	Candidates *roaring.Bitmap
}

// MatchingStrategy selects which query words may be dropped, and in which
// order, when no document matches all of them.
type MatchingStrategy uint8

const (
	// MatchAll never drops a word.
	MatchAll MatchingStrategy = iota
	// MatchLast drops words from the end of the query first.
	MatchLast
	// MatchFrequency drops the most frequent words first.
	MatchFrequency
)

// RankingRule is the iteration contract shared by every criterion. A rule
// moves through Uninitialized, Iterating and Exhausted states:
// StartIteration resets it onto a new parent bucket, NextBucket yields
// sub-buckets best first until it returns nil, and EndIteration releases the
// per-iteration state so the rule can be restarted.
//
// The buckets yielded between StartIteration and exhaustion partition the
// parent universe: pairwise disjoint, union equal to the parent.
type RankingRule interface {
	ID() string
	StartIteration(ctx context.Context, sess *Session, universe *roaring.Bitmap, q Query) error
	// NextBucket returns the next bucket in non-decreasing cost order, or
	// nil when the rule is exhausted for the current parent.
	NextBucket(ctx context.Context, sess *Session, universe *roaring.Bitmap) (*Bucket, error)
	EndIteration(sess *Session)
}

// Logger observes the ranking pipeline. Implementations must be side-effect
// only: the engine behaves identically under any Logger.
type Logger interface {
	StartIteration(rule string, universeLen uint64)
	NextBucket(rule string, cost uint64, bucketLen uint64)
	EndIteration(rule string)
	Finish(docids []uint32)
}

// NullLogger ignores every event.
type NullLogger struct{}

func (NullLogger) StartIteration(string, uint64)    {}
func (NullLogger) NextBucket(string, uint64, uint64) {}
func (NullLogger) EndIteration(string)              {}
func (NullLogger) Finish([]uint32)                  {}
