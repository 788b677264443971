package rank

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// Resolver performs document-id lookups against a fixed read-only index
// snapshot. It must be deterministic for the lifetime of one request.
type Resolver interface {
	// WordDocids returns the documents containing word.
	WordDocids(ctx context.Context, word string) (*roaring.Bitmap, error)
	// PhraseDocids returns the documents containing the words contiguously
	// and in order.
	PhraseDocids(ctx context.Context, words []string) (*roaring.Bitmap, error)
	// WordPairProximityDocids returns the documents where right appears
	// exactly distance positions after left. Distance starts at 1.
	WordPairProximityDocids(ctx context.Context, left, right string, distance uint8) (*roaring.Bitmap, error)
	// WordFieldDocids returns the documents containing word in the given
	// field.
	WordFieldDocids(ctx context.Context, field, word string) (*roaring.Bitmap, error)
	// SearchableFields lists the indexed fields in ranking weight order.
	SearchableFields(ctx context.Context) ([]string, error)
}

// SessionStats counts the storage work performed by one search request.
type SessionStats struct {
	// ConditionResolutions is the number of external condition resolutions.
	ConditionResolutions uint64
	// ConditionCacheHits counts cache returns that avoided a resolution.
	ConditionCacheHits uint64
}

// Session carries the request-scoped state shared by every ranking rule of
// one search: the interners, the storage resolver with per-word memoization,
// the logger and the resolution counters.
type Session struct {
	Its      *query.Interners
	Resolver Resolver
	Logger   Logger
	Stats    SessionStats

	words   map[interner.Interned[string]]*roaring.Bitmap
	phrases map[interner.Interned[query.Phrase]]*roaring.Bitmap
}

// NewSession creates a session for one search request.
func NewSession(its *query.Interners, resolver Resolver, logger Logger) *Session {
	if logger == nil {
		logger = NullLogger{}
	}
	return &Session{
		Its:      its,
		Resolver: resolver,
		Logger:   logger,
		words:    make(map[interner.Interned[string]]*roaring.Bitmap),
		phrases:  make(map[interner.Interned[query.Phrase]]*roaring.Bitmap),
	}
}

// WordDocids resolves a word handle, memoizing per request. The returned
// bitmap is shared; callers must not mutate it.
func (s *Session) WordDocids(ctx context.Context, w interner.Interned[string]) (*roaring.Bitmap, error) {
	if b, ok := s.words[w]; ok {
		return b, nil
	}
	b, err := s.Resolver.WordDocids(ctx, *s.Its.Words.Get(w))
	if err != nil {
		return nil, fmt.Errorf("resolving word docids: %w", err)
	}
	s.words[w] = b
	return b, nil
}

// PhraseDocids resolves a phrase handle, memoizing per request. The returned
// bitmap is shared; callers must not mutate it.
func (s *Session) PhraseDocids(ctx context.Context, p interner.Interned[query.Phrase]) (*roaring.Bitmap, error) {
	if b, ok := s.phrases[p]; ok {
		return b, nil
	}
	phrase := s.Its.Phrases.Get(p)
	words := make([]string, len(phrase.Words))
	for i, w := range phrase.Words {
		words[i] = *s.Its.Words.Get(w)
	}
	b, err := s.Resolver.PhraseDocids(ctx, words)
	if err != nil {
		return nil, fmt.Errorf("resolving phrase docids: %w", err)
	}
	s.phrases[p] = b
	return b, nil
}

// TermSubsetDocids returns the union of the docids of every derivation the
// subset admits. The returned bitmap is owned by the caller.
func (s *Session) TermSubsetDocids(ctx context.Context, sub *query.TermSubset) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, w := range sub.AllWords(s.Its) {
		b, err := s.WordDocids(ctx, w)
		if err != nil {
			return nil, err
		}
		out.Or(b)
	}
	for _, p := range sub.AllPhrases(s.Its) {
		b, err := s.PhraseDocids(ctx, p)
		if err != nil {
			return nil, err
		}
		out.Or(b)
	}
	return out, nil
}

// GraphDocids resolves a whole query graph against the universe: the union
// over every Start-to-End path of the intersection of its term docids.
// Computed by a forward traversal that visits a node once all its
// predecessors are resolved.
func (s *Session) GraphDocids(ctx context.Context, g *query.Graph, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	resolved := bitset.New(uint(len(g.Nodes)))
	enqueued := bitset.New(uint(len(g.Nodes)))
	pathDocids := make([]*roaring.Bitmap, len(g.Nodes))

	queue := []query.NodeID{g.Root}
	enqueued.Set(uint(g.Root))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := &g.Nodes[id]

		ready := true
		for p, ok := node.Predecessors.NextSet(0); ok; p, ok = node.Predecessors.NextSet(p + 1) {
			if !resolved.Test(p) {
				ready = false
				break
			}
		}
		if !ready {
			queue = append(queue, id)
			continue
		}

		fromPreds := roaring.New()
		for p, ok := node.Predecessors.NextSet(0); ok; p, ok = node.Predecessors.NextSet(p + 1) {
			fromPreds.Or(pathDocids[p])
		}

		switch node.Kind {
		case query.KindStart:
			pathDocids[id] = universe.Clone()
		case query.KindEnd:
			return fromPreds, nil
		case query.KindTerm:
			term, err := s.TermSubsetDocids(ctx, &node.Term.Subset)
			if err != nil {
				return nil, err
			}
			fromPreds.And(term)
			pathDocids[id] = fromPreds
		default:
			return nil, fmt.Errorf("%w: deleted node %d still reachable", apperrors.ErrInternal, id)
		}
		resolved.Set(uint(id))

		for succ, ok := node.Successors.NextSet(0); ok; succ, ok = node.Successors.NextSet(succ + 1) {
			if !enqueued.Test(succ) {
				enqueued.Set(succ)
				queue = append(queue, query.NodeID(succ))
			}
		}
	}
	return roaring.New(), nil
}
