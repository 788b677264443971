package rank

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
)

// MaxProximityDistance bounds the maximum meaningful proximity cost between
// two adjacent query terms.
const MaxProximityDistance = 8

// ProximityCondition describes either a word pair at a given distance, or,
// when Left is nil, the fallback "term appears anywhere" condition.
type ProximityCondition struct {
	Left     *query.LocatedTermSubset
	Right    query.LocatedTermSubset
	Distance uint8
}

// ProximityCriterion ranks documents by how close adjacent query terms
// appear to each other.
type ProximityCriterion struct{}

func (ProximityCriterion) Name() string { return "proximity" }

func (ProximityCriterion) Key(c *ProximityCondition) string {
	left := "-"
	if c.Left != nil {
		left = c.Left.Key()
	}
	return fmt.Sprintf("%s|%s;d%d", left, c.Right.Key(), c.Distance)
}

func (ProximityCriterion) BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[ProximityCondition], error) {
	rightNgramMax := uint32(dest.TermIDs.Len() - 1)

	if source == nil {
		return []CostCondition[ProximityCondition]{{
			Cost:      rightNgramMax,
			Condition: ProximityCondition{Right: *dest},
		}}, nil
	}
	fallback := CostCondition[ProximityCondition]{
		Cost:      MaxProximityDistance - 1 + rightNgramMax,
		Condition: ProximityCondition{Right: *dest},
	}
	// Non-contiguous positions mean a word between the two terms was
	// dropped; the pair distance is meaningless there.
	if source.Positions.End+1 != dest.Positions.Start {
		return []CostCondition[ProximityCondition]{fallback}, nil
	}

	var out []CostCondition[ProximityCondition]
	left := *source
	for cost := rightNgramMax; cost < MaxProximityDistance-1+rightNgramMax; cost++ {
		out = append(out, CostCondition[ProximityCondition]{
			Cost: cost,
			Condition: ProximityCondition{
				Left:     &left,
				Right:    *dest,
				Distance: uint8(cost - rightNgramMax + 1),
			},
		})
	}
	return append(out, fallback), nil
}

func (ProximityCriterion) Resolve(ctx context.Context, sess *Session, cond *ProximityCondition, universe *roaring.Bitmap) (Computed, error) {
	if cond.Left == nil {
		docids, err := sess.TermSubsetDocids(ctx, &cond.Right.Subset)
		if err != nil {
			return Computed{}, err
		}
		return Computed{Docids: docids, End: cond.Right}, nil
	}

	leftWords, err := pairSideWords(sess, &cond.Left.Subset, false)
	if err != nil {
		return Computed{}, err
	}
	rightWords, err := pairSideWords(sess, &cond.Right.Subset, true)
	if err != nil {
		return Computed{}, err
	}

	docids := roaring.New()
	for _, l := range leftWords {
		for _, r := range rightWords {
			b, err := sess.Resolver.WordPairProximityDocids(ctx, l, r, cond.Distance)
			if err != nil {
				return Computed{}, err
			}
			docids.Or(b)
			// A pair may also match with the terms swapped, one step
			// closer.
			if cond.Distance > 1 {
				b, err := sess.Resolver.WordPairProximityDocids(ctx, r, l, cond.Distance-1)
				if err != nil {
					return Computed{}, err
				}
				docids.Or(b)
			}
		}
	}
	return Computed{Docids: docids, Start: cond.Left, End: cond.Right}, nil
}

// pairSideWords returns the words representing one side of a proximity
// pair: every single-word derivation, plus the boundary word of each phrase
// derivation (first word when the phrase is on the right side, last word
// otherwise).
func pairSideWords(sess *Session, sub *query.TermSubset, firstOfPhrase bool) ([]string, error) {
	var handles []interner.Interned[string]
	handles = append(handles, sub.AllWords(sess.Its)...)
	for _, p := range sub.AllPhrases(sess.Its) {
		words := sess.Its.Phrases.Get(p).Words
		if len(words) == 0 {
			continue
		}
		if firstOfPhrase {
			handles = append(handles, words[0])
		} else {
			handles = append(handles, words[len(words)-1])
		}
	}
	seen := make(map[string]struct{}, len(handles))
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		w := *sess.Its.Words.Get(h)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}
