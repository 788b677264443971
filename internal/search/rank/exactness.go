package rank

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// ExactnessCondition distinguishes documents containing the term exactly as
// typed from documents matched through any derivation.
type ExactnessCondition struct {
	Term  query.LocatedTermSubset
	Exact bool
}

// ExactnessCriterion promotes documents matching the original words over
// documents reached through prefixes, typos or synonyms.
type ExactnessCriterion struct{}

func (ExactnessCriterion) Name() string { return "exactness" }

func (ExactnessCriterion) Key(c *ExactnessCondition) string {
	return fmt.Sprintf("%s;e%v", c.Term.Key(), c.Exact)
}

func (ExactnessCriterion) BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[ExactnessCondition], error) {
	return []CostCondition[ExactnessCondition]{
		{Cost: 0, Condition: ExactnessCondition{Term: *dest, Exact: true}},
		{Cost: 1, Condition: ExactnessCondition{Term: *dest, Exact: false}},
	}, nil
}

func (ExactnessCriterion) Resolve(ctx context.Context, sess *Session, cond *ExactnessCondition, universe *roaring.Bitmap) (Computed, error) {
	if !cond.Exact {
		docids, err := sess.TermSubsetDocids(ctx, &cond.Term.Subset)
		if err != nil {
			return Computed{}, err
		}
		return Computed{Docids: docids, End: cond.Term}, nil
	}

	var docids *roaring.Bitmap
	if phrase, ok := cond.Term.Subset.OriginalPhrase(sess.Its); ok {
		b, err := sess.PhraseDocids(ctx, phrase)
		if err != nil {
			return Computed{}, err
		}
		docids = b.Clone()
	} else if w, ok := cond.Term.Subset.ExactWord(sess.Its); ok {
		b, err := sess.WordDocids(ctx, w)
		if err != nil {
			return Computed{}, err
		}
		docids = b.Clone()
	} else {
		docids = roaring.New()
	}
	return Computed{Docids: docids, End: cond.Term}, nil
}
