package rank

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// TypoCondition admits the derivations of one term that cost exactly NTypos
// typos.
type TypoCondition struct {
	Term   query.LocatedTermSubset
	NTypos uint8
}

// TypoCriterion ranks documents by the number of typos needed to match the
// query. Merging adjacent words into an ngram carries a base cost of the
// number of merged words minus one, so a 2-gram match is penalized like one
// typo.
type TypoCriterion struct{}

func (TypoCriterion) Name() string { return "typo" }

func (TypoCriterion) Key(c *TypoCondition) string {
	return fmt.Sprintf("%s;n%d", c.Term.Key(), c.NTypos)
}

func (TypoCriterion) BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[TypoCondition], error) {
	base := uint32(dest.TermIDs.Len() - 1)
	maxTypos := sess.Its.Terms.Get(dest.Subset.Original).MaxTypos

	var out []CostCondition[TypoCondition]
	for n := uint8(0); n <= maxTypos && n <= 2; n++ {
		restricted := *dest
		restricted.Subset = dest.Subset.RestrictTypoLevel(n)
		if restricted.Subset.IsEmpty(sess.Its) {
			continue
		}
		out = append(out, CostCondition[TypoCondition]{
			Cost:      uint32(n) + base,
			Condition: TypoCondition{Term: restricted, NTypos: n},
		})
	}
	return out, nil
}

func (TypoCriterion) Resolve(ctx context.Context, sess *Session, cond *TypoCondition, universe *roaring.Bitmap) (Computed, error) {
	docids, err := sess.TermSubsetDocids(ctx, &cond.Term.Subset)
	if err != nil {
		return Computed{}, err
	}
	return Computed{Docids: docids, End: cond.Term}, nil
}
