package rank

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/query"
)

// AttributeCondition admits the derivations of one term at exactly NTypos
// typos, resolved through the per-field posting lists.
type AttributeCondition struct {
	Term   query.LocatedTermSubset
	NTypos uint8
}

// AttributeCriterion ranks documents by where the query terms appear. Edge
// costs mirror the typo costs; the field weight ordering is applied by the
// resolver, which walks the searchable fields in declared order.
type AttributeCriterion struct{}

func (AttributeCriterion) Name() string { return "attribute" }

func (AttributeCriterion) Key(c *AttributeCondition) string {
	return fmt.Sprintf("%s;n%d", c.Term.Key(), c.NTypos)
}

func (AttributeCriterion) BuildEdges(sess *Session, source, dest *query.LocatedTermSubset) ([]CostCondition[AttributeCondition], error) {
	base := uint32(dest.TermIDs.Len() - 1)
	maxTypos := sess.Its.Terms.Get(dest.Subset.Original).MaxTypos

	var out []CostCondition[AttributeCondition]
	for n := uint8(0); n <= maxTypos && n <= 2; n++ {
		restricted := *dest
		restricted.Subset = dest.Subset.RestrictTypoLevel(n)
		if restricted.Subset.IsEmpty(sess.Its) {
			continue
		}
		out = append(out, CostCondition[AttributeCondition]{
			Cost:      uint32(n) + base,
			Condition: AttributeCondition{Term: restricted, NTypos: n},
		})
	}
	return out, nil
}

func (AttributeCriterion) Resolve(ctx context.Context, sess *Session, cond *AttributeCondition, universe *roaring.Bitmap) (Computed, error) {
	fields, err := sess.Resolver.SearchableFields(ctx)
	if err != nil {
		return Computed{}, err
	}

	docids := roaring.New()
	for _, field := range fields {
		for _, w := range cond.Term.Subset.AllWords(sess.Its) {
			b, err := sess.Resolver.WordFieldDocids(ctx, field, *sess.Its.Words.Get(w))
			if err != nil {
				return Computed{}, err
			}
			docids.Or(b)
		}
	}
	// Phrase derivations are not tracked per field; fall back to their
	// document-level posting lists.
	for _, p := range cond.Term.Subset.AllPhrases(sess.Its) {
		b, err := sess.PhraseDocids(ctx, p)
		if err != nil {
			return Computed{}, err
		}
		docids.Or(b)
	}
	return Computed{Docids: docids, End: cond.Term}, nil
}
