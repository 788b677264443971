package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// Output is the result of one bucket sort: the ordered page of document ids
// and the union of the top-level buckets that contributed to it, which
// callers use to compute facet distributions for the current window.
type Output struct {
	Docs             []uint32
	BucketCandidates *roaring.Bitmap
}

// BucketSort runs the ranking rule chain over the universe and returns the
// documents from offset to offset+limit of the resulting total order.
//
// The driver expands buckets depth first: each bucket a rule yields is
// refined by the next rule in the chain, except when it holds at most one
// document or no rules remain, in which case its documents are emitted in
// ascending id order (the final tie break). Buckets are visited in
// non-decreasing total cost order at every level. Offset and limit only
// truncate the ordered stream; they never influence the ordering itself.
func BucketSort(
	ctx context.Context,
	sess *Session,
	rules []RankingRule,
	universe *roaring.Bitmap,
	q Query,
	offset, limit int,
) (*Output, error) {
	out := &Output{BucketCandidates: roaring.New()}
	if limit <= 0 || universe.IsEmpty() {
		return out, nil
	}

	curOffset := 0
	emit := func(b *roaring.Bitmap) {
		card := int(b.GetCardinality())
		if curOffset+card <= offset {
			curOffset += card
			return
		}
		it := b.Iterator()
		for it.HasNext() {
			id := it.Next()
			if curOffset >= offset && len(out.Docs) < limit {
				out.Docs = append(out.Docs, id)
			}
			curOffset++
		}
	}

	if len(rules) == 0 {
		emit(universe)
		out.BucketCandidates.Or(universe)
		sess.Logger.Finish(out.Docs)
		return out, nil
	}

	universes := make([]*roaring.Bitmap, len(rules))
	universes[0] = universe.Clone()
	if err := rules[0].StartIteration(ctx, sess, universes[0], q); err != nil {
		return nil, err
	}
	cur := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Newf(apperrors.ErrTimeout, 503, "ranking aborted: %v", err)
		}
		if len(out.Docs) >= limit {
			for ; cur >= 0; cur-- {
				rules[cur].EndIteration(sess)
			}
			break
		}

		u := universes[cur]
		if u.GetCardinality() <= 1 {
			if cur == 0 {
				out.BucketCandidates.Or(u)
			}
			emit(u)
			u.Clear()
			rules[cur].EndIteration(sess)
			if cur == 0 {
				break
			}
			cur--
			continue
		}

		bucket, err := rules[cur].NextBucket(ctx, sess, u)
		if err != nil {
			return nil, err
		}
		if bucket == nil {
			// Exhausted rule: whatever it left unpartitioned is ordered
			// by raw document id.
			if !u.IsEmpty() {
				if cur == 0 {
					out.BucketCandidates.Or(u)
				}
				emit(u)
				u.Clear()
			}
			rules[cur].EndIteration(sess)
			if cur == 0 {
				break
			}
			cur--
			continue
		}

		u.AndNot(bucket.Candidates)
		if cur == 0 && len(out.Docs) < limit {
			out.BucketCandidates.Or(bucket.Candidates)
		}
		if bucket.Candidates.IsEmpty() {
			continue
		}
		if bucket.Candidates.GetCardinality() == 1 || cur == len(rules)-1 {
			emit(bucket.Candidates)
			continue
		}

		cur++
		universes[cur] = bucket.Candidates
		if err := rules[cur].StartIteration(ctx, sess, universes[cur], bucket.Query); err != nil {
			return nil, err
		}
	}

	sess.Logger.Finish(out.Docs)
	return out, nil
}
