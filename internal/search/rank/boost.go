package rank

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// Boost is a two-bucket rule promoting documents that satisfy a filter
// expression. It always yields the matching bucket before the rest,
// regardless of any other criterion, and passes the parent query through
// unchanged. The filter is evaluated once per search; a failing evaluation
// aborts the whole request.
type Boost struct {
	id       string
	matcher  func(ctx context.Context) (*roaring.Bitmap, error)
	resolved *roaring.Bitmap
	state    *boostState
}

type boostState struct {
	q       Query
	pending []*roaring.Bitmap
}

// NewBoost builds a boost rule. matcher evaluates the filter expression
// against the whole index.
func NewBoost(id string, matcher func(ctx context.Context) (*roaring.Bitmap, error)) *Boost {
	return &Boost{id: id, matcher: matcher}
}

func (r *Boost) ID() string { return r.id }

func (r *Boost) StartIteration(ctx context.Context, sess *Session, universe *roaring.Bitmap, q Query) error {
	if r.resolved == nil {
		docids, err := r.matcher(ctx)
		if err != nil {
			return err
		}
		r.resolved = docids
	}
	matching := roaring.And(universe, r.resolved)
	rest := roaring.AndNot(universe, r.resolved)
	r.state = &boostState{q: q, pending: []*roaring.Bitmap{matching, rest}}
	sess.Logger.StartIteration(r.ID(), universe.GetCardinality())
	return nil
}

func (r *Boost) NextBucket(ctx context.Context, sess *Session, universe *roaring.Bitmap) (*Bucket, error) {
	st := r.state
	if st == nil || len(st.pending) == 0 {
		return nil, nil
	}
	next := st.pending[0]
	st.pending = st.pending[1:]
	next.And(universe)
	sess.Logger.NextBucket(r.ID(), uint64(len(st.pending)), next.GetCardinality())
	return &Bucket{Query: st.q, Candidates: next}, nil
}

func (r *Boost) EndIteration(sess *Session) {
	r.state = nil
	sess.Logger.EndIteration(r.ID())
}
