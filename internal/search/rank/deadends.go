package rank

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/cascadesearch/cascade/internal/search/interner"
)

// deadEndsCache remembers which conditions were discovered to be empty,
// either universally or after a specific path prefix, so the path visitor
// can prune whole subtrees instead of rediscovering the same empty
// intersections.
type deadEndsCache[C any] struct {
	conditions []interner.Interned[C]
	next       []*deadEndsCache[C]
	forbidden  *bitset.BitSet
}

func newDeadEndsCache[C any]() *deadEndsCache[C] {
	return &deadEndsCache[C]{forbidden: bitset.New(64)}
}

func (d *deadEndsCache[C]) advance(cond interner.Interned[C]) *deadEndsCache[C] {
	for i, c := range d.conditions {
		if c == cond {
			return d.next[i]
		}
	}
	return nil
}

// forbidCondition marks cond as empty in every context.
func (d *deadEndsCache[C]) forbidCondition(cond interner.Interned[C]) {
	d.forbidden.Set(uint(cond))
}

// forbidConditionAfterPrefix marks cond as empty for any path starting with
// prefix.
func (d *deadEndsCache[C]) forbidConditionAfterPrefix(prefix []interner.Interned[C], cond interner.Interned[C]) {
	cursor := d
	for _, c := range prefix {
		next := cursor.advance(c)
		if next == nil {
			next = newDeadEndsCache[C]()
			cursor.conditions = append(cursor.conditions, c)
			cursor.next = append(cursor.next, next)
		}
		cursor = next
	}
	cursor.forbidden.Set(uint(cond))
}

// forbiddenAfterPrefix returns the conditions forbidden exactly after
// prefix, or nil when the prefix is unknown to the cache.
func (d *deadEndsCache[C]) forbiddenAfterPrefix(prefix []interner.Interned[C]) *bitset.BitSet {
	cursor := d
	for _, c := range prefix {
		cursor = cursor.advance(c)
		if cursor == nil {
			return nil
		}
	}
	return cursor.forbidden.Clone()
}

// forbiddenForAllPrefixesUpTo accumulates the forbidden conditions of every
// prefix of path, shortest first.
func (d *deadEndsCache[C]) forbiddenForAllPrefixesUpTo(path []interner.Interned[C]) *bitset.BitSet {
	out := d.forbidden.Clone()
	cursor := d
	for _, c := range path {
		cursor = cursor.advance(c)
		if cursor == nil {
			break
		}
		out.InPlaceUnion(cursor.forbidden)
	}
	return out
}
