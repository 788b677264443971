// Package interner provides request-scoped deduplicating arenas. Equal values
// intern to the same small integer handle, and handles index directly into an
// append-only backing slice. Handles are only meaningful for the interner
// that produced them; using one against another interner is a bug and panics.
package interner

import "fmt"

// Interned is a stable handle to a value stored in an Interner. It is
// copyable, comparable and totally ordered by insertion order.
type Interned[T any] uint16

// Interner stores each distinct value once and hands out Interned handles.
// Distinctness is decided by the key function supplied at construction.
// The structure only grows; there is no deletion.
type Interner[T any] struct {
	items  []T
	lookup map[string]Interned[T]
	key    func(*T) string
}

// New creates an Interner whose values are deduplicated by key.
func New[T any](key func(*T) string) *Interner[T] {
	return &Interner[T]{
		lookup: make(map[string]Interned[T]),
		key:    key,
	}
}

// NewStrings creates an Interner for plain strings.
func NewStrings() *Interner[string] {
	return New(func(s *string) string { return *s })
}

// Insert returns the handle for v, storing it first if it is not already
// present.
func (in *Interner[T]) Insert(v T) Interned[T] {
	k := in.key(&v)
	if id, ok := in.lookup[k]; ok {
		return id
	}
	id := Interned[T](len(in.items))
	in.items = append(in.items, v)
	in.lookup[k] = id
	return id
}

// Get returns a pointer to the value behind id. It panics if id was not
// produced by this interner.
func (in *Interner[T]) Get(id Interned[T]) *T {
	if int(id) >= len(in.items) {
		panic(fmt.Sprintf("interner: handle %d out of range (len %d)", id, len(in.items)))
	}
	return &in.items[int(id)]
}

// Len returns the number of distinct values stored.
func (in *Interner[T]) Len() int {
	return len(in.items)
}

// Mapped is a dense side table associating a value of type V with every
// handle of an Interner[From]. It stays valid as long as the interner does
// not grow past the length it had at construction time.
type Mapped[From, V any] struct {
	values []V
}

// NewMapped builds a side table for every handle currently in in, filling
// each slot with init(handle).
func NewMapped[From, V any](in *Interner[From], init func(Interned[From]) V) *Mapped[From, V] {
	values := make([]V, in.Len())
	for i := range values {
		values[i] = init(Interned[From](i))
	}
	return &Mapped[From, V]{values: values}
}

// Get returns the value associated with id.
func (m *Mapped[From, V]) Get(id Interned[From]) V {
	return m.values[int(id)]
}

// Ref returns a pointer to the slot associated with id.
func (m *Mapped[From, V]) Ref(id Interned[From]) *V {
	return &m.values[int(id)]
}

// Set overwrites the value associated with id.
func (m *Mapped[From, V]) Set(id Interned[From], v V) {
	m.values[int(id)] = v
}

// Len returns the number of slots in the table.
func (m *Mapped[From, V]) Len() int {
	return len(m.values)
}
