package interner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertDeduplicates(t *testing.T) {
	in := NewStrings()

	a := in.Insert("house")
	b := in.Insert("pretty")
	c := in.Insert("house")

	require.Equal(t, a, c)
	require.NotEqual(t, a, b)
	require.Equal(t, 2, in.Len())
	require.Equal(t, "house", *in.Get(a))
	require.Equal(t, "pretty", *in.Get(b))
}

func TestHandlesFollowInsertionOrder(t *testing.T) {
	in := NewStrings()

	first := in.Insert("a")
	second := in.Insert("b")
	third := in.Insert("c")

	require.True(t, first < second)
	require.True(t, second < third)
}

func TestGetPanicsOnForeignHandle(t *testing.T) {
	in := NewStrings()
	in.Insert("only")

	require.Panics(t, func() {
		in.Get(Interned[string](7))
	})
}

func TestMappedSideTable(t *testing.T) {
	in := NewStrings()
	sun := in.Insert("sun")
	flower := in.Insert("flower")

	lengths := NewMapped(in, func(id Interned[string]) int {
		return len(*in.Get(id))
	})

	require.Equal(t, 3, lengths.Get(sun))
	require.Equal(t, 6, lengths.Get(flower))

	lengths.Set(sun, 42)
	require.Equal(t, 42, lengths.Get(sun))
	*lengths.Ref(flower) = 7
	require.Equal(t, 7, lengths.Get(flower))
}
