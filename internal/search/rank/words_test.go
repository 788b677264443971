package rank

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWordsDropsLastWordFirst(t *testing.T) {
	dict := newMapDict("cat", "dog")
	resolver := newMapResolver()
	resolver.words["cat"] = bitmapOf(1, 2, 3)
	resolver.words["dog"] = bitmapOf(1, 2, 4)

	sess, q := buildSession(t, dict, resolver, "cat dog")
	rule := NewWords(MatchLast)

	buckets := collectBuckets(t, sess, rule, bitmapOf(1, 2, 3, 4, 5), q)
	require.Len(t, buckets, 3)
	require.True(t, buckets[0].Equals(bitmapOf(1, 2)), "both words first")
	require.True(t, buckets[1].Equals(bitmapOf(3)), "first word only next")
	require.True(t, buckets[2].Equals(bitmapOf(4, 5)), "everything else last")
}

func TestWordsMatchAllNeverDropsWords(t *testing.T) {
	dict := newMapDict("cat", "dog")
	resolver := newMapResolver()
	resolver.words["cat"] = bitmapOf(1, 2, 3)
	resolver.words["dog"] = bitmapOf(1, 2, 4)

	sess, q := buildSession(t, dict, resolver, "cat dog")
	rule := NewWords(MatchAll)

	buckets := collectBuckets(t, sess, rule, bitmapOf(1, 2, 3, 4, 5), q)
	require.Len(t, buckets, 2)
	require.True(t, buckets[0].Equals(bitmapOf(1, 2)))
	require.True(t, buckets[1].Equals(bitmapOf(3, 4, 5)))
}

func TestWordsPhraseIsNeverDropped(t *testing.T) {
	dict := newMapDict("new", "york", "pizza")
	resolver := newMapResolver()
	resolver.phrases["new york"] = bitmapOf(1, 2)
	resolver.words["pizza"] = bitmapOf(1, 3)

	sess, q := buildSession(t, dict, resolver, `"new york" pizza`)
	rule := NewWords(MatchLast)

	buckets := collectBuckets(t, sess, rule, bitmapOf(1, 2, 3), q)
	// Phrase and word, then phrase alone, then the rest; the phrase term
	// never leaves the graph.
	require.Len(t, buckets, 3)
	require.True(t, buckets[0].Equals(bitmapOf(1)))
	require.True(t, buckets[1].Equals(bitmapOf(2)))
	require.True(t, buckets[2].Equals(bitmapOf(3)))
}
