package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestGraph(t *testing.T, dict Dictionary, raw string) (*Interners, *Graph) {
	t.Helper()
	its := NewInterners()
	terms, err := BuildTerms(its, dict, raw)
	require.NoError(t, err)
	g, _, err := BuildGraph(its, dict, terms)
	require.NoError(t, err)
	return its, g
}

func findTermNode(t *testing.T, its *Interners, g *Graph, word string) NodeID {
	t.Helper()
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind != KindTerm {
			continue
		}
		term := its.Terms.Get(node.Term.Subset.Original)
		if *its.Words.Get(term.Original) == word {
			return NodeID(id)
		}
	}
	t.Fatalf("no node for word %q", word)
	return 0
}

func aliveNodes(g *Graph) int {
	n := 0
	for id := range g.Nodes {
		if g.Nodes[id].Kind != KindDeleted {
			n++
		}
	}
	return n
}

func TestRemoveNodesKeepEdgesReconnects(t *testing.T) {
	dict := newFakeDict("one", "two", "three")
	its, g := buildTestGraph(t, dict, "one two three")

	one := findTermNode(t, its, g, "one")
	two := findTermNode(t, its, g, "two")
	three := findTermNode(t, its, g, "three")

	g.RemoveNodesKeepEdges([]NodeID{two})

	require.Equal(t, KindDeleted, g.Nodes[two].Kind)
	require.True(t, g.Nodes[one].Successors.Test(uint(three)))
	require.True(t, g.Nodes[three].Predecessors.Test(uint(one)))
}

func TestSimplifyDropsDisconnectedChains(t *testing.T) {
	dict := newFakeDict("sun", "flower", "sunflower")
	its, g := buildTestGraph(t, dict, "sun flower")
	require.Equal(t, 5, aliveNodes(g))

	sun := findTermNode(t, its, g, "sun")
	g.RemoveNodes([]NodeID{sun})
	g.Simplify()

	// Only the ngram interpretation survives: Start, End, "sunflower".
	require.Equal(t, 3, aliveNodes(g))
	ngram := findTermNode(t, its, g, "sunflower")
	require.True(t, g.Nodes[g.Root].Successors.Test(uint(ngram)))
	require.True(t, g.Nodes[ngram].Successors.Test(uint(g.End)))
}

func TestRemovalOrderLastDropsFinalWordsFirst(t *testing.T) {
	dict := newFakeDict("one", "two", "three")
	its, g := buildTestGraph(t, dict, "one two three")

	groups := g.RemovalOrderLast(its)
	// The cheapest group removes the last word; the first word is never
	// removed so at least one term survives.
	require.Len(t, groups, 2)
	require.True(t, groups[0].Test(uint(findTermNode(t, its, g, "three"))))
	require.True(t, groups[1].Test(uint(findTermNode(t, its, g, "two"))))
	for _, group := range groups {
		require.False(t, group.Test(uint(findTermNode(t, its, g, "one"))))
	}
}

func TestRemovalOrderSkipsPhrases(t *testing.T) {
	dict := newFakeDict("new", "york", "pizza")
	its, g := buildTestGraph(t, dict, `"new york" pizza`)

	groups := g.RemovalOrderLast(its)
	require.Len(t, groups, 1)
	require.True(t, groups[0].Test(uint(findTermNode(t, its, g, "pizza"))))
}

func TestRemovalOrderFrequencyDropsFrequentWordsFirst(t *testing.T) {
	dict := newFakeDict("the", "great", "escape")
	its, g := buildTestGraph(t, dict, "the great escape")

	freq := map[string]uint64{"the": 1000, "great": 40, "escape": 3}
	groups, err := g.RemovalOrderFrequency(its, func(sub *LocatedTermSubset) (uint64, error) {
		term := its.Terms.Get(sub.Subset.Original)
		return freq[*its.Words.Get(term.Original)], nil
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.True(t, groups[0].Test(uint(findTermNode(t, its, g, "the"))))
	require.True(t, groups[1].Test(uint(findTermNode(t, its, g, "great"))))
}

func TestWordsInPhrasesCount(t *testing.T) {
	dict := newFakeDict("new", "york", "city", "pizza")
	its, g := buildTestGraph(t, dict, `"new york city" pizza`)

	require.Equal(t, 3, g.WordsInPhrasesCount(its))
}

func locatedSubset(its *Interners, word string, id uint8) LocatedTermSubset {
	w := its.Words.Insert(word)
	term := its.Terms.Insert(QueryTerm{
		Original: w,
		ZeroTypo: ZeroTypoDerivations{Word: &w},
	})
	return LocatedTermSubset{
		Subset:    FullSubset(term),
		Positions: PositionRange{Start: uint16(id), End: uint16(id)},
		TermIDs:   IDRange{Start: id, End: id},
	}
}

func TestBuildFromPathsSharesCommonSuffixes(t *testing.T) {
	its := NewInterners()
	a := locatedSubset(its, "aa", 0)
	b := locatedSubset(its, "bb", 0)
	c := locatedSubset(its, "cc", 1)

	g := BuildFromPaths([][]PathEdge{
		{{Start: nil, End: a}, {Start: &a, End: c}},
		{{Start: nil, End: b}, {Start: &b, End: c}},
	})

	// Start, End, aa, bb and one shared cc node.
	require.Len(t, g.Nodes, 5)
	require.Equal(t, uint(2), g.Nodes[g.Root].Successors.Count())

	cNode := NodeID(0)
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind == KindTerm && node.Term.Key() == c.Key() {
			cNode = NodeID(id)
		}
	}
	require.NotZero(t, cNode)
	require.Equal(t, uint(2), g.Nodes[cNode].Predecessors.Count())
	require.True(t, g.Nodes[cNode].Successors.Test(uint(g.End)))
}

func TestBuildFromPathsIntersectsSharedNodes(t *testing.T) {
	its := NewInterners()
	full := FullSubset(buildRichTerm(its))
	a := LocatedTermSubset{Subset: full, TermIDs: IDRange{Start: 0, End: 0}}
	restricted := a
	restricted.Subset = full.RestrictTypoLevel(0)
	c := locatedSubset(its, "cc", 1)

	g := BuildFromPaths([][]PathEdge{
		{{Start: nil, End: a}, {Start: &restricted, End: c}},
	})

	// The edge's source and the previous destination describe the same term,
	// so they collapse into one node holding their intersection.
	require.Len(t, g.Nodes, 4)
	var mergedKey string
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind == KindTerm && node.Term.TermIDs.Start == 0 {
			mergedKey = node.Term.Subset.Key()
		}
	}
	require.Equal(t, restricted.Subset.Key(), mergedKey)
}
