package query

import (
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// NodeID indexes a node inside a Graph. Node 0 is always Start and node 1 is
// always End.
type NodeID uint16

// MaxNodes bounds the size of a query graph. Queries producing more nodes
// (via ngrams and derivations) are rejected as too complex.
const MaxNodes = 64

// NodeKind discriminates the four kinds of query graph nodes.
type NodeKind uint8

const (
	KindStart NodeKind = iota
	KindEnd
	KindTerm
	// KindDeleted marks a node removed by a ranking rule; deleted nodes are
	// unreachable from Start.
	KindDeleted
)

// Node is one node of the query graph.
type Node struct {
	Kind NodeKind
	// Term is meaningful only when Kind == KindTerm.
	Term         LocatedTermSubset
	Predecessors *bitset.BitSet
	Successors   *bitset.BitSet
}

// Graph represents all the ways to interpret the user's search query: every
// path from Root to End that covers each term index once is one valid
// interpretation.
type Graph struct {
	Root  NodeID
	End   NodeID
	Nodes []Node
}

func newNode(kind NodeKind, n int) Node {
	return Node{
		Kind:         kind,
		Predecessors: bitset.New(uint(n)),
		Successors:   bitset.New(uint(n)),
	}
}

// assemble builds a Graph from prepared node data (Start and End must be at
// indices 0 and 1) and computes the initial edges.
func assemble(nodes []Node) *Graph {
	g := &Graph{Root: 0, End: 1, Nodes: nodes}
	g.buildInitialEdges()
	return g
}

// buildInitialEdges connects every node to the nodes whose first covered
// term index is the smallest one strictly greater than its own last covered
// index. Start behaves as covering index -1, End as covering +infinity.
func (g *Graph) buildInitialEdges() {
	n := uint(len(g.Nodes))
	for i := range g.Nodes {
		g.Nodes[i].Predecessors = bitset.New(n)
		g.Nodes[i].Successors = bitset.New(n)
	}
	for id := range g.Nodes {
		node := &g.Nodes[id]
		var endPrev int
		switch node.Kind {
		case KindTerm:
			endPrev = int(node.Term.TermIDs.End)
		case KindStart:
			endPrev = -1
		default:
			continue
		}
		successors := bitset.New(n)
		min := math.MaxInt
		for otherID := range g.Nodes {
			other := &g.Nodes[otherID]
			var startNext int
			switch other.Kind {
			case KindTerm:
				startNext = int(other.Term.TermIDs.Start)
			case KindEnd:
				startNext = math.MaxInt
			default:
				continue
			}
			if startNext <= endPrev {
				continue
			}
			switch {
			case startNext < min:
				min = startNext
				successors.ClearAll()
				successors.Set(uint(otherID))
			case startNext == min:
				successors.Set(uint(otherID))
			}
		}
		node.Successors = successors
		for s, ok := successors.NextSet(0); ok; s, ok = successors.NextSet(s + 1) {
			g.Nodes[s].Predecessors.Set(uint(id))
		}
	}
}

// RemoveNodes deletes the given nodes and all their edges.
func (g *Graph) RemoveNodes(nodes []NodeID) {
	for _, id := range nodes {
		node := &g.Nodes[id]
		preds := node.Predecessors.Clone()
		succs := node.Successors.Clone()
		for p, ok := preds.NextSet(0); ok; p, ok = preds.NextSet(p + 1) {
			g.Nodes[p].Successors.Clear(uint(id))
		}
		for s, ok := succs.NextSet(0); ok; s, ok = succs.NextSet(s + 1) {
			g.Nodes[s].Predecessors.Clear(uint(id))
		}
		node.Kind = KindDeleted
		node.Predecessors.ClearAll()
		node.Successors.ClearAll()
	}
}

// RemoveNodesKeepEdges deletes the given nodes, reconnecting each of their
// predecessors to each of their successors.
func (g *Graph) RemoveNodesKeepEdges(nodes []NodeID) {
	for _, id := range nodes {
		node := &g.Nodes[id]
		preds := node.Predecessors.Clone()
		succs := node.Successors.Clone()
		for p, ok := preds.NextSet(0); ok; p, ok = preds.NextSet(p + 1) {
			g.Nodes[p].Successors.Clear(uint(id))
			g.Nodes[p].Successors.InPlaceUnion(succs)
		}
		for s, ok := succs.NextSet(0); ok; s, ok = succs.NextSet(s + 1) {
			g.Nodes[s].Predecessors.Clear(uint(id))
			g.Nodes[s].Predecessors.InPlaceUnion(preds)
		}
		node.Kind = KindDeleted
		node.Predecessors.ClearAll()
		node.Successors.ClearAll()
	}
}

// Simplify removes every node that became disconnected from Start or End,
// repeating until the graph is stable.
func (g *Graph) Simplify() {
	for {
		var toRemove []NodeID
		for id := range g.Nodes {
			node := &g.Nodes[id]
			if node.Kind == KindDeleted {
				continue
			}
			if (node.Kind != KindEnd && node.Successors.None()) ||
				(node.Kind != KindStart && node.Predecessors.None()) {
				toRemove = append(toRemove, NodeID(id))
			}
		}
		if len(toRemove) == 0 {
			return
		}
		g.RemoveNodes(toRemove)
	}
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	nodes := make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = Node{
			Kind:         n.Kind,
			Term:         n.Term,
			Predecessors: n.Predecessors.Clone(),
			Successors:   n.Successors.Clone(),
		}
	}
	return &Graph{Root: g.Root, End: g.End, Nodes: nodes}
}

// RemovalOrderLast returns the node groups to remove, in order, for the
// "last" terms matching strategy: words are dropped from the end of the
// query first. Each group is a set of nodes sharing the same removal rank.
func (g *Graph) RemovalOrderLast(its *Interners) []*bitset.BitSet {
	firstID, lastID := uint8(math.MaxUint8), uint8(0)
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind != KindTerm {
			continue
		}
		if node.Term.TermIDs.End > lastID {
			lastID = node.Term.TermIDs.End
		}
		if node.Term.TermIDs.Start < firstID {
			firstID = node.Term.TermIDs.Start
		}
	}
	if firstID >= lastID {
		return nil
	}
	return g.removalOrder(its, func(termID uint8) int {
		return 1 + int(lastID) - int(termID)
	})
}

// RemovalOrderFrequency returns the removal order for the "frequency"
// strategy: the most frequent words (largest docid sets) are dropped first.
// count resolves the document frequency of a term subset.
func (g *Graph) RemovalOrderFrequency(
	its *Interners,
	count func(*LocatedTermSubset) (uint64, error),
) ([]*bitset.BitSet, error) {
	freqByID := make(map[uint8]uint64)
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind != KindTerm {
			continue
		}
		n, err := count(&node.Term)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			n = math.MaxUint64
		}
		for tid := node.Term.TermIDs.Start; ; tid++ {
			if n > freqByID[tid] {
				freqByID[tid] = n
			}
			if tid == node.Term.TermIDs.End {
				break
			}
		}
	}
	// Rank term ids by decreasing frequency; ties share a weight.
	type idFreq struct {
		id   uint8
		freq uint64
	}
	ranked := make([]idFreq, 0, len(freqByID))
	for id, f := range freqByID {
		ranked = append(ranked, idFreq{id, f})
	}
	for i := range ranked {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].freq > ranked[i].freq ||
				(ranked[j].freq == ranked[i].freq && ranked[j].id < ranked[i].id) {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	weights := make(map[uint8]int, len(ranked))
	weight := 1
	for i, rf := range ranked {
		weights[rf.id] = weight
		if i+1 < len(ranked) && ranked[i+1].freq != rf.freq {
			weight++
		}
	}
	return g.removalOrder(its, func(termID uint8) int { return weights[termID] }), nil
}

// removalOrder groups the removable term nodes by cost, cheapest removal
// first. Phrase terms and mandatory terms are never removed; if every term
// is removable the most expensive group is kept so at least one term always
// remains.
func (g *Graph) removalOrder(its *Interners, order func(termID uint8) int) []*bitset.BitSet {
	n := uint(len(g.Nodes))
	groups := make(map[int]*bitset.BitSet)
	var costs []int
	mandatorySeen := false
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind != KindTerm {
			continue
		}
		if _, isPhrase := node.Term.Subset.OriginalPhrase(its); isPhrase || node.Term.Subset.Mandatory {
			mandatorySeen = true
			continue
		}
		cost := 0
		for tid := node.Term.TermIDs.Start; ; tid++ {
			if c := order(tid); c > cost {
				cost = c
			}
			if tid == node.Term.TermIDs.End {
				break
			}
		}
		group, ok := groups[cost]
		if !ok {
			group = bitset.New(n)
			groups[cost] = group
			costs = append(costs, cost)
		}
		group.Set(uint(id))
	}
	for i := range costs {
		for j := i + 1; j < len(costs); j++ {
			if costs[j] < costs[i] {
				costs[i], costs[j] = costs[j], costs[i]
			}
		}
	}
	out := make([]*bitset.BitSet, 0, len(costs))
	for _, c := range costs {
		out = append(out, groups[c])
	}
	if !mandatorySeen && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out
}

// WordsInPhrasesCount returns the number of words inside phrase terms of the
// graph; it contributes to the maximum cost of the Words rule.
func (g *Graph) WordsInPhrasesCount(its *Interners) int {
	count := 0
	for id := range g.Nodes {
		node := &g.Nodes[id]
		if node.Kind != KindTerm {
			continue
		}
		if phrase, ok := node.Term.Subset.OriginalPhrase(its); ok {
			count += len(its.Phrases.Get(phrase).Words)
		}
	}
	return count
}

// PathEdge is one traversed edge of a ranking rule path: the term subsets
// used on the source and destination side of the edge's condition. Start is
// nil for edges leaving the Start node.
type PathEdge struct {
	Start *LocatedTermSubset
	End   LocatedTermSubset
}

// BuildFromPaths rebuilds a query graph from the set of paths used to
// compute a bucket. Nodes holding the same term subset with the same path
// suffix are merged, so that alternative interpretations stay separate while
// common tails are shared.
func BuildFromPaths(paths [][]PathEdge) *Graph {
	// Flatten each path into a list of single term subsets, intersecting
	// the subsets where one edge's destination is the next edge's source.
	flat := make([][]LocatedTermSubset, 0, len(paths))
	for _, path := range paths {
		var processed []LocatedTermSubset
		var prevDest *LocatedTermSubset
		for i := range path {
			start, dest := path[i].Start, path[i].End
			if prevDest != nil {
				if start != nil {
					if start.TermIDs == prevDest.TermIDs {
						merged := *start
						merged.Subset.Intersect(&prevDest.Subset)
						processed = append(processed, merged)
					} else {
						processed = append(processed, *prevDest, *start)
					}
				} else {
					processed = append(processed, *prevDest)
				}
			} else if start != nil {
				processed = append(processed, *start)
			}
			d := dest
			prevDest = &d
		}
		if prevDest != nil {
			processed = append(processed, *prevDest)
		}
		flat = append(flat, processed)
	}

	// Hash every suffix of every path so that equal terms with equal
	// suffixes map to the same node.
	type hashedTerm struct {
		term LocatedTermSubset
		hash uint64
	}
	hashed := make([][]hashedTerm, 0, len(flat))
	for _, path := range flat {
		h := fnv.New64a()
		withHash := make([]hashedTerm, len(path))
		for i := len(path) - 1; i >= 0; i-- {
			h.Write([]byte(path[i].Key()))
			withHash[i] = hashedTerm{term: path[i], hash: h.Sum64()}
		}
		hashed = append(hashed, withHash)
	}

	type nodeKey struct {
		termKey string
		hash    uint64
	}
	nodes := []Node{{Kind: KindStart}, {Kind: KindEnd}}
	nodeFor := make(map[nodeKey]NodeID)
	pathIDs := make([][]NodeID, 0, len(hashed))
	for _, path := range hashed {
		ids := make([]NodeID, 0, len(path))
		for _, ht := range path {
			key := nodeKey{termKey: ht.term.Key(), hash: ht.hash}
			id, ok := nodeFor[key]
			if !ok {
				id = NodeID(len(nodes))
				nodes = append(nodes, Node{Kind: KindTerm, Term: ht.term})
				nodeFor[key] = id
			}
			ids = append(ids, id)
		}
		pathIDs = append(pathIDs, ids)
	}

	n := uint(len(nodes))
	for i := range nodes {
		nodes[i].Predecessors = bitset.New(n)
		nodes[i].Successors = bitset.New(n)
	}
	g := &Graph{Root: 0, End: 1, Nodes: nodes}
	for _, ids := range pathIDs {
		prev := g.Root
		for _, id := range ids {
			g.Nodes[prev].Successors.Set(uint(id))
			g.Nodes[id].Predecessors.Set(uint(prev))
			prev = id
		}
		g.Nodes[prev].Successors.Set(uint(g.End))
		g.Nodes[g.End].Predecessors.Set(uint(prev))
	}
	return g
}
