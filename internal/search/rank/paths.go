package rank

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/cascadesearch/cascade/internal/search/interner"
	"github.com/cascadesearch/cascade/internal/search/query"
)

// visitFn receives each complete Start-to-End path whose total cost equals
// the visitor's budget, as the list of conditions along it. Returning stop
// aborts the traversal early.
type visitFn[C any] func(path []interner.Interned[C]) (stop bool, err error)

// pathVisitor enumerates, in deterministic edge order, every path through a
// ranking rule graph whose total cost is exactly the budget. It prunes
// subtrees that cannot consume the remaining budget (using the precomputed
// costs-to-end) and subtrees known to be dead from previous resolutions.
type pathVisitor[C any] struct {
	graph    *Graph[C]
	allCosts [][]uint64
	deadEnds *deadEndsCache[C]

	remainingCost uint64
	path          []interner.Interned[C]

	visitedConditions   *bitset.BitSet
	forbiddenConditions *bitset.BitSet
	// matchedNodes are term nodes entered through a condition edge;
	// skippedNodes are term nodes dropped by a skip edge, together with the
	// cheaper-rank nodes that edge forbids.
	matchedNodes *bitset.BitSet
	skippedNodes *bitset.BitSet
}

func newPathVisitor[C any](g *Graph[C], allCosts [][]uint64, deadEnds *deadEndsCache[C], budget uint64) *pathVisitor[C] {
	n := uint(len(g.Query.Nodes))
	return &pathVisitor[C]{
		graph:               g,
		allCosts:            allCosts,
		deadEnds:            deadEnds,
		remainingCost:       budget,
		visitedConditions:   bitset.New(64),
		forbiddenConditions: deadEnds.forbidden.Clone(),
		matchedNodes:        bitset.New(n),
		skippedNodes:        bitset.New(n),
	}
}

func (v *pathVisitor[C]) visitPaths(visit visitFn[C]) error {
	_, _, err := v.visitNode(v.graph.Query.Root, visit)
	return err
}

// visitNode explores every outgoing edge of from within the remaining
// budget. It returns whether any complete path was reported below this
// point, and whether the traversal should stop entirely.
func (v *pathVisitor[C]) visitNode(from query.NodeID, visit visitFn[C]) (anyValid, stop bool, err error) {
	// The visit callback may retract edges; iterate over a snapshot.
	edges := v.graph.EdgesOfNode[from].Clone()
	for id, ok := edges.NextSet(0); ok; id, ok = edges.NextSet(id + 1) {
		e := v.graph.Edges[id]
		if e == nil {
			continue
		}
		if uint64(e.Cost) > v.remainingCost {
			continue
		}
		v.remainingCost -= uint64(e.Cost)
		var valid, stopped bool
		if e.Condition == nil {
			valid, stopped, err = v.visitNoCondition(e, visit)
		} else {
			valid, stopped, err = v.visitCondition(e, visit)
		}
		v.remainingCost += uint64(e.Cost)
		if err != nil {
			return false, false, err
		}
		if stopped {
			return anyValid || valid, true, nil
		}
		if valid {
			anyValid = true
			// The callback may have extended the dead-ends cache; if the
			// current prefix became dead, backtrack out of it.
			v.forbiddenConditions = v.deadEnds.forbiddenForAllPrefixesUpTo(v.path)
			if v.visitedConditions.IntersectionCardinality(v.forbiddenConditions) > 0 {
				return true, false, nil
			}
		}
	}
	return anyValid, false, nil
}

// visitNoCondition traverses an unconditional edge: either into End, where
// the accumulated path is reported, or a skip edge dropping the destination
// term.
func (v *pathVisitor[C]) visitNoCondition(e *Edge[C], visit visitFn[C]) (bool, bool, error) {
	if e.Dest == v.graph.Query.End {
		if v.remainingCost != 0 {
			return false, false, nil
		}
		stop, err := visit(v.path)
		return err == nil, stop, err
	}
	if v.matchedNodes.Test(uint(e.Dest)) {
		return false, false, nil
	}
	if !containsCost(v.allCosts[e.Dest], v.remainingCost) {
		return false, false, nil
	}
	// Dropping this term is only consistent if no cheaper-rank term was
	// matched on the path so far.
	if e.NodesToSkip != nil && e.NodesToSkip.IntersectionCardinality(v.matchedNodes) > 0 {
		return false, false, nil
	}

	saved := v.skippedNodes.Clone()
	v.skippedNodes.Set(uint(e.Dest))
	if e.NodesToSkip != nil {
		v.skippedNodes.InPlaceUnion(e.NodesToSkip)
	}
	anyValid, stop, err := v.visitNode(e.Dest, visit)
	v.skippedNodes = saved
	return anyValid, stop, err
}

// visitCondition traverses a condition edge into a term node.
func (v *pathVisitor[C]) visitCondition(e *Edge[C], visit visitFn[C]) (bool, bool, error) {
	cond := *e.Condition
	if v.forbiddenConditions.Test(uint(cond)) {
		return false, false, nil
	}
	if v.skippedNodes.Test(uint(e.Dest)) || v.matchedNodes.Test(uint(e.Dest)) {
		return false, false, nil
	}
	if !containsCost(v.allCosts[e.Dest], v.remainingCost) {
		return false, false, nil
	}

	v.path = append(v.path, cond)
	v.visitedConditions.Set(uint(cond))
	v.matchedNodes.Set(uint(e.Dest))
	savedForbidden := v.forbiddenConditions
	if extra := v.deadEnds.forbiddenAfterPrefix(v.path); extra != nil {
		v.forbiddenConditions = savedForbidden.Union(extra)
	}

	anyValid, stop, err := v.visitNode(e.Dest, visit)

	v.forbiddenConditions = savedForbidden
	v.matchedNodes.Clear(uint(e.Dest))
	v.visitedConditions.Clear(uint(cond))
	v.path = v.path[:len(v.path)-1]
	return anyValid, stop, err
}

func containsCost(costs []uint64, c uint64) bool {
	i := sort.Search(len(costs), func(i int) bool { return costs[i] >= c })
	return i < len(costs) && costs[i] == c
}
