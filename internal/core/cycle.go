package core

import (
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type actionNode struct {
	id int64
	a  *Action
}

func (n actionNode) ID() int64 { return n.id }

// DetectCycle checks the action dependency graph described by edges (action
// -> the actions it depends on, e.g. ActionState.Blocking) for cycles. If one
// exists it returns a DefinitionError naming every action in the offending
// component; this is how a front-end that expanded a cyclically-defined rule
// set surfaces "Rule cyclically depends on self" with a full trace instead
// of just the immediate self-reference.
func DetectCycle(edges map[*Action][]*Action) error {
	g := simple.NewDirectedGraph()
	nodes := make(map[*Action]actionNode)
	var id int64
	nodeFor := func(a *Action) actionNode {
		n, ok := nodes[a]
		if !ok {
			n = actionNode{id: id, a: a}
			nodes[a] = n
			id++
			g.AddNode(n)
		}
		return n
	}
	for a, deps := range edges {
		from := nodeFor(a)
		for _, d := range deps {
			if d == a {
				// simple.DirectedGraph.SetEdge panics on a self edge; a rule
				// depending directly on itself is the degenerate case of the
				// cycle this function exists to diagnose, so report it the
				// same way instead of reaching SetEdge at all.
				return DefinitionErrorf("rule cyclically depends on itself: %s", a.StatusName())
			}
			g.SetEdge(g.NewEdge(from, nodeFor(d)))
		}
	}

	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return DefinitionErrorf("cyclic rule dependency: %v", err)
		}
		var names []string
		for _, component := range uo {
			for _, n := range component {
				names = append(names, n.(actionNode).a.StatusName())
			}
		}
		return DefinitionErrorf("rule cyclically depends on itself: %s", strings.Join(names, " -> "))
	}
	return nil
}
