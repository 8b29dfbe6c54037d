package depgraph

import (
	"errors"
	"slices"
)

// Validate checks the graph can be executed. It returns a *CycleError for the
// first dependency cycle found and a *RequiredChainError for every required
// step that depends directly on an optional one; both are joined when present.
//
// Checking direct edges is enough: if every required step only depends on
// required steps, no required step can reach an optional one transitively.
func (g *Graph) Validate() error {
	var errs []error
	if err := g.checkCycles(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, g.checkRequiredChain()...)
	return errors.Join(errs...)
}

// checkCycles runs a breadth-first search over dependents from every node and
// reports the first node that can reach itself.
func (g *Graph) checkCycles() error {
	for _, n := range g.nodes {
		if path := g.findCycle(n.index); path != nil {
			return &CycleError{
				Step: n.name(),
				Path: g.names(path),
			}
		}
	}
	return nil
}

func (g *Graph) findCycle(src int) []int {
	prev := make([]int, len(g.nodes))
	marked := make([]bool, len(g.nodes))
	queue := make([]int, 0, len(g.nodes))

	for _, d := range g.nodes[src].dependents {
		if d == src {
			return []int{src, src}
		}
		if !marked[d] {
			marked[d] = true
			prev[d] = src
			queue = append(queue, d)
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, child := range g.nodes[cur].dependents {
			if child == src {
				path := []int{src}
				for at := cur; at != src; at = prev[at] {
					path = append(path, at)
				}
				slices.Reverse(path[1:])
				return append(path, src)
			}
			if !marked[child] {
				marked[child] = true
				prev[child] = cur
				queue = append(queue, child)
			}
		}
	}
	return nil
}

func (g *Graph) checkRequiredChain() []error {
	var errs []error
	for _, n := range g.nodes {
		if !n.step.Required() {
			continue
		}
		for _, d := range n.dependsOn {
			dep := g.nodes[d]
			if !dep.step.Required() {
				errs = append(errs, &RequiredChainError{
					Required: n.name(),
					Optional: dep.name(),
				})
			}
		}
	}
	return errs
}
