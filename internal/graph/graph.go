// Package graph provides the small directed-graph toolkit shared by the
// formula and item dependency engines.
package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// CycleError reports a closed path. Path starts and ends on the same node.
type CycleError struct {
	Path []int64
	// Labels optionally names each node of Path.
	Labels []string
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		if i < len(e.Labels) && e.Labels[i] != "" {
			parts[i] = e.Labels[i]
		} else {
			parts[i] = fmt.Sprint(id)
		}
	}
	return "cycle detected: " + strings.Join(parts, " -> ")
}

// Digraph is an adjacency map keyed by node id. An edge u -> v reads
// "u depends on v".
type Digraph struct {
	out map[int64][]int64
}

func New() *Digraph {
	return &Digraph{out: make(map[int64][]int64)}
}

func (g *Digraph) AddNode(id int64) {
	if _, ok := g.out[id]; !ok {
		g.out[id] = nil
	}
}

func (g *Digraph) AddEdge(from, to int64) {
	g.AddNode(to)
	edges := g.out[from]
	if slices.Contains(edges, to) {
		g.out[from] = edges
		return
	}
	g.out[from] = append(edges, to)
}

func (g *Digraph) nodes() []int64 {
	ids := make([]int64, 0, len(g.out))
	for id := range g.out {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TopoOrder returns every node with dependencies before dependents, or a
// *CycleError naming one cycle. Ties break on ascending id.
func (g *Digraph) TopoOrder() ([]int64, error) {
	visited := make(map[int64]bool, len(g.out))
	onStack := make(map[int64]bool)
	path := make([]int64, 0)
	order := make([]int64, 0, len(g.out))

	var dfs func(id int64) error
	dfs = func(id int64) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		next := slices.Clone(g.out[id])
		slices.Sort(next)
		for _, dep := range next {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		order = append(order, id)
		return nil
	}

	for _, id := range g.nodes() {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// Dependents returns every node that transitively depends on id, not
// including id itself.
func (g *Digraph) Dependents(id int64) []int64 {
	reverse := make(map[int64][]int64, len(g.out))
	for from, edges := range g.out {
		for _, to := range edges {
			reverse[to] = append(reverse[to], from)
		}
	}
	seen := map[int64]bool{id: true}
	queue := []int64{id}
	var out []int64
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range reverse[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	slices.Sort(out)
	return out
}

// NeighborFunc lazily loads the outgoing edges of a node.
type NeighborFunc func(ctx context.Context, id int64) ([]int64, error)

// FindPath searches depth-first from start for goal. It returns the path
// including both ends, or nil if goal is unreachable.
func FindPath(ctx context.Context, start, goal int64, next NeighborFunc) ([]int64, error) {
	visited := make(map[int64]bool)
	path := make([]int64, 0)

	var dfs func(id int64) (bool, error)
	dfs = func(id int64) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		visited[id] = true
		path = append(path, id)
		if id == goal {
			return true, nil
		}
		neighbors, err := next(ctx, id)
		if err != nil {
			return false, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			found, err := dfs(n)
			if err != nil || found {
				return found, err
			}
		}
		path = path[:len(path)-1]
		return false, nil
	}

	found, err := dfs(start)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return path, nil
}
