package graph

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestTopoOrderDependenciesFirst(t *testing.T) {
	g := New()
	g.AddEdge(3, 2)
	g.AddEdge(2, 1)
	g.AddEdge(4, 1)
	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("topo: %v", err)
	}
	pos := map[int64]int{}
	for i, id := range order {
		pos[id] = i
	}
	if !(pos[1] < pos[2] && pos[2] < pos[3] && pos[1] < pos[4]) {
		t.Fatalf("bad order %v", order)
	}
}

func TestTopoOrderReportsCycle(t *testing.T) {
	g := New()
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 1)
	_, err := g.TopoOrder()
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if cycle.Path[0] != cycle.Path[len(cycle.Path)-1] || len(cycle.Path) != 4 {
		t.Fatalf("unexpected path %v", cycle.Path)
	}
}

func TestSelfLoopIsCycle(t *testing.T) {
	g := New()
	g.AddEdge(5, 5)
	if _, err := g.TopoOrder(); err == nil {
		t.Fatal("expected self loop to be a cycle")
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.AddEdge(2, 1)
	g.AddEdge(3, 2)
	g.AddEdge(4, 9)
	if got := g.Dependents(1); !slices.Equal(got, []int64{2, 3}) {
		t.Fatalf("dependents = %v", got)
	}
	if got := g.Dependents(9); !slices.Equal(got, []int64{4}) {
		t.Fatalf("dependents of 9 = %v", got)
	}
}

func TestFindPath(t *testing.T) {
	adj := map[int64][]int64{1: {2}, 2: {3}, 3: {}}
	next := func(_ context.Context, id int64) ([]int64, error) { return adj[id], nil }
	path, err := FindPath(context.Background(), 1, 3, next)
	if err != nil || !slices.Equal(path, []int64{1, 2, 3}) {
		t.Fatalf("path = %v err = %v", path, err)
	}
	path, err = FindPath(context.Background(), 3, 1, next)
	if err != nil || path != nil {
		t.Fatalf("expected no path, got %v %v", path, err)
	}
}

func TestCycleErrorLabels(t *testing.T) {
	err := &CycleError{Path: []int64{1, 2, 1}, Labels: []string{"A", "B", "A"}}
	if err.Error() != "cycle detected: A -> B -> A" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
