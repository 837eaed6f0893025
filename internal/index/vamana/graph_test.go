package vamana

import (
	"path/filepath"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func openGraph(t *testing.T, maxDegree int) (*DiskGraph, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.bin")
	g, err := OpenDiskGraph(path, maxDegree, 16)
	if err != nil {
		t.Fatalf("OpenDiskGraph() error = %v", err)
	}
	return g, path
}

func TestGraphSetGetNeighbors(t *testing.T) {
	g, _ := openGraph(t, 8)
	defer g.Close()

	if err := g.SetNeighbors(1, []uint64{5, 3, 3, 1, 9}); err != nil {
		t.Fatalf("SetNeighbors() error = %v", err)
	}
	ns, ok, err := g.Neighbors(1)
	if err != nil || !ok {
		t.Fatalf("Neighbors(1) = ok=%v err=%v", ok, err)
	}
	// Self-loop removed, sorted, deduped.
	want := []uint64{3, 5, 9}
	if len(ns) != len(want) {
		t.Fatalf("Neighbors(1) = %v, want %v", ns, want)
	}
	for i := range want {
		if ns[i] != want[i] {
			t.Fatalf("Neighbors(1) = %v, want %v", ns, want)
		}
	}
}

func TestGraphDegreeTruncation(t *testing.T) {
	g, _ := openGraph(t, 4)
	defer g.Close()

	g.SetNeighbors(1, []uint64{10, 20, 30, 40, 50, 60})
	ns, _, _ := g.Neighbors(1)
	if len(ns) != 4 {
		t.Errorf("degree = %d after truncation, want 4", len(ns))
	}
}

func TestGraphAppendOnlyRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.bin")
	g, _ := OpenDiskGraph(path, 8, 16)
	g.SetNeighbors(1, []uint64{2})
	g.SetNeighbors(1, []uint64{3, 4})
	g.SetNeighbors(2, []uint64{1})
	g.RemoveNode(2)
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenDiskGraph(path, 8, 16)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reopened.Len())
	}
	ns, ok, _ := reopened.Neighbors(1)
	if !ok || len(ns) != 2 || ns[0] != 3 || ns[1] != 4 {
		t.Errorf("Neighbors(1) = (%v, %v), want latest record [3 4]", ns, ok)
	}
	if _, ok, _ := reopened.Neighbors(2); ok {
		t.Error("removed node 2 resurrected on reload")
	}
}

func TestGraphCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.bin")
	g, _ := OpenDiskGraph(path, 8, 16)
	for i := uint64(1); i <= 20; i++ {
		g.SetNeighbors(i, []uint64{i + 1})
		g.SetNeighbors(i, []uint64{i + 2}) // dead record per node
	}
	g.RemoveNode(20)

	if err := g.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if g.Len() != 19 {
		t.Errorf("Len() = %d after compact, want 19", g.Len())
	}
	ns, ok, _ := g.Neighbors(7)
	if !ok || len(ns) != 1 || ns[0] != 9 {
		t.Errorf("Neighbors(7) after compact = (%v, %v), want [9]", ns, ok)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenDiskGraph(path, 8, 16)
	if err != nil {
		t.Fatalf("reopen after compact error = %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 19 {
		t.Errorf("Len() after reopen = %d, want 19", reopened.Len())
	}
}

func TestGraphPinnedHotSet(t *testing.T) {
	g, _ := openGraph(t, 8)
	defer g.Close()

	g.SetNeighbors(1, []uint64{2, 3})
	if err := g.Pin(1); err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
	// Churn the LRU far past capacity; the pinned entry must survive.
	for i := uint64(10); i < 100; i++ {
		g.SetNeighbors(i, []uint64{i + 1})
		g.Neighbors(i)
	}
	ns, ok, err := g.Neighbors(1)
	if err != nil || !ok || len(ns) != 2 {
		t.Errorf("pinned Neighbors(1) = (%v, %v, %v)", ns, ok, err)
	}
	// Writes to a pinned node update the hot copy.
	g.SetNeighbors(1, []uint64{7})
	ns, _, _ = g.Neighbors(1)
	if len(ns) != 1 || ns[0] != 7 {
		t.Errorf("pinned Neighbors(1) after rewrite = %v, want [7]", ns)
	}
}

func TestGraphMaxDegreeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.bin")
	g, _ := OpenDiskGraph(path, 8, 16)
	g.SetNeighbors(1, []uint64{2})
	g.Close()

	if _, err := OpenDiskGraph(path, 16, 16); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("OpenDiskGraph() with different degree = %v, want invalid data", err)
	}
}
