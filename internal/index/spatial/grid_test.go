package spatial

import "testing"

func TestCellIDPacking(t *testing.T) {
	id := cellID(3, 7)
	if id.Row() != 3 || id.Col() != 7 {
		t.Errorf("cellID(3, 7) unpacked to (%d, %d)", id.Row(), id.Col())
	}
	id = cellID(0xFFFF, 0xFFFF)
	if id.Row() != 0xFFFF || id.Col() != 0xFFFF {
		t.Errorf("max cell id unpacked to (%d, %d)", id.Row(), id.Col())
	}
}

func TestGridCovering(t *testing.T) {
	g := newGrid(10, 0, 0, 100, 100) // 10x10 cells of 10 units

	cells := g.covering(BBox32{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5})
	if len(cells) != 1 || cells[0] != cellID(0, 0) {
		t.Errorf("point covering = %v, want [cell(0,0)]", cells)
	}

	cells = g.covering(BBox32{MinX: 5, MinY: 5, MaxX: 25, MaxY: 15})
	if len(cells) != 6 { // cols 0..2, rows 0..1
		t.Errorf("rect covering = %d cells, want 6", len(cells))
	}

	// Boundary geometry clamps into the outermost cells.
	cells = g.covering(BBox32{MinX: 95, MinY: 95, MaxX: 100, MaxY: 100})
	if len(cells) != 1 || cells[0] != cellID(9, 9) {
		t.Errorf("boundary covering = %v, want [cell(9,9)]", cells)
	}
}

func TestGridRing(t *testing.T) {
	g := newGrid(10, 0, 0, 100, 100)
	center := cellID(5, 5)

	if ring := g.ring(center, 0); len(ring) != 1 || ring[0] != center {
		t.Errorf("ring(0) = %v", ring)
	}
	if ring := g.ring(center, 1); len(ring) != 8 {
		t.Errorf("ring(1) has %d cells, want 8", len(ring))
	}
	if ring := g.ring(center, 2); len(ring) != 16 {
		t.Errorf("ring(2) has %d cells, want 16", len(ring))
	}

	// A corner center loses the out-of-grid portion of its ring.
	corner := g.ring(cellID(0, 0), 1)
	if len(corner) != 3 {
		t.Errorf("corner ring(1) has %d cells, want 3", len(corner))
	}

	// Rings tile the grid without overlap.
	seen := make(map[CellID]struct{})
	for r := 0; r <= 9; r++ {
		for _, c := range g.ring(center, r) {
			if _, dup := seen[c]; dup {
				t.Fatalf("cell %v appears in two rings", c)
			}
			seen[c] = struct{}{}
		}
	}
	if len(seen) != 100 {
		t.Errorf("rings covered %d cells, want 100", len(seen))
	}
}

func TestIntersects(t *testing.T) {
	a := BBox32{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	tests := []struct {
		name string
		b    BBox32
		want bool
	}{
		{"overlap", BBox32{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, true},
		{"touching edge", BBox32{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, true},
		{"contained", BBox32{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, true},
		{"disjoint x", BBox32{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}, false},
		{"disjoint y", BBox32{MinX: 0, MinY: 11, MaxX: 10, MaxY: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Intersects(tt.b); got != tt.want {
				t.Errorf("Intersects() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCellSerializationRoundTrip(t *testing.T) {
	rt := &miniRTree{}
	rt.insert(Entry{BBox: BBox32{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}, RowID: 42})
	rt.insert(Entry{BBox: BBox32{MinX: -1.5, MinY: -2.5, MaxX: 0, MaxY: 0}, RowID: 43})

	got, err := deserializeCell(serializeCell(rt))
	if err != nil {
		t.Fatalf("deserializeCell() error = %v", err)
	}
	if len(got.entries) != 2 {
		t.Fatalf("round-trip lost entries: %d", len(got.entries))
	}
	if got.entries[0].RowID != 42 || got.entries[1].BBox.MinX != -1.5 {
		t.Errorf("round-trip mismatch: %+v", got.entries)
	}

	if _, err := deserializeCell([]byte{1, 0}); err == nil {
		t.Error("deserializeCell(short blob) did not fail")
	}
}
