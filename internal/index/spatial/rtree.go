package spatial

import (
	"math"

	"github.com/fenilsonani/motedb/internal/cpu"
	"github.com/fenilsonani/motedb/internal/index"
)

// BBox32 is an axis-aligned bounding box in float32, 16 bytes on disk.
type BBox32 struct {
	MinX, MinY, MaxX, MaxY float32
}

// bboxFromGeometry narrows a geometry to the float32 box stored per entry.
func bboxFromGeometry(g index.Geometry) BBox32 {
	return BBox32{
		MinX: float32(g.MinX),
		MinY: float32(g.MinY),
		MaxX: float32(g.MaxX),
		MaxY: float32(g.MaxY),
	}
}

// Intersects reports axis-aligned overlap, boundaries included.
func (b BBox32) Intersects(o BBox32) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX &&
		b.MinY <= o.MaxY && b.MaxY >= o.MinY
}

// distanceToPoint is the Euclidean distance from the box to (x, y): zero
// inside, otherwise the distance to the closest axis-aligned projection.
func (b BBox32) distanceToPoint(x, y float64) float64 {
	dx := 0.0
	if x < float64(b.MinX) {
		dx = float64(b.MinX) - x
	} else if x > float64(b.MaxX) {
		dx = x - float64(b.MaxX)
	}
	dy := 0.0
	if y < float64(b.MinY) {
		dy = float64(b.MinY) - y
	} else if y > float64(b.MaxY) {
		dy = y - float64(b.MaxY)
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// Entry is one indexed geometry in a cell: 24 bytes on disk.
type Entry struct {
	BBox  BBox32
	RowID uint64
}

// miniRTree is a cell's entry list. Insertion appends, deletion
// swap-removes, queries scan; with per-cell populations this flat layout
// beats a real tree on constant factors.
type miniRTree struct {
	entries []Entry
}

func (rt *miniRTree) insert(e Entry) {
	rt.entries = append(rt.entries, e)
}

// remove swap-removes every entry owned by rid.
func (rt *miniRTree) remove(rid uint64) bool {
	removed := false
	for i := 0; i < len(rt.entries); {
		if rt.entries[i].RowID == rid {
			last := len(rt.entries) - 1
			rt.entries[i] = rt.entries[last]
			rt.entries = rt.entries[:last]
			removed = true
			continue
		}
		i++
	}
	return removed
}

// search appends the row ids of entries intersecting query to out.
func (rt *miniRTree) search(query BBox32, wide bool, out map[uint64]struct{}) {
	entries := rt.entries
	i := 0
	if wide && cpu.HasWideScan {
		// Four-wide unrolled scan; the comparisons vectorize on SSE2/NEON.
		for ; i+4 <= len(entries); i += 4 {
			e0, e1, e2, e3 := entries[i], entries[i+1], entries[i+2], entries[i+3]
			if e0.BBox.Intersects(query) {
				out[e0.RowID] = struct{}{}
			}
			if e1.BBox.Intersects(query) {
				out[e1.RowID] = struct{}{}
			}
			if e2.BBox.Intersects(query) {
				out[e2.RowID] = struct{}{}
			}
			if e3.BBox.Intersects(query) {
				out[e3.RowID] = struct{}{}
			}
		}
	}
	for ; i < len(entries); i++ {
		if entries[i].BBox.Intersects(query) {
			out[entries[i].RowID] = struct{}{}
		}
	}
}

// collectDistances pushes (rid, distance) candidates for a k-NN query onto
// the caller's heap.
func (rt *miniRTree) collectDistances(x, y float64, push func(rid uint64, dist float64)) {
	for _, e := range rt.entries {
		push(e.RowID, e.BBox.distanceToPoint(x, y))
	}
}
