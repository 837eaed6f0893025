// Package spatial implements the hybrid spatial index: an adaptive uniform
// grid of cells, each holding a flat mini R-tree of (bbox, row) entries,
// with hot cells in a bounded LRU and cold cells snappy-compressed in a
// memory-mapped store. Supports rectangle range queries and spiral k-NN.
package spatial

import (
	"container/heap"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
)

const (
	// DefaultGridSize is the starting grid resolution per axis.
	DefaultGridSize = 32

	// minGridSize and maxGridSize bound adaptive resizing.
	minGridSize = 16
	maxGridSize = 64

	// adaptInterval is the insert/delete count between occupancy checks.
	adaptInterval = 1000

	// autoFlushInterval is the insert count between automatic flushes.
	autoFlushInterval = 5000

	// maxEntriesPerCell drives the shrink heuristic.
	maxEntriesPerCell = 128

	// knnHeapFactor sizes the candidate heap relative to k.
	knnHeapFactor = 4

	cellsFile = "spatial_cells.mmap"
	metaName  = "metadata.bin"
)

// Config tunes a spatial index.
type Config struct {
	// GridSize is the initial cells-per-axis resolution. Zero means
	// DefaultGridSize.
	GridSize int
	// WorldBounds is the indexable region. Geometries outside it are
	// rejected.
	WorldBounds index.Geometry
	// HotCacheSize bounds the hot-cell LRU. Zero means DefaultHotCells.
	HotCacheSize int
	// EnableMmap tiers cold cells into a memory-mapped file instead of the
	// heap.
	EnableMmap bool
	// EnableCompression snappy-compresses demoted cells.
	EnableCompression bool
	// EnableAdaptive resizes the grid with occupancy.
	EnableAdaptive bool
	// EnableSIMD selects the unrolled wide scan where the platform allows.
	EnableSIMD bool
	// Logger receives grid-resize events. Nil means no logging.
	Logger *zap.Logger
}

// DefaultConfig returns the standard configuration for a world.
func DefaultConfig(world index.Geometry) Config {
	return Config{
		GridSize:          DefaultGridSize,
		WorldBounds:       world,
		HotCacheSize:      DefaultHotCells,
		EnableMmap:        true,
		EnableCompression: true,
		EnableAdaptive:    true,
		EnableSIMD:        true,
	}
}

// Neighbor is one k-NN result.
type Neighbor struct {
	RowID    uint64
	Distance float64
}

// Stats is a snapshot of index counters.
type Stats struct {
	TotalEntries  uint64
	GridSize      int
	OccupiedCells int
}

// Index is the hybrid spatial index.
type Index struct {
	dir string
	cfg Config

	mu                sync.Mutex
	grid              grid
	store             *tieredStore
	geoms             map[uint64]BBox32 // row id → indexed box
	totalEntries      uint64
	opsSinceAdapt     int
	insertsSinceFlush int

	log *zap.Logger
}

// Open creates or loads a spatial index rooted at dir.
func Open(dir string, cfg Config) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, index.IoError("create spatial directory", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GridSize <= 0 {
		cfg.GridSize = DefaultGridSize
	}
	if !cfg.WorldBounds.Valid() || cfg.WorldBounds.MinX == cfg.WorldBounds.MaxX || cfg.WorldBounds.MinY == cfg.WorldBounds.MaxY {
		return nil, index.InvalidDataf("spatial world bounds are degenerate")
	}

	ix := &Index{
		dir:   dir,
		cfg:   cfg,
		geoms: make(map[uint64]BBox32),
		log:   logger.Named("spatial"),
	}
	if err := ix.loadMeta(); err != nil {
		return nil, err
	}
	if ix.store == nil {
		store, err := newTieredStore(filepath.Join(dir, cellsFile), cfg.HotCacheSize, cfg.EnableMmap, cfg.EnableCompression)
		if err != nil {
			return nil, err
		}
		ix.store = store
		w := cfg.WorldBounds
		ix.grid = newGrid(cfg.GridSize, w.MinX, w.MinY, w.MaxX, w.MaxY)
	}
	return ix, nil
}

// Insert indexes geometry g under rid. Geometries outside the world bounds
// are invalid.
func (ix *Index) Insert(rid index.RowID, g index.Geometry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.insertLocked(uint64(rid), g); err != nil {
		return err
	}
	ix.insertsSinceFlush++
	if ix.insertsSinceFlush >= autoFlushInterval {
		ix.insertsSinceFlush = 0
		return ix.store.flush()
	}
	return nil
}

func (ix *Index) insertLocked(rid uint64, g index.Geometry) error {
	if !g.Valid() {
		return index.InvalidDataf("invalid geometry for row %d", rid)
	}
	w := ix.cfg.WorldBounds
	if g.MinX < w.MinX || g.MinY < w.MinY || g.MaxX > w.MaxX || g.MaxY > w.MaxY {
		return index.InvalidDataf("geometry for row %d lies outside the world bounds", rid)
	}
	box := bboxFromGeometry(g)
	for _, cid := range ix.grid.covering(box) {
		rt, err := ix.store.cell(cid, true)
		if err != nil {
			return err
		}
		rt.insert(Entry{BBox: box, RowID: rid})
	}
	ix.geoms[rid] = box
	ix.totalEntries++
	ix.bumpAdapt()
	return nil
}

// BatchInsert indexes many geometries.
func (ix *Index) BatchInsert(items []GeomRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, it := range items {
		if err := ix.insertLocked(uint64(it.RowID), it.Geom); err != nil {
			return err
		}
	}
	ix.insertsSinceFlush += len(items)
	if ix.insertsSinceFlush >= autoFlushInterval {
		ix.insertsSinceFlush = 0
		return ix.store.flush()
	}
	return nil
}

// GeomRow is one (row, geometry) input to batch insertion.
type GeomRow struct {
	RowID index.RowID
	Geom  index.Geometry
}

// Delete removes rid from every covering cell, reporting whether it was
// indexed.
func (ix *Index) Delete(rid index.RowID) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteLocked(uint64(rid))
}

func (ix *Index) deleteLocked(rid uint64) (bool, error) {
	box, ok := ix.geoms[rid]
	if !ok {
		return false, nil
	}
	for _, cid := range ix.grid.covering(box) {
		rt, err := ix.store.cell(cid, false)
		if err != nil {
			return false, err
		}
		if rt != nil {
			rt.remove(rid)
		}
	}
	delete(ix.geoms, rid)
	ix.totalEntries--
	ix.bumpAdapt()
	return true, nil
}

// Update replaces rid's geometry.
func (ix *Index) Update(rid index.RowID, g index.Geometry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, err := ix.deleteLocked(uint64(rid)); err != nil {
		return err
	}
	return ix.insertLocked(uint64(rid), g)
}

// RangeQuery returns the row ids of every geometry intersecting query. A
// geometry spanning several cells is reported once.
func (ix *Index) RangeQuery(query index.Geometry) ([]index.RowID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !query.Valid() {
		return nil, index.InvalidDataf("invalid query geometry")
	}
	box := bboxFromGeometry(query)
	seen := make(map[uint64]struct{})
	for _, cid := range ix.grid.covering(box) {
		rt, err := ix.store.cell(cid, false)
		if err != nil {
			return nil, err
		}
		if rt != nil {
			rt.search(box, ix.cfg.EnableSIMD, seen)
		}
	}
	out := make([]index.RowID, 0, len(seen))
	for rid := range seen {
		out = append(out, index.RowID(rid))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// KNNQuery returns the k nearest geometries to (x, y) by box distance,
// searched as an expanding spiral of grid rings.
func (ix *Index) KNNQuery(x, y float64, k int) ([]Neighbor, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if k <= 0 || ix.totalEntries == 0 {
		return nil, nil
	}
	center := ix.grid.cellOf(x, y)
	heapCap := k * knnHeapFactor
	h := &neighborHeap{}
	seen := make(map[uint64]struct{})

	push := func(rid uint64, dist float64) {
		if _, dup := seen[rid]; dup {
			return
		}
		seen[rid] = struct{}{}
		heap.Push(h, Neighbor{RowID: rid, Distance: dist})
		if h.Len() > heapCap {
			heap.Pop(h) // drop the current worst
		}
	}

	maxRadius := ix.grid.size
	for radius := 0; radius <= maxRadius; radius++ {
		for _, cid := range ix.grid.ring(center, radius) {
			rt, err := ix.store.cell(cid, false)
			if err != nil {
				return nil, err
			}
			if rt != nil {
				rt.collectDistances(x, y, push)
			}
		}
		if h.Len() >= heapCap {
			break
		}
	}

	result := make([]Neighbor, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Neighbor)
	}
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

// bumpAdapt counts mutations and resizes the grid when occupancy drifts.
func (ix *Index) bumpAdapt() {
	ix.opsSinceAdapt++
	if !ix.cfg.EnableAdaptive || ix.opsSinceAdapt < adaptInterval {
		return
	}
	ix.opsSinceAdapt = 0

	total := ix.grid.size * ix.grid.size
	occupied := ix.store.occupiedCells()
	occupancy := float64(occupied) / float64(total)
	avgPerCell := 0.0
	if occupied > 0 {
		avgPerCell = float64(ix.totalEntries) / float64(occupied)
	}

	switch {
	case occupancy > 0.95 && ix.grid.size < maxGridSize:
		ix.resize(ix.grid.size * 2)
	case occupancy < 0.20 && avgPerCell < maxEntriesPerCell/4 && ix.grid.size > minGridSize:
		ix.resize(ix.grid.size / 2)
	}
}

// resize rebuilds the grid at a new resolution from the geometry map.
func (ix *Index) resize(newSize int) {
	ix.log.Info("resizing spatial grid",
		zap.Int("from", ix.grid.size),
		zap.Int("to", newSize),
		zap.Uint64("entries", ix.totalEntries),
	)
	w := ix.cfg.WorldBounds
	ix.grid = newGrid(newSize, w.MinX, w.MinY, w.MaxX, w.MaxY)
	ix.store.reset()
	for rid, box := range ix.geoms {
		for _, cid := range ix.grid.covering(box) {
			rt, err := ix.store.cell(cid, true)
			if err != nil {
				// Cells were just reset; a failure here means the cold file
				// is gone, which the next flush surfaces.
				continue
			}
			rt.insert(Entry{BBox: box, RowID: rid})
		}
	}
}

// Flush demotes hot cells to the cold tier and persists metadata.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.store.flush(); err != nil {
		return err
	}
	return ix.writeMeta()
}

// Save persists the full index state to its directory.
func (ix *Index) Save() error { return ix.Flush() }

// Close flushes and releases the index.
func (ix *Index) Close() error {
	if err := ix.Flush(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.store.close()
}

// Stats returns a snapshot of index counters.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Stats{
		TotalEntries:  ix.totalEntries,
		GridSize:      ix.grid.size,
		OccupiedCells: ix.store.occupiedCells(),
	}
}

// neighborHeap is a max-heap by distance, so the worst candidate pops
// first.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
