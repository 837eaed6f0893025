package vamana

import (
	"container/heap"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/google/renameio"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fenilsonani/motedb/internal/index"
)

const (
	// insertSearchList is the beam width used when wiring a single new node.
	insertSearchList = 400

	// medoidSampleSize caps the sample used to approximate the mean.
	medoidSampleSize = 1000

	// Bulk-build strategy thresholds.
	progressiveThreshold = 4000
	incrementalBatchMax  = 2000
	largeGraphThreshold  = 4000
	subBatchSize         = 5000

	// Small graphs cap greedy-search iterations; larger ones terminate
	// naturally.
	smallGraphNodes   = 5000
	smallGraphIterCap = 3000

	// bootstrapNodes is wired sequentially at the start of a progressive
	// build: a parallel batch against a near-empty prior subset would
	// degenerate into a star around the seed.
	bootstrapNodes = 1000

	// SSD reorder heuristics.
	reorderInsertThreshold     = 50000
	reorderGrowthFraction      = 0.20
	reorderCumulativeThreshold = 100000
	reorderBFSCap              = 100000

	vectorsFile   = "vectors_sq8.bin"
	graphFile     = "graph.bin"
	quantizerFile = "quantizer.sq8"
	diskannMeta   = "diskann_meta.bin"
)

// Config tunes a DiskANN index beyond the Vamana graph parameters.
type Config struct {
	// Vamana sets the graph construction and search parameters.
	Vamana VamanaConfig
	// VectorCacheSize bounds the decoded-vector LRU.
	VectorCacheSize int
	// GraphCacheSize bounds the neighbor-list LRU.
	GraphCacheSize int
	// Logger receives SSD-reorder events. Nil means no logging.
	Logger *zap.Logger
}

// Result is one search hit.
type Result struct {
	RowID    uint64
	Distance float32
}

// Index is the Vamana proximity-graph vector index over the SQ8 store and
// the append-only disk graph.
type Index struct {
	dir string
	cfg VamanaConfig
	dim int

	vectors *VectorStore
	graph   *DiskGraph

	// mu serializes all writers; searches only take read paths on the
	// underlying stores.
	mu                  sync.Mutex
	medoid              uint64
	hasMedoid           bool
	cumulativeInserts   uint64
	insertsSinceReorder uint64
	sizeAtLastReorder   uint64

	log *zap.Logger
}

// Open opens or creates a DiskANN index for dim-dimensional vectors rooted
// at dir.
func Open(dir string, dim int, cfg Config) (*Index, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, index.IoError("create diskann directory", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	vcfg := cfg.Vamana
	if vcfg.MaxDegree == 0 {
		vcfg = DefaultVamanaConfig()
	}

	qdim, err := readQuantizerFile(filepath.Join(dir, quantizerFile))
	if err != nil {
		return nil, err
	}
	if qdim == 0 {
		if err := writeQuantizerFile(filepath.Join(dir, quantizerFile), dim); err != nil {
			return nil, err
		}
	} else if qdim != dim {
		return nil, index.InvalidDataf("index was built for dimension %d, caller expects %d", qdim, dim)
	}

	vectors, err := OpenVectorStore(filepath.Join(dir, vectorsFile), dim, cfg.VectorCacheSize)
	if err != nil {
		return nil, err
	}
	// The graph file carries the slack limit so lists may exceed R between
	// prunes; flush trims them back to R.
	graph, err := OpenDiskGraph(filepath.Join(dir, graphFile), vcfg.slackLimit(), cfg.GraphCacheSize)
	if err != nil {
		vectors.Close()
		return nil, err
	}

	ix := &Index{
		dir:     dir,
		cfg:     vcfg,
		dim:     dim,
		vectors: vectors,
		graph:   graph,
		log:     logger.Named("diskann"),
	}
	if err := ix.loadMeta(); err != nil {
		vectors.Close()
		graph.Close()
		return nil, err
	}
	if !ix.hasMedoid && vectors.Len() > 0 {
		if err := ix.recomputeMedoid(); err != nil {
			vectors.Close()
			graph.Close()
			return nil, err
		}
	}
	if ix.hasMedoid {
		if err := ix.graph.Pin(ix.medoid); err != nil {
			vectors.Close()
			graph.Close()
			return nil, err
		}
	}
	return ix, nil
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int { return ix.vectors.Len() }

// distanceToQuery measures a full-precision query against a stored vector.
func (ix *Index) distanceToQuery(q []float32, rid uint64) (float32, error) {
	qv, ok, err := ix.vectors.GetQuantized(rid)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, index.Indexf("vector for node %d is missing", rid)
	}
	return AsymmetricCosineDistance(q, qv), nil
}

// distanceBetween measures two stored vectors: the first side is decoded to
// full precision, the second stays quantized.
func (ix *Index) distanceBetween(a, b uint64) (float32, error) {
	av, ok, err := ix.vectors.Get(a)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, index.Indexf("vector for node %d is missing", a)
	}
	bq, ok, err := ix.vectors.GetQuantized(b)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, index.Indexf("vector for node %d is missing", b)
	}
	return AsymmetricCosineDistance(av, bq), nil
}

// candidateHeap is a min-heap by distance.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Dist < h[j].Dist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// greedySearch runs beam search from start toward q with beam width ell.
// restrict, when non-nil, limits traversal to the allowed node set. The
// result is every expanded candidate, ascending by distance.
func (ix *Index) greedySearch(q []float32, start uint64, ell int, restrict func(uint64) bool) ([]Candidate, error) {
	if ell < 1 {
		ell = 1
	}
	d, err := ix.distanceToQuery(q, start)
	if err != nil {
		return nil, err
	}
	h := &candidateHeap{{ID: start, Dist: d}}
	visited := map[uint64]struct{}{start: {}}
	var result []Candidate

	maxIter := -1
	if ix.graph.Len() < smallGraphNodes {
		maxIter = ell * 10
		if maxIter > smallGraphIterCap {
			maxIter = smallGraphIterCap
		}
	}

	for iter := 0; h.Len() > 0; iter++ {
		if maxIter >= 0 && iter >= maxIter {
			break
		}
		cur := heap.Pop(h).(Candidate)
		result = append(result, cur)

		ns, ok, err := ix.graph.Neighbors(cur.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		// Prefetch neighbor vectors in one pass before scoring.
		fresh := ns[:0:0]
		for _, n := range ns {
			if _, seen := visited[n]; seen {
				continue
			}
			if restrict != nil && !restrict(n) {
				continue
			}
			fresh = append(fresh, n)
		}
		if len(fresh) > 0 {
			if _, err := ix.vectors.BatchGetQuantized(fresh); err != nil {
				return nil, err
			}
		}
		for _, n := range fresh {
			visited[n] = struct{}{}
			nd, err := ix.distanceToQuery(q, n)
			if err != nil {
				return nil, err
			}
			heap.Push(h, Candidate{ID: n, Dist: nd})
		}
		// Keep the frontier bounded by the beam width.
		if h.Len() > 2*ell {
			trimmed := append([]Candidate(nil), (*h)...)
			sortCandidates(trimmed)
			trimmed = trimmed[:ell]
			nh := candidateHeap(trimmed)
			heap.Init(&nh)
			*h = nh
		}
	}
	sortCandidates(result)
	return result, nil
}

// Insert adds one vector, wiring it into the graph incrementally.
func (ix *Index) Insert(rid uint64, vec []float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.insertLocked(rid, vec)
}

func (ix *Index) insertLocked(rid uint64, vec []float32) error {
	if err := ix.vectors.Insert(rid, vec); err != nil {
		return err
	}
	ix.cumulativeInserts++
	ix.insertsSinceReorder++

	if !ix.hasMedoid {
		ix.medoid = rid
		ix.hasMedoid = true
		if err := ix.graph.SetNeighbors(rid, nil); err != nil {
			return err
		}
		return ix.graph.Pin(rid)
	}

	cands, err := ix.greedySearch(vec, ix.medoid, insertSearchList, nil)
	if err != nil {
		return err
	}
	forward, err := RobustPrune(cands, ix.cfg.MaxDegree, ix.cfg.Alpha, ix.distanceBetween)
	if err != nil {
		return err
	}
	if err := ix.graph.SetNeighbors(rid, forward); err != nil {
		return err
	}
	return ix.addReverseEdges(rid, forward)
}

// addReverseEdges appends rid to each forward neighbor's list, re-pruning
// any list past the slack limit down to R.
func (ix *Index) addReverseEdges(rid uint64, forward []uint64) error {
	for _, n := range forward {
		ns, ok, err := ix.graph.Neighbors(n)
		if err != nil {
			return err
		}
		if !ok {
			ns = nil
		}
		if containsID(ns, rid) {
			continue
		}
		grown := append(append([]uint64(nil), ns...), rid)
		if len(grown) > ix.cfg.slackLimit() {
			pruned, err := ix.pruneList(n, grown)
			if err != nil {
				return err
			}
			grown = pruned
		}
		if err := ix.graph.SetNeighbors(n, grown); err != nil {
			return err
		}
	}
	return nil
}

// pruneList re-prunes node's overgrown list back down to R by distance
// from node.
func (ix *Index) pruneList(node uint64, list []uint64) ([]uint64, error) {
	cands := make([]Candidate, 0, len(list))
	for _, m := range list {
		if m == node {
			continue
		}
		d, err := ix.distanceBetween(node, m)
		if err != nil {
			return nil, err
		}
		cands = append(cands, Candidate{ID: m, Dist: d})
	}
	return RobustPrune(cands, ix.cfg.MaxDegree, ix.cfg.Alpha, ix.distanceBetween)
}

// VectorRow is one (row, vector) input to batch insertion.
type VectorRow struct {
	RowID  uint64
	Vector []float32
}

// BatchInsert adds many vectors, selecting a build strategy by scale: a
// progressive batched build for large batches, parallel incremental inserts
// when a small batch lands on a large existing graph, and serial inserts
// otherwise.
func (ix *Index) BatchInsert(rows []VectorRow) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch {
	case len(rows) >= progressiveThreshold:
		return ix.progressiveBuild(rows, true)
	case len(rows) < incrementalBatchMax && ix.graph.Len() > largeGraphThreshold:
		return ix.parallelIncremental(rows)
	default:
		for _, r := range rows {
			if err := ix.insertLocked(r.RowID, r.Vector); err != nil {
				return err
			}
		}
		return nil
	}
}

// progressiveBuild inserts rows core-first: sorted by distance to the
// medoid, in sub-batches whose searches see only previously inserted nodes,
// with reverse edges applied per batch. insertVectors is false when the
// vectors are already in the store (graph rebuild).
func (ix *Index) progressiveBuild(rows []VectorRow, insertVectors bool) error {
	if insertVectors {
		for _, r := range rows {
			if err := ix.vectors.Insert(r.RowID, r.Vector); err != nil {
				return err
			}
		}
		ix.cumulativeInserts += uint64(len(rows))
		ix.insertsSinceReorder += uint64(len(rows))
	}

	if !ix.hasMedoid {
		if err := ix.recomputeMedoid(); err != nil {
			return err
		}
	}

	// Core region first: ascending distance to the medoid.
	type distRow struct {
		rid  uint64
		vec  []float32
		dist float32
	}
	ordered := make([]distRow, 0, len(rows))
	for _, r := range rows {
		d, err := ix.distanceToQuery(r.Vector, ix.medoid)
		if err != nil {
			return err
		}
		ordered = append(ordered, distRow{rid: r.RowID, vec: r.Vector, dist: d})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].dist < ordered[j].dist })

	inserted := make(map[uint64]struct{})
	for _, rid := range ix.graph.Nodes() {
		inserted[rid] = struct{}{}
	}
	restrict := func(rid uint64) bool {
		_, ok := inserted[rid]
		return ok
	}

	start := 0
	// Seed an empty graph with the closest-to-medoid node.
	if len(inserted) == 0 {
		first := ordered[0]
		if err := ix.graph.SetNeighbors(first.rid, nil); err != nil {
			return err
		}
		inserted[first.rid] = struct{}{}
		ix.medoid = first.rid
		ix.hasMedoid = true
		if err := ix.graph.Pin(first.rid); err != nil {
			return err
		}
		start = 1
	}

	// Bootstrap sequentially until the prior subset is dense enough for
	// parallel batches to see a real graph.
	for ; start < len(ordered) && len(inserted) < bootstrapNodes; start++ {
		row := ordered[start]
		cands, err := ix.greedySearch(row.vec, ix.medoid, ix.cfg.SearchListSize, restrict)
		if err != nil {
			return err
		}
		fwd, err := RobustPrune(cands, ix.cfg.MaxDegree, ix.cfg.Alpha, ix.distanceBetween)
		if err != nil {
			return err
		}
		if err := ix.graph.SetNeighbors(row.rid, fwd); err != nil {
			return err
		}
		if err := ix.addReverseEdges(row.rid, fwd); err != nil {
			return err
		}
		inserted[row.rid] = struct{}{}
	}

	for base := start; base < len(ordered); base += subBatchSize {
		end := base + subBatchSize
		if end > len(ordered) {
			end = len(ordered)
		}
		batch := ordered[base:end]

		// Forward passes are independent: each searches only the frozen
		// prior subset.
		forward := make([][]uint64, len(batch))
		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for i := range batch {
			g.Go(func() error {
				cands, err := ix.greedySearch(batch[i].vec, ix.medoid, ix.cfg.SearchListSize, restrict)
				if err != nil {
					return err
				}
				fwd, err := RobustPrune(cands, ix.cfg.MaxDegree, ix.cfg.Alpha, ix.distanceBetween)
				if err != nil {
					return err
				}
				forward[i] = fwd
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Write forward edges, then collect the batch's reverse additions
		// and apply them with slack-triggered pruning.
		reverse := make(map[uint64][]uint64)
		for i, row := range batch {
			if err := ix.graph.SetNeighbors(row.rid, forward[i]); err != nil {
				return err
			}
			for _, n := range forward[i] {
				reverse[n] = append(reverse[n], row.rid)
			}
		}
		for n, additions := range reverse {
			ns, ok, err := ix.graph.Neighbors(n)
			if err != nil {
				return err
			}
			if !ok {
				ns = nil
			}
			grown := append([]uint64(nil), ns...)
			for _, a := range additions {
				if !containsID(grown, a) {
					grown = append(grown, a)
				}
			}
			if len(grown) > ix.cfg.slackLimit() {
				grown, err = ix.pruneList(n, grown)
				if err != nil {
					return err
				}
			}
			if err := ix.graph.SetNeighbors(n, grown); err != nil {
				return err
			}
		}
		for _, row := range batch {
			inserted[row.rid] = struct{}{}
		}
	}
	return nil
}

// parallelIncremental runs the single-node wiring in parallel for a small
// batch against a large graph: searches fan out, writes apply serially.
func (ix *Index) parallelIncremental(rows []VectorRow) error {
	for _, r := range rows {
		if err := ix.vectors.Insert(r.RowID, r.Vector); err != nil {
			return err
		}
	}
	ix.cumulativeInserts += uint64(len(rows))
	ix.insertsSinceReorder += uint64(len(rows))

	forward := make([][]uint64, len(rows))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range rows {
		g.Go(func() error {
			cands, err := ix.greedySearch(rows[i].Vector, ix.medoid, insertSearchList, nil)
			if err != nil {
				return err
			}
			fwd, err := RobustPrune(cands, ix.cfg.MaxDegree, ix.cfg.Alpha, ix.distanceBetween)
			if err != nil {
				return err
			}
			forward[i] = fwd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, r := range rows {
		if err := ix.graph.SetNeighbors(r.RowID, forward[i]); err != nil {
			return err
		}
		if err := ix.addReverseEdges(r.RowID, forward[i]); err != nil {
			return err
		}
	}
	return nil
}

// Update rewrites rid's vector and rewires its neighborhood.
func (ix *Index) Update(rid uint64, vec []float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.vectors.Contains(rid) {
		return index.InvalidDataf("update of missing vector row %d", rid)
	}
	if err := ix.removeLocked(rid); err != nil {
		return err
	}
	return ix.insertLocked(rid, vec)
}

// Delete removes rid from the store and the graph, dropping it from its
// ex-neighbors' lists.
func (ix *Index) Delete(rid uint64) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.vectors.Contains(rid) {
		return false, nil
	}
	if err := ix.removeLocked(rid); err != nil {
		return false, err
	}
	return true, nil
}

func (ix *Index) removeLocked(rid uint64) error {
	exNeighbors, _, err := ix.graph.Neighbors(rid)
	if err != nil {
		return err
	}
	if _, err := ix.vectors.Delete(rid); err != nil {
		return err
	}
	if _, err := ix.graph.RemoveNode(rid); err != nil {
		return err
	}
	for _, n := range exNeighbors {
		ns, ok, err := ix.graph.Neighbors(n)
		if err != nil {
			return err
		}
		if !ok || !containsID(ns, rid) {
			continue
		}
		trimmed := make([]uint64, 0, len(ns)-1)
		for _, m := range ns {
			if m != rid {
				trimmed = append(trimmed, m)
			}
		}
		if err := ix.graph.SetNeighbors(n, trimmed); err != nil {
			return err
		}
	}
	if ix.hasMedoid && ix.medoid == rid {
		ix.graph.Unpin(rid)
		ix.hasMedoid = false
		if ix.vectors.Len() > 0 {
			if err := ix.recomputeMedoid(); err != nil {
				return err
			}
			return ix.graph.Pin(ix.medoid)
		}
	}
	return nil
}

// Search returns the k nearest indexed vectors to q.
func (ix *Index) Search(q []float32, k int) ([]Result, error) {
	if len(q) != ix.dim {
		return nil, index.InvalidDataf("query has dimension %d, index expects %d", len(q), ix.dim)
	}
	if k <= 0 || ix.vectors.Len() == 0 || !ix.hasMedoid {
		return nil, nil
	}
	ell := ix.cfg.SearchListSize
	if 2*k > ell {
		ell = 2 * k
	}
	cands, err := ix.greedySearch(q, ix.medoid, ell, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, k)
	for _, c := range cands {
		if !ix.vectors.Contains(c.ID) {
			continue
		}
		out = append(out, Result{RowID: c.ID, Distance: c.Dist})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Flush prunes slack-grown lists back to R, persists both stores and the
// metadata, and runs the SSD reorder when its thresholds trip.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, rid := range ix.graph.Nodes() {
		ns, ok, err := ix.graph.Neighbors(rid)
		if err != nil {
			return err
		}
		if !ok || len(ns) <= ix.cfg.MaxDegree {
			continue
		}
		pruned, err := ix.pruneList(rid, ns)
		if err != nil {
			return err
		}
		if err := ix.graph.SetNeighbors(rid, pruned); err != nil {
			return err
		}
	}

	if ix.shouldReorder() {
		if err := ix.reorderLocked(); err != nil {
			return err
		}
	}

	if err := ix.graph.Flush(); err != nil {
		return err
	}
	if err := ix.vectors.Flush(); err != nil {
		return err
	}
	return ix.writeMeta()
}

// Close flushes and releases both stores.
func (ix *Index) Close() error {
	if err := ix.Flush(); err != nil {
		return err
	}
	if err := ix.graph.Close(); err != nil {
		ix.vectors.Close()
		return err
	}
	return ix.vectors.Close()
}

// shouldReorder applies the accumulated-insert heuristics.
func (ix *Index) shouldReorder() bool {
	if ix.insertsSinceReorder >= reorderInsertThreshold {
		return true
	}
	if ix.sizeAtLastReorder > 0 {
		growth := float64(ix.insertsSinceReorder) / float64(ix.sizeAtLastReorder)
		if growth >= reorderGrowthFraction && ix.insertsSinceReorder > 0 {
			return true
		}
	}
	return ix.cumulativeInserts >= reorderCumulativeThreshold && ix.insertsSinceReorder > 0
}

// ReorderForSSD rewrites the vector file in BFS order from the medoid,
// turning search-order reads into near-sequential I/O.
func (ix *Index) ReorderForSSD() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.reorderLocked()
}

func (ix *Index) reorderLocked() error {
	if !ix.hasMedoid {
		return nil
	}
	order := make([]uint64, 0, ix.graph.Len())
	visited := map[uint64]struct{}{ix.medoid: {}}
	queue := []uint64{ix.medoid}
	for len(queue) > 0 && len(order) < reorderBFSCap {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		ns, ok, err := ix.graph.Neighbors(cur)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for _, n := range ns {
			if _, seen := visited[n]; !seen {
				visited[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	ix.log.Info("reordering vector file for ssd locality",
		zap.Int("bfs_nodes", len(order)),
		zap.Uint64("inserts_since_reorder", ix.insertsSinceReorder),
	)
	if err := ix.vectors.Compact(order); err != nil {
		return err
	}
	ix.insertsSinceReorder = 0
	ix.sizeAtLastReorder = uint64(ix.vectors.Len())
	return nil
}

// CompactStorage rewrites the graph file, reclaiming dead record space.
func (ix *Index) CompactStorage() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.graph.Compact()
}

// RebuildFullGraph discards every edge and rebuilds the graph from the
// stored vectors with the progressive batched strategy.
func (ix *Index) RebuildFullGraph() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, rid := range ix.graph.Nodes() {
		if _, err := ix.graph.RemoveNode(rid); err != nil {
			return err
		}
	}
	if err := ix.graph.Compact(); err != nil {
		return err
	}
	ix.hasMedoid = false

	ids := ix.vectors.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return nil
	}
	if err := ix.recomputeMedoid(); err != nil {
		return err
	}
	rows := make([]VectorRow, 0, len(ids))
	for _, rid := range ids {
		vec, ok, err := ix.vectors.Get(rid)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		rows = append(rows, VectorRow{RowID: rid, Vector: vec})
	}
	return ix.progressiveBuild(rows, false)
}

// recomputeMedoid approximates the dataset mean from a bounded sample and
// selects the stored vector closest to it.
func (ix *Index) recomputeMedoid() error {
	ids := ix.vectors.IDs()
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > medoidSampleSize {
		ids = ids[:medoidSampleSize]
	}

	mean := make([]float32, ix.dim)
	for _, rid := range ids {
		vec, ok, err := ix.vectors.Get(rid)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for i, x := range vec {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(ids))
	}

	best := ids[0]
	bestDist := float32(2)
	for _, rid := range ids {
		d, err := ix.distanceToQuery(mean, rid)
		if err != nil {
			return err
		}
		if d < bestDist {
			bestDist = d
			best = rid
		}
	}
	ix.medoid = best
	ix.hasMedoid = true
	return nil
}

// Metadata: medoid and reorder counters.

func (ix *Index) writeMeta() error {
	buf := make([]byte, 33)
	binary.LittleEndian.PutUint64(buf[0:8], ix.medoid)
	if ix.hasMedoid {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint64(buf[9:17], ix.cumulativeInserts)
	binary.LittleEndian.PutUint64(buf[17:25], ix.insertsSinceReorder)
	binary.LittleEndian.PutUint64(buf[25:33], ix.sizeAtLastReorder)
	if err := renameio.WriteFile(filepath.Join(ix.dir, diskannMeta), buf, 0644); err != nil {
		return index.IoError("write diskann metadata", err)
	}
	return nil
}

func (ix *Index) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(ix.dir, diskannMeta))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return index.IoError("read diskann metadata", err)
	}
	if len(data) < 33 {
		return index.Corruptionf("diskann metadata: short file, %d bytes", len(data))
	}
	ix.medoid = binary.LittleEndian.Uint64(data[0:8])
	ix.hasMedoid = data[8] == 1
	ix.cumulativeInserts = binary.LittleEndian.Uint64(data[9:17])
	ix.insertsSinceReorder = binary.LittleEndian.Uint64(data[17:25])
	ix.sizeAtLastReorder = binary.LittleEndian.Uint64(data[25:33])
	if ix.hasMedoid && !ix.vectors.Contains(ix.medoid) {
		ix.hasMedoid = false
	}
	return nil
}

func containsID(list []uint64, id uint64) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}
