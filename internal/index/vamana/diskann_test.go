package vamana

import (
	"math"
	"math/rand"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func openIndex(t *testing.T, dim int, cfg VamanaConfig) (*Index, string) {
	t.Helper()
	dir := t.TempDir()
	ix, err := Open(dir, dim, Config{Vamana: cfg})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return ix, dir
}

func TestRobustPruneProperties(t *testing.T) {
	// Synthetic points on a line; distance is absolute difference.
	coords := map[uint64]float32{1: 1, 2: 2, 3: 3, 4: 10, 5: 11, 6: 20}
	distFn := func(a, b uint64) (float32, error) {
		return float32(math.Abs(float64(coords[a] - coords[b]))), nil
	}
	var cands []Candidate
	for id, x := range coords {
		cands = append(cands, Candidate{ID: id, Dist: x}) // query at origin
	}

	const r = 3
	const alpha = 1.2
	selected, err := RobustPrune(cands, r, alpha, distFn)
	if err != nil {
		t.Fatalf("RobustPrune() error = %v", err)
	}
	if len(selected) == 0 || len(selected) > r {
		t.Fatalf("selected %d neighbors, want 1..%d", len(selected), r)
	}
	// The closest candidate always survives.
	if selected[0] != 1 {
		t.Errorf("first selected = %d, want 1", selected[0])
	}
	// Diversity: for each admitted pair, d(a, b) >= d(q, a)/alpha.
	for i, a := range selected {
		for _, b := range selected[i+1:] {
			d, _ := distFn(a, b)
			if d < coords[a]/alpha {
				t.Errorf("pair (%d, %d): d=%f < d(q,%d)/alpha=%f", a, b, d, a, coords[a]/alpha)
			}
		}
	}
}

func TestRobustPruneCapsAtR(t *testing.T) {
	distFn := func(a, b uint64) (float32, error) {
		return 100, nil // everything far apart: nothing covered
	}
	var cands []Candidate
	for i := uint64(1); i <= 50; i++ {
		cands = append(cands, Candidate{ID: i, Dist: float32(i)})
	}
	selected, err := RobustPrune(cands, 8, 1.2, distFn)
	if err != nil {
		t.Fatalf("RobustPrune() error = %v", err)
	}
	if len(selected) != 8 {
		t.Errorf("selected %d, want exactly 8", len(selected))
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, _ := openIndex(t, 3, EmbeddedVamanaConfig(3))
	defer ix.Close()

	got, err := ix.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Search() on empty index = %v, want []", got)
	}
}

func TestSearchSmoke(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 3, Config{Vamana: EmbeddedVamanaConfig(3)})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ix.Insert(1, []float32{1, 0, 0})
	ix.Insert(2, []float32{0, 1, 0})
	ix.Insert(3, []float32{0, 0, 1})
	ix.Insert(4, []float32{0.9, 0.1, 0})

	got, err := ix.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(got))
	}
	if got[0].RowID != 1 || got[0].Distance > 1e-4 {
		t.Errorf("first result = %+v, want row 1 at ~0", got[0])
	}
	if got[1].RowID != 4 {
		t.Errorf("second result = %+v, want row 4", got[1])
	}
	if got[1].Distance <= got[0].Distance {
		t.Errorf("results not ascending: %v", got)
	}

	if err := ix.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	loaded, err := Open(dir, 3, Config{Vamana: EmbeddedVamanaConfig(3)})
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	defer loaded.Close()
	got, err = loaded.Search([]float32{1, 0, 0}, 2)
	if err != nil || len(got) == 0 {
		t.Fatalf("Search() after reload = (%v, %v)", got, err)
	}
	if got[0].RowID != 1 && got[0].RowID != 4 {
		t.Errorf("first result after reload = %d, want 1 or 4", got[0].RowID)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ix, _ := openIndex(t, 3, EmbeddedVamanaConfig(3))
	defer ix.Close()

	if err := ix.Insert(1, []float32{1, 2}); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Insert(dim 2) error = %v, want invalid data", err)
	}
	ix.Insert(1, []float32{1, 0, 0})
	if _, err := ix.Search([]float32{1, 0}, 1); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Search(dim 2) error = %v, want invalid data", err)
	}
}

func TestRecallOnClusteredData(t *testing.T) {
	ix, _ := openIndex(t, 8, EmbeddedVamanaConfig(8))
	defer ix.Close()

	// Three well-separated clusters.
	rng := rand.New(rand.NewSource(42))
	centers := [][]float32{
		{10, 0, 0, 0, 0, 0, 0, 0},
		{0, 10, 0, 0, 0, 0, 0, 0},
		{0, 0, 10, 0, 0, 0, 0, 0},
	}
	rid := uint64(1)
	for c, center := range centers {
		for i := 0; i < 40; i++ {
			vec := make([]float32, 8)
			for d := range vec {
				vec[d] = center[d] + rng.Float32()
			}
			if err := ix.Insert(rid, vec); err != nil {
				t.Fatalf("Insert(cluster %d) error = %v", c, err)
			}
			rid++
		}
	}

	// Queries near each center must surface that cluster.
	for c, center := range centers {
		got, err := ix.Search(center, 10)
		if err != nil {
			t.Fatalf("Search(cluster %d) error = %v", c, err)
		}
		lo := uint64(c*40 + 1)
		hi := uint64((c + 1) * 40)
		inCluster := 0
		for _, r := range got {
			if r.RowID >= lo && r.RowID <= hi {
				inCluster++
			}
		}
		if inCluster < 8 {
			t.Errorf("cluster %d: %d/10 results in cluster, want >= 8", c, inCluster)
		}
	}
}

func TestDeleteAndMedoidHandoff(t *testing.T) {
	ix, _ := openIndex(t, 3, EmbeddedVamanaConfig(3))
	defer ix.Close()

	ix.Insert(1, []float32{1, 0, 0}) // becomes the medoid
	ix.Insert(2, []float32{0, 1, 0})
	ix.Insert(3, []float32{0.9, 0.1, 0})

	existed, err := ix.Delete(1)
	if err != nil || !existed {
		t.Fatalf("Delete(1) = (%v, %v)", existed, err)
	}
	if existed, _ := ix.Delete(1); existed {
		t.Error("second Delete(1) reported existed")
	}

	got, err := ix.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() after medoid delete error = %v", err)
	}
	if len(got) == 0 || got[0].RowID != 3 {
		t.Errorf("Search() after delete = %v, want row 3 first", got)
	}
	for _, r := range got {
		if r.RowID == 1 {
			t.Error("deleted row 1 still searchable")
		}
	}
}

func TestUpdateVector(t *testing.T) {
	ix, _ := openIndex(t, 3, EmbeddedVamanaConfig(3))
	defer ix.Close()

	ix.Insert(1, []float32{1, 0, 0})
	ix.Insert(2, []float32{0, 1, 0})
	if err := ix.Update(2, []float32{0.95, 0.05, 0}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := ix.Search([]float32{1, 0, 0}, 2)
	if len(got) != 2 {
		t.Fatalf("Search() = %v, want 2 results", got)
	}
	if err := ix.Update(99, []float32{1, 1, 1}); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Update(missing) error = %v, want invalid data", err)
	}
}

func TestBatchInsertAndRebuild(t *testing.T) {
	ix, _ := openIndex(t, 4, EmbeddedVamanaConfig(4))
	defer ix.Close()

	var rows []VectorRow
	rng := rand.New(rand.NewSource(3))
	for i := uint64(1); i <= 500; i++ {
		vec := make([]float32, 4)
		for d := range vec {
			vec[d] = rng.Float32()*2 - 1
		}
		rows = append(rows, VectorRow{RowID: i, Vector: vec})
	}
	if err := ix.BatchInsert(rows); err != nil {
		t.Fatalf("BatchInsert() error = %v", err)
	}
	if ix.Len() != 500 {
		t.Fatalf("Len() = %d, want 500", ix.Len())
	}

	query := rows[17].Vector
	got, err := ix.Search(query, 5)
	if err != nil || len(got) != 5 {
		t.Fatalf("Search() = (%d results, %v), want 5", len(got), err)
	}
	if got[0].RowID != rows[17].RowID {
		t.Errorf("nearest to row %d's own vector = %d", rows[17].RowID, got[0].RowID)
	}

	if err := ix.RebuildFullGraph(); err != nil {
		t.Fatalf("RebuildFullGraph() error = %v", err)
	}
	got, err = ix.Search(query, 5)
	if err != nil || len(got) != 5 {
		t.Fatalf("Search() after rebuild = (%d results, %v), want 5", len(got), err)
	}
	if got[0].RowID != rows[17].RowID {
		t.Errorf("nearest after rebuild = %d, want %d", got[0].RowID, rows[17].RowID)
	}
}

func TestCompactStorageAndReorder(t *testing.T) {
	ix, _ := openIndex(t, 3, EmbeddedVamanaConfig(3))
	defer ix.Close()

	for i := uint64(1); i <= 50; i++ {
		ix.Insert(i, []float32{float32(i), 1, 0})
	}
	for i := uint64(1); i <= 25; i++ {
		ix.Update(i, []float32{float32(i), 2, 0})
	}
	if err := ix.CompactStorage(); err != nil {
		t.Fatalf("CompactStorage() error = %v", err)
	}
	if err := ix.ReorderForSSD(); err != nil {
		t.Fatalf("ReorderForSSD() error = %v", err)
	}
	got, err := ix.Search([]float32{25, 2, 0}, 3)
	if err != nil || len(got) != 3 {
		t.Fatalf("Search() after maintenance = (%d results, %v)", len(got), err)
	}
}

func TestVamanaConfigPresets(t *testing.T) {
	def := DefaultVamanaConfig()
	if def.MaxDegree != 64 || def.SearchListSize != 180 || def.BeamWidth != 48 {
		t.Errorf("DefaultVamanaConfig() = %+v", def)
	}
	if math.Abs(float64(def.Alpha)-1.2) > 1e-6 {
		t.Errorf("Alpha = %f, want 1.2", def.Alpha)
	}

	emb := EmbeddedVamanaConfig(384)
	if emb.MaxDegree != 48 || emb.SearchListSize != 96 {
		t.Errorf("EmbeddedVamanaConfig(384) = %+v", emb)
	}
	perf := PerformanceVamanaConfig(384)
	if perf.MaxDegree != 96 || perf.SearchListSize != 288 {
		t.Errorf("PerformanceVamanaConfig(384) = %+v", perf)
	}
	for _, tc := range []struct{ dim, want int }{{64, 32}, {128, 32}, {384, 48}, {768, 64}} {
		if got := EmbeddedVamanaConfig(tc.dim).MaxDegree; got != tc.want {
			t.Errorf("EmbeddedVamanaConfig(%d).MaxDegree = %d, want %d", tc.dim, got, tc.want)
		}
	}
}

func TestSlackLimit(t *testing.T) {
	cfg := VamanaConfig{MaxDegree: 10}
	if got := cfg.slackLimit(); got != 13 {
		t.Errorf("slackLimit() = %d, want 13", got)
	}
}

func TestManyInsertsStaySearchable(t *testing.T) {
	ix, _ := openIndex(t, 4, EmbeddedVamanaConfig(4))
	defer ix.Close()

	rng := rand.New(rand.NewSource(9))
	vecs := make(map[uint64][]float32)
	for i := uint64(1); i <= 300; i++ {
		vec := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		if err := ix.Insert(i, vec); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
		vecs[i] = vec
	}
	if err := ix.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	// After flush every node's degree is back within R.
	for _, rid := range ix.graph.Nodes() {
		ns, _, err := ix.graph.Neighbors(rid)
		if err != nil {
			t.Fatalf("Neighbors(%d) error = %v", rid, err)
		}
		if len(ns) > ix.cfg.MaxDegree {
			t.Errorf("node %d degree %d exceeds R=%d after flush", rid, len(ns), ix.cfg.MaxDegree)
		}
	}

	hits := 0
	for trial := 0; trial < 20; trial++ {
		rid := uint64(rng.Intn(300) + 1)
		got, err := ix.Search(vecs[rid], 5)
		if err != nil || len(got) == 0 {
			t.Fatalf("Search() = (%v, %v)", got, err)
		}
		for _, r := range got {
			if r.RowID == rid {
				hits++
				break
			}
		}
	}
	if hits < 16 {
		t.Errorf("self-recall %d/20, want >= 16", hits)
	}
}

func TestQuantizerFileMismatch(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 3, Config{Vamana: EmbeddedVamanaConfig(3)})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ix.Insert(1, []float32{1, 0, 0})
	ix.Close()

	if _, err := Open(dir, 5, Config{Vamana: EmbeddedVamanaConfig(5)}); !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Open() with wrong dimension = %v, want invalid data", err)
	}
}

func BenchmarkSearch(b *testing.B) {
	dir := b.TempDir()
	ix, err := Open(dir, 16, Config{Vamana: EmbeddedVamanaConfig(16)})
	if err != nil {
		b.Fatalf("Open() error = %v", err)
	}
	defer ix.Close()

	rng := rand.New(rand.NewSource(1))
	for i := uint64(1); i <= 2000; i++ {
		vec := make([]float32, 16)
		for d := range vec {
			vec[d] = rng.Float32()
		}
		if err := ix.Insert(i, vec); err != nil {
			b.Fatalf("Insert() error = %v", err)
		}
	}
	query := make([]float32, 16)
	for d := range query {
		query[d] = rng.Float32()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.Search(query, 10); err != nil {
			b.Fatalf("Search() error = %v", err)
		}
	}
}
