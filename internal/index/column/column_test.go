package column

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func openTemp(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "col.gbtree"), Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return ix
}

func sorted(rids []index.RowID) []index.RowID {
	out := append([]index.RowID(nil), rids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestEqualityAndRange(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(index.Integer(25), 1)
	ix.Insert(index.Integer(30), 2)
	ix.Insert(index.Integer(25), 3)

	got, err := ix.Get(index.Integer(25))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rids := sorted(got); len(rids) != 2 || rids[0] != 1 || rids[1] != 3 {
		t.Errorf("Get(25) = %v, want [1 3]", rids)
	}

	got, err = ix.Range(index.Integer(20), index.Integer(30))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if rids := sorted(got); len(rids) != 3 || rids[0] != 1 || rids[2] != 3 {
		t.Errorf("Range(20, 30) = %v, want [1 2 3]", rids)
	}

	if _, err := ix.Delete(index.Integer(25), 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, _ = ix.Get(index.Integer(25))
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("Get(25) after delete = %v, want [3]", got)
	}
}

func TestComparisonOperators(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	for i, v := range []int64{10, 20, 30, 40, 50} {
		ix.Insert(index.Integer(v), index.RowID(i+1))
	}

	tests := []struct {
		name string
		run  func() ([]index.RowID, error)
		want []index.RowID
	}{
		{"lt 30", func() ([]index.RowID, error) { return ix.QueryLessThan(index.Integer(30)) }, []index.RowID{1, 2}},
		{"le 30", func() ([]index.RowID, error) { return ix.QueryLessThanOrEqual(index.Integer(30)) }, []index.RowID{1, 2, 3}},
		{"gt 30", func() ([]index.RowID, error) { return ix.QueryGreaterThan(index.Integer(30)) }, []index.RowID{4, 5}},
		{"ge 30", func() ([]index.RowID, error) { return ix.QueryGreaterThanOrEqual(index.Integer(30)) }, []index.RowID{3, 4, 5}},
		{"between incl", func() ([]index.RowID, error) {
			return ix.QueryBetween(index.Integer(20), true, index.Integer(40), true)
		}, []index.RowID{2, 3, 4}},
		{"between excl", func() ([]index.RowID, error) {
			return ix.QueryBetween(index.Integer(20), false, index.Integer(40), false)
		}, []index.RowID{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			rids := sorted(got)
			if len(rids) != len(tt.want) {
				t.Fatalf("got %v, want %v", rids, tt.want)
			}
			for i := range rids {
				if rids[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", rids, tt.want)
				}
			}
		})
	}
}

func TestNegativeFloatOrdering(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(index.Float(-5.5), 1)
	ix.Insert(index.Float(-1.25), 2)
	ix.Insert(index.Float(0), 3)
	ix.Insert(index.Float(2.75), 4)

	got, err := ix.QueryLessThan(index.Float(0))
	if err != nil {
		t.Fatalf("QueryLessThan() error = %v", err)
	}
	rids := sorted(got)
	if len(rids) != 2 || rids[0] != 1 || rids[1] != 2 {
		t.Errorf("QueryLessThan(0) = %v, want [1 2]", rids)
	}

	got, _ = ix.Range(index.Float(-10), index.Float(-1))
	rids = sorted(got)
	if len(rids) != 2 || rids[0] != 1 || rids[1] != 2 {
		t.Errorf("Range(-10, -1) = %v, want [1 2]", rids)
	}
}

func TestTextValues(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(index.Text("apple"), 1)
	ix.Insert(index.Text("banana"), 2)
	ix.Insert(index.Text("cherry"), 3)
	ix.Insert(index.Text("banana"), 4)

	got, _ := ix.Get(index.Text("banana"))
	if rids := sorted(got); len(rids) != 2 || rids[0] != 2 || rids[1] != 4 {
		t.Errorf("Get(banana) = %v, want [2 4]", rids)
	}
	got, _ = ix.Range(index.Text("apple"), index.Text("banana"))
	if rids := sorted(got); len(rids) != 3 {
		t.Errorf("Range(apple, banana) = %v, want 3 ids", rids)
	}
}

func TestUnsupportedValueKind(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	err := ix.Insert(index.Vector([]float32{1, 2}), 1)
	if !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Insert(vector) error = %v, want invalid data", err)
	}
}

func TestCacheInvalidation(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(index.Integer(7), 1)
	ix.Get(index.Integer(7)) // prime the cache
	ix.Insert(index.Integer(7), 2)

	got, _ := ix.Get(index.Integer(7))
	if rids := sorted(got); len(rids) != 2 {
		t.Errorf("Get(7) after cached insert = %v, want both ids", rids)
	}

	// A second Get hits the cache.
	h0, _ := ix.CacheStats()
	ix.Get(index.Integer(7))
	h1, _ := ix.CacheStats()
	if h1 != h0+1 {
		t.Errorf("cache hits went %d -> %d, want +1", h0, h1)
	}
}

func TestDeleteRange(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	for i := int64(1); i <= 10; i++ {
		ix.Insert(index.Integer(i), index.RowID(i))
	}
	// Prime cache entries inside and outside the range.
	ix.Get(index.Integer(2))
	ix.Get(index.Integer(9))

	n, err := ix.DeleteRange(index.Integer(3), index.Integer(7))
	if err != nil || n != 5 {
		t.Fatalf("DeleteRange() = (%d, %v), want (5, nil)", n, err)
	}
	if got, _ := ix.Get(index.Integer(5)); len(got) != 0 {
		t.Errorf("Get(5) after DeleteRange = %v, want empty", got)
	}
	if got, _ := ix.Get(index.Integer(9)); len(got) != 1 {
		t.Errorf("Get(9) = %v, want [9]", got)
	}
	if got := ix.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}

func TestBatchInsertAndScan(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	var pairs []ValueRow
	for i := int64(100); i > 0; i-- { // deliberately descending
		pairs = append(pairs, ValueRow{Value: index.Integer(i), RowID: index.RowID(i)})
	}
	if err := ix.BatchInsert(pairs); err != nil {
		t.Fatalf("BatchInsert() error = %v", err)
	}
	if got := ix.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}
	rids, err := ix.ScanRowIDsWithLimit(10)
	if err != nil || len(rids) != 10 {
		t.Fatalf("ScanRowIDsWithLimit(10) = %d ids, err %v", len(rids), err)
	}
	if rids[0] != 1 {
		t.Errorf("first scanned id = %d, want 1 (value order)", rids[0])
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.gbtree")
	ix, _ := Open(path, Config{})
	ix.Insert(index.Text("hello"), 42)
	if err := ix.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path, Config{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	got, _ := reopened.Get(index.Text("hello"))
	if len(got) != 1 || got[0] != 42 {
		t.Errorf("Get(hello) after reopen = %v, want [42]", got)
	}
}
