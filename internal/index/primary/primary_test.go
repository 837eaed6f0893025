package primary

import (
	"path/filepath"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func openTemp(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "pk.btree"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return ix
}

func TestInsertAndGet(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	if err := ix.Insert(10, 100); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	rid, found, err := ix.Get(10)
	if err != nil || !found || rid != 100 {
		t.Errorf("Get(10) = (%d, %v, %v), want (100, true, nil)", rid, found, err)
	}
	if _, found, _ := ix.Get(11); found {
		t.Error("Get(11) found a missing key")
	}
}

func TestInsertAuto(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	pk1, err := ix.InsertAuto(500)
	if err != nil {
		t.Fatalf("InsertAuto() error = %v", err)
	}
	pk2, _ := ix.InsertAuto(501)
	if pk2 != pk1+1 {
		t.Errorf("InsertAuto() = %d then %d, want consecutive", pk1, pk2)
	}

	// Explicit inserts push the cursor forward.
	ix.Insert(1000, 502)
	pk3, _ := ix.InsertAuto(503)
	if pk3 != 1001 {
		t.Errorf("InsertAuto() after Insert(1000) = %d, want 1001", pk3)
	}
}

func TestUpdate(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(5, 50)
	if err := ix.Update(5, 55); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rid, _, _ := ix.Get(5)
	if rid != 55 {
		t.Errorf("Get(5) = %d after update, want 55", rid)
	}

	err := ix.Update(99, 990)
	if !index.IsKind(err, index.KindInvalidData) {
		t.Errorf("Update(missing) error = %v, want invalid data", err)
	}
	if _, found, _ := ix.Get(99); found {
		t.Error("failed Update left a phantom key behind")
	}
}

func TestDelete(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	ix.Insert(1, 10)
	existed, err := ix.Delete(1)
	if err != nil || !existed {
		t.Fatalf("Delete(1) = (%v, %v), want (true, nil)", existed, err)
	}
	existed, _ = ix.Delete(1)
	if existed {
		t.Error("second Delete(1) reported existed")
	}
}

func TestRangeAndExtremes(t *testing.T) {
	ix := openTemp(t)
	defer ix.Close()

	for pk := uint64(10); pk <= 50; pk += 10 {
		ix.Insert(pk, index.RowID(pk*2))
	}
	entries, err := ix.Range(20, 40)
	if err != nil || len(entries) != 3 {
		t.Fatalf("Range(20, 40) = %d entries, err %v, want 3", len(entries), err)
	}
	if min, _, _ := ix.MinPK(); min != 10 {
		t.Errorf("MinPK() = %d, want 10", min)
	}
	if max, _, _ := ix.MaxPK(); max != 50 {
		t.Errorf("MaxPK() = %d, want 50", max)
	}
	if ix.Len() != 5 {
		t.Errorf("Len() = %d, want 5", ix.Len())
	}
}
