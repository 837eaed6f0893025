package textdict

import (
	"fmt"
	"testing"
)

func openTemp(t *testing.T, cfg Config) *Dictionary {
	t.Helper()
	d, err := Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d
}

func TestGetOrInsertAllocatesMonotonically(t *testing.T) {
	d := openTemp(t, Config{})
	defer d.Close()

	a, created, err := d.GetOrInsert("hello")
	if err != nil || !created {
		t.Fatalf("GetOrInsert(hello) = created=%v err=%v", created, err)
	}
	b, created, _ := d.GetOrInsert("world")
	if !created || b <= a {
		t.Errorf("ids not monotonic: %d then %d", a, b)
	}

	again, created, _ := d.GetOrInsert("hello")
	if created || again != a {
		t.Errorf("GetOrInsert(hello) again = (%d, %v), want (%d, false)", again, created, a)
	}
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
}

func TestLookupMissing(t *testing.T) {
	d := openTemp(t, Config{})
	defer d.Close()

	if _, ok, err := d.Lookup("nope"); ok || err != nil {
		t.Errorf("Lookup(nope) = ok=%v err=%v, want miss", ok, err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ids := make(map[string]uint32)
	for i := 0; i < 500; i++ {
		token := fmt.Sprintf("token-%03d", i)
		tid, _, err := d.GetOrInsert(token)
		if err != nil {
			t.Fatalf("GetOrInsert(%s) error = %v", token, err)
		}
		ids[token] = uint32(tid)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 500 {
		t.Errorf("Len() = %d, want 500", reopened.Len())
	}
	for token, want := range ids {
		tid, ok, err := reopened.Lookup(token)
		if err != nil || !ok || uint32(tid) != want {
			t.Fatalf("Lookup(%s) = (%d, %v, %v), want (%d, true, nil)", token, tid, ok, err, want)
		}
	}
	// New allocations continue past the persisted cursor.
	fresh, created, _ := reopened.GetOrInsert("brand-new")
	if !created || uint32(fresh) <= 500 {
		t.Errorf("fresh id = %d, want > 500", fresh)
	}
}

func TestSmallChunkCacheStillFindsEverything(t *testing.T) {
	d := openTemp(t, Config{NumChunks: 8, ChunkCacheSize: 2})
	defer d.Close()

	for i := 0; i < 200; i++ {
		if _, _, err := d.GetOrInsert(fmt.Sprintf("w%d", i)); err != nil {
			t.Fatalf("GetOrInsert error = %v", err)
		}
	}
	for i := 0; i < 200; i++ {
		token := fmt.Sprintf("w%d", i)
		if _, ok, err := d.Lookup(token); !ok || err != nil {
			t.Fatalf("Lookup(%s) = ok=%v err=%v after evictions", token, ok, err)
		}
	}
}

func TestFlushKeepsCacheWarm(t *testing.T) {
	d := openTemp(t, Config{})
	defer d.Close()

	d.GetOrInsert("warm")
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	_, m0 := d.CacheStats()
	if _, ok, _ := d.Lookup("warm"); !ok {
		t.Fatal("Lookup(warm) missed after flush")
	}
	if _, m1 := d.CacheStats(); m1 != m0 {
		t.Errorf("Lookup after Flush went to disk (misses %d -> %d); flush must keep the cache warm", m0, m1)
	}
}

func TestReverseLookup(t *testing.T) {
	d := openTemp(t, Config{})
	defer d.Close()

	tid, _, _ := d.GetOrInsert("needle")
	token, ok, err := d.ReverseLookup(tid)
	if err != nil || !ok || token != "needle" {
		t.Errorf("ReverseLookup(%d) = (%q, %v, %v), want (needle, true, nil)", tid, token, ok, err)
	}
	if _, ok, _ := d.ReverseLookup(9999); ok {
		t.Error("ReverseLookup(9999) found a phantom term")
	}
}
