package btree

import (
	"sync"
	"testing"
)

func TestConcurrentReaders(t *testing.T) {
	tree, _ := openTemp(t)
	defer tree.Close()

	const n = 2000
	for i := uint64(0); i < n; i++ {
		tree.Insert(i, i*3)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			for i := uint64(0); i < 500; i++ {
				k := (seed*7919 + i*13) % n
				v, found, err := tree.Get(k)
				if err != nil || !found || v != k*3 {
					t.Errorf("Get(%d) = (%d, %v, %v), want (%d, true, nil)", k, v, found, err, k*3)
					return
				}
			}
		}(uint64(w))
	}
	wg.Wait()
}

func TestReadersDuringWrites(t *testing.T) {
	tree, _ := openTemp(t)
	defer tree.Close()

	for i := uint64(0); i < 1000; i++ {
		tree.Insert(i, i)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1000); i < 3000; i++ {
			if _, _, err := tree.Insert(i, i); err != nil {
				t.Errorf("Insert(%d) error = %v", i, err)
				return
			}
		}
		close(stop)
	}()

	// Readers only touch the stable prefix; they must always see it.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for k := uint64(0); k < 1000; k += 97 {
					v, found, err := tree.Get(k)
					if err != nil || !found || v != k {
						t.Errorf("Get(%d) = (%d, %v, %v) during writes", k, v, found, err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkInsert(b *testing.B) {
	tree, err := Open(b.TempDir()+"/bench.btree", Config{})
	if err != nil {
		b.Fatalf("Open() error = %v", err)
	}
	defer tree.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Insert(uint64(i), uint64(i))
	}
}

func BenchmarkGet(b *testing.B) {
	tree, err := Open(b.TempDir()+"/bench.btree", Config{})
	if err != nil {
		b.Fatalf("Open() error = %v", err)
	}
	defer tree.Close()
	for i := uint64(0); i < 100000; i++ {
		tree.Insert(i, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Get(uint64(i) % 100000)
	}
}

func BenchmarkRange(b *testing.B) {
	tree, err := Open(b.TempDir()+"/bench.btree", Config{})
	if err != nil {
		b.Fatalf("Open() error = %v", err)
	}
	defer tree.Close()
	for i := uint64(0); i < 100000; i++ {
		tree.Insert(i, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := uint64(i*37) % 90000
		tree.Range(start, start+1000)
	}
}
