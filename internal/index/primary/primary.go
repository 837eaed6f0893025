// Package primary implements the unique primary-key index: a thin wrapper
// over the fixed-KV B+Tree with an auto-increment counter persisted in the
// tree's superblock.
package primary

import (
	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
	"github.com/fenilsonani/motedb/internal/index/btree"
)

// Index maps primary keys to row ids, enforcing uniqueness on first write
// but allowing updates of an existing key.
type Index struct {
	tree *btree.BTree
}

// Open opens or creates the index at path.
func Open(path string, logger *zap.Logger) (*Index, error) {
	tree, err := btree.Open(path, btree.Config{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Index{tree: tree}, nil
}

// Insert maps pk to rid. An existing key is updated in place.
func (ix *Index) Insert(pk uint64, rid index.RowID) error {
	_, _, err := ix.tree.Insert(pk, uint64(rid))
	if err != nil {
		return err
	}
	// Keep the auto-increment cursor ahead of explicit keys.
	ix.tree.EnsureAuto(pk + 1)
	return nil
}

// InsertAuto allocates the next auto-increment key for rid and returns it.
func (ix *Index) InsertAuto(rid index.RowID) (uint64, error) {
	pk := ix.tree.AllocateAuto()
	if _, _, err := ix.tree.Insert(pk, uint64(rid)); err != nil {
		return 0, err
	}
	return pk, nil
}

// Get returns the row id stored under pk.
func (ix *Index) Get(pk uint64) (index.RowID, bool, error) {
	v, found, err := ix.tree.Get(pk)
	return index.RowID(v), found, err
}

// Update rewrites an existing key and rejects a missing one.
func (ix *Index) Update(pk uint64, rid index.RowID) error {
	_, existed, err := ix.tree.Insert(pk, uint64(rid))
	if err != nil {
		return err
	}
	if !existed {
		// Roll the phantom insert back so a failed update has no effect.
		if _, _, derr := ix.tree.Remove(pk); derr != nil {
			return derr
		}
		return index.InvalidDataf("update of missing primary key %d", pk)
	}
	return nil
}

// Delete removes pk, reporting whether it existed.
func (ix *Index) Delete(pk uint64) (bool, error) {
	_, existed, err := ix.tree.Remove(pk)
	return existed, err
}

// Range returns every (pk, rid) pair with pk in [lo, hi], ascending.
func (ix *Index) Range(lo, hi uint64) ([]btree.Entry, error) {
	return ix.tree.Range(lo, hi)
}

// MinPK returns the smallest primary key, if any.
func (ix *Index) MinPK() (uint64, bool, error) { return ix.tree.MinKey() }

// MaxPK returns the largest primary key, if any.
func (ix *Index) MaxPK() (uint64, bool, error) { return ix.tree.MaxKey() }

// Len returns the number of live keys.
func (ix *Index) Len() uint64 { return ix.tree.Len() }

// Flush persists all dirty state.
func (ix *Index) Flush() error { return ix.tree.Flush() }

// Close flushes and releases the index.
func (ix *Index) Close() error { return ix.tree.Close() }
