// Package column implements the secondary index over a single table column:
// composite (value, row_id) keys in a generic B+Tree, an LRU point-lookup
// cache, and the range and comparison operators the query layer translates
// WHERE predicates into.
package column

import (
	"bytes"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
	"github.com/fenilsonani/motedb/internal/index/gbtree"
)

// DefaultRowCache is the default capacity of the hot-value lookup cache.
const DefaultRowCache = 256

// Config tunes a column index.
type Config struct {
	// PageCacheSize is handed to the underlying B+Tree.
	PageCacheSize int
	// RowCacheSize bounds the value → row-id LRU. Zero means
	// DefaultRowCache.
	RowCacheSize int
	// Logger is optional; nil means zap.NewNop(). The index writes no log
	// events.
	Logger *zap.Logger
}

// Index accelerates equality and range predicates on one column.
type Index struct {
	tree *gbtree.Tree[compositeKey]

	// rows caches value → row ids. Entries are shared: callers must treat
	// returned slices as immutable.
	rowsMu sync.Mutex
	rows   *lru.LRU[string, []index.RowID]

	hits   atomic.Uint64
	misses atomic.Uint64
	log    *zap.Logger
}

// Open opens or creates the index at path.
func Open(path string, cfg Config) (*Index, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tree, err := gbtree.Open[compositeKey](path, compositeCodec{}, gbtree.Config{
		CacheSize: cfg.PageCacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	capacity := cfg.RowCacheSize
	if capacity <= 0 {
		capacity = DefaultRowCache
	}
	rows, err := lru.NewLRU[string, []index.RowID](capacity, nil)
	if err != nil {
		tree.Close()
		return nil, index.Indexf("row cache: %v", err)
	}
	return &Index{tree: tree, rows: rows, log: logger.Named("column")}, nil
}

// Insert adds (v, rid) and invalidates the cached lookup for v.
func (ix *Index) Insert(v index.Value, rid index.RowID) error {
	vb, err := encodeValue(v)
	if err != nil {
		return err
	}
	if _, _, err := ix.tree.Insert(compositeKey{valueBytes: vb, rowID: uint64(rid)}, nil); err != nil {
		return err
	}
	ix.invalidate(vb)
	return nil
}

// BatchInsert adds many pairs, sorted by encoded key so the underlying tree
// sees ascending inserts and page locality stays high.
func (ix *Index) BatchInsert(pairs []ValueRow) error {
	type staged struct {
		key compositeKey
		vb  []byte
	}
	stagedKeys := make([]staged, 0, len(pairs))
	for _, p := range pairs {
		vb, err := encodeValue(p.Value)
		if err != nil {
			return err
		}
		stagedKeys = append(stagedKeys, staged{
			key: compositeKey{valueBytes: vb, rowID: uint64(p.RowID)},
			vb:  vb,
		})
	}
	codec := compositeCodec{}
	sort.Slice(stagedKeys, func(i, j int) bool {
		return codec.Compare(stagedKeys[i].key, stagedKeys[j].key) < 0
	})
	for _, s := range stagedKeys {
		if _, _, err := ix.tree.Insert(s.key, nil); err != nil {
			return err
		}
		ix.invalidate(s.vb)
	}
	return nil
}

// ValueRow is one (value, row) input to batch operations.
type ValueRow struct {
	Value index.Value
	RowID index.RowID
}

// Delete removes (v, rid), reporting whether it was present.
func (ix *Index) Delete(v index.Value, rid index.RowID) (bool, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return false, err
	}
	_, existed, err := ix.tree.Delete(compositeKey{valueBytes: vb, rowID: uint64(rid)})
	if err != nil {
		return false, err
	}
	ix.invalidate(vb)
	return existed, nil
}

// BatchDelete removes many pairs.
func (ix *Index) BatchDelete(pairs []ValueRow) error {
	for _, p := range pairs {
		if _, err := ix.Delete(p.Value, p.RowID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns every row id indexed under v. Hot values come from the LRU;
// the returned slice is shared and must not be mutated.
func (ix *Index) Get(v index.Value) ([]index.RowID, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	cacheKey := string(vb)

	ix.rowsMu.Lock()
	cached, ok := ix.rows.Get(cacheKey)
	ix.rowsMu.Unlock()
	if ok {
		ix.hits.Add(1)
		return cached, nil
	}
	ix.misses.Add(1)

	rids, err := ix.scanValue(vb)
	if err != nil {
		return nil, err
	}
	ix.rowsMu.Lock()
	ix.rows.Add(cacheKey, rids)
	ix.rowsMu.Unlock()
	return rids, nil
}

// scanValue runs the contiguous range [(vb,0), (vb,MAX)].
func (ix *Index) scanValue(vb []byte) ([]index.RowID, error) {
	lo := compositeKey{valueBytes: vb, rowID: 0}
	hi := compositeKey{valueBytes: vb, rowID: math.MaxUint64}
	keys, err := ix.tree.RangeKeys(lo, hi, 0)
	if err != nil {
		return nil, err
	}
	rids := make([]index.RowID, 0, len(keys))
	for _, k := range keys {
		rids = append(rids, index.RowID(k.rowID))
	}
	return rids, nil
}

// Range returns every row id whose value lies in [lo, hi].
func (ix *Index) Range(lo, hi index.Value) ([]index.RowID, error) {
	return ix.QueryBetween(lo, true, hi, true)
}

// QueryLessThan returns row ids with value < v.
func (ix *Index) QueryLessThan(v index.Value) ([]index.RowID, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	lo := compositeKey{}
	hi := compositeKey{valueBytes: vb, rowID: 0}
	return ix.projectExcluding(lo, hi, vb, nil)
}

// QueryLessThanOrEqual returns row ids with value <= v.
func (ix *Index) QueryLessThanOrEqual(v index.Value) ([]index.RowID, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	lo := compositeKey{}
	hi := compositeKey{valueBytes: vb, rowID: math.MaxUint64}
	return ix.projectExcluding(lo, hi, nil, nil)
}

// QueryGreaterThan returns row ids with value > v.
func (ix *Index) QueryGreaterThan(v index.Value) ([]index.RowID, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	lo := compositeKey{valueBytes: vb, rowID: math.MaxUint64}
	hi := compositeKey{valueBytes: maxValueBytes(), rowID: math.MaxUint64}
	return ix.projectExcluding(lo, hi, vb, nil)
}

// QueryGreaterThanOrEqual returns row ids with value >= v.
func (ix *Index) QueryGreaterThanOrEqual(v index.Value) ([]index.RowID, error) {
	vb, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	lo := compositeKey{valueBytes: vb, rowID: 0}
	hi := compositeKey{valueBytes: maxValueBytes(), rowID: math.MaxUint64}
	return ix.projectExcluding(lo, hi, nil, nil)
}

// QueryBetween returns row ids with value in the given bounds, each bound
// inclusive or exclusive per its flag.
func (ix *Index) QueryBetween(lo index.Value, loIncl bool, hi index.Value, hiIncl bool) ([]index.RowID, error) {
	lovb, err := encodeValue(lo)
	if err != nil {
		return nil, err
	}
	hivb, err := encodeValue(hi)
	if err != nil {
		return nil, err
	}
	loKey := compositeKey{valueBytes: lovb, rowID: 0}
	if !loIncl {
		loKey.rowID = math.MaxUint64
	}
	hiKey := compositeKey{valueBytes: hivb, rowID: math.MaxUint64}
	if !hiIncl {
		hiKey.rowID = 0
	}
	var exLo, exHi []byte
	if !loIncl {
		exLo = lovb
	}
	if !hiIncl {
		exHi = hivb
	}
	return ix.projectExcluding(loKey, hiKey, exLo, exHi)
}

// projectExcluding runs an inclusive key range and projects row ids,
// dropping entries whose value bytes equal either excluded bound. The
// sentinel row ids make those edge keys unreachable in practice; the filter
// keeps the operators exact even for boundary row ids.
func (ix *Index) projectExcluding(lo, hi compositeKey, excludeLo, excludeHi []byte) ([]index.RowID, error) {
	keys, err := ix.tree.RangeKeys(lo, hi, 0)
	if err != nil {
		return nil, err
	}
	rids := make([]index.RowID, 0, len(keys))
	for _, k := range keys {
		if excludeLo != nil && bytes.Equal(k.valueBytes, excludeLo) {
			continue
		}
		if excludeHi != nil && bytes.Equal(k.valueBytes, excludeHi) {
			continue
		}
		rids = append(rids, index.RowID(k.rowID))
	}
	return rids, nil
}

// ScanRowIDsWithLimit returns up to limit row ids in key order; limit <= 0
// means all.
func (ix *Index) ScanRowIDsWithLimit(limit int) ([]index.RowID, error) {
	lo := compositeKey{}
	hi := compositeKey{valueBytes: maxValueBytes(), rowID: math.MaxUint64}
	keys, err := ix.tree.RangeKeys(lo, hi, limit)
	if err != nil {
		return nil, err
	}
	rids := make([]index.RowID, 0, len(keys))
	for _, k := range keys {
		rids = append(rids, index.RowID(k.rowID))
	}
	return rids, nil
}

// DeleteRange removes every entry with value in [lo, hi] and returns how
// many were deleted. Only cache entries inside the range are invalidated.
func (ix *Index) DeleteRange(lo, hi index.Value) (int, error) {
	lovb, err := encodeValue(lo)
	if err != nil {
		return 0, err
	}
	hivb, err := encodeValue(hi)
	if err != nil {
		return 0, err
	}
	loKey := compositeKey{valueBytes: lovb, rowID: 0}
	hiKey := compositeKey{valueBytes: hivb, rowID: math.MaxUint64}
	keys, err := ix.tree.RangeKeys(loKey, hiKey, 0)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if _, _, err := ix.tree.Delete(k); err != nil {
			return 0, err
		}
	}

	ix.rowsMu.Lock()
	for _, cacheKey := range ix.rows.Keys() {
		kb := []byte(cacheKey)
		if bytes.Compare(kb, lovb) >= 0 && bytes.Compare(kb, hivb) <= 0 {
			ix.rows.Remove(cacheKey)
		}
	}
	ix.rowsMu.Unlock()
	return len(keys), nil
}

// Len returns the number of (value, row) entries.
func (ix *Index) Len() uint64 { return ix.tree.Len() }

// CacheStats returns cumulative lookup-cache hit and miss counts.
func (ix *Index) CacheStats() (hits, misses uint64) {
	return ix.hits.Load(), ix.misses.Load()
}

// Flush persists all dirty state.
func (ix *Index) Flush() error { return ix.tree.Flush() }

// Close flushes and releases the index.
func (ix *Index) Close() error { return ix.tree.Close() }

// invalidate drops the cached lookup for one value.
func (ix *Index) invalidate(vb []byte) {
	ix.rowsMu.Lock()
	ix.rows.Remove(string(vb))
	ix.rowsMu.Unlock()
}
