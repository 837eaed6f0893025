// Package motedb is the embedding surface of the MoteDB indexing core: a
// per-table manager that creates, opens, and drops the five index families,
// and the batch builder contract the outer flush machinery drives.
package motedb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fenilsonani/motedb/internal/index"
	"github.com/fenilsonani/motedb/internal/index/column"
	"github.com/fenilsonani/motedb/internal/index/fts"
	"github.com/fenilsonani/motedb/internal/index/primary"
	"github.com/fenilsonani/motedb/internal/index/spatial"
	"github.com/fenilsonani/motedb/internal/index/vamana"
)

// Re-exported identifier types: the indexing core speaks in these.
type (
	// RowID identifies a row.
	RowID = index.RowID
	// DocID identifies a full-text document.
	DocID = index.DocID
	// Value is the typed union usable as an index key.
	Value = index.Value
	// Geometry is an axis-aligned shape for the spatial family.
	Geometry = index.Geometry
)

// Value constructors, re-exported for callers.
var (
	Integer      = index.Integer
	Float        = index.Float
	Text         = index.Text
	Bool         = index.Bool
	Timestamp    = index.Timestamp
	Vector       = index.Vector
	SpatialValue = index.Spatial
	Point        = index.Point
	Rect         = index.Rect
)

// Manager owns every index under one database directory, keyed by
// (table, column).
type Manager struct {
	dir string
	log *zap.Logger

	mu       sync.Mutex
	primarys map[string]*primary.Index
	columns  map[string]*column.Index
	texts    map[string]*fts.Index
	spatials map[string]*spatial.Index
	vectors  map[string]*vamana.Index
}

// OpenManager opens or creates a manager rooted at dir.
func OpenManager(dir string, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, index.IoError("create index directory", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dir:      dir,
		log:      logger.Named("motedb"),
		primarys: make(map[string]*primary.Index),
		columns:  make(map[string]*column.Index),
		texts:    make(map[string]*fts.Index),
		spatials: make(map[string]*spatial.Index),
		vectors:  make(map[string]*vamana.Index),
	}, nil
}

func indexKey(table, col string) string { return table + "." + col }

// PrimaryKeyIndex opens (or creates) the primary-key index for a table.
func (m *Manager) PrimaryKeyIndex(table string) (*primary.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, "pk")
	if ix, ok := m.primarys[key]; ok {
		return ix, nil
	}
	ix, err := primary.Open(filepath.Join(m.dir, fmt.Sprintf("%s.pk.btree", table)), m.log)
	if err != nil {
		return nil, err
	}
	m.primarys[key] = ix
	return ix, nil
}

// ColumnIndex opens (or creates) the value index for a table column.
func (m *Manager) ColumnIndex(table, col string) (*column.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, col)
	if ix, ok := m.columns[key]; ok {
		return ix, nil
	}
	ix, err := column.Open(filepath.Join(m.dir, fmt.Sprintf("%s.%s.gbtree", table, col)), column.Config{Logger: m.log})
	if err != nil {
		return nil, err
	}
	m.columns[key] = ix
	return ix, nil
}

// TextIndex opens (or creates) the full-text index for a table column.
func (m *Manager) TextIndex(table, col string, cfg fts.Config) (*fts.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, col)
	if ix, ok := m.texts[key]; ok {
		return ix, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	ix, err := fts.Open(filepath.Join(m.dir, fmt.Sprintf("%s.%s.fts.d", table, col)), cfg)
	if err != nil {
		return nil, err
	}
	m.texts[key] = ix
	return ix, nil
}

// SpatialIndex opens (or creates) the spatial index for a table column.
func (m *Manager) SpatialIndex(table, col string, cfg spatial.Config) (*spatial.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, col)
	if ix, ok := m.spatials[key]; ok {
		return ix, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	ix, err := spatial.Open(filepath.Join(m.dir, fmt.Sprintf("%s.%s.spatial.d", table, col)), cfg)
	if err != nil {
		return nil, err
	}
	m.spatials[key] = ix
	return ix, nil
}

// VectorIndex opens (or creates) the DiskANN index for a table column.
func (m *Manager) VectorIndex(table, col string, dim int, cfg vamana.Config) (*vamana.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, col)
	if ix, ok := m.vectors[key]; ok {
		return ix, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	ix, err := vamana.Open(filepath.Join(m.dir, fmt.Sprintf("%s.%s.vector.d", table, col)), dim, cfg)
	if err != nil {
		return nil, err
	}
	m.vectors[key] = ix
	return ix, nil
}

// DropColumnIndex closes and deletes a column index's files.
func (m *Manager) DropColumnIndex(table, col string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := indexKey(table, col)
	if ix, ok := m.columns[key]; ok {
		if err := ix.Close(); err != nil {
			return err
		}
		delete(m.columns, key)
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s.%s.gbtree", table, col))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return index.IoError("remove column index file", err)
	}
	return nil
}

// FlushAll flushes every open index. Flush failures leave state dirty; a
// later successful flush retries everything.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ix := range m.primarys {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	for _, ix := range m.columns {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	for _, ix := range m.texts {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	for _, ix := range m.spatials {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	for _, ix := range m.vectors {
		if err := ix.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and releases every open index. The first error is
// returned; remaining indexes still close.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ix := range m.primarys {
		record(ix.Close())
	}
	for _, ix := range m.columns {
		record(ix.Close())
	}
	for _, ix := range m.texts {
		record(ix.Close())
	}
	for _, ix := range m.spatials {
		record(ix.Close())
	}
	for _, ix := range m.vectors {
		record(ix.Close())
	}
	m.primarys = make(map[string]*primary.Index)
	m.columns = make(map[string]*column.Index)
	m.texts = make(map[string]*fts.Index)
	m.spatials = make(map[string]*spatial.Index)
	m.vectors = make(map[string]*vamana.Index)
	return firstErr
}
