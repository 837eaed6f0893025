package motedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/motedb/internal/index/fts"
	"github.com/fenilsonani/motedb/internal/index/spatial"
	"github.com/fenilsonani/motedb/internal/index/vamana"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	m, err := OpenManager(t.TempDir(), nil)
	require.NoError(t, err)
	return m
}

func TestManagerPrimaryAndColumn(t *testing.T) {
	m := openManager(t)
	defer m.Close()

	pk, err := m.PrimaryKeyIndex("users")
	require.NoError(t, err)
	require.NoError(t, pk.Insert(1, 100))
	rid, found, err := pk.Get(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, RowID(100), rid)

	col, err := m.ColumnIndex("users", "age")
	require.NoError(t, err)
	require.NoError(t, col.Insert(Integer(30), 100))
	require.NoError(t, col.Insert(Integer(30), 101))
	rids, err := col.Get(Integer(30))
	require.NoError(t, err)
	assert.Len(t, rids, 2)

	// The same handle comes back for the same (table, column).
	again, err := m.ColumnIndex("users", "age")
	require.NoError(t, err)
	assert.Same(t, col, again)
}

func TestManagerTextSpatialVector(t *testing.T) {
	m := openManager(t)
	defer m.Close()

	text, err := m.TextIndex("posts", "body", fts.Config{})
	require.NoError(t, err)
	require.NoError(t, text.Insert(1, "hello indexed world"))
	docs, err := text.Search("indexed")
	require.NoError(t, err)
	assert.Equal(t, []DocID{1}, docs)

	sp, err := m.SpatialIndex("places", "loc", spatial.Config{
		GridSize:    16,
		WorldBounds: Rect(0, 0, 100, 100),
	})
	require.NoError(t, err)
	require.NoError(t, sp.Insert(7, Point(10, 10)))
	rows, err := sp.RangeQuery(Rect(0, 0, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, []RowID{7}, rows)

	vec, err := m.VectorIndex("docs", "embedding", 3, vamana.Config{
		Vamana: vamana.EmbeddedVamanaConfig(3),
	})
	require.NoError(t, err)
	require.NoError(t, vec.Insert(5, []float32{1, 0, 0}))
	results, err := vec.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(5), results[0].RowID)

	require.NoError(t, m.FlushAll())
}

func TestManagerReopenPersists(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManager(dir, nil)
	require.NoError(t, err)
	col, err := m.ColumnIndex("t", "c")
	require.NoError(t, err)
	require.NoError(t, col.Insert(Text("v"), 9))
	require.NoError(t, m.Close())

	m2, err := OpenManager(dir, nil)
	require.NoError(t, err)
	defer m2.Close()
	col2, err := m2.ColumnIndex("t", "c")
	require.NoError(t, err)
	rids, err := col2.Get(Text("v"))
	require.NoError(t, err)
	assert.Equal(t, []RowID{9}, rids)
}

func TestManagerDropColumnIndex(t *testing.T) {
	m := openManager(t)
	defer m.Close()

	col, err := m.ColumnIndex("t", "c")
	require.NoError(t, err)
	require.NoError(t, col.Insert(Integer(1), 1))
	require.NoError(t, m.DropColumnIndex("t", "c"))

	// A fresh open starts empty.
	col2, err := m.ColumnIndex("t", "c")
	require.NoError(t, err)
	rids, err := col2.Get(Integer(1))
	require.NoError(t, err)
	assert.Empty(t, rids)
}

func TestBuilders(t *testing.T) {
	m := openManager(t)
	defer m.Close()

	col, err := m.ColumnIndex("t", "c")
	require.NoError(t, err)
	cb := NewColumnBuilder(col)
	require.NoError(t, cb.Add(1, Integer(5)))
	require.NoError(t, cb.Add(2, Integer(5)))
	require.NoError(t, cb.Flush())
	rids, err := col.Get(Integer(5))
	require.NoError(t, err)
	assert.Len(t, rids, 2)

	text, err := m.TextIndex("t", "body", fts.Config{})
	require.NoError(t, err)
	tb := NewTextBuilder(text)
	require.NoError(t, tb.Add(3, Text("builder staged doc")))
	assert.Error(t, tb.Add(4, Integer(1)))
	require.NoError(t, tb.Flush())
	docs, err := text.Search("staged")
	require.NoError(t, err)
	assert.Equal(t, []DocID{3}, docs)

	vec, err := m.VectorIndex("t", "v", 2, vamana.Config{Vamana: vamana.EmbeddedVamanaConfig(2)})
	require.NoError(t, err)
	vb := NewVectorBuilder(vec)
	require.NoError(t, vb.Add(10, Vector([]float32{1, 0})))
	require.NoError(t, vb.Flush())
	results, err := vec.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(10), results[0].RowID)
}
