package motedb

import (
	"github.com/fenilsonani/motedb/internal/index"
	"github.com/fenilsonani/motedb/internal/index/column"
	"github.com/fenilsonani/motedb/internal/index/fts"
	"github.com/fenilsonani/motedb/internal/index/spatial"
	"github.com/fenilsonani/motedb/internal/index/vamana"
)

// Builder is the uniform batch contract the outer memtable flush drives:
// stage entries with Add, make them durable with Flush. Batches are not
// atomic at this layer.
type Builder = index.Builder

// ColumnBuilder stages (value, row) pairs into a column index, sorted at
// flush for page locality.
type ColumnBuilder struct {
	ix     *column.Index
	staged []column.ValueRow
}

// NewColumnBuilder wraps a column index in the builder contract.
func NewColumnBuilder(ix *column.Index) *ColumnBuilder {
	return &ColumnBuilder{ix: ix}
}

// Add implements Builder.
func (b *ColumnBuilder) Add(rid RowID, v Value) error {
	b.staged = append(b.staged, column.ValueRow{Value: v, RowID: rid})
	return nil
}

// Flush implements Builder.
func (b *ColumnBuilder) Flush() error {
	if len(b.staged) > 0 {
		if err := b.ix.BatchInsert(b.staged); err != nil {
			return err
		}
		b.staged = b.staged[:0]
	}
	return b.ix.Flush()
}

// TextBuilder stages documents into a full-text index.
type TextBuilder struct {
	ix     *fts.Index
	staged []fts.DocText
}

// NewTextBuilder wraps a full-text index in the builder contract.
func NewTextBuilder(ix *fts.Index) *TextBuilder {
	return &TextBuilder{ix: ix}
}

// Add implements Builder. The value must be text.
func (b *TextBuilder) Add(rid RowID, v Value) error {
	if v.Kind != index.KindText {
		return index.InvalidDataf("full-text index expects text values, got %s", v.Kind)
	}
	b.staged = append(b.staged, fts.DocText{DocID: rid, Text: v.Text})
	return nil
}

// Flush implements Builder.
func (b *TextBuilder) Flush() error {
	if len(b.staged) > 0 {
		if err := b.ix.BatchInsert(b.staged); err != nil {
			return err
		}
		b.staged = b.staged[:0]
	}
	return b.ix.Flush()
}

// SpatialBuilder stages geometries into a spatial index.
type SpatialBuilder struct {
	ix     *spatial.Index
	staged []spatial.GeomRow
}

// NewSpatialBuilder wraps a spatial index in the builder contract.
func NewSpatialBuilder(ix *spatial.Index) *SpatialBuilder {
	return &SpatialBuilder{ix: ix}
}

// Add implements Builder. The value must be spatial.
func (b *SpatialBuilder) Add(rid RowID, v Value) error {
	if v.Kind != index.KindSpatial {
		return index.InvalidDataf("spatial index expects spatial values, got %s", v.Kind)
	}
	b.staged = append(b.staged, spatial.GeomRow{RowID: rid, Geom: v.Geom})
	return nil
}

// Flush implements Builder.
func (b *SpatialBuilder) Flush() error {
	if len(b.staged) > 0 {
		if err := b.ix.BatchInsert(b.staged); err != nil {
			return err
		}
		b.staged = b.staged[:0]
	}
	return b.ix.Flush()
}

// VectorBuilder stages vectors into a DiskANN index; the batch size decides
// the graph build strategy at flush.
type VectorBuilder struct {
	ix     *vamana.Index
	staged []vamana.VectorRow
}

// NewVectorBuilder wraps a vector index in the builder contract.
func NewVectorBuilder(ix *vamana.Index) *VectorBuilder {
	return &VectorBuilder{ix: ix}
}

// Add implements Builder. The value must be a vector.
func (b *VectorBuilder) Add(rid RowID, v Value) error {
	if v.Kind != index.KindVector {
		return index.InvalidDataf("vector index expects vector values, got %s", v.Kind)
	}
	b.staged = append(b.staged, vamana.VectorRow{RowID: uint64(rid), Vector: v.Vec})
	return nil
}

// Flush implements Builder.
func (b *VectorBuilder) Flush() error {
	if len(b.staged) > 0 {
		if err := b.ix.BatchInsert(b.staged); err != nil {
			return err
		}
		b.staged = b.staged[:0]
	}
	return b.ix.Flush()
}

// Compile-time checks that every adapter satisfies the contract.
var (
	_ Builder = (*ColumnBuilder)(nil)
	_ Builder = (*TextBuilder)(nil)
	_ Builder = (*SpatialBuilder)(nil)
	_ Builder = (*VectorBuilder)(nil)
)
