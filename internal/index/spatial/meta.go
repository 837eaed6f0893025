package spatial

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/fenilsonani/motedb/internal/index"
)

// Metadata identity. The magic spells "SPGH" (spatial grid hybrid).
const (
	metaMagic   = 0x53504748
	metaVersion = 1
)

// writeMeta persists the grid state, cold-cell directory, and row geometry
// map. Callers hold ix.mu.
func (ix *Index) writeMeta() error {
	s := ix.store
	s.mu.Lock()
	cold := make(map[CellID]coldRef, len(s.cold))
	for id, ref := range s.cold {
		cold[id] = ref
	}
	nextOffset := s.nextOffset
	s.mu.Unlock()

	w := ix.cfg.WorldBounds
	buf := make([]byte, 0, 128+len(cold)*16+len(ix.geoms)*24)
	buf = binary.LittleEndian.AppendUint32(buf, metaMagic)
	buf = binary.LittleEndian.AppendUint32(buf, metaVersion)
	for _, f := range []float64{w.MinX, w.MinY, w.MaxX, w.MaxY} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.grid.size))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ix.grid.cellW))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ix.grid.cellH))
	buf = binary.LittleEndian.AppendUint64(buf, ix.totalEntries)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(nextOffset))

	flags := byte(0)
	if ix.cfg.EnableMmap {
		flags |= 1
	}
	if ix.cfg.EnableCompression {
		flags |= 2
	}
	buf = append(buf, flags)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cold)))
	for id, ref := range cold {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(id))
		buf = binary.LittleEndian.AppendUint64(buf, ref.offset)
		buf = binary.LittleEndian.AppendUint32(buf, ref.length)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.geoms)))
	for rid, box := range ix.geoms {
		buf = binary.LittleEndian.AppendUint64(buf, rid)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(box.MinX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(box.MinY))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(box.MaxX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(box.MaxY))
	}

	if err := renameio.WriteFile(filepath.Join(ix.dir, metaName), buf, 0644); err != nil {
		return index.IoError("write spatial metadata", err)
	}
	return nil
}

// loadMeta restores a persisted index, leaving ix.store nil for a fresh
// directory so Open builds an empty one.
func (ix *Index) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(ix.dir, metaName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return index.IoError("read spatial metadata", err)
	}
	if len(data) < 85 {
		return index.Corruptionf("spatial metadata: short file, %d bytes", len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:4]); m != metaMagic {
		return index.Corruptionf("spatial metadata: bad magic 0x%08x", m)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != metaVersion {
		return index.Corruptionf("spatial metadata: unsupported version %d", v)
	}
	off := 8
	world := index.Geometry{}
	for _, dst := range []*float64{&world.MinX, &world.MinY, &world.MaxX, &world.MaxY} {
		*dst = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
	}
	ix.cfg.WorldBounds = world
	gridSize := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if gridSize <= 0 || gridSize > 1<<16 {
		return index.Corruptionf("spatial metadata: grid size %d", gridSize)
	}
	// cellW and cellH are re-derived from the world and grid size; the
	// persisted copies are skipped without being checked.
	off += 16
	ix.totalEntries = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	nextOffset := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	flags := data[off]
	off++
	useMmap := flags&1 != 0
	compress := flags&2 != 0

	store, err := newTieredStore(filepath.Join(ix.dir, cellsFile), ix.cfg.HotCacheSize, useMmap, compress)
	if err != nil {
		return err
	}
	store.nextOffset = nextOffset
	ix.cfg.EnableMmap = useMmap
	ix.cfg.EnableCompression = compress

	if off+4 > len(data) {
		return index.Corruptionf("spatial metadata: truncated cell directory")
	}
	coldCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	for i := 0; i < coldCount; i++ {
		if off+16 > len(data) {
			return index.Corruptionf("spatial metadata: truncated cell ref %d", i)
		}
		id := CellID(binary.LittleEndian.Uint32(data[off : off+4]))
		ref := coldRef{
			offset: binary.LittleEndian.Uint64(data[off+4 : off+12]),
			length: binary.LittleEndian.Uint32(data[off+12 : off+16]),
		}
		store.cold[id] = ref
		off += 16
	}

	if off+4 > len(data) {
		return index.Corruptionf("spatial metadata: truncated geometry map")
	}
	geomCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	for i := 0; i < geomCount; i++ {
		if off+24 > len(data) {
			return index.Corruptionf("spatial metadata: truncated geometry %d", i)
		}
		rid := binary.LittleEndian.Uint64(data[off : off+8])
		ix.geoms[rid] = BBox32{
			MinX: math.Float32frombits(binary.LittleEndian.Uint32(data[off+8 : off+12])),
			MinY: math.Float32frombits(binary.LittleEndian.Uint32(data[off+12 : off+16])),
			MaxX: math.Float32frombits(binary.LittleEndian.Uint32(data[off+16 : off+20])),
			MaxY: math.Float32frombits(binary.LittleEndian.Uint32(data[off+20 : off+24])),
		}
		off += 24
	}

	ix.store = store
	ix.grid = newGrid(gridSize, world.MinX, world.MinY, world.MaxX, world.MaxY)
	return nil
}
