package gbtree

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fenilsonani/motedb/internal/index"
)

func TestOpenTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.gbtree")
	tree, err := Open[uint32](path, Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := uint32(0); i < 2000; i++ {
		tree.Insert(i, bytes.Repeat([]byte{byte(i)}, 64))
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()-PageSize); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if _, err := Open[uint32](path, Uint32Codec{}, Config{}); !index.IsKind(err, index.KindCorruption) {
		t.Errorf("Open() on truncated file = %v, want corruption", err)
	}
}

func TestOpenBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magic.gbtree")
	tree, _ := Open[uint32](path, Uint32Codec{}, Config{})
	tree.Close()

	f, _ := os.OpenFile(path, os.O_WRONLY, 0644)
	f.WriteAt([]byte{1, 2, 3, 4}, 0)
	f.Close()
	if _, err := Open[uint32](path, Uint32Codec{}, Config{}); !index.IsKind(err, index.KindCorruption) {
		t.Errorf("Open() with bad magic = %v, want corruption", err)
	}
}

func TestDeserializeZeroChildPointer(t *testing.T) {
	codec := Uint32Codec{}
	p := &page[uint32]{id: 2, keys: []uint32{100}, children: []uint64{1, 3}}
	buf, err := p.serialize(codec)
	if err != nil {
		t.Fatalf("serialize() error = %v", err)
	}
	// Zero out the second child pointer: header + key + first child.
	off := pageHeaderSize + 4 + 8
	for i := 0; i < 8; i++ {
		buf[off+i] = 0
	}
	if _, err := deserializePage(codec, 2, buf, maxKeysFor(4)); !index.IsKind(err, index.KindCorruption) {
		t.Errorf("deserializePage() = %v, want corruption", err)
	}
}

func TestOverflowChainTooLong(t *testing.T) {
	tree, _ := openTemp(t, Config{})
	defer tree.Close()

	// A self-referencing chain must trip the hop limit, not spin.
	pid := tree.allocPID()
	buf := make([]byte, PageSize)
	buf[0] = byte(pid) // next_pid = itself (pid < 256 in this test)
	buf[8] = 1         // chunk_len = 1
	if err := tree.writeAt(buf, tree.pageOffset(pid)); err != nil {
		t.Fatalf("writeAt() error = %v", err)
	}
	if _, err := tree.readOverflowChain(pid, 99); !index.IsKind(err, index.KindCorruption) {
		t.Errorf("readOverflowChain(cycle) = %v, want corruption", err)
	}
}

func TestSerializeOversizedPageFails(t *testing.T) {
	codec := Uint32Codec{}
	p := &page[uint32]{id: 1, leaf: true}
	// Two inline values that cannot both fit a page indicate a split bug.
	p.keys = []uint32{1, 2}
	p.vals = []*value{
		{inline: bytes.Repeat([]byte{0xAA}, PageSize/2)},
		{inline: bytes.Repeat([]byte{0xBB}, PageSize/2)},
	}
	if _, err := p.serialize(codec); !index.IsKind(err, index.KindSerialization) {
		t.Errorf("serialize(oversized) = %v, want serialization error", err)
	}
}
