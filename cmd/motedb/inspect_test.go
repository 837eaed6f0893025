package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/motedb/internal/index/btree"
	"github.com/fenilsonani/motedb/internal/index/vamana"
)

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestInspectBTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.btree")
	tree, err := btree.Open(path, btree.Config{})
	require.NoError(t, err)
	tree.Insert(1, 10)
	require.NoError(t, tree.Close())

	out := runCommand(t, newInspectCommand(), path)
	assert.Contains(t, out, "fixed-kv btree")
	assert.Contains(t, out, "num_keys: 1")
}

func TestInspectGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.bin")
	g, err := vamana.OpenDiskGraph(path, 8, 0)
	require.NoError(t, err)
	require.NoError(t, g.SetNeighbors(1, []uint64{2, 3}))
	require.NoError(t, g.Close())

	out := runCommand(t, newInspectCommand(), path)
	assert.Contains(t, out, "disk graph")
	assert.Contains(t, out, "max_degree: 8")
}

func TestStatsDirectory(t *testing.T) {
	dir := t.TempDir()
	tree, err := btree.Open(filepath.Join(dir, "users.pk.btree"), btree.Config{})
	require.NoError(t, err)
	for i := uint64(0); i < 10; i++ {
		tree.Insert(i, i)
	}
	require.NoError(t, tree.Close())

	out := runCommand(t, newStatsCommand(), dir)
	assert.Contains(t, out, "users.pk.btree")
	assert.Contains(t, out, "btree, 10 keys")
}

func TestCompactCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.bin")
	g, err := vamana.OpenDiskGraph(path, 8, 0)
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		g.SetNeighbors(i, []uint64{i + 1})
		g.SetNeighbors(i, []uint64{i + 2})
	}
	require.NoError(t, g.Close())

	out := runCommand(t, newCompactCommand(), path)
	assert.Contains(t, out, "compacted")

	reopened, err := vamana.OpenDiskGraph(path, 8, 0)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 10, reopened.Len())
}

func TestCompactRejectsNonGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.btree")
	tree, err := btree.Open(path, btree.Config{})
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	cmd := newCompactCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	assert.Error(t, cmd.Execute())
}
