package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/motedb/internal/index/vamana"
)

func newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <graph.bin>",
		Short: "Rewrite a disk graph file, reclaiming dead record space",
		Long: `Graph edits are append-only: every neighbor-list write leaves the old
record behind. Compaction rewrites the file with only live records.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compactGraph(cmd, args[0])
		},
	}
}

func compactGraph(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	header := make([]byte, 16)
	if _, err := f.Read(header); err != nil {
		f.Close()
		return fmt.Errorf("failed to read graph header: %w", err)
	}
	f.Close()
	if binary.LittleEndian.Uint32(header[0:4]) != magicGraph {
		return fmt.Errorf("%s is not a disk graph file", path)
	}
	maxDegree := int(binary.LittleEndian.Uint32(header[8:12]))

	before, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	g, err := vamana.OpenDiskGraph(path, maxDegree, 0)
	if err != nil {
		return fmt.Errorf("failed to open graph: %w", err)
	}
	if err := g.Compact(); err != nil {
		g.Close()
		return fmt.Errorf("compaction failed: %w", err)
	}
	if err := g.Close(); err != nil {
		return fmt.Errorf("failed to close graph: %w", err)
	}

	after, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	cmd.Printf("compacted %s: %d -> %d bytes (%d nodes)\n", path, before.Size(), after.Size(), g.Len())
	return nil
}
