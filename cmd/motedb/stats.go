package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <dir>",
		Short: "Summarize every index file under a database directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStats(cmd, args[0])
		},
	}
}

func printStats(cmd *cobra.Command, dir string) error {
	type row struct {
		path    string
		size    int64
		summary string
	}
	var rows []row

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		rows = append(rows, row{path: rel, size: info.Size(), summary: summarize(path)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	if len(rows) == 0 {
		cmd.Printf("no index files under %s\n", dir)
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })

	for _, r := range rows {
		cmd.Printf("%-48s %10d  %s\n", r.path, r.size, r.summary)
	}
	return nil
}

// summarize reads just enough of a file to describe it in one line.
func summarize(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "-"
	}
	defer f.Close()
	header := make([]byte, 40)
	n, _ := f.Read(header)
	header = header[:n]
	if len(header) < 8 {
		return "-"
	}

	base := filepath.Base(path)
	switch {
	case len(header) >= 12 && header[0] == 'S' && header[1] == 'Q' && header[2] == '8' && header[3] == 0:
		return fmt.Sprintf("sq8 quantizer, dim %d", binary.LittleEndian.Uint64(header[4:12]))
	case base == "vectors_sq8.bin":
		return fmt.Sprintf("sq8 vectors, %d records", binary.LittleEndian.Uint64(header[0:8]))
	}

	switch binary.LittleEndian.Uint32(header[0:4]) {
	case magicBTree:
		if len(header) >= 32 {
			return fmt.Sprintf("btree, %d keys, %d pages",
				binary.LittleEndian.Uint64(header[24:32]),
				binary.LittleEndian.Uint64(header[16:24]))
		}
	case magicGBTree:
		if len(header) >= 36 {
			return fmt.Sprintf("gbtree, %d keys, key size %d",
				binary.LittleEndian.Uint64(header[28:36]),
				binary.LittleEndian.Uint32(header[24:28]))
		}
	case magicGraph:
		if len(header) >= 16 {
			return fmt.Sprintf("graph, %d nodes, max degree %d",
				binary.LittleEndian.Uint32(header[12:16]),
				binary.LittleEndian.Uint32(header[8:12]))
		}
	case magicSpatial:
		return "spatial metadata"
	}
	if strings.HasSuffix(base, ".mmap") {
		return "spatial cold store"
	}
	return "-"
}
