package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "motedb",
		Short: "Inspection tooling for MoteDB index files",
		Long: `motedb is the operator surface of the MoteDB indexing core.
It dumps index file headers, summarizes a database directory, and runs
offline maintenance like graph compaction.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newInspectCommand(),
		newStatsCommand(),
		newCompactCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
