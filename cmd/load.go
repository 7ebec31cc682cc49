package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trafficsync/internal/bronze"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load an existing bronze NDJSON file into the bronze table",
	Long: `Load a previously pulled NDJSON file. Every line must match the
bronze schema exactly; one malformed line fails the whole load and
nothing is written. With --merge the snapshot is reconciled into the
silver table after a successful load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		inPath, _ := cmd.Flags().GetString("in")
		if inPath == "" {
			return eris.New("--in is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, n, err := loadFile(ctx, st, inPath)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		fmt.Printf("loaded %d rows from %s\n", n, inPath)

		doMerge, _ := cmd.Flags().GetBool("merge")
		if doMerge {
			for _, snapshotID := range snapshotIDs(recs) {
				stats, err := mergeSnapshot(ctx, st, snapshotID)
				if err != nil {
					return eris.Wrap(err, "load")
				}
				fmt.Printf("merged snapshot %s: %d applied, %d skipped\n",
					snapshotID, stats.Applied, stats.Skipped)
			}
		}
		return nil
	},
}

func init() {
	loadCmd.Flags().String("in", "", "bronze NDJSON file to load")
	loadCmd.Flags().Bool("merge", false, "merge into the silver table after loading")
	rootCmd.AddCommand(loadCmd)
}

// snapshotIDs returns the distinct snapshot ids in file order. A bronze file
// normally holds exactly one snapshot, but concatenated files merge cleanly.
func snapshotIDs(recs []bronze.Record) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		if !seen[rec.SnapshotID] {
			seen[rec.SnapshotID] = true
			ids = append(ids, rec.SnapshotID)
		}
	}
	return ids
}
