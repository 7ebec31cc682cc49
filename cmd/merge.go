package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trafficsync/internal/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a bronze snapshot into the silver table",
	Long: `Collapse one bronze snapshot to a single candidate per incident and
upsert the winners into the silver table. Without --snapshot the most
recently captured snapshot is used. Re-running the same snapshot is a
no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snapshotID, _ := cmd.Flags().GetString("snapshot")
		if snapshotID == "" {
			snapshotID, err = st.LatestSnapshotID(ctx)
			if eris.Is(err, store.ErrNoSnapshots) {
				return eris.New("bronze table is empty: load a snapshot first")
			}
			if err != nil {
				return err
			}
		}

		stats, err := mergeSnapshot(ctx, st, snapshotID)
		if err != nil {
			return eris.Wrap(err, "merge")
		}
		fmt.Printf("merged snapshot %s: %d candidates, %d applied, %d skipped\n",
			snapshotID, stats.Candidates, stats.Applied, stats.Skipped)
		return nil
	},
}

func init() {
	mergeCmd.Flags().String("snapshot", "", "snapshot id to merge (default: latest)")
	rootCmd.AddCommand(mergeCmd)
}
