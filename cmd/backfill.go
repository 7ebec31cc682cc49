package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trafficsync/internal/ingest"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-pull one calendar month of incidents by event time",
	Long: `Pull every incident whose start time falls inside the given month
into a fresh bronze snapshot file. Backfills never touch the watermark;
the merge step reconciles any overlap with incremental pulls.

A backfill that produces zero rows is an error: the month window is
expected to contain data, so an empty result means a bad window or a
source problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "backfill"))

		month, _ := cmd.Flags().GetString("month")
		if month == "" {
			return eris.New("--month is required (format YYYY-MM)")
		}
		q, err := ingest.BackfillQuery(month)
		if err != nil {
			return err
		}

		pageSize, _ := cmd.Flags().GetInt("page-size")
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		outPath, _ := cmd.Flags().GetString("out")

		snapshotID, outPath, res, err := executeSnapshot(ctx, snapshotRun{
			query:    q,
			runType:  cfg.Ingest.BackfillRunType,
			outPath:  outPath,
			pageSize: pageSize,
			maxPages: maxPages,
		})
		if err != nil {
			return eris.Wrap(err, "backfill")
		}

		if res.Rows == 0 {
			return eris.Errorf("backfill for %s produced no rows (output %s)", month, outPath)
		}
		log.Info("backfill complete",
			zap.String("month", month),
			zap.String("snapshot_id", snapshotID),
			zap.Int64("rows", res.Rows),
		)

		doLoad, _ := cmd.Flags().GetBool("load")
		doMerge, _ := cmd.Flags().GetBool("merge")
		if doLoad {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if _, _, err := loadFile(ctx, st, outPath); err != nil {
				return eris.Wrap(err, "backfill")
			}
			if doMerge {
				if _, err := mergeSnapshot(ctx, st, snapshotID); err != nil {
					return eris.Wrap(err, "backfill")
				}
			}
		}

		return printPullSummary(snapshotID, outPath, res)
	},
}

func init() {
	backfillCmd.Flags().String("month", "", "calendar month to re-pull, format YYYY-MM")
	backfillCmd.Flags().Int("page-size", 0, "rows per page (default from config)")
	backfillCmd.Flags().Int("max-pages", 0, "page cap per run (default from config)")
	backfillCmd.Flags().String("out", "", "bronze NDJSON output path (default bronze/<snapshot>.ndjson)")
	backfillCmd.Flags().Bool("load", false, "load the snapshot into the bronze table")
	backfillCmd.Flags().Bool("merge", false, "merge into the silver table after loading (requires --load)")
	rootCmd.AddCommand(backfillCmd)
}
