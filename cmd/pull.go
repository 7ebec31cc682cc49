package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trafficsync/internal/ingest"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Incremental pull of rows changed since the watermark",
	Long: `Pull rows whose source update time is after the persisted watermark
(or an explicit --since override) into a fresh bronze snapshot file.

The watermark advances only after a run that wrote at least one row; a
zero-row run leaves it untouched and skips the optional load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "pull"))

		wm := ingest.NewWatermarkStore(cfg.State.WatermarkPath)

		sinceStr, _ := cmd.Flags().GetString("since")
		var since time.Time
		if sinceStr != "" {
			t, err := time.Parse(time.RFC3339, sinceStr)
			if err != nil {
				return eris.Wrapf(err, "parse --since %q", sinceStr)
			}
			since = t.UTC()
		} else {
			t, err := wm.Read()
			if err != nil {
				return err
			}
			if t == nil {
				return eris.New("no watermark on file: run a backfill first or pass --since")
			}
			since = *t
		}

		pageSize, _ := cmd.Flags().GetInt("page-size")
		maxPages, _ := cmd.Flags().GetInt("max-pages")
		outPath, _ := cmd.Flags().GetString("out")

		snapshotID, outPath, res, err := executeSnapshot(ctx, snapshotRun{
			query:    ingest.IncrementalQuery(since),
			runType:  cfg.Ingest.PullRunType,
			outPath:  outPath,
			pageSize: pageSize,
			maxPages: maxPages,
		})
		if err != nil {
			return eris.Wrap(err, "pull")
		}

		if res.Rows > 0 && res.MaxSourceUpdated != nil {
			if err := wm.Write(*res.MaxSourceUpdated); err != nil {
				return err
			}
			log.Info("watermark advanced", zap.Time("watermark", *res.MaxSourceUpdated))
		}

		doLoad, _ := cmd.Flags().GetBool("load")
		doMerge, _ := cmd.Flags().GetBool("merge")
		if doLoad {
			if res.Rows == 0 {
				log.Info("no rows pulled, skipping load", zap.String("snapshot_id", snapshotID))
			} else {
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close()

				if _, _, err := loadFile(ctx, st, outPath); err != nil {
					return eris.Wrap(err, "pull")
				}
				if doMerge {
					if _, err := mergeSnapshot(ctx, st, snapshotID); err != nil {
						return eris.Wrap(err, "pull")
					}
				}
			}
		}

		return printPullSummary(snapshotID, outPath, res)
	},
}

func init() {
	pullCmd.Flags().String("since", "", "override the watermark with an RFC 3339 instant")
	pullCmd.Flags().Int("page-size", 0, "rows per page (default from config)")
	pullCmd.Flags().Int("max-pages", 0, "page cap per run (default from config)")
	pullCmd.Flags().String("out", "", "bronze NDJSON output path (default bronze/<snapshot>.ndjson)")
	pullCmd.Flags().Bool("load", false, "load the snapshot into the bronze table")
	pullCmd.Flags().Bool("merge", false, "merge into the silver table after loading (requires --load)")
	rootCmd.AddCommand(pullCmd)
}

type pullSummary struct {
	SnapshotID string             `yaml:"snapshot_id"`
	Out        string             `yaml:"out"`
	Result     *ingest.PullResult `yaml:"result"`
}

func printPullSummary(snapshotID, outPath string, res *ingest.PullResult) error {
	out, err := yaml.Marshal(pullSummary{SnapshotID: snapshotID, Out: outPath, Result: res})
	if err != nil {
		return eris.Wrap(err, "marshal summary")
	}
	fmt.Print(string(out))
	return nil
}
