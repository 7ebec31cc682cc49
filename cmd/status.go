package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trafficsync/internal/ingest"
	"github.com/sells-group/trafficsync/internal/store"
)

type pipelineStatus struct {
	Watermark      *time.Time      `yaml:"watermark"`
	LatestSnapshot string          `yaml:"latest_snapshot"`
	RecentLoads    []store.LoadJob `yaml:"recent_loads"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark, latest snapshot, and recent loads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var status pipelineStatus

		wm, err := ingest.NewWatermarkStore(cfg.State.WatermarkPath).Read()
		if err != nil {
			return err
		}
		status.Watermark = wm

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		latest, err := st.LatestSnapshotID(ctx)
		if err != nil && !eris.Is(err, store.ErrNoSnapshots) {
			return err
		}
		status.LatestSnapshot = latest

		jobs, err := st.ListLoadJobs(ctx, 10)
		if err != nil {
			return err
		}
		status.RecentLoads = jobs

		format, _ := cmd.Flags().GetString("output")
		if format == "yaml" {
			out, err := yaml.Marshal(status)
			if err != nil {
				return eris.Wrap(err, "status: marshal")
			}
			fmt.Print(string(out))
			return nil
		}

		if status.Watermark != nil {
			fmt.Printf("watermark:       %s\n", status.Watermark.Format(time.RFC3339Nano))
		} else {
			fmt.Println("watermark:       (none)")
		}
		if status.LatestSnapshot != "" {
			fmt.Printf("latest snapshot: %s\n", status.LatestSnapshot)
		} else {
			fmt.Println("latest snapshot: (none)")
		}
		fmt.Printf("recent loads:    %d\n", len(status.RecentLoads))
		for _, j := range status.RecentLoads {
			fmt.Printf("  %s  %-6s %-16s %8d rows  %s\n",
				j.LoadedAt.Format("2006-01-02 15:04:05"), j.Layer, j.Table, j.Rows, j.SnapshotID)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}
