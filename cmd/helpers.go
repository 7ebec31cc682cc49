package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trafficsync/internal/bronze"
	"github.com/sells-group/trafficsync/internal/fetcher"
	"github.com/sells-group/trafficsync/internal/ingest"
	"github.com/sells-group/trafficsync/internal/silver"
	"github.com/sells-group/trafficsync/internal/store"
)

// snapshotRun is one bounded extraction: a query executed under a fresh
// snapshot identity, streamed to an NDJSON file.
type snapshotRun struct {
	query    ingest.Query
	runType  string
	outPath  string
	pageSize int
	maxPages int
}

// executeSnapshot runs the page loop for one snapshot and returns the
// snapshot id, the output path actually written, and the run summary.
func executeSnapshot(ctx context.Context, run snapshotRun) (string, string, *ingest.PullResult, error) {
	if cfg.API.BaseURL == "" {
		return "", "", nil, eris.New("api.base_url is not configured")
	}
	if run.pageSize <= 0 {
		run.pageSize = cfg.Ingest.PageSize
	}
	if run.maxPages <= 0 {
		run.maxPages = cfg.Ingest.MaxPages
	}

	policy, err := ingest.ParseInvalidRowPolicy(cfg.Ingest.InvalidRows)
	if err != nil {
		return "", "", nil, err
	}

	now := time.Now().UTC()
	snapshotID, err := ingest.NewSnapshotID(now, run.runType, run.query.Name)
	if err != nil {
		return "", "", nil, err
	}

	outPath := run.outPath
	if outPath == "" {
		outPath = filepath.Join("bronze", snapshotID+".ndjson")
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", nil, eris.Wrapf(err, "create output dir %s", dir)
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return "", "", nil, eris.Wrapf(err, "create output file %s", outPath)
	}

	soda := fetcher.NewSocrata(fetcher.SocrataOptions{
		BaseURL:    cfg.API.BaseURL,
		AppToken:   cfg.API.AppToken,
		Timeout:    cfg.API.Timeout(),
		RatePerSec: cfg.API.RatePerSec,
		Burst:      cfg.API.Burst,
	})
	puller := ingest.NewPuller(soda, policy)

	meta := bronze.RunMeta{
		SnapshotID: snapshotID,
		SnapshotTS: now,
		RunType:    run.runType,
		QueryName:  run.query.Name,
	}

	res, runErr := puller.Run(ctx, run.query, meta, bronze.NewWriter(f), run.pageSize, run.maxPages)
	if closeErr := f.Close(); closeErr != nil && runErr == nil {
		runErr = eris.Wrapf(closeErr, "close output file %s", outPath)
	}
	if runErr != nil {
		return snapshotID, outPath, nil, runErr
	}
	return snapshotID, outPath, res, nil
}

// openStore connects to the configured backend and ensures the schema exists.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// loadFile re-reads an NDJSON file through the strict bronze gate and loads
// it atomically. The file must exist and be non-empty.
func loadFile(ctx context.Context, st store.Store, path string) ([]bronze.Record, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "stat bronze file %s", path)
	}
	if info.Size() == 0 {
		return nil, 0, eris.Errorf("bronze file %s is empty", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "open bronze file %s", path)
	}
	defer f.Close()

	recs, err := bronze.ReadAll(f)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "read bronze file %s", path)
	}

	n, err := st.LoadBronze(ctx, recs)
	if err != nil {
		return nil, 0, err
	}
	zap.L().Info("bronze load complete",
		zap.String("file", path),
		zap.Int64("rows", n),
	)
	return recs, n, nil
}

// mergeSnapshot reconciles one loaded snapshot into the silver table.
func mergeSnapshot(ctx context.Context, st store.Store, snapshotID string) (*silver.MergeStats, error) {
	return silver.NewMerger(st).Merge(ctx, snapshotID)
}
