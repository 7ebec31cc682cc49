package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/trafficsync/internal/incident"
)

// maxErrorBody caps how much of an error response body is kept for diagnostics.
const maxErrorBody = 2048

// SocrataOptions configures the SODA3 fetcher. BaseURL is the full query
// endpoint (e.g. https://data.calgary.ca/api/v3/views/<id>/query.json).
type SocrataOptions struct {
	BaseURL    string
	AppToken   string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// SocrataFetcher implements PageFetcher over the SODA3 POST query API.
// Transport errors are surfaced immediately with no retry; a single
// per-request timeout is the only cancellation mechanism.
type SocrataFetcher struct {
	client  *http.Client
	opts    SocrataOptions
	limiter *rate.Limiter
}

// NewSocrata creates a SODA3 page fetcher with the given options.
func NewSocrata(opts SocrataOptions) *SocrataFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst == 0 {
		opts.Burst = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "trafficsync/1.0"
	}
	return &SocrataFetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
	}
}

// pageRequest is the SODA3 query envelope.
type pageRequest struct {
	Query string   `json:"query"`
	Page  pageSpec `json:"page"`
}

type pageSpec struct {
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
}

// FetchPage posts the query for one page and decodes the row payload. The
// endpoint answers with either a bare JSON array or an envelope with a "data"
// key; both shapes are accepted.
func (f *SocrataFetcher) FetchPage(ctx context.Context, soql string, page, pageSize int) ([]incident.RawRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limit wait")
	}

	body, err := json.Marshal(pageRequest{
		Query: soql,
		Page:  pageSpec{PageNumber: page, PageSize: pageSize},
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if f.opts.AppToken != "" {
		req.Header.Set("X-App-Token", f.opts.AppToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: POST page %d", page)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		zap.L().Error("upstream error",
			zap.Int("status", resp.StatusCode),
			zap.Int("page", page),
			zap.String("body", string(snippet)),
		)
		return nil, &TransportError{Status: resp.StatusCode, Body: string(snippet)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read page %d", page)
	}

	return decodeRows(payload)
}

func decodeRows(payload []byte) ([]incident.RawRecord, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, eris.New("fetcher: empty response body")
	}

	if trimmed[0] == '[' {
		var rows []incident.RawRecord
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, eris.Wrap(err, "fetcher: decode row array")
		}
		return rows, nil
	}

	var envelope struct {
		Data []incident.RawRecord `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode response envelope")
	}
	if envelope.Data == nil {
		return nil, eris.New("fetcher: unexpected response shape: no data key")
	}
	return envelope.Data, nil
}
