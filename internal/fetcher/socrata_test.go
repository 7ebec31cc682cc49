package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(url string) *SocrataFetcher {
	return NewSocrata(SocrataOptions{
		BaseURL:    url,
		AppToken:   "secret-token",
		RatePerSec: 1000,
		Burst:      1000,
	})
}

func TestFetchPage_ArrayResponse(t *testing.T) {
	var gotBody pageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret-token", r.Header.Get("X-App-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	rows, err := newTestFetcher(srv.URL).FetchPage(context.Background(), "SELECT id", 3, 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["id"])

	assert.Equal(t, "SELECT id", gotBody.Query)
	assert.Equal(t, 3, gotBody.Page.PageNumber)
	assert.Equal(t, 50, gotBody.Page.PageSize)
}

func TestFetchPage_EnvelopeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"x"}],"meta":{"total":1}}`))
	}))
	defer srv.Close()

	rows, err := newTestFetcher(srv.URL).FetchPage(context.Background(), "q", 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["id"])
}

func TestFetchPage_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	rows, err := newTestFetcher(srv.URL).FetchPage(context.Background(), "q", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFetchPage_TransportErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "query malformed", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL).FetchPage(context.Background(), "q", 1, 10)
	require.Error(t, err)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusBadRequest, terr.Status)
	assert.Contains(t, terr.Body, "query malformed")
	assert.Equal(t, int32(1), calls.Load(), "transport errors must not be retried")
}

func TestFetchPage_UnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL).FetchPage(context.Background(), "q", 1, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response shape")
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher(srv.URL).FetchPage(ctx, "q", 1, 10)
	require.Error(t, err)
}
