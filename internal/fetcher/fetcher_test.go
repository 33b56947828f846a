package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canonical_validator/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestFetcher(maxRetries int) *Fetcher {
	f := New(NewClient(5*time.Second), testLogger(), "test-agent", maxRetries)
	f.backoff = time.Millisecond
	return f
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><link rel="canonical" href="https://example.com/"></head></html>`)
	}))
	defer server.Close()

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, server.URL, result.FinalURL)
	assert.Contains(t, result.Body, "canonical")
}

func TestFetchRetriesExhaustedOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, result.Err, models.ErrRetryExhausted)
	assert.Equal(t, http.StatusInternalServerError, result.HTTPStatus)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchRecoversAfterTransientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><head></head></html>")
	}))
	defer server.Close()

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchClientErrorIsTerminal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, result.Err, models.ErrFetch)
	assert.NotErrorIs(t, result.Err, models.ErrRetryExhausted)
	assert.Equal(t, http.StatusNotFound, result.HTTPStatus)
	assert.Equal(t, int32(1), hits.Load(), "4xx must not be retried")
}

func TestFetchUnsupportedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.4")
	}))
	defer server.Close()

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, result.Err, models.ErrUnsupportedContentType)
}

func TestFetchFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><head></head></html>")
	})

	result := newTestFetcher(3).Fetch(context.Background(), server.URL+"/old")
	require.NoError(t, result.Err)
	assert.Equal(t, server.URL+"/new", result.FinalURL)
	assert.Equal(t, server.URL+"/old", result.RequestedURL)
}

func TestFetchTooManyRedirects(t *testing.T) {
	var hop int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hop++
		http.Redirect(w, r, fmt.Sprintf("/hop-%d", hop), http.StatusFound)
	})

	result := newTestFetcher(3).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, result.Err, models.ErrTooManyRedirects)
}

func TestFetchTransportErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	result := newTestFetcher(2).Fetch(context.Background(), server.URL)
	assert.ErrorIs(t, result.Err, models.ErrRetryExhausted)
}

func TestFetchCanceledWhileRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := New(NewClient(5*time.Second), testLogger(), "test-agent", 3)
	f.backoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := f.Fetch(ctx, server.URL)
	assert.ErrorIs(t, result.Err, models.ErrNetwork)
}

func TestExtractCanonicals(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "single tag",
			body: `<html><head><link rel="canonical" href="https://example.com/page"></head><body></body></html>`,
			want: []string{"https://example.com/page"},
		},
		{
			name: "attribute order reversed",
			body: `<html><head><link href="https://example.com/page" rel="canonical"/></head></html>`,
			want: []string{"https://example.com/page"},
		},
		{
			name: "rel case insensitive",
			body: `<html><head><link rel="CANONICAL" href="https://example.com/page"></head></html>`,
			want: []string{"https://example.com/page"},
		},
		{
			name: "multiple tags preserved in order",
			body: `<html><head>
				<link rel="canonical" href="https://example.com/first">
				<link rel="canonical" href="https://example.com/second">
			</head></html>`,
			want: []string{"https://example.com/first", "https://example.com/second"},
		},
		{
			name: "missing href recorded as empty",
			body: `<html><head><link rel="canonical"></head></html>`,
			want: []string{""},
		},
		{
			name: "other link rels ignored",
			body: `<html><head><link rel="stylesheet" href="/style.css"><link rel="icon" href="/favicon.ico"></head></html>`,
			want: nil,
		},
		{
			name: "relative href kept verbatim",
			body: `<html><head><link rel="canonical" href="/about"></head></html>`,
			want: []string{"/about"},
		},
		{
			name: "no head",
			body: `<p>hello</p>`,
			want: nil,
		},
		{
			name: "empty body",
			body: "",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractCanonicals(tc.body)
			assert.Equal(t, tc.want, got.CanonicalURLs)
		})
	}
}
