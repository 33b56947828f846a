// Package fetcher performs the per-page HTTP GET with retry and timeout
// policy and extracts canonical link declarations from the response body.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"canonical_validator/internal/models"
)

const (
	maxRedirectHops = 10
	maxBodyBytes    = 20 << 20
	defaultBackoff  = time.Second
)

// NewClient builds the HTTP client shared by all workers of one run. The
// connection pool amortizes handshakes across requests; redirects are
// followed up to maxRedirectHops.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirectHops {
				return models.ErrTooManyRedirects
			}
			return nil
		},
	}
}

type Fetcher struct {
	client     *http.Client
	logger     *logrus.Logger
	userAgent  string
	maxRetries int
	backoff    time.Duration
}

func New(client *http.Client, logger *logrus.Logger, userAgent string, maxRetries int) *Fetcher {
	return &Fetcher{
		client:     client,
		logger:     logger,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		backoff:    defaultBackoff,
	}
}

// Fetch issues a GET for the page and returns a FetchResult once the attempt
// state machine settles: success, a terminal failure (4xx, redirect loop,
// non-HTML payload), or retries exhausted. Transport errors and HTTP >=500
// are retried with linear backoff; the run context only interrupts waiting
// between attempts, never a request already in flight.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) models.FetchResult {
	start := time.Now()
	result := models.FetchResult{RequestedURL: pageURL, FinalURL: pageURL}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			if err := f.wait(ctx, attempt-1); err != nil {
				result.ElapsedMS = time.Since(start).Milliseconds()
				result.Err = fmt.Errorf("canceled while retrying %s: %w", pageURL, models.ErrNetwork)
				return result
			}
		}

		done := f.attempt(pageURL, &result)
		result.ElapsedMS = time.Since(start).Milliseconds()
		if done {
			return result
		}
		lastErr = result.Err

		f.logger.WithFields(logrus.Fields{
			"url":     pageURL,
			"attempt": attempt,
			"error":   lastErr,
		}).Warn("fetch attempt failed, will retry")
		result.Err = nil
	}

	result.ElapsedMS = time.Since(start).Milliseconds()
	result.Err = fmt.Errorf("%s after %d attempts (%v): %w", pageURL, f.maxRetries, lastErr, models.ErrRetryExhausted)
	return result
}

// attempt runs one GET. done means the result is final (success or a
// terminal failure); otherwise result.Err holds the retryable cause.
func (f *Fetcher) attempt(pageURL string, result *models.FetchResult) (done bool) {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		result.Err = fmt.Errorf("%s: %v: %w", pageURL, err, models.ErrMalformedURL)
		return true
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, models.ErrTooManyRedirects) {
			result.Err = fmt.Errorf("%s: %w", pageURL, models.ErrTooManyRedirects)
			return true
		}
		result.Err = fmt.Errorf("%s: %v: %w", pageURL, err, models.ErrNetwork)
		return false
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	if resp.StatusCode >= 500 {
		result.Err = fmt.Errorf("%s returned HTTP %d: %w", pageURL, resp.StatusCode, models.ErrFetch)
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Err = fmt.Errorf("%s returned HTTP %d: %w", pageURL, resp.StatusCode, models.ErrFetch)
		return true
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		result.Err = fmt.Errorf("%s served %q: %w", pageURL, contentType, models.ErrUnsupportedContentType)
		return true
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), contentType)
	if err != nil {
		reader = io.LimitReader(resp.Body, maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		result.Err = fmt.Errorf("%s body read: %v: %w", pageURL, err, models.ErrNetwork)
		return false
	}

	result.Body = string(body)
	result.Err = nil
	return true
}

func (f *Fetcher) wait(ctx context.Context, n int) error {
	timer := time.NewTimer(time.Duration(n) * f.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isHTML accepts text/html and application/xhtml+xml; an absent Content-Type
// header is tolerated and sniffed by the parser instead.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// ExtractCanonicals returns every <link rel="canonical"> href in the
// document head, in document order. Matching is case-insensitive on the rel
// value and tolerant of attribute order and whitespace; hrefs are kept
// verbatim (a missing or blank href is recorded as an empty string so the
// classifier can flag it).
func ExtractCanonicals(body string) models.CanonicalExtraction {
	extraction := models.CanonicalExtraction{}
	if body == "" {
		return extraction
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return extraction
	}

	doc.Find("head link").Each(func(_ int, s *goquery.Selection) {
		rel, ok := s.Attr("rel")
		if !ok || !strings.EqualFold(strings.TrimSpace(rel), "canonical") {
			return
		}
		href := s.AttrOr("href", "")
		extraction.CanonicalURLs = append(extraction.CanonicalURLs, href)
	})
	return extraction
}
