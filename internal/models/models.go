package models

import "errors"

// Status is the final classification of one audited URL.
type Status string

const (
	StatusMatch    Status = "Match"
	StatusMismatch Status = "Mismatch"
	StatusMissing  Status = "Missing"
	StatusMultiple Status = "Multiple"
	StatusEmpty    Status = "Empty"
	StatusError    Status = "Error"
)

// SitemapKind is a lightweight hint about a sitemap's payload format,
// determined by a probe before full parsing.
type SitemapKind string

const (
	KindXMLSitemap  SitemapKind = "XML Sitemap"
	KindXMLIndex    SitemapKind = "XML Index"
	KindTextSitemap SitemapKind = "Text Sitemap"
	KindUnknown     SitemapKind = "Unknown"
)

// SitemapStatus reflects what happened to a sitemap during discovery/expansion.
type SitemapStatus string

const (
	SitemapAvailable    SitemapStatus = "Available"
	SitemapError        SitemapStatus = "Error"
	SitemapCycleSkipped SitemapStatus = "Cycle Skipped"
)

// SitemapEntry describes one sitemap seen during discovery. Immutable once
// produced; entries for erroring sitemaps carry URLCount 0.
type SitemapEntry struct {
	URL      string
	Kind     SitemapKind
	Status   SitemapStatus
	URLCount int
}

// NormalizationConfig holds the URL comparison rules for one analysis run.
type NormalizationConfig struct {
	ForceHTTPS         bool `yaml:"force_https"`
	StripTrailingSlash bool `yaml:"strip_trailing_slash"`
	IgnoreQueryParams  bool `yaml:"ignore_query_params"`
	CaseSensitivePath  bool `yaml:"case_sensitive_path"`
}

// FetchResult is the outcome of fetching one page, produced once per URL
// after retries are exhausted or the fetch succeeded.
type FetchResult struct {
	RequestedURL string
	FinalURL     string
	HTTPStatus   int // 0 when no response was received
	ElapsedMS    int64
	Body         string
	Err          error
}

// CanonicalExtraction holds every canonical href found in a page body,
// in document order. Hrefs are kept verbatim, including empty values.
type CanonicalExtraction struct {
	CanonicalURLs []string
}

// ResultRecord is the terminal, immutable record for one audited URL.
type ResultRecord struct {
	URL            string
	FinalURL       string
	CanonicalURL   string
	Status         Status
	HTTPStatus     int
	ErrorDetail    string
	ResponseTimeMS int64
}

// Error kinds carried by pipeline failures. Wrapped with %w so callers can
// test with errors.Is.
var (
	ErrMalformedURL           = errors.New("malformed URL")
	ErrRobotsUnavailable      = errors.New("robots.txt unavailable")
	ErrNetwork                = errors.New("network error")
	ErrFetch                  = errors.New("fetch failed")
	ErrParse                  = errors.New("sitemap parse failed")
	ErrTooManyRedirects       = errors.New("too many redirects")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrRetryExhausted         = errors.New("retries exhausted")
)
