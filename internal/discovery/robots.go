// Package discovery finds candidate page URLs for an audit: it reads sitemap
// locations out of robots.txt and expands sitemaps (including recursive
// indexes) into page URL sets.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"canonical_validator/internal/models"
)

// commonSitemapPaths are probed when robots.txt declares no sitemaps.
var commonSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
	"/sitemap.txt",
	"/sitemap",
}

type Discoverer struct {
	client    *http.Client
	logger    *logrus.Logger
	userAgent string
}

func NewDiscoverer(client *http.Client, logger *logrus.Logger, userAgent string) *Discoverer {
	return &Discoverer{client: client, logger: logger, userAgent: userAgent}
}

// BaseURL canonicalizes a free-form domain input (bare domain, with scheme,
// with trailing slash) to scheme://host.
func BaseURL(domain string) (*url.URL, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("empty domain: %w", models.ErrMalformedURL)
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("domain %q: %w", domain, models.ErrMalformedURL)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Discover fetches robots.txt for the domain and returns one probed
// SitemapEntry per Sitemap directive. https is tried first, then http.
// A robots.txt without Sitemap lines yields an empty, non-error result.
func (d *Discoverer) Discover(ctx context.Context, domain string) ([]models.SitemapEntry, error) {
	base, err := BaseURL(domain)
	if err != nil {
		return nil, err
	}

	body, base, err := d.fetchRobots(ctx, base)
	if err != nil {
		return nil, err
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", base.Host, models.ErrRobotsUnavailable)
	}

	entries := make([]models.SitemapEntry, 0, len(data.Sitemaps))
	for _, loc := range data.Sitemaps {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		if !strings.HasPrefix(loc, "http://") && !strings.HasPrefix(loc, "https://") {
			if ref, err := url.Parse(loc); err == nil {
				loc = base.ResolveReference(ref).String()
			}
		}
		entries = append(entries, d.probe(ctx, loc))
	}

	d.logger.WithFields(logrus.Fields{
		"domain":   base.Host,
		"sitemaps": len(entries),
	}).Info("robots.txt discovery finished")
	return entries, nil
}

// ProbeCommonLocations checks the conventional sitemap paths for the domain
// and returns entries for the ones that answer. Used by callers when
// Discover comes back empty.
func (d *Discoverer) ProbeCommonLocations(ctx context.Context, domain string) ([]models.SitemapEntry, error) {
	base, err := BaseURL(domain)
	if err != nil {
		return nil, err
	}

	var entries []models.SitemapEntry
	for _, path := range commonSitemapPaths {
		entry := d.probe(ctx, base.String()+path)
		if entry.Status == models.SitemapAvailable {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// fetchRobots tries https://host/robots.txt and falls back to http.
func (d *Discoverer) fetchRobots(ctx context.Context, base *url.URL) ([]byte, *url.URL, error) {
	schemes := []string{base.Scheme}
	if base.Scheme == "https" {
		schemes = append(schemes, "http")
	}

	var lastErr error
	for _, scheme := range schemes {
		attempt := &url.URL{Scheme: scheme, Host: base.Host}
		robotsURL := attempt.String() + "/robots.txt"

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", robotsURL, models.ErrNetwork)
			continue
		}
		req.Header.Set("User-Agent", d.userAgent)

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.WithFields(logrus.Fields{"url": robotsURL, "error": err}).Warn("robots.txt fetch failed")
			lastErr = fmt.Errorf("%s: %v: %w", robotsURL, err, models.ErrNetwork)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("%s returned HTTP %d: %w", robotsURL, resp.StatusCode, models.ErrRobotsUnavailable)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%s: %v: %w", robotsURL, err, models.ErrNetwork)
			continue
		}
		return body, attempt, nil
	}
	return nil, nil, lastErr
}

// probe makes a lightweight HEAD request (falling back to a ranged GET) to
// decide whether a sitemap answers and what format it looks like.
func (d *Discoverer) probe(ctx context.Context, sitemapURL string) models.SitemapEntry {
	entry := models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapError}

	contentType, ok := d.probeRequest(ctx, http.MethodHead, sitemapURL)
	if !ok {
		contentType, ok = d.probeRequest(ctx, http.MethodGet, sitemapURL)
	}
	if !ok {
		return entry
	}

	entry.Status = models.SitemapAvailable
	entry.Kind = guessKind(sitemapURL, contentType)
	return entry
}

func (d *Discoverer) probeRequest(ctx context.Context, method, target string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", d.userAgent)
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-511")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 400 {
		return "", false
	}
	return resp.Header.Get("Content-Type"), true
}

func guessKind(sitemapURL, contentType string) models.SitemapKind {
	lowerURL := strings.ToLower(sitemapURL)
	lowerType := strings.ToLower(contentType)

	switch {
	case strings.Contains(lowerType, "xml") || strings.HasSuffix(lowerURL, ".xml"):
		if hasIndexFileName(lowerURL) {
			return models.KindXMLIndex
		}
		return models.KindXMLSitemap
	case strings.Contains(lowerType, "text/plain") || strings.HasSuffix(lowerURL, ".txt"):
		return models.KindTextSitemap
	default:
		return models.KindUnknown
	}
}

// hasIndexFileName matches only the conventional index file names; the kind
// here is a probe-time hint and expansion records the parsed kind.
func hasIndexFileName(lowerURL string) bool {
	name := lowerURL
	if u, err := url.Parse(lowerURL); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)
	name = strings.TrimSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".xml")

	switch name {
	case "sitemap_index", "sitemap-index", "sitemapindex", "index":
		return true
	}
	return false
}
