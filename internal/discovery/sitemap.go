package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"canonical_validator/internal/models"
)

const (
	maxSitemapBytes = 50 << 20
	// child sitemaps of one index expanded at a time
	indexFanout = 5
)

var gzipMagic = []byte{0x1f, 0x8b}

type xmlLoc struct {
	Loc string `xml:"loc"`
}

// Expander walks sitemaps recursively and collects page URLs. It is scoped
// to a single analysis run: the visited set doubles as cycle detection and
// as a cache so no sitemap is fetched twice.
type Expander struct {
	client    *http.Client
	logger    *logrus.Logger
	userAgent string

	mu      sync.Mutex
	visited map[string]struct{}
	entries []models.SitemapEntry
}

func NewExpander(client *http.Client, logger *logrus.Logger, userAgent string) *Expander {
	return &Expander{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
		visited:   make(map[string]struct{}),
	}
}

// Entries reports every sitemap touched during expansion, with its final
// status and the number of page URLs it contributed.
func (e *Expander) Entries() []models.SitemapEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.SitemapEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Expand fetches one sitemap and returns the page URLs it (and, for an
// index, its children) declares. A sitemap already seen in this run is
// skipped and flagged as a cycle. Child failures degrade to flagged entries
// and never abort siblings.
func (e *Expander) Expand(ctx context.Context, sitemapURL string) ([]string, error) {
	if !e.markVisited(sitemapURL) {
		e.logger.WithField("sitemap", sitemapURL).Warn("sitemap already expanded in this run, skipping")
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapCycleSkipped})
		return nil, nil
	}

	body, err := e.fetch(ctx, sitemapURL)
	if err != nil {
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapError})
		return nil, err
	}

	if bytes.HasPrefix(body, gzipMagic) || strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") {
		body = gunzip(body)
	}

	switch {
	case looksLikeXML(body):
		return e.parseXML(ctx, sitemapURL, body)
	case looksLikeJSON(body):
		return e.parseJSON(sitemapURL, body)
	default:
		return e.parseText(sitemapURL, body)
	}
}

func (e *Expander) markVisited(sitemapURL string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.visited[sitemapURL]; ok {
		return false
	}
	e.visited[sitemapURL] = struct{}{}
	return true
}

func (e *Expander) record(entry models.SitemapEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
}

func (e *Expander) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %w", sitemapURL, models.ErrFetch)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %v: %w", sitemapURL, err, models.ErrFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s returned HTTP %d: %w", sitemapURL, resp.StatusCode, models.ErrFetch)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("sitemap %s: %v: %w", sitemapURL, err, models.ErrFetch)
	}
	return body, nil
}

// gunzip transparently decompresses; a payload that only pretends to be
// gzipped is returned as-is.
func gunzip(body []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return body
	}
	defer zr.Close()

	plain, err := io.ReadAll(io.LimitReader(zr, maxSitemapBytes))
	if err != nil {
		return body
	}
	return plain
}

func looksLikeXML(body []byte) bool {
	head := bytes.TrimSpace(firstBytes(body, 512))
	return bytes.HasPrefix(head, []byte("<?xml")) ||
		bytes.Contains(head, []byte("<urlset")) ||
		bytes.Contains(head, []byte("<sitemapindex"))
}

func looksLikeJSON(body []byte) bool {
	head := bytes.TrimSpace(firstBytes(body, 16))
	return len(head) > 0 && (head[0] == '{' || head[0] == '[')
}

func firstBytes(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// parseXML handles both <urlset> leaves and <sitemapindex> documents. Index
// children are expanded concurrently with a bounded fan-out.
func (e *Expander) parseXML(ctx context.Context, sitemapURL string, body []byte) ([]string, error) {
	root, err := rootElement(body)
	if err != nil {
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapError})
		return nil, fmt.Errorf("sitemap %s: %v: %w", sitemapURL, err, models.ErrParse)
	}

	switch root {
	case "urlset":
		var set struct {
			URLs []xmlLoc `xml:"url"`
		}
		if err := xml.Unmarshal(body, &set); err != nil {
			e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindXMLSitemap, Status: models.SitemapError})
			return nil, fmt.Errorf("sitemap %s: %v: %w", sitemapURL, err, models.ErrParse)
		}

		urls := make([]string, 0, len(set.URLs))
		for _, u := range set.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindXMLSitemap, Status: models.SitemapAvailable, URLCount: len(urls)})
		return urls, nil

	case "sitemapindex":
		var index struct {
			Sitemaps []xmlLoc `xml:"sitemap"`
		}
		if err := xml.Unmarshal(body, &index); err != nil {
			e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindXMLIndex, Status: models.SitemapError})
			return nil, fmt.Errorf("sitemap index %s: %v: %w", sitemapURL, err, models.ErrParse)
		}

		var (
			childMu sync.Mutex
			urls    []string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(indexFanout)
		for _, child := range index.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			g.Go(func() error {
				childURLs, err := e.Expand(gctx, loc)
				if err != nil {
					// partial result: the child is already flagged
					e.logger.WithFields(logrus.Fields{"sitemap": loc, "error": err}).Warn("child sitemap failed")
					return nil
				}
				childMu.Lock()
				urls = append(urls, childURLs...)
				childMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindXMLIndex, Status: models.SitemapAvailable, URLCount: len(urls)})
		return urls, nil

	default:
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapError})
		return nil, fmt.Errorf("sitemap %s: unexpected root element %q: %w", sitemapURL, root, models.ErrParse)
	}
}

// rootElement returns the local name of the first XML start element.
func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

// parseText reads one absolute URL per non-empty line. Malformed lines are
// counted and skipped, never fatal.
func (e *Expander) parseText(sitemapURL string, body []byte) ([]string, error) {
	var urls []string
	malformed := 0

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !validPageURL(line) {
			malformed++
			continue
		}
		urls = append(urls, line)
	}

	if malformed > 0 {
		e.logger.WithFields(logrus.Fields{
			"sitemap":   sitemapURL,
			"malformed": malformed,
		}).Warn("text sitemap contained malformed lines")
	}

	e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindTextSitemap, Status: models.SitemapAvailable, URLCount: len(urls)})
	return urls, nil
}

// parseJSON accepts the loose JSON sitemap shapes seen in the wild: a bare
// array of URL strings, an array of {loc} objects, or {"urls": [...]}.
func (e *Expander) parseJSON(sitemapURL string, body []byte) ([]string, error) {
	entry := func(items []json.RawMessage) []string {
		var urls []string
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				if validPageURL(strings.TrimSpace(s)) {
					urls = append(urls, strings.TrimSpace(s))
				}
				continue
			}
			var obj struct {
				Loc string `json:"loc"`
			}
			if err := json.Unmarshal(item, &obj); err == nil && validPageURL(strings.TrimSpace(obj.Loc)) {
				urls = append(urls, strings.TrimSpace(obj.Loc))
			}
		}
		return urls
	}

	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		urls := entry(list)
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapAvailable, URLCount: len(urls)})
		return urls, nil
	}

	var wrapper struct {
		URLs []json.RawMessage `json:"urls"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.URLs != nil {
		urls := entry(wrapper.URLs)
		e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapAvailable, URLCount: len(urls)})
		return urls, nil
	}

	e.record(models.SitemapEntry{URL: sitemapURL, Kind: models.KindUnknown, Status: models.SitemapError})
	return nil, fmt.Errorf("sitemap %s: unrecognized JSON shape: %w", sitemapURL, models.ErrParse)
}

func validPageURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
