// Package urlnorm rewrites URLs into a comparable form under a configurable
// rule set and keeps a deduplicated working set keyed by that form.
package urlnorm

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"canonical_validator/internal/models"
)

// Normalize applies the comparison rules in order: parse, force-https,
// lowercase host (and path when case-insensitive), strip one trailing slash,
// drop the fragment, drop or sort the query. Two URLs are equivalent iff
// their normalized forms are identical strings.
func Normalize(raw string, cfg models.NormalizationConfig) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, models.ErrMalformedURL)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%q is not an absolute http(s) URL: %w", raw, models.ErrMalformedURL)
	}

	if cfg.ForceHTTPS {
		u.Scheme = "https"
	}

	u.Host = strings.ToLower(u.Host)
	if !cfg.CaseSensitivePath {
		u.Path = strings.ToLower(u.Path)
	}

	if cfg.StripTrailingSlash && u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if cfg.IgnoreQueryParams {
		u.RawQuery = ""
	} else if u.RawQuery != "" {
		// Encode sorts keys, so parameter order never affects equality.
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// ResolveAgainst resolves a possibly relative, protocol-relative or
// scheme-less reference against a base URL (the page's final URL).
func ResolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("base %q: %w", base, models.ErrMalformedURL)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("ref %q: %w", ref, models.ErrMalformedURL)
	}
	return b.ResolveReference(r).String(), nil
}

// Set is a deduplicating URL collection. Membership is decided by the
// normalized form; URLs() reports the original form of the first occurrence,
// in insertion order. A rule change requires building a new Set.
type Set struct {
	cfg   models.NormalizationConfig
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func NewSet(cfg models.NormalizationConfig) *Set {
	return &Set{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
}

// Add inserts raw into the set. It reports whether the URL was new; a
// malformed URL is rejected with an error and leaves the set unchanged.
func (s *Set) Add(raw string) (bool, error) {
	key, err := Normalize(raw, s.cfg)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, strings.TrimSpace(raw))
	return true, nil
}

func (s *Set) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
