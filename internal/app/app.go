// Package app wires the audit pipeline together and drives the bounded
// worker pool that fetches and classifies every URL of a run.
package app

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"canonical_validator/internal/classifier"
	"canonical_validator/internal/config"
	"canonical_validator/internal/discovery"
	"canonical_validator/internal/fetcher"
	"canonical_validator/internal/models"
	"canonical_validator/internal/urlnorm"
)

// ProgressFunc is invoked once per completed URL, in completion order.
type ProgressFunc func(done, total int, rec models.ResultRecord)

// Auditor owns the resources of one analysis run: the shared HTTP client,
// the discovery components and the fetcher. Nothing it creates outlives the
// run; Close tears the connection pool down.
type Auditor struct {
	cfg        *config.Config
	logger     *logrus.Logger
	client     *http.Client
	discoverer *discovery.Discoverer
	expander   *discovery.Expander
	fetcher    *fetcher.Fetcher
}

func NewAuditor(cfg *config.Config, logger *logrus.Logger) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := fetcher.NewClient(time.Duration(cfg.TimeoutSec) * time.Second)
	return &Auditor{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		discoverer: discovery.NewDiscoverer(client, logger, cfg.UserAgent),
		expander:   discovery.NewExpander(client, logger, cfg.UserAgent),
		fetcher:    fetcher.New(client, logger, cfg.UserAgent, cfg.MaxRetries),
	}, nil
}

func (a *Auditor) Close() {
	a.client.CloseIdleConnections()
}

// DiscoverURLs resolves a domain to page URLs: robots.txt sitemaps first,
// the conventional sitemap locations when robots.txt declares none, then
// recursive expansion. Failing sitemaps degrade to flagged entries; sitemaps
// whose probe already failed are carried into the returned entries too.
func (a *Auditor) DiscoverURLs(ctx context.Context, domain string) ([]string, []models.SitemapEntry, error) {
	entries, err := a.discoverer.Discover(ctx, domain)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		a.logger.WithField("domain", domain).Info("no sitemaps in robots.txt, probing common locations")
		entries, err = a.discoverer.ProbeCommonLocations(ctx, domain)
		if err != nil {
			return nil, nil, err
		}
	}

	var urls []string
	var unavailable []models.SitemapEntry
	for _, entry := range entries {
		if entry.Status != models.SitemapAvailable {
			a.logger.WithField("sitemap", entry.URL).Warn("skipping unavailable sitemap")
			unavailable = append(unavailable, entry)
			continue
		}
		pageURLs, err := a.expander.Expand(ctx, entry.URL)
		if err != nil {
			a.logger.WithFields(logrus.Fields{"sitemap": entry.URL, "error": err}).Warn("sitemap expansion failed")
			continue
		}
		urls = append(urls, pageURLs...)
	}

	return urls, append(unavailable, a.expander.Entries()...), nil
}

// Dedup builds the working URL set under the run's normalization rules,
// dropping malformed entries. Original forms are preserved for reporting.
func (a *Auditor) Dedup(urls []string) []string {
	set := urlnorm.NewSet(a.cfg.Normalization)
	dropped := 0
	for _, u := range urls {
		if _, err := set.Add(u); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		a.logger.WithField("dropped", dropped).Warn("malformed URLs excluded from the run")
	}
	return set.URLs()
}

// Run audits every URL with a worker pool sized to the concurrency limit and
// streams ResultRecords on the returned channel in completion order. Exactly
// one record is emitted per URL. On cancellation no further URLs are
// admitted; in-flight fetches settle under their own timeout and their
// records remain valid.
func (a *Auditor) Run(ctx context.Context, urls []string, progress ProgressFunc) <-chan models.ResultRecord {
	results := make(chan models.ResultRecord)
	jobs := make(chan string)
	total := len(urls)

	go func() {
		defer close(jobs)
		for _, u := range urls {
			select {
			case <-ctx.Done():
				a.logger.Warn("run canceled, stopping task admission")
				return
			case jobs <- u:
			}
		}
	}()

	var wg sync.WaitGroup
	var completed int64
	for i := 0; i < a.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pageURL := range jobs {
				rec := a.auditOne(ctx, pageURL)
				done := int(atomic.AddInt64(&completed, 1))
				if progress != nil {
					progress(done, total, rec)
				}
				results <- rec
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Collect drains Run into a slice for callers that want the whole set.
func (a *Auditor) Collect(ctx context.Context, urls []string, progress ProgressFunc) []models.ResultRecord {
	records := make([]models.ResultRecord, 0, len(urls))
	for rec := range a.Run(ctx, urls, progress) {
		records = append(records, rec)
	}
	return records
}

func (a *Auditor) auditOne(ctx context.Context, pageURL string) models.ResultRecord {
	fr := a.fetcher.Fetch(ctx, pageURL)
	ex := fetcher.ExtractCanonicals(fr.Body)
	return classifier.Classify(fr, ex, a.cfg.Normalization)
}
