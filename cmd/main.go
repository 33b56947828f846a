package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"canonical_validator/internal/app"
	"canonical_validator/internal/config"
	"canonical_validator/internal/models"
	"canonical_validator/internal/report"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to yaml config (defaults used when empty)")
		domain     = flag.String("domain", "", "domain to discover URLs for via robots.txt sitemaps")
		urlsPath   = flag.String("urls", "", "file with newline-delimited URLs to audit")
		outPrefix  = flag.String("out", "results", "output file prefix")
		format     = flag.String("format", "csv", "export format: csv, excel, json or all")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}

	if *domain == "" && *urlsPath == "" {
		logger.Fatal("nothing to audit: provide -domain and/or -urls")
	}

	auditor, err := app.NewAuditor(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	defer auditor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var urls []string

	if *domain != "" {
		discovered, entries, err := auditor.DiscoverURLs(ctx, *domain)
		if err != nil {
			logger.WithError(err).Fatal("sitemap discovery failed")
		}
		for _, entry := range entries {
			logger.WithFields(logrus.Fields{
				"sitemap": entry.URL,
				"kind":    entry.Kind,
				"status":  entry.Status,
				"urls":    entry.URLCount,
			}).Info("sitemap processed")
		}
		urls = append(urls, discovered...)
	}

	if *urlsPath != "" {
		manual, err := readManualURLs(*urlsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to read URL file")
		}
		urls = append(urls, manual...)
	}

	urls = auditor.Dedup(urls)
	if len(urls) == 0 {
		logger.Fatal("no valid URLs to audit")
	}
	logger.WithField("urls", len(urls)).Info("starting audit")

	records := auditor.Collect(ctx, urls, func(done, total int, rec models.ResultRecord) {
		logger.WithFields(logrus.Fields{
			"progress": fmt.Sprintf("%d/%d", done, total),
			"url":      rec.URL,
			"status":   rec.Status,
		}).Debug("url audited")
	})

	if err := export(*format, *outPrefix, records); err != nil {
		logger.WithError(err).Fatal("export failed")
	}

	summary := report.Summarize(records)
	fields := logrus.Fields{"total": summary.Total, "avg_response_ms": summary.AvgResponseMS}
	for status, count := range summary.ByStatus {
		fields[strings.ToLower(string(status))] = count
	}
	logger.WithFields(fields).Info("audit finished")

	if ctx.Err() != nil {
		logger.Warn("run was canceled; results are partial")
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

// readManualURLs loads a newline-delimited URL list. Malformed lines are
// dropped with a warning, not fatal.
func readManualURLs(path string, logger *logrus.Logger) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			logger.WithField("line", line).Warn("dropping malformed URL")
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func export(format, prefix string, records []models.ResultRecord) error {
	write := func(suffix string, fn func(f *os.File) error) error {
		f, err := os.Create(prefix + suffix)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	switch format {
	case "csv":
		return write(".csv", func(f *os.File) error { return report.WriteCSV(f, records) })
	case "excel":
		return write(".xlsx", func(f *os.File) error { return report.WriteExcel(f, records) })
	case "json":
		return write(".json", func(f *os.File) error { return report.WriteJSON(f, records) })
	case "all":
		if err := write(".csv", func(f *os.File) error { return report.WriteCSV(f, records) }); err != nil {
			return err
		}
		if err := write(".xlsx", func(f *os.File) error { return report.WriteExcel(f, records) }); err != nil {
			return err
		}
		return write(".json", func(f *os.File) error { return report.WriteJSON(f, records) })
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
