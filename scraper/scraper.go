// Package scraper fetches configured pages and extracts their values.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/extractor"
	"github.com/aluiziolira/go-scrape-it/models"
	"github.com/google/uuid"
)

// Scraper ties pagination, fetching and extraction together for every
// configured URL.
type Scraper struct {
	doc       *config.Document
	fetcher   Fetcher
	extractor *extractor.Extractor
	Metrics   *Metrics
	logger    *slog.Logger
	sleep     sleepFunc

	fetcherOpts []FetcherOption
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(s *Scraper) { s.fetcher = f }
}

// WithFetcherOptions passes options to the default HTTP fetcher.
func WithFetcherOptions(opts ...FetcherOption) Option {
	return func(s *Scraper) { s.fetcherOpts = append(s.fetcherOpts, opts...) }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extractor.Extractor) Option {
	return func(s *Scraper) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithLogger sets the base logger; a run id is attached per run.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSleep replaces the function used for the inter-request delay.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scraper) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewScraper builds a scraper for a validated document.
func NewScraper(doc *config.Document, opts ...Option) (*Scraper, error) {
	if doc == nil {
		return nil, errors.New("config document is required")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	s := &Scraper{
		doc:       doc,
		extractor: extractor.New(),
		Metrics:   NewMetrics(),
		logger:    slog.Default(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		fetcherOpts := append([]FetcherOption{
			WithFetcherMetrics(s.Metrics),
			WithFetcherLogger(s.logger),
		}, s.fetcherOpts...)
		f, err := NewHTTPFetcher(&doc.Config, fetcherOpts...)
		if err != nil {
			return nil, fmt.Errorf("initialise fetcher: %w", err)
		}
		s.fetcher = f
	}
	return s, nil
}

// Run walks every configured URL in order and returns the extracted pages.
// A URL whose first page cannot be fetched aborts the run.
func (s *Scraper) Run(ctx context.Context) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := s.logger.With(slog.String("run_id", uuid.NewString()))
	targets := s.doc.Config.TargetURLs()
	pagination := s.doc.Config.Pagination

	logger.Info("starting scrape",
		slog.Int("urls", len(targets)),
		slog.Bool("pagination", pagination.Enabled()),
		slog.Bool("cache", s.doc.Config.CacheEnabled()),
	)

	result := &models.RunResult{StartTime: time.Now()}
	th := newThrottle(s.doc.Config.DelayDuration(), s.sleep)
	paginator := newPaginator(s.fetcher, pagination, s.extractor, th, logger)

	visit := func(_ context.Context, page Page) models.Value {
		value := s.extractor.Extract(page.Doc.Selection, s.doc.Data)
		s.Metrics.IncPages()
		logger.Debug("page extracted",
			slog.String("url", page.URL),
			slog.Int("page", page.Index),
		)
		return value
	}

	for i, target := range targets {
		logger.Info("scraping url",
			slog.Int("index", i+1),
			slog.Int("total", len(targets)),
			slog.String("url", target),
		)

		walk, err := paginator.Walk(ctx, target, visit)
		result.PageCount += walk.Fetched
		if err != nil {
			var fetchErr *FetchError
			if errors.As(err, &fetchErr) {
				result.FailedURLs = append(result.FailedURLs, fetchErr.URL)
			}
			s.finish(result)
			return result, fmt.Errorf("scrape %s: %w", target, err)
		}
		if walk.Warning != nil {
			result.Warnings = append(result.Warnings, walk.Warning.Error())
			var fetchErr *FetchError
			if errors.As(walk.Warning, &fetchErr) {
				result.FailedURLs = append(result.FailedURLs, fetchErr.URL)
			}
		}
		result.Pages = append(result.Pages, walk.Pages...)
	}

	s.finish(result)
	logger.Info("scrape complete",
		slog.Int("pages", result.PageCount),
		slog.Int("requests", result.RequestCount),
		slog.Int("cache_hits", result.CacheHits),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}

func (s *Scraper) finish(result *models.RunResult) {
	result.EndTime = time.Now()
	sp, ok := s.fetcher.(statsProvider)
	if !ok {
		return
	}
	stats := sp.Stats()
	result.RequestCount = stats.Requests
	result.CacheHits = stats.CacheHits
	result.RetryCount = stats.Retries
	result.ErrorCount = stats.Errors
	result.ErrorsByType = stats.ErrorsByType
}
