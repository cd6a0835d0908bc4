package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/gocolly/colly/v2"
)

const (
	ctxKeyBody   = "body"
	ctxKeyStatus = "status"
)

// Fetcher resolves a URL into markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchStats is a snapshot of fetcher counters.
type FetchStats struct {
	Requests     int
	CacheHits    int
	Retries      int
	Errors       int
	ErrorsByType map[string]int
}

type statsProvider interface {
	Stats() FetchStats
}

// HTTPFetcher fetches pages through a colly collector, consulting the disk
// cache first and retrying failures with exponential backoff. Calls are
// expected to be sequential.
type HTTPFetcher struct {
	cfg       *config.RequestConfig
	collector *colly.Collector
	cache     *DiskCache
	metrics   *Metrics
	logger    *slog.Logger
	sleep     sleepFunc

	requests  int64
	cacheHits int64
	retries   int64
	errors    int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// FetcherOption customises an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTransport replaces the HTTP transport, e.g. with a mock in tests.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *HTTPFetcher) {
		if rt != nil {
			f.collector.WithTransport(rt)
		}
	}
}

// WithFetcherMetrics records request metrics on m.
func WithFetcherMetrics(m *Metrics) FetcherOption {
	return func(f *HTTPFetcher) { f.metrics = m }
}

// WithFetcherLogger sets the logger used for retry and cache diagnostics.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBackoffSleep replaces the function used to wait between attempts.
func WithBackoffSleep(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *HTTPFetcher) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

// NewHTTPFetcher builds a fetcher from the request settings.
func NewHTTPFetcher(cfg *config.RequestConfig, opts ...FetcherOption) (*HTTPFetcher, error) {
	if cfg == nil {
		return nil, errors.New("request config is required")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.TimeoutDuration())

	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}
	collector.WithTransport(&http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   cfg.TimeoutDuration(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		}
	})

	f := &HTTPFetcher{
		cfg:          cfg,
		collector:    collector,
		logger:       slog.Default(),
		sleep:        sleepContext,
		errorsByType: make(map[string]int),
	}
	if cfg.CacheEnabled() {
		f.cache = &DiskCache{Dir: cfg.CacheDir}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the markup for target, from the cache when enabled and
// present, otherwise from the network.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) (string, error) {
	if body, ok := f.loadCached(target); ok {
		return body, nil
	}

	attempts := f.cfg.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := f.backoff(attempt - 1)
			atomic.AddInt64(&f.retries, 1)
			f.metrics.IncRetries()
			f.logger.Warn("retrying request",
				slog.String("url", target),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
				slog.Duration("backoff", delay),
				slog.Any("error", lastErr),
			)
			if err := f.sleep(ctx, delay); err != nil {
				return "", &FetchError{URL: target, Attempts: attempt - 1, Err: err}
			}
		}

		body, err := f.fetchOnce(ctx, target)
		if err == nil {
			f.storeCached(target, body)
			return body, nil
		}
		lastErr = err
		f.recordError(target, err)
		if ctx.Err() != nil {
			return "", &FetchError{URL: target, Attempts: attempt, Err: err}
		}
	}
	return "", &FetchError{URL: target, Attempts: attempts, Err: lastErr}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reqCtx := colly.NewContext()
	hdr := make(http.Header, len(f.cfg.Headers))
	for name, value := range f.cfg.Headers {
		hdr[name] = []string{value}
	}

	atomic.AddInt64(&f.requests, 1)
	start := time.Now()
	err := f.collector.Request(http.MethodGet, target, nil, reqCtx, hdr)
	f.metrics.ObserveDuration(time.Since(start))

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	if err != nil {
		f.metrics.IncRequest("failure")
		return "", classifyError(err, status)
	}
	if failure := classifyError(nil, status); failure != nil {
		f.metrics.IncRequest("failure")
		return "", failure
	}
	body, ok := reqCtx.GetAny(ctxKeyBody).([]byte)
	if !ok {
		f.metrics.IncRequest("failure")
		return "", ErrConnection{Err: errors.New("no response received")}
	}
	f.metrics.IncRequest("success")
	return string(body), nil
}

func (f *HTTPFetcher) loadCached(target string) (string, bool) {
	if f.cache == nil {
		return "", false
	}
	body, ok, err := f.cache.Load(target)
	switch {
	case err != nil:
		f.metrics.IncCache("error")
		f.logger.Warn("cache read failed, fetching from network",
			slog.String("url", target),
			slog.Any("error", err),
		)
		return "", false
	case ok:
		atomic.AddInt64(&f.cacheHits, 1)
		f.metrics.IncCache("hit")
		f.logger.Debug("using cached response", slog.String("url", target))
		return body, true
	default:
		f.metrics.IncCache("miss")
		f.logger.Debug("cache miss", slog.String("url", target))
		return "", false
	}
}

func (f *HTTPFetcher) storeCached(target, body string) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Store(target, body); err != nil {
		f.logger.Warn("cache write failed",
			slog.String("url", target),
			slog.Any("error", err),
		)
		return
	}
	f.logger.Debug("response cached", slog.String("url", target), slog.String("path", f.cache.Path(target)))
}

func (f *HTTPFetcher) recordError(target string, err error) {
	atomic.AddInt64(&f.errors, 1)
	category := errorTypeLabel(err)
	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()
	f.metrics.IncError(category)
	f.logger.Debug("request error",
		slog.String("url", target),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

// backoff returns the wait before retry n (1-based): base doubled per retry,
// capped by the configured maximum.
func (f *HTTPFetcher) backoff(retry int) time.Duration {
	if retry <= 0 {
		retry = 1
	}

	base := f.cfg.BackoffDuration()
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(retry-1))
	if max := f.cfg.BackoffMaxDuration(); max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// Stats returns a snapshot of the fetcher counters.
func (f *HTTPFetcher) Stats() FetchStats {
	f.mu.Lock()
	byType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}
	f.mu.Unlock()

	return FetchStats{
		Requests:     int(atomic.LoadInt64(&f.requests)),
		CacheHits:    int(atomic.LoadInt64(&f.cacheHits)),
		Retries:      int(atomic.LoadInt64(&f.retries)),
		Errors:       int(atomic.LoadInt64(&f.errors)),
		ErrorsByType: byType,
	}
}
