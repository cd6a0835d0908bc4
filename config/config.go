package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

const (
	// PagePlaceholder is substituted with the page number in pattern mode.
	PagePlaceholder = "{page}"
	// MaxRuleDepth bounds the nesting of field rules.
	MaxRuleDepth = 32

	defaultPatternPages = 10
	defaultNextMaxPages = 1000
)

// Document is the full configuration: connection settings and the field
// rule tree.
type Document struct {
	Config RequestConfig         `yaml:"config" json:"config"`
	Data   map[string]*FieldRule `yaml:"data" json:"data"`
}

// RequestConfig holds connection and pagination settings. Durations are
// expressed in the units used by the configuration file.
type RequestConfig struct {
	URL             string            `yaml:"url,omitempty" json:"url,omitempty"`
	URLs            []string          `yaml:"urls,omitempty" json:"urls,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout         int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`                 // seconds
	Retries         int               `yaml:"retries,omitempty" json:"retries,omitempty"`
	RetryBackoff    int               `yaml:"retryBackoff,omitempty" json:"retryBackoff,omitempty"`       // milliseconds
	RetryBackoffMax int               `yaml:"retryBackoffMax,omitempty" json:"retryBackoffMax,omitempty"` // milliseconds
	Delay           int               `yaml:"delay,omitempty" json:"delay,omitempty"`                     // milliseconds
	Proxy           string            `yaml:"proxy,omitempty" json:"proxy,omitempty"`
	CacheDir        string            `yaml:"cacheDir,omitempty" json:"cacheDir,omitempty"`
	UseCache        bool              `yaml:"useCache,omitempty" json:"useCache,omitempty"`
	UserAgent       string            `yaml:"userAgent,omitempty" json:"userAgent,omitempty"`
	Pagination      *PaginationConfig `yaml:"pagination,omitempty" json:"pagination,omitempty"`
}

// PaginationConfig selects between URL pattern expansion and next-link
// following. With neither set exactly one page is fetched per URL.
type PaginationConfig struct {
	PagePattern  string `yaml:"pagePattern,omitempty" json:"pagePattern,omitempty"`
	StartPage    *int   `yaml:"startPage,omitempty" json:"startPage,omitempty"`
	EndPage      *int   `yaml:"endPage,omitempty" json:"endPage,omitempty"`
	NextSelector string `yaml:"nextSelector,omitempty" json:"nextSelector,omitempty"`
	MaxPages     int    `yaml:"maxPages,omitempty" json:"maxPages,omitempty"`
	StopOnEmpty  bool   `yaml:"stopOnEmpty,omitempty" json:"stopOnEmpty,omitempty"`
}

// FieldRule describes how one named value is extracted. A rule with Data
// set yields one mapping per matched element instead of a scalar.
type FieldRule struct {
	Selector  string                `yaml:"selector" json:"selector"`
	Attr      string                `yaml:"attr,omitempty" json:"attr,omitempty"`
	Nth       int                   `yaml:"nth,omitempty" json:"nth,omitempty"`
	Default   *string               `yaml:"default,omitempty" json:"default,omitempty"`
	Trim      *bool                 `yaml:"trim,omitempty" json:"trim,omitempty"`
	Regex     string                `yaml:"regex,omitempty" json:"regex,omitempty"`
	Replace   []string              `yaml:"replace,omitempty" json:"replace,omitempty"`
	Uppercase bool                  `yaml:"uppercase,omitempty" json:"uppercase,omitempty"`
	Lowercase bool                  `yaml:"lowercase,omitempty" json:"lowercase,omitempty"`
	StripHTML bool                  `yaml:"stripHtml,omitempty" json:"stripHtml,omitempty"`
	ToNumber  bool                  `yaml:"toNumber,omitempty" json:"toNumber,omitempty"`
	ToBoolean bool                  `yaml:"toBoolean,omitempty" json:"toBoolean,omitempty"`
	Data      map[string]*FieldRule `yaml:"data,omitempty" json:"data,omitempty"`
}

// DefaultRequestConfig returns the defaults merged into loaded configs.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		Timeout:         30,
		RetryBackoff:    1000,
		RetryBackoffMax: 30000,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	}
}

// TargetURLs returns the configured URLs in order.
func (c *RequestConfig) TargetURLs() []string {
	if len(c.URLs) > 0 {
		out := make([]string, len(c.URLs))
		copy(out, c.URLs)
		return out
	}
	if c.URL != "" {
		return []string{c.URL}
	}
	return nil
}

func (c *RequestConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *RequestConfig) DelayDuration() time.Duration {
	return time.Duration(c.Delay) * time.Millisecond
}

func (c *RequestConfig) BackoffDuration() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Millisecond
}

func (c *RequestConfig) BackoffMaxDuration() time.Duration {
	return time.Duration(c.RetryBackoffMax) * time.Millisecond
}

// CacheEnabled reports whether fetched bodies are read from and written to
// the cache directory.
func (c *RequestConfig) CacheEnabled() bool {
	return c.UseCache && c.CacheDir != ""
}

// Enabled reports whether any pagination mode is configured.
func (p *PaginationConfig) Enabled() bool {
	return p != nil && (p.PagePattern != "" || p.NextSelector != "")
}

// PatternMode reports whether pages are generated from PagePattern.
func (p *PaginationConfig) PatternMode() bool {
	return p != nil && p.PagePattern != ""
}

// Start is the first page number in pattern mode (default 1).
func (p *PaginationConfig) Start() int {
	if p == nil || p.StartPage == nil {
		return 1
	}
	return *p.StartPage
}

// End is the last page number in pattern mode.
func (p *PaginationConfig) End() int {
	if p.EndPage != nil {
		return *p.EndPage
	}
	if p.MaxPages > 0 {
		return p.Start() + p.MaxPages - 1
	}
	return p.Start() + defaultPatternPages - 1
}

// PageLimit caps the number of pages followed in next-link mode.
func (p *PaginationConfig) PageLimit() int {
	if p.MaxPages > 0 {
		return p.MaxPages
	}
	return defaultNextMaxPages
}

// PageURL expands the pattern for page n. Patterns that are not absolute are
// appended to base.
func (p *PaginationConfig) PageURL(base string, n int) string {
	expanded := strings.ReplaceAll(p.PagePattern, PagePlaceholder, fmt.Sprint(n))
	if strings.HasPrefix(expanded, "http") {
		return expanded
	}
	return base + expanded
}

// ShouldTrim reports whether whitespace is trimmed (default true).
func (r *FieldRule) ShouldTrim() bool {
	return r.Trim == nil || *r.Trim
}

// Repeated reports whether the rule fans out over every matched element.
func (r *FieldRule) Repeated() bool {
	return r.Data != nil
}

// Validate checks the whole document and returns every problem found,
// joined. Each problem is a *ConfigError.
func (d *Document) Validate() error {
	var errs fieldErrors
	d.Config.validate(&errs)
	if len(d.Data) == 0 {
		errs.add("data", "at least one field rule is required")
	}
	validateRules(&errs, "data", d.Data, 1)
	return errs.join()
}

func (c *RequestConfig) validate(errs *fieldErrors) {
	switch {
	case c.URL == "" && len(c.URLs) == 0:
		errs.add("config.url", "either url or urls must be set")
	case c.URL != "" && len(c.URLs) > 0:
		errs.add("config.url", "url and urls are mutually exclusive")
	}
	for i, target := range c.TargetURLs() {
		field := "config.url"
		if len(c.URLs) > 0 {
			field = fmt.Sprintf("config.urls[%d]", i)
		}
		if err := validateHTTPURL(target); err != nil {
			errs.add(field, err.Error())
		}
	}

	if c.Timeout <= 0 {
		errs.add("config.timeout", "timeout must be positive")
	}
	if c.Retries < 0 {
		errs.add("config.retries", "retries cannot be negative")
	}
	if c.Delay < 0 {
		errs.add("config.delay", "delay cannot be negative")
	}
	if c.RetryBackoff < 0 {
		errs.add("config.retryBackoff", "retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		errs.add("config.retryBackoffMax", "retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		errs.add("config.retryBackoff", fmt.Sprintf("retry backoff (%dms) cannot exceed retry backoff max (%dms)", c.RetryBackoff, c.RetryBackoffMax))
	}
	if c.Proxy != "" {
		parsed, err := url.Parse(c.Proxy)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs.add("config.proxy", "proxy must be an absolute URL")
		}
	}
	if c.UseCache && c.CacheDir == "" {
		errs.add("config.cacheDir", "cacheDir is required when useCache is set")
	}
	if c.Pagination != nil {
		c.Pagination.validate(errs, len(c.TargetURLs()))
	}
}

func (p *PaginationConfig) validate(errs *fieldErrors, targets int) {
	if p.PagePattern != "" && p.NextSelector != "" {
		errs.add("config.pagination", "pagePattern and nextSelector are mutually exclusive")
		return
	}
	if p.MaxPages < 0 {
		errs.add("config.pagination.maxPages", "maxPages cannot be negative")
	}
	if p.StartPage != nil && *p.StartPage < 0 {
		errs.add("config.pagination.startPage", "startPage cannot be negative")
	}
	if p.PagePattern != "" {
		if !strings.Contains(p.PagePattern, PagePlaceholder) {
			errs.add("config.pagination.pagePattern", "pattern must contain "+PagePlaceholder)
		}
		if p.EndPage != nil && *p.EndPage < p.Start() {
			errs.add("config.pagination.endPage", fmt.Sprintf("endPage (%d) cannot be before startPage (%d)", *p.EndPage, p.Start()))
		}
		if targets > 1 && strings.HasPrefix(p.PagePattern, "http") {
			errs.add("config.pagination.pagePattern", "an absolute pattern cannot be combined with several urls")
		}
	}
	if p.NextSelector != "" {
		if _, err := cascadia.Compile(p.NextSelector); err != nil {
			errs.add("config.pagination.nextSelector", fmt.Sprintf("invalid selector: %v", err))
		}
		if p.EndPage != nil {
			errs.add("config.pagination.endPage", "endPage only applies to pagePattern")
		}
	}
}

func validateRules(errs *fieldErrors, path string, rules map[string]*FieldRule, depth int) {
	if depth > MaxRuleDepth {
		errs.add(path, fmt.Sprintf("rules nested deeper than %d levels", MaxRuleDepth))
		return
	}
	for name, rule := range rules {
		field := path + "." + name
		if strings.TrimSpace(name) == "" {
			errs.add(path, "rule names cannot be empty")
			continue
		}
		if rule == nil {
			errs.add(field, "rule cannot be empty")
			continue
		}
		if strings.TrimSpace(rule.Selector) == "" {
			errs.add(field+".selector", "selector cannot be empty")
		} else if _, err := cascadia.Compile(rule.Selector); err != nil {
			errs.add(field+".selector", fmt.Sprintf("invalid selector: %v", err))
		}
		if rule.Nth < 0 {
			errs.add(field+".nth", "nth cannot be negative")
		}
		if rule.Regex != "" {
			if _, err := regexp.Compile(rule.Regex); err != nil {
				errs.add(field+".regex", fmt.Sprintf("invalid regex: %v", err))
			}
		}
		if rule.Replace != nil && len(rule.Replace) != 2 {
			errs.add(field+".replace", "replace must hold exactly [search, replacement]")
		}
		if rule.Replace != nil && len(rule.Replace) == 2 && rule.Replace[0] == "" {
			errs.add(field+".replace", "replace search string cannot be empty")
		}
		if rule.ToNumber && rule.ToBoolean {
			errs.add(field, "toNumber and toBoolean are mutually exclusive")
		}
		if rule.Repeated() {
			validateRules(errs, field+".data", rule.Data, depth+1)
		}
	}
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
