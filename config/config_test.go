package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func validDocument() *Document {
	doc := &Document{
		Config: RequestConfig{URL: "https://example.test/list"},
		Data: map[string]*FieldRule{
			"title": {Selector: "h1"},
		},
	}
	if err := doc.ApplyDefaults(); err != nil {
		panic(err)
	}
	return doc
}

func intPtr(v int) *int { return &v }

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{
			name:    "no url",
			mutate:  func(d *Document) { d.Config.URL = "" },
			wantErr: "either url or urls",
		},
		{
			name: "url and urls",
			mutate: func(d *Document) {
				d.Config.URLs = []string{"https://example.test/a"}
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "url without host",
			mutate:  func(d *Document) { d.Config.URL = "http://" },
			wantErr: "host",
		},
		{
			name:    "non http scheme",
			mutate:  func(d *Document) { d.Config.URL = "ftp://example.test" },
			wantErr: "http or https",
		},
		{
			name:    "negative retries",
			mutate:  func(d *Document) { d.Config.Retries = -1 },
			wantErr: "retries",
		},
		{
			name:    "negative delay",
			mutate:  func(d *Document) { d.Config.Delay = -5 },
			wantErr: "delay",
		},
		{
			name: "backoff above max",
			mutate: func(d *Document) {
				d.Config.RetryBackoff = 5000
				d.Config.RetryBackoffMax = 1000
			},
			wantErr: "cannot exceed",
		},
		{
			name:    "relative proxy",
			mutate:  func(d *Document) { d.Config.Proxy = "localhost" },
			wantErr: "proxy",
		},
		{
			name:    "cache without dir",
			mutate:  func(d *Document) { d.Config.UseCache = true },
			wantErr: "cacheDir",
		},
		{
			name: "both pagination modes",
			mutate: func(d *Document) {
				d.Config.Pagination = &PaginationConfig{PagePattern: "?page={page}", NextSelector: "a.next"}
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "pattern without placeholder",
			mutate: func(d *Document) {
				d.Config.Pagination = &PaginationConfig{PagePattern: "?page=1"}
			},
			wantErr: "{page}",
		},
		{
			name: "end before start",
			mutate: func(d *Document) {
				d.Config.Pagination = &PaginationConfig{PagePattern: "?p={page}", StartPage: intPtr(4), EndPage: intPtr(2)}
			},
			wantErr: "endPage",
		},
		{
			name: "absolute pattern with several urls",
			mutate: func(d *Document) {
				d.Config.URL = ""
				d.Config.URLs = []string{"https://a.test", "https://b.test"}
				d.Config.Pagination = &PaginationConfig{PagePattern: "https://a.test/?p={page}"}
			},
			wantErr: "absolute pattern",
		},
		{
			name: "invalid next selector",
			mutate: func(d *Document) {
				d.Config.Pagination = &PaginationConfig{NextSelector: "a[href"}
			},
			wantErr: "nextSelector",
		},
		{
			name:    "no rules",
			mutate:  func(d *Document) { d.Data = nil },
			wantErr: "at least one field rule",
		},
		{
			name:    "empty selector",
			mutate:  func(d *Document) { d.Data["title"].Selector = " " },
			wantErr: "selector cannot be empty",
		},
		{
			name:    "invalid selector",
			mutate:  func(d *Document) { d.Data["title"].Selector = "div[" },
			wantErr: "invalid selector",
		},
		{
			name:    "invalid regex",
			mutate:  func(d *Document) { d.Data["title"].Regex = "(" },
			wantErr: "invalid regex",
		},
		{
			name:    "replace arity",
			mutate:  func(d *Document) { d.Data["title"].Replace = []string{"a"} },
			wantErr: "replace",
		},
		{
			name: "number and boolean",
			mutate: func(d *Document) {
				d.Data["title"].ToNumber = true
				d.Data["title"].ToBoolean = true
			},
			wantErr: "toNumber and toBoolean",
		},
		{
			name:    "negative nth",
			mutate:  func(d *Document) { d.Data["title"].Nth = -1 },
			wantErr: "nth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			err := doc.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
			require.True(t, IsConfigError(err), "expected ConfigError, got %T", err)
		})
	}
}

func TestValidDocument(t *testing.T) {
	require.NoError(t, validDocument().Validate())
}

func TestValidateRejectsDeepRuleTrees(t *testing.T) {
	doc := validDocument()
	rule := doc.Data["title"]
	for i := 0; i < MaxRuleDepth+1; i++ {
		child := &FieldRule{Selector: "div"}
		rule.Data = map[string]*FieldRule{"child": child}
		rule = child
	}

	err := doc.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "nested deeper")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	doc := validDocument()
	doc.Config.Retries = -1
	doc.Data["title"].Regex = "["

	err := doc.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "retries")
	require.Contains(t, err.Error(), "regex")
}

func TestParseYAML(t *testing.T) {
	doc, err := Parse([]byte(`
config:
  url: https://example.com
  headers:
    X-Api-Key: secret
  retries: 2
  delay: 250
  pagination:
    pagePattern: "?page={page}"
    startPage: 1
    endPage: 5
data:
  title:
    selector: h1
  price:
    selector: .price
    regex: '\d+\.\d+'
    toNumber: true
    trim: false
  articles:
    selector: article
    data:
      heading:
        selector: h2
`), FormatYAML)
	require.NoError(t, err)

	require.Equal(t, []string{"https://example.com"}, doc.Config.TargetURLs())
	require.Equal(t, "secret", doc.Config.Headers["X-Api-Key"])
	require.Equal(t, 2, doc.Config.Retries)
	require.Equal(t, 30, doc.Config.Timeout, "timeout default")
	require.Equal(t, 1000, doc.Config.RetryBackoff, "backoff default")
	require.NotEmpty(t, doc.Config.UserAgent)

	p := doc.Config.Pagination
	require.True(t, p.PatternMode())
	require.Equal(t, 1, p.Start())
	require.Equal(t, 5, p.End())

	require.True(t, doc.Data["title"].ShouldTrim())
	require.False(t, doc.Data["price"].ShouldTrim())
	require.True(t, doc.Data["price"].ToNumber)
	require.True(t, doc.Data["articles"].Repeated())
	require.False(t, doc.Data["title"].Repeated())
}

func TestParseNextSelector(t *testing.T) {
	doc, err := Parse([]byte(`
config:
  url: https://example.com
  pagination:
    nextSelector: "a.next"
    maxPages: 10
data:
  title:
    selector: h1
`), FormatYAML)
	require.NoError(t, err)
	require.Equal(t, "a.next", doc.Config.Pagination.NextSelector)
	require.Equal(t, 10, doc.Config.Pagination.PageLimit())
	require.False(t, doc.Config.Pagination.PatternMode())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"config": {"url": "https://example.com", "bogus": 1}, "data": {"t": {"selector": "h1"}}}`), FormatJSON)
	require.Error(t, err)
	require.True(t, IsConfigError(err))

	_, err = Parse([]byte("config:\n  url: https://example.com\n  bogus: 1\ndata:\n  t:\n    selector: h1\n"), FormatYAML)
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse(nil, FormatYAML)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestLoadFileJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrape.json5")
	content := `{
  // trailing commas and comments are allowed
  config: {urls: ["https://a.test", "https://b.test"], timeout: 5,},
  data: {title: {selector: "h1", uppercase: true}},
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, doc.Config.TargetURLs())
	require.Equal(t, 5, doc.Config.Timeout)
	require.True(t, doc.Data["title"].Uppercase)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPaginationHelpers(t *testing.T) {
	p := &PaginationConfig{PagePattern: "?page={page}"}
	require.Equal(t, "https://example.com/list?page=3", p.PageURL("https://example.com/list", 3))
	require.Equal(t, 10, p.End(), "default window is ten pages")

	p.MaxPages = 4
	p.StartPage = intPtr(2)
	require.Equal(t, 5, p.End())

	abs := &PaginationConfig{PagePattern: "https://example.com/p/{page}/"}
	require.Equal(t, "https://example.com/p/7/", abs.PageURL("https://ignored.test", 7))

	next := &PaginationConfig{NextSelector: "a.next"}
	require.Equal(t, 1000, next.PageLimit())

	var disabled *PaginationConfig
	require.False(t, disabled.Enabled())
	require.True(t, strings.Contains(PagePlaceholder, "page"))
}
