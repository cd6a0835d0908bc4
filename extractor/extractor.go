// Package extractor applies field rule trees to parsed markup.
package extractor

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/models"
	"github.com/aluiziolira/go-scrape-it/parser"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const defaultSelectorCacheSize = 512

// Extractor walks field rules against a document. Sibling elements of a
// repeated rule are extracted on a bounded worker pool; results keep
// document order. An Extractor is safe for concurrent use.
type Extractor struct {
	transformer *parser.Transformer
	selectors   *lru.Cache[string, cascadia.Selector]
	workers     int
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithWorkers bounds the goroutines used per repeated rule.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTransformer replaces the default transformation pipeline.
func WithTransformer(t *parser.Transformer) Option {
	return func(e *Extractor) {
		if t != nil {
			e.transformer = t
		}
	}
}

// New returns an Extractor sized to the available CPU parallelism.
func New(opts ...Option) *Extractor {
	selectors, err := lru.New[string, cascadia.Selector](defaultSelectorCacheSize)
	if err != nil {
		panic(err)
	}
	e := &Extractor{
		transformer: parser.NewTransformer(0),
		selectors:   selectors,
		workers:     runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parse builds a document from raw markup.
func Parse(markup string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return doc, nil
}

// ExtractHTML parses markup and extracts rules from the whole document.
func (e *Extractor) ExtractHTML(markup string, rules map[string]*config.FieldRule) (models.Value, error) {
	doc, err := Parse(markup)
	if err != nil {
		return models.Value{}, err
	}
	return e.Extract(doc.Selection, rules), nil
}

// Extract applies every rule under root and returns one mapping.
func (e *Extractor) Extract(root *goquery.Selection, rules map[string]*config.FieldRule) models.Value {
	return e.extractFields(root, rules, 1)
}

// ExtractRule applies a single rule under root: a scalar for leaf rules, a
// list of mappings for repeated rules.
func (e *Extractor) ExtractRule(root *goquery.Selection, rule *config.FieldRule) models.Value {
	return e.extractRule(root, rule, 1)
}

// Select returns the elements under root matching selector. Selectors that
// do not compile match nothing.
func (e *Extractor) Select(root *goquery.Selection, selector string) *goquery.Selection {
	return root.FindMatcher(e.matcher(selector))
}

func (e *Extractor) extractFields(root *goquery.Selection, rules map[string]*config.FieldRule, depth int) models.Value {
	fields := make(map[string]models.Value, len(rules))
	for name, rule := range rules {
		if rule == nil {
			continue
		}
		fields[name] = e.extractRule(root, rule, depth)
	}
	return models.Map(fields)
}

func (e *Extractor) extractRule(root *goquery.Selection, rule *config.FieldRule, depth int) models.Value {
	if rule.Repeated() {
		return e.extractRepeated(root, rule, depth)
	}
	return e.extractLeaf(root, rule)
}

func (e *Extractor) extractLeaf(root *goquery.Selection, rule *config.FieldRule) models.Value {
	matches := e.Select(root, rule.Selector)

	var raw string
	switch {
	case rule.Nth < matches.Length():
		el := matches.Eq(rule.Nth)
		if rule.Attr != "" {
			raw = el.AttrOr(rule.Attr, "")
		} else {
			raw = el.Text()
		}
	case rule.Default != nil:
		raw = *rule.Default
	}
	return e.transformer.Transform(raw, rule)
}

func (e *Extractor) extractRepeated(root *goquery.Selection, rule *config.FieldRule, depth int) models.Value {
	if depth >= config.MaxRuleDepth {
		return models.List()
	}
	matches := e.Select(root, rule.Selector)
	out := make([]models.Value, matches.Length())
	if len(out) == 0 {
		return models.List()
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	matches.Each(func(i int, el *goquery.Selection) {
		g.Go(func() error {
			out[i] = e.extractFields(el, rule.Data, depth+1)
			return nil
		})
	})
	_ = g.Wait()
	return models.List(out...)
}

func (e *Extractor) matcher(selector string) cascadia.Selector {
	if m, ok := e.selectors.Get(selector); ok {
		return m
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		m = matchNothing
	}
	e.selectors.Add(selector, m)
	return m
}

func matchNothing(*html.Node) bool { return false }
