package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/extractor"
	"github.com/aluiziolira/go-scrape-it/models"
)

// Page is one fetched page of a pagination walk.
type Page struct {
	URL string
	// Index is the 1-based position of the page within its walk.
	Index int
	// Number is the substituted page number in pattern mode, otherwise Index.
	Number int
	Doc    *goquery.Document
}

// PageVisitor extracts the value of one page.
type PageVisitor func(ctx context.Context, page Page) models.Value

// Walk is the outcome of a pagination walk.
type Walk struct {
	Pages []models.Value
	// Fetched counts pages fetched, including a dropped empty page.
	Fetched int
	// Warning is set when a page after the first could not be fetched and
	// the walk was cut short.
	Warning error
}

// Paginator drives the sequence of fetches for one root URL. Fetches are
// sequential and separated by the shared throttle.
type Paginator struct {
	fetcher    Fetcher
	pagination *config.PaginationConfig
	extractor  *extractor.Extractor
	throttle   *throttle
	logger     *slog.Logger
}

func newPaginator(fetcher Fetcher, pagination *config.PaginationConfig, ex *extractor.Extractor, th *throttle, logger *slog.Logger) *Paginator {
	return &Paginator{
		fetcher:    fetcher,
		pagination: pagination,
		extractor:  ex,
		throttle:   th,
		logger:     logger,
	}
}

// Walk fetches pages starting at root and hands each to visit. A failure
// on the first page is returned as an error; later failures end the walk
// with Walk.Warning set.
func (p *Paginator) Walk(ctx context.Context, root string, visit PageVisitor) (Walk, error) {
	var walk Walk

	target, number := root, 1
	if p.pagination.PatternMode() {
		number = p.pagination.Start()
		target = p.pagination.PageURL(root, number)
	}
	stopOnEmpty := p.pagination != nil && p.pagination.StopOnEmpty

	for index := 1; ; index++ {
		if err := p.throttle.Wait(ctx); err != nil {
			return walk, err
		}

		doc, err := p.fetch(ctx, target)
		if err != nil {
			if index == 1 {
				return walk, err
			}
			walk.Warning = err
			p.logger.Warn("pagination stopped early, keeping partial results",
				slog.String("url", target),
				slog.Int("page", index),
				slog.Any("error", err),
			)
			return walk, nil
		}
		walk.Fetched++

		value := visit(ctx, Page{URL: target, Index: index, Number: number, Doc: doc})
		empty := stopOnEmpty && value.IsEmpty()
		if empty && index > 1 {
			p.logger.Info("empty page, stopping",
				slog.String("url", target),
				slog.Int("page", index),
			)
			return walk, nil
		}
		walk.Pages = append(walk.Pages, value)
		if empty {
			p.logger.Info("first page is empty, stopping", slog.String("url", target))
			return walk, nil
		}

		next, ok := p.next(root, target, index, number, doc)
		if !ok {
			return walk, nil
		}
		target = next
		number++
	}
}

func (p *Paginator) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	markup, err := p.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	doc, err := extractor.Parse(markup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return doc, nil
}

// next decides the following target, or reports that the walk is done.
func (p *Paginator) next(root, current string, index, number int, doc *goquery.Document) (string, bool) {
	switch {
	case !p.pagination.Enabled():
		return "", false

	case p.pagination.PatternMode():
		if number+1 > p.pagination.End() {
			p.logger.Debug("reached last page", slog.Int("page", number))
			return "", false
		}
		return p.pagination.PageURL(root, number+1), true

	default:
		if index >= p.pagination.PageLimit() {
			p.logger.Warn("reached max pages limit", slog.Int("max_pages", p.pagination.PageLimit()))
			return "", false
		}
		link := p.extractor.Select(doc.Selection, p.pagination.NextSelector).First()
		if link.Length() == 0 {
			p.logger.Info("no more next links", slog.Int("page", index))
			return "", false
		}
		href, ok := link.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			p.logger.Warn("next link has no href", slog.Int("page", index))
			return "", false
		}
		next, err := resolveReference(current, href)
		if err != nil {
			p.logger.Warn("unresolvable next link",
				slog.String("href", href),
				slog.Any("error", err),
			)
			return "", false
		}
		p.logger.Debug("following next link", slog.String("url", next), slog.Int("page", index+1))
		return next, true
	}
}

func resolveReference(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
