package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-it/config"
	"github.com/aluiziolira/go-scrape-it/extractor"
	"github.com/aluiziolira/go-scrape-it/models"
)

// stubFetcher serves canned pages and records every requested URL.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func newStubFetcher(pages map[string]string) *stubFetcher {
	return &stubFetcher{pages: pages}
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return "", &FetchError{URL: url, Attempts: 1, Err: ErrNotFound{Err: errors.New("Not Found")}}
	}
	return body, nil
}

func (f *stubFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

func itemPage(items ...string) string {
	body := "<html><body><ul>"
	for _, item := range items {
		body += "<li class=\"item\"><span>" + item + "</span></li>"
	}
	return body + "</ul></body></html>"
}

var itemRules = map[string]*config.FieldRule{
	"items": {
		Selector: "li.item",
		Data: map[string]*config.FieldRule{
			"name": {Selector: "span"},
		},
	},
}

func titleVisitor(ex *extractor.Extractor) PageVisitor {
	return func(_ context.Context, page Page) models.Value {
		return ex.Extract(page.Doc.Selection, map[string]*config.FieldRule{
			"title": {Selector: "h1"},
		})
	}
}

func itemsVisitor(ex *extractor.Extractor) PageVisitor {
	return func(_ context.Context, page Page) models.Value {
		return ex.Extract(page.Doc.Selection, itemRules)
	}
}

func walkPaginator(fetcher Fetcher, p *config.PaginationConfig, th *throttle) *Paginator {
	if th == nil {
		th = newThrottle(0, nil)
	}
	return newPaginator(fetcher, p, extractor.New(), th, discardLogger())
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestWalkWithoutPaginationFetchesRootOnce(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/": "<h1>Home</h1><a class=\"next\" href=\"/2\">next</a>",
	})

	walk, err := walkPaginator(fetcher, nil, nil).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{"http://example.test/"})
	if len(walk.Pages) != 1 || walk.Pages[0].Get("title").String() != "Home" {
		t.Fatalf("pages = %v", walk.Pages)
	}
}

func TestWalkPatternModeVisitsEveryPageInOrder(t *testing.T) {
	pages := map[string]string{}
	for i := 1; i <= 4; i++ {
		pages[fmt.Sprintf("http://example.test/list?page=%d", i)] = fmt.Sprintf("<h1>Page %d</h1>", i)
	}
	fetcher := newStubFetcher(pages)
	pagination := &config.PaginationConfig{
		PagePattern: "?page={page}",
		StartPage:   intPtr(1),
		EndPage:     intPtr(3),
	}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/list", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{
		"http://example.test/list?page=1",
		"http://example.test/list?page=2",
		"http://example.test/list?page=3",
	})
	if walk.Fetched != 3 || len(walk.Pages) != 3 {
		t.Fatalf("fetched=%d pages=%d, want 3", walk.Fetched, len(walk.Pages))
	}
	for i, page := range walk.Pages {
		if got, want := page.Get("title").String(), fmt.Sprintf("Page %d", i+1); got != want {
			t.Fatalf("page %d title = %q, want %q", i, got, want)
		}
	}
}

func TestWalkPatternModeAbsolutePattern(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"https://other.test/p/5": "<h1>five</h1>",
		"https://other.test/p/6": "<h1>six</h1>",
	})
	pagination := &config.PaginationConfig{
		PagePattern: "https://other.test/p/{page}",
		StartPage:   intPtr(5),
		MaxPages:    2,
	}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{"https://other.test/p/5", "https://other.test/p/6"})
	if len(walk.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(walk.Pages))
	}
}

func TestWalkStopOnEmptyDropsEmptyPage(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/?p=1": itemPage("a", "b"),
		"http://example.test/?p=2": itemPage("c"),
		"http://example.test/?p=3": itemPage(),
		"http://example.test/?p=4": itemPage("never"),
	})
	pagination := &config.PaginationConfig{
		PagePattern: "?p={page}",
		EndPage:     intPtr(10),
		StopOnEmpty: true,
	}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", itemsVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{
		"http://example.test/?p=1",
		"http://example.test/?p=2",
		"http://example.test/?p=3",
	})
	if len(walk.Pages) != 2 {
		t.Fatalf("pages = %d, want 2 (empty page dropped)", len(walk.Pages))
	}
	if walk.Fetched != 3 {
		t.Fatalf("fetched = %d, want 3", walk.Fetched)
	}
}

func TestWalkStopOnEmptyKeepsEmptyFirstPage(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/?p=1": itemPage(),
		"http://example.test/?p=2": itemPage("x"),
	})
	pagination := &config.PaginationConfig{
		PagePattern: "?p={page}",
		EndPage:     intPtr(2),
		StopOnEmpty: true,
	}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", itemsVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{"http://example.test/?p=1"})
	if len(walk.Pages) != 1 || !walk.Pages[0].IsEmpty() {
		t.Fatalf("pages = %v, want one empty page", walk.Pages)
	}
}

func TestWalkWithoutStopOnEmptyContinuesPastEmptyPages(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/?p=1": itemPage("a"),
		"http://example.test/?p=2": itemPage(),
		"http://example.test/?p=3": itemPage("c"),
	})
	pagination := &config.PaginationConfig{
		PagePattern: "?p={page}",
		EndPage:     intPtr(3),
	}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", itemsVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(walk.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(walk.Pages))
	}
}

func TestWalkNextLinkResolvesRelativeLinks(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/catalogue/index.html":  "<h1>one</h1><li class=\"next\"><a href=\"page-2.html\">next</a></li>",
		"http://example.test/catalogue/page-2.html": "<h1>two</h1><li class=\"next\"><a href=\"/catalogue/page-3.html\">next</a></li>",
		"http://example.test/catalogue/page-3.html": "<h1>three</h1>",
	})
	pagination := &config.PaginationConfig{NextSelector: "li.next > a"}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/catalogue/index.html", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	assertCalls(t, fetcher.Calls(), []string{
		"http://example.test/catalogue/index.html",
		"http://example.test/catalogue/page-2.html",
		"http://example.test/catalogue/page-3.html",
	})
	if got := walk.Pages[2].Get("title").String(); got != "three" {
		t.Fatalf("last title = %q", got)
	}
}

func TestWalkNextLinkStopsAtMaxPages(t *testing.T) {
	pages := map[string]string{}
	for i := 1; i <= 10; i++ {
		pages[fmt.Sprintf("http://example.test/%d", i)] = fmt.Sprintf("<h1>%d</h1><a class=\"next\" href=\"/%d\">next</a>", i, i+1)
	}
	fetcher := newStubFetcher(pages)
	pagination := &config.PaginationConfig{NextSelector: "a.next", MaxPages: 4}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/1", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if got := len(fetcher.Calls()); got != 4 {
		t.Fatalf("fetches = %d, want 4", got)
	}
	if len(walk.Pages) != 4 {
		t.Fatalf("pages = %d, want 4", len(walk.Pages))
	}
}

func TestWalkNextLinkWithoutHrefStops(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/": "<h1>only</h1><a class=\"next\">next</a>",
	})
	pagination := &config.PaginationConfig{NextSelector: "a.next"}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(walk.Pages) != 1 || len(fetcher.Calls()) != 1 {
		t.Fatalf("pages=%d calls=%v", len(walk.Pages), fetcher.Calls())
	}
}

func TestWalkFirstPageFailureIsAnError(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{})
	pagination := &config.PaginationConfig{PagePattern: "?p={page}", EndPage: intPtr(3)}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New()))
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.URL != "http://example.test/?p=1" {
		t.Fatalf("failed url = %q", fetchErr.URL)
	}
	if len(walk.Pages) != 0 {
		t.Fatalf("pages = %d, want 0", len(walk.Pages))
	}
}

func TestWalkLaterPageFailureKeepsPartialResults(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/?p=1": "<h1>one</h1>",
		"http://example.test/?p=2": "<h1>two</h1>",
	})
	pagination := &config.PaginationConfig{PagePattern: "?p={page}", EndPage: intPtr(5)}

	walk, err := walkPaginator(fetcher, pagination, nil).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New()))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(walk.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(walk.Pages))
	}
	var fetchErr *FetchError
	if !errors.As(walk.Warning, &fetchErr) || fetchErr.URL != "http://example.test/?p=3" {
		t.Fatalf("warning = %v", walk.Warning)
	}
	if got := len(fetcher.Calls()); got != 3 {
		t.Fatalf("fetches = %d, want 3", got)
	}
}

func TestWalkWaitsBetweenFetches(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{
		"http://example.test/?p=1": "<h1>1</h1>",
		"http://example.test/?p=2": "<h1>2</h1>",
		"http://example.test/?p=3": "<h1>3</h1>",
	})
	pagination := &config.PaginationConfig{PagePattern: "?p={page}", EndPage: intPtr(3)}
	sleeper := &sleepRecorder{}
	th := newThrottle(250*time.Millisecond, sleeper.Sleep)

	if _, err := walkPaginator(fetcher, pagination, th).Walk(context.Background(), "http://example.test/", titleVisitor(extractor.New())); err != nil {
		t.Fatalf("walk: %v", err)
	}
	delays := sleeper.Delays()
	if len(delays) != 2 {
		t.Fatalf("waits = %v, want 2", delays)
	}
	for _, d := range delays {
		if d != 250*time.Millisecond {
			t.Fatalf("wait = %v, want 250ms", d)
		}
	}
}

func TestWalkHonoursCancellation(t *testing.T) {
	fetcher := newStubFetcher(map[string]string{"http://example.test/": "<h1>x</h1>"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := walkPaginator(fetcher, nil, nil).Walk(ctx, "http://example.test/", titleVisitor(extractor.New()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(fetcher.Calls()) != 0 {
		t.Fatalf("fetched after cancellation: %v", fetcher.Calls())
	}
}
