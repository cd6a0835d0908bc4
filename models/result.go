package models

import "time"

// RunResult holds the overall result of a scrape run.
type RunResult struct {
	// Pages holds one mapping per extracted page, in fetch order.
	Pages        []Value
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	CacheHits    int
	RetryCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	Warnings     []string
}

// Output is the value handed to a writer: the single page mapping when
// exactly one page was extracted, otherwise the ordered list of pages.
func (r *RunResult) Output() Value {
	if r == nil {
		return List()
	}
	if len(r.Pages) == 1 {
		return r.Pages[0]
	}
	return List(r.Pages...)
}
