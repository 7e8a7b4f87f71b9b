package model

import "time"

// Status is the terminal outcome of one ticker run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusSkipped   Status = "skipped"
	StatusNoNewData Status = "no_new_data"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// TickerRunStats is the per-ticker outcome of a pipeline run.
type TickerRunStats struct {
	Ticker      string `json:"ticker"`
	Extracted   int    `json:"extracted"`
	Transformed int    `json:"transformed"`
	Loaded      int    `json:"loaded"`
	Skipped     bool   `json:"skipped"`
	Reason      string `json:"reason"`
	Status      Status `json:"status"`
}

// BatchStats aggregates the ticker runs of one batch, in processing order.
type BatchStats struct {
	RunID        string           `json:"run_id"`
	TotalTickers int              `json:"total_tickers"`
	Successful   int              `json:"successful"`
	Failed       int              `json:"failed"`
	Skipped      int              `json:"skipped"`
	TotalLoaded  int              `json:"total_loaded"`
	Details      []TickerRunStats `json:"details"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}

// Add folds one ticker outcome into the batch. Anything that is neither
// success nor skipped counts as failed, including no_new_data.
func (b *BatchStats) Add(s TickerRunStats) {
	b.Details = append(b.Details, s)
	switch s.Status {
	case StatusSuccess:
		b.Successful++
		b.TotalLoaded += s.Loaded
	case StatusSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
}

// Page is one page of a filtered, paginated read.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// NewPage computes the page count for total items at the given size.
func NewPage[T any](items []T, total, page, size int) Page[T] {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: page, Size: size, Pages: pages}
}
