package collector

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider payload keys.
const (
	KeyErrorMessage = "Error Message"
	KeyNote         = "Note"
	KeyInformation  = "Information"
	KeyMetaData     = "Meta Data"
	KeyTimeSeries   = "Time Series (Daily)"
)

var (
	ErrAPIError         = errors.New("provider error message")
	ErrRateLimited      = errors.New("provider rate limit or notice")
	ErrInformation      = errors.New("provider information message")
	ErrUnexpectedFormat = errors.New("unexpected provider response format")
)

// RawPayload is a daily time series as returned by the provider, keyed by
// YYYY-MM-DD. Entries are left undecoded so one malformed entry cannot spoil
// the rest of the series.
type RawPayload struct {
	MetaData   map[string]string
	TimeSeries map[string]json.RawMessage
}

// Len returns the number of date entries in the payload.
func (p *RawPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.TimeSeries)
}

// Fetcher retrieves the raw daily series for one ticker.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string) (*RawPayload, error)
	Name() string
}
