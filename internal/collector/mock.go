package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockFetcher returns deterministic daily series for development and testing.
type MockFetcher struct {
	BasePrice float64
	Days      int
	// Now anchors the generated series; defaults to time.Now.
	Now func() time.Time
	// Errors forces a failure for specific tickers.
	Errors map[string]error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) Fetch(_ context.Context, ticker string) (*RawPayload, error) {
	if err, ok := m.Errors[strings.ToUpper(ticker)]; ok {
		return nil, err
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	days := m.Days
	if days <= 0 {
		days = 5
	}
	base := m.BasePrice
	if base <= 0 {
		base = 100
	}
	return generateMockSeries(now(), base, days), nil
}

// generateMockSeries produces one entry per weekday, walking back from anchor.
func generateMockSeries(anchor time.Time, basePrice float64, count int) *RawPayload {
	p := &RawPayload{TimeSeries: make(map[string]json.RawMessage, count)}
	d := anchor
	for i := 0; len(p.TimeSeries) < count; i++ {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			price := basePrice * (1 + float64(i)*0.001)
			entry := map[string]string{
				"1. open":   fmt.Sprintf("%.4f", price*0.999),
				"2. high":   fmt.Sprintf("%.4f", price*1.005),
				"3. low":    fmt.Sprintf("%.4f", price*0.995),
				"4. close":  fmt.Sprintf("%.4f", price),
				"5. volume": "1000000",
			}
			raw, _ := json.Marshal(entry)
			p.TimeSeries[d.Format("2006-01-02")] = raw
		}
		d = d.AddDate(0, 0, -1)
	}
	return p
}
