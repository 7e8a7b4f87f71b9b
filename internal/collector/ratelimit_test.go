package collector

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinInterval_SpacesCalls(t *testing.T) {
	m := &MinInterval{F: &MockFetcher{Days: 1}, Interval: 40 * time.Millisecond}

	start := time.Now()
	_, err := m.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = m.Fetch(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.True(t, time.Since(start) >= 40*time.Millisecond)
	assert.Equal(t, "mock", m.Name())
}

func TestMinInterval_ContextCanceled(t *testing.T) {
	m := &MinInterval{F: &MockFetcher{Days: 1}, Interval: time.Hour}
	_, err := m.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Fetch(ctx, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

type stampingFetcher struct {
	mu    sync.Mutex
	calls []time.Time
}

func (s *stampingFetcher) Name() string { return "stamping" }

func (s *stampingFetcher) Fetch(context.Context, string) (*RawPayload, error) {
	s.mu.Lock()
	s.calls = append(s.calls, time.Now())
	s.mu.Unlock()
	return &RawPayload{}, nil
}

func TestMinInterval_ConcurrentCallersAreSpaced(t *testing.T) {
	inner := &stampingFetcher{}
	m := &MinInterval{F: inner, Interval: 100 * time.Millisecond}

	var wg sync.WaitGroup
	for _, ticker := range []string{"AAPL", "MSFT", "GOOGL"} {
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			_, err := m.Fetch(context.Background(), ticker)
			assert.NoError(t, err)
		}(ticker)
	}
	wg.Wait()

	require.Len(t, inner.calls, 3)
	sort.Slice(inner.calls, func(i, j int) bool { return inner.calls[i].Before(inner.calls[j]) })
	for i := 1; i < len(inner.calls); i++ {
		gap := inner.calls[i].Sub(inner.calls[i-1])
		assert.True(t, gap >= 50*time.Millisecond, "gap %d was %s", i, gap)
	}
}

func TestMockFetcher(t *testing.T) {
	wed := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)
	m := &MockFetcher{Days: 5, Now: func() time.Time { return wed }}

	p, err := m.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Len())
	assert.Contains(t, p.TimeSeries, "2024-01-17")
	assert.Contains(t, p.TimeSeries, "2024-01-11")
	assert.NotContains(t, p.TimeSeries, "2024-01-13", "weekends are skipped")

	m.Errors = map[string]error{"AAPL": ErrRateLimited}
	_, err = m.Fetch(context.Background(), "aapl")
	assert.ErrorIs(t, err, ErrRateLimited)
}
