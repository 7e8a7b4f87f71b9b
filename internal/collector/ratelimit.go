package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MinInterval wraps a Fetcher and allows at most one provider call per
// Interval across all callers. Waiting callers return early if the context is
// canceled.
type MinInterval struct {
	F        Fetcher
	Interval time.Duration

	once    sync.Once
	limiter *rate.Limiter
}

func (m *MinInterval) Name() string { return m.F.Name() }

func (m *MinInterval) Fetch(ctx context.Context, ticker string) (*RawPayload, error) {
	if m.Interval > 0 {
		m.once.Do(func() { m.limiter = rate.NewLimiter(rate.Every(m.Interval), 1) })
		if err := m.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return m.F.Fetch(ctx, ticker)
}
