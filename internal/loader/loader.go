package loader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketPipeline/internal/model"
	"MarketPipeline/internal/store"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"
)

// Loader writes validated bars to storage keyed by (ticker, date).
type Loader struct {
	store  *store.Store
	logger *zap.Logger
}

func New(s *store.Store, logger *zap.Logger) *Loader {
	return &Loader{store: s, logger: logger.Named("loader")}
}

// Upsert stores a single bar, overwriting prices and volume if the key exists.
func (l *Loader) Upsert(ctx context.Context, bar model.MarketBar) (model.StoredRecord, error) {
	bar.Ticker = strings.ToUpper(bar.Ticker)
	rec, err := l.store.Upsert(ctx, bar)
	if err != nil {
		l.logger.Error("upsert failed",
			zap.String("ticker", bar.Ticker),
			zap.String("date", model.FormatDate(bar.Date)),
			zap.Error(err))
		return model.StoredRecord{}, fmt.Errorf("load bar: %w", err)
	}
	return rec, nil
}

// UpsertBatch stores all bars in one transaction. It returns the number of
// rows written, or 0 if the transaction was rolled back.
func (l *Loader) UpsertBatch(ctx context.Context, bars []model.MarketBar) int {
	if len(bars) == 0 {
		return 0
	}
	ticker := strings.ToUpper(bars[0].Ticker)
	n, err := l.store.UpsertBatch(ctx, bars)
	if err != nil {
		l.logger.Error("batch upsert rolled back",
			zap.String("ticker", ticker),
			zap.Int("records", len(bars)),
			zap.Error(err))
		return 0
	}
	l.logger.Info("batch upserted", zap.String("ticker", ticker), zap.Int("records", n))
	return n
}

// LatestDateFor returns the most recent stored trading date for ticker.
func (l *Loader) LatestDateFor(ctx context.Context, ticker string) (optional.Option[time.Time], error) {
	return l.store.LatestDate(ctx, strings.ToUpper(strings.TrimSpace(ticker)))
}
