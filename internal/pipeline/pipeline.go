// Package pipeline runs extract, transform and load for one ticker or a batch
// of tickers and reports the outcome of each.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MarketPipeline/internal/collector"
	"MarketPipeline/internal/freshness"
	"MarketPipeline/internal/model"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
)

// Failure reasons recorded on TickerRunStats.
const (
	ReasonExtractFailed     = "extract_failed"
	ReasonNoDataTransformed = "no_data_transformed"
	ReasonNoValidData       = "no_valid_data"
	ReasonNoNewData         = "no_new_data"
	ReasonLoadFailed        = "load_failed"
)

// Transformer converts a raw payload into bars and validates single bars.
type Transformer interface {
	Transform(ticker string, raw *collector.RawPayload) []model.MarketBar
	Validate(bar model.MarketBar) bool
}

// Loader persists bars and reports the latest stored date per ticker.
type Loader interface {
	UpsertBatch(ctx context.Context, bars []model.MarketBar) int
	LatestDateFor(ctx context.Context, ticker string) (optional.Option[time.Time], error)
}

// Pipeline wires the extractor, transformer and loader together.
type Pipeline struct {
	Fetcher        collector.Fetcher
	Transformer    Transformer
	Loader         Loader
	DefaultTickers []string
	Location       *time.Location
	Now            func() time.Time
	Logger         *zap.Logger
}

func New(f collector.Fetcher, t Transformer, l Loader, defaultTickers []string, loc *time.Location, logger *zap.Logger) *Pipeline {
	if loc == nil {
		loc = time.Local
	}
	return &Pipeline{
		Fetcher:        f,
		Transformer:    t,
		Loader:         l,
		DefaultTickers: defaultTickers,
		Location:       loc,
		Now:            time.Now,
		Logger:         logger.Named("pipeline"),
	}
}

// RunForTicker runs the full ETL for one ticker. It never returns an error:
// every outcome, including panics in a collaborator, is reported on the stats.
func (p *Pipeline) RunForTicker(ctx context.Context, ticker string, force, incremental bool) model.TickerRunStats {
	return p.runForTicker(ctx, p.Logger, ticker, force, incremental)
}

// RunBatch runs each ticker in turn. An empty ticker list means the default
// tickers. Results are recorded in processing order.
func (p *Pipeline) RunBatch(ctx context.Context, tickers []string, force, incremental bool) model.BatchStats {
	if len(tickers) == 0 {
		tickers = p.DefaultTickers
	}
	batch := model.BatchStats{
		RunID:        uuid.NewString(),
		TotalTickers: len(tickers),
		Details:      make([]model.TickerRunStats, 0, len(tickers)),
		StartedAt:    p.Now(),
	}
	log := p.Logger.With(zap.String("run_id", batch.RunID))
	log.Info("starting batch ETL",
		zap.Strings("tickers", tickers),
		zap.Bool("force", force),
		zap.Bool("incremental", incremental))

	for _, t := range tickers {
		batch.Add(p.runForTicker(ctx, log, t, force, incremental))
	}
	batch.FinishedAt = p.Now()

	log.Info("batch ETL completed",
		zap.Int("successful", batch.Successful),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
		zap.Int("total_loaded", batch.TotalLoaded),
		zap.Duration("elapsed", batch.FinishedAt.Sub(batch.StartedAt)))
	return batch
}

func (p *Pipeline) runForTicker(ctx context.Context, log *zap.Logger, ticker string, force, incremental bool) (stats model.TickerRunStats) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	stats = model.TickerRunStats{Ticker: ticker}
	log = log.With(zap.String("ticker", ticker))

	defer func() {
		if r := recover(); r != nil {
			stats.Status = model.StatusError
			stats.Reason = fmt.Sprint(r)
			log.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if err := p.run(ctx, log, &stats, force, incremental); err != nil {
		stats.Status = model.StatusError
		stats.Reason = err.Error()
		log.Error("pipeline error", zap.Error(err))
	}
	return stats
}

// run advances one ticker through the states. A returned error means an
// unexpected failure; expected terminal states are written to stats.
func (p *Pipeline) run(ctx context.Context, log *zap.Logger, stats *model.TickerRunStats, force, incremental bool) error {
	ticker := stats.Ticker
	log.Info("starting ETL", zap.Bool("force", force), zap.Bool("incremental", incremental))

	if incremental && !force {
		latest, err := p.Loader.LatestDateFor(ctx, ticker)
		if err != nil {
			return fmt.Errorf("latest date: %w", err)
		}
		d := freshness.Decide(latest, p.today())
		if d.Skip {
			stats.Skipped = true
			stats.Reason = d.Reason
			stats.Status = model.StatusSkipped
			log.Info("skipping ticker", zap.String("reason", d.Reason))
			return nil
		}
		log.Debug("freshness check passed", zap.String("reason", d.Reason))
	}

	raw, err := p.Fetcher.Fetch(ctx, ticker)
	if err != nil || raw == nil {
		stats.Status = model.StatusFailed
		stats.Reason = ReasonExtractFailed
		if err != nil {
			stats.Reason += ": " + err.Error()
		}
		log.Warn("extraction failed", zap.Error(err))
		return nil
	}
	stats.Extracted = raw.Len()

	bars := p.Transformer.Transform(ticker, raw)
	if len(bars) == 0 {
		stats.Status = model.StatusFailed
		stats.Reason = ReasonNoDataTransformed
		log.Warn("no data transformed", zap.Int("extracted", stats.Extracted))
		return nil
	}
	stats.Transformed = len(bars)

	valid := bars[:0:0]
	for _, b := range bars {
		if p.Transformer.Validate(b) {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		stats.Status = model.StatusFailed
		stats.Reason = ReasonNoValidData
		log.Warn("no valid data after validation", zap.Int("transformed", stats.Transformed))
		return nil
	}

	if incremental {
		// Latest date is read again here so a same-day bar is refreshed.
		latest, err := p.Loader.LatestDateFor(ctx, ticker)
		if err != nil {
			return fmt.Errorf("latest date: %w", err)
		}
		if latest.IsSome() {
			cutoff := model.DateOf(latest.Unwrap())
			fresh := valid[:0:0]
			for _, b := range valid {
				if !b.Date.Before(cutoff) {
					fresh = append(fresh, b)
				}
			}
			valid = fresh
		}
		if len(valid) == 0 {
			stats.Status = model.StatusNoNewData
			stats.Reason = ReasonNoNewData
			log.Info("no new data to load")
			return nil
		}
	}

	stats.Loaded = p.Loader.UpsertBatch(ctx, valid)
	if stats.Loaded == 0 {
		stats.Status = model.StatusFailed
		stats.Reason = ReasonLoadFailed
		log.Error("load failed", zap.Int("records", len(valid)))
		return nil
	}

	stats.Status = model.StatusSuccess
	log.Info("ETL completed",
		zap.Int("extracted", stats.Extracted),
		zap.Int("transformed", stats.Transformed),
		zap.Int("loaded", stats.Loaded))
	return nil
}

func (p *Pipeline) today() time.Time {
	return model.DateOf(p.Now().In(p.Location))
}
