package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPipeline/internal/model"
	"MarketPipeline/internal/notifier"
	"MarketPipeline/internal/report"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// BatchRunner runs one ETL batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, tickers []string, force, incremental bool) model.BatchStats
}

// TickerLister returns the tickers that have stored data.
type TickerLister interface {
	Tickers(ctx context.Context) ([]string, error)
}

// Scheduler runs the incremental batch on a fixed interval and answers chat commands.
type Scheduler struct {
	Cron       *cron.Cron
	Runner     BatchRunner
	Notifier   notifier.Notifier
	Tickers    TickerLister
	ReportFile string
	Logger     *zap.Logger
	Ctx        context.Context

	background sync.WaitGroup
}

// NewScheduler creates a new Scheduler. Overlapping ticks are skipped while a
// scheduled batch is still running.
func NewScheduler(ctx context.Context, runner BatchRunner, n notifier.Notifier, tickers TickerLister, reportFile string, loc *time.Location, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cl := cronLogger{logger}
	if loc == nil {
		loc = time.Local
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &Scheduler{
		Cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Runner:     runner,
		Notifier:   n,
		Tickers:    tickers,
		ReportFile: reportFile,
		Logger:     logger,
		Ctx:        ctx,
	}
}

// Register adds the periodic incremental batch.
func (s *Scheduler) Register(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid ETL interval %s", interval)
	}
	spec := "@every " + interval.String()
	if _, err := s.Cron.AddFunc(spec, s.scheduledRun); err != nil {
		return fmt.Errorf("register ETL task: %w", err)
	}
	s.Logger.Info("ETL task registered", zap.String("spec", spec))
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running batches, scheduled or
// started with RunAsync, to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.background.Wait()
	s.Logger.Info("scheduler stopped")
}

// RunAsync starts RunNow in the background. Stop waits for it.
func (s *Scheduler) RunAsync(ctx context.Context, force bool) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.RunNow(ctx, force)
	}()
}

// RunNow executes one batch immediately, then persists and sends its report.
func (s *Scheduler) RunNow(ctx context.Context, force bool) model.BatchStats {
	stats := s.Runner.RunBatch(ctx, nil, force, true)
	if s.ReportFile != "" {
		if err := report.Save(s.ReportFile, &stats); err != nil {
			s.Logger.Error("save batch report", zap.String("run_id", stats.RunID), zap.Error(err))
		}
	}
	if err := s.Notifier.SendWithRetry(ctx, notifier.FormatBatchReport(&stats), 3); err != nil {
		s.Logger.Error("send batch report", zap.String("run_id", stats.RunID), zap.Error(err))
	}
	return stats
}

func (s *Scheduler) scheduledRun() {
	s.Logger.Info("running scheduled ETL")
	s.RunNow(s.Ctx, false)
}

const helpText = "Available commands:\n• /run - incremental ETL now\n• /force - full refresh of all tickers\n• /last - last batch report\n• /tickers - stored tickers"

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	// Commands may carry a bot suffix, e.g. /run@market_bot.
	cmd, _, _ := strings.Cut(fields[0], "@")
	switch strings.ToLower(cmd) {
	case "/run":
		s.RunNow(ctx, false)
		return ""
	case "/force":
		s.RunNow(ctx, true)
		return ""
	case "/last":
		stats, err := report.Load(s.ReportFile)
		if errors.Is(err, report.ErrNoReport) {
			return "No batch has run yet."
		}
		if err != nil {
			s.Logger.Error("load batch report", zap.Error(err))
			return "Failed to load last report."
		}
		return notifier.FormatBatchReport(stats)
	case "/tickers":
		tickers, err := s.Tickers.Tickers(ctx)
		if err != nil {
			s.Logger.Error("list tickers", zap.Error(err))
			return "Failed to list tickers."
		}
		return notifier.FormatTickers(tickers)
	default:
		return helpText
	}
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
