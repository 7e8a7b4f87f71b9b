package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"MarketPipeline/internal/collector"
	"MarketPipeline/internal/config"
	"MarketPipeline/internal/loader"
	"MarketPipeline/internal/logger"
	"MarketPipeline/internal/notifier"
	"MarketPipeline/internal/pipeline"
	"MarketPipeline/internal/store"
	"MarketPipeline/internal/transformer"

	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	pipeline *pipeline.Pipeline
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.App.LogLevel, cfg.App.Environment,
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.Database.Driver == "sqlite" && !strings.Contains(cfg.Database.DSN, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fetcher := newFetcher(cfg, log)
	log.Info("data source configured", zap.String("provider", fetcher.Name()), zap.Strings("tickers", cfg.ETL.Tickers))

	loc := cfg.Location()
	p := pipeline.New(
		fetcher,
		transformer.New(log, nil, loc),
		loader.New(st, log),
		cfg.ETL.Tickers,
		loc,
		log,
	)
	return &app{cfg: cfg, logger: log, store: st, pipeline: p}, nil
}

func newFetcher(cfg *config.Config, log *zap.Logger) collector.Fetcher {
	ds := cfg.DataSource
	if ds.Provider == "mock" {
		return &collector.MockFetcher{Days: 30}
	}
	var f collector.Fetcher = collector.NewAlphaVantageFetcher(ds.BaseURL, ds.APIKey, ds.OutputSize, ds.Timeout, cfg.Proxy, log)
	if ds.MinInterval > 0 {
		f = &collector.MinInterval{F: f, Interval: ds.MinInterval}
	}
	return f
}

func (a *app) notifier() notifier.Notifier {
	if !a.cfg.TelegramEnabled() {
		a.logger.Info("telegram not configured, batch reports are not sent")
		return notifier.Noop{}
	}
	return a.telegram()
}

func (a *app) telegram() *notifier.TelegramNotifier {
	return notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy, a.logger)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
