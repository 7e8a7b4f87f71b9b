package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"MarketPipeline/internal/api"
	"MarketPipeline/internal/config"
	"MarketPipeline/internal/report"
	"MarketPipeline/internal/scheduler"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd.Root().String("config"))
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger
	cfg := a.cfg

	server := api.NewServer(a.store, a.pipeline, cfg.ReportFile, cfg.App.Version, log)
	httpServer := server.NewHTTPServer(cfg.Server.Addr)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sched := scheduler.NewScheduler(ctx, a.pipeline, a.notifier(), a.store, cfg.ReportFile, cfg.Location(), log)
	if cfg.ETL.Enabled {
		if err := sched.Register(cfg.Interval()); err != nil {
			return err
		}
		sched.Start()
		if cfg.ETL.RunOnStart {
			log.Info("running initial ETL batch")
			sched.RunAsync(ctx, false)
		}
	} else {
		log.Info("scheduled ETL disabled")
	}
	// Runs before the deferred store close.
	defer sched.Stop()

	var polling sync.WaitGroup
	defer polling.Wait()
	if cfg.TelegramEnabled() {
		polling.Add(1)
		go func() {
			defer polling.Done()
			a.telegram().StartPolling(ctx, sched.HandleCommand)
		}()
		log.Info("telegram polling started")
	}

	log.Info("market pipeline is running")
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping")
	case err := <-serveErr:
		log.Error("http server failed", zap.Error(err))
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", zap.Error(err))
	}
	return nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.Root().String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	var tickers []string
	for _, t := range cmd.StringSlice("ticker") {
		tickers = append(tickers, config.ParseTickers(t)...)
	}

	stats := a.pipeline.RunBatch(ctx, tickers, cmd.Bool("force"), cmd.Bool("incremental"))
	if err := report.Save(a.cfg.ReportFile, &stats); err != nil {
		a.logger.Error("save batch report", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
