package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/esnunes/helmforge/internal/config"
	"github.com/esnunes/helmforge/internal/db"
	"github.com/esnunes/helmforge/internal/engine"
	"github.com/esnunes/helmforge/internal/metrics"
	"github.com/esnunes/helmforge/internal/paths"
	"github.com/esnunes/helmforge/internal/queue"
	"github.com/esnunes/helmforge/internal/realtime"
	"github.com/esnunes/helmforge/internal/server"
)

const pruneInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	dbPath := cfg.Database
	if dbPath == "" {
		if dbPath, err = db.DBPath(cfg.DataDir); err != nil {
			return err
		}
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	queries := db.NewQueries(database)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	broker, err := newBroker(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	public, private, err := realtime.LoadOrGenerateKeypair(paths.KeyDir(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("loading channel token keys: %w", err)
	}
	gateway := realtime.NewGateway(queries, broker, realtime.NewSigner(public, private, cfg.Realtime.TokenTTL), logger, m)
	eng := engine.New(queries, queue.NewPublisher(broker, logger, m), gateway, logger, m)
	srv := server.New(queries, eng, gateway, realtime.NewHub(gateway, logger), registry, logger)

	if err := srv.Listen(cfg.Listen); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	g.Go(func() error {
		pruneReplay(ctx, gateway, cfg.Realtime.ReplayRetention, logger)
		return nil
	})
	return g.Wait()
}

func newBroker(cfg config.BrokerConfig, logger *slog.Logger) (queue.Broker, error) {
	if cfg.URL == "" {
		logger.Info("using in-process broker")
		return queue.NewLocalBroker(), nil
	}
	b, err := queue.NewNATSBroker(cfg.URL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to nats", "url", cfg.URL)
	return b, nil
}

// pruneReplay drops replay events older than retention until ctx is done.
func pruneReplay(ctx context.Context, gateway *realtime.Gateway, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := gateway.PruneReplayEvents(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			logger.Error("pruning replay events", "error", err)
		} else if n > 0 {
			logger.Debug("pruned replay events", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
