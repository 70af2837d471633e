package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prmetrics/pr-history-service/internal/cache"
	"github.com/prmetrics/pr-history-service/internal/config"
	"github.com/prmetrics/pr-history-service/internal/facts"
	"github.com/prmetrics/pr-history-service/internal/repository/postgres"
	"github.com/prmetrics/pr-history-service/internal/service"
	"github.com/prmetrics/pr-history-service/internal/snapshot"
	myhttp "github.com/prmetrics/pr-history-service/internal/transport/http"
	"github.com/prmetrics/pr-history-service/pkg/logger/sl"
	"github.com/prmetrics/pr-history-service/pkg/logger/slogpretty"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.MustLoad()
	log := slogpretty.SetupLogger(cfg.Env)

	log.Info("starting pr-history-service", slog.String("env", cfg.Env))

	errChan := make(chan error, 1)

	db, err := postgres.NewDB(cfg.Metadata, log)
	if err != nil {
		return fmt.Errorf("failed to init metadata store: %v", err)
	}
	defer func() {
		err = db.DB().Close()
		if err != nil {
			errChan <- fmt.Errorf("metadata store close failed: %v", err)
		}
	}()

	var cacheClient cache.Client

	if cfg.Cache.Enabled {
		cacheClient, err = cache.NewBadgerCache(cache.Config{
			Path:     cfg.Cache.Path,
			InMemory: cfg.Cache.InMemory,
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("failed to init cache: %v", err)
		}
		defer func() {
			if err := cacheClient.Close(); err != nil {
				log.Error("cache close failed", sl.Err(err))
			}
		}()
	} else {
		log.Warn("object cache is disabled, every request hits the metadata store")
	}

	cacheMetrics := cache.NewMetrics(prometheus.DefaultRegisterer)

	snapshotMemo, err := cache.NewMemoizer[*snapshot.Snapshot](cacheClient, log,
		cache.Options[*snapshot.Snapshot]{
			TTL:     cfg.Cache.DefaultTTL,
			Metrics: cacheMetrics,
		})
	if err != nil {
		return fmt.Errorf("failed to init snapshot cache: %v", err)
	}

	factsMemo, err := cache.NewMemoizer[facts.Facts](cacheClient, log,
		cache.Options[facts.Facts]{
			TTLFunc: service.FactsTTLFunc,
			Metrics: cacheMetrics,
		})
	if err != nil {
		return fmt.Errorf("failed to init facts cache: %v", err)
	}

	assembler := snapshot.NewAssembler(db, log, snapshotMemo, cfg.Mining.MaxItems)
	history := service.NewHistoryService(log, assembler, factsMemo, cfg.Mining.Bots)

	srv := myhttp.NewServer(log, history)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	go startServer(log, httpServer, errChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("http server error: %v", err)

	case <-ctx.Done():
		log.Info("stopping server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shuting down http server: %v", err)
	}

	return nil
}

func startServer(log *slog.Logger, httpServer *http.Server, errChan chan error) {
	defer close(errChan)

	log.Info("service started", slog.String("addr", httpServer.Addr))

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("error listening and serving: %v", err)
	}
}
