// Command nexuts-sentry runs one Sentry agent: the local per-worker
// radix trees, the outbound pipeline toward the Information Center, and
// worker health watches, restoring its known instances on restart
// (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexuts-io/nexuts/internal/config"
	"github.com/nexuts-io/nexuts/internal/health"
	"github.com/nexuts-io/nexuts/internal/logging"
	"github.com/nexuts-io/nexuts/internal/outbound"
	"github.com/nexuts-io/nexuts/internal/slogpretty"
	"github.com/nexuts-io/nexuts/internal/store"
	"github.com/nexuts-io/nexuts/internal/transport/sentry"
	"github.com/nexuts-io/nexuts/internal/transport/workerclient"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the Sentry configuration file")
	flag.Parse()

	log := slog.New(slogpretty.DefaultHandler)
	slog.SetDefault(log)

	cfg, err := config.LoadSentry(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Sentry, log *slog.Logger) error {
	db, err := store.OpenSentryDB(cfg.InstanceDBPath)
	if err != nil {
		return fmt.Errorf("open instance db: %w", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		DB:   cfg.Redis.DB,
	})
	defer rdb.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Redis.Clear {
		if err := rdb.FlushDB(ctx).Err(); err != nil {
			return fmt.Errorf("flush redis queue: %w", err)
		}
	}

	icBaseURL := fmt.Sprintf("http://%s:%d", cfg.NexutsAPIURL.IP, cfg.NexutsAPIURL.Port)
	icClient := outbound.NewClient(icBaseURL)
	retry := outbound.NewRegisterRetryQueue(icClient, log)
	buf := &outbound.Buffer{}
	queue := outbound.NewRedisQueue(rdb)
	pipeline := outbound.NewPipeline(cfg.SentryID, buf, queue, icClient, cfg.SendNexutsCycle(), log)
	if err := pipeline.Restore(ctx); err != nil {
		log.Warn("failed to restore outbound counters, starting from zero", "error", err)
	}

	server := sentry.NewServer(cfg.SentryID, db, nil, buf, retry, log)
	worker := workerclient.NewClient(server)
	server.SetWorker(worker)

	known, err := db.All(ctx)
	if err != nil {
		return fmt.Errorf("load known instances: %w", err)
	}
	for _, restored := range health.Reseed(ctx, known, worker, worker, server, db, log) {
		server.RestoreInstance(restored)
	}

	mux := http.NewServeMux()
	server.Routes(mux)
	handler := logging.RequestID(logging.Recovery()(logging.Logger(slogpretty.DefaultHandler)(mux)))
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	go retry.Run(ctx)
	go pipeline.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("sentry listening", "addr", cfg.ListenAddr, "sentry_id", cfg.SentryID)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
