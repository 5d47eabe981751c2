// Command nexuts-ic runs the Information Center: the fleet-wide merge
// prefix tree, its WAL and snapshot durability loop, the sentry/instance
// registry and the routing decision endpoint (spec §6).
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

	"github.com/nexuts-io/nexuts/internal/config"
	"github.com/nexuts-io/nexuts/internal/health"
	"github.com/nexuts-io/nexuts/internal/logging"
	"github.com/nexuts-io/nexuts/internal/mergetree"
	"github.com/nexuts-io/nexuts/internal/metrics"
	"github.com/nexuts-io/nexuts/internal/router"
	"github.com/nexuts-io/nexuts/internal/slogpretty"
	"github.com/nexuts-io/nexuts/internal/snapshot"
	"github.com/nexuts-io/nexuts/internal/store"
	"github.com/nexuts-io/nexuts/internal/transport/ic"
	"github.com/nexuts-io/nexuts/internal/wal"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the IC configuration file")
	flag.Parse()

	log := slog.New(slogpretty.DefaultHandler)
	slog.SetDefault(log)

	cfg, err := config.LoadIC(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.IC, log *slog.Logger) error {
	tree, err := snapshot.Recover(cfg.SnapshotDir, cfg.WalManagerDir)
	if err != nil {
		return fmt.Errorf("recover tree: %w", err)
	}

	walMgr, err := wal.Open(cfg.WalManagerDir, wal.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer walMgr.Close()

	snapMgr := snapshot.New(tree, walMgr, cfg.SnapshotDir, log)
	batcher := mergetree.NewBatcher(tree, walMgr)

	registry, err := store.OpenRegistry(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer registry.Close()
	if !cfg.Resume {
		if err := registry.ClearAll(context.Background()); err != nil {
			return fmt.Errorf("clear registry: %w", err)
		}
	}

	weights := metrics.Weights{Prealloc: cfg.LoadBalancingWeights.Prealloc, Inflight: cfg.LoadBalancingWeights.Inflight}
	collector := metrics.NewCollector(weights)
	rt := router.New(cfg.BalanceThreshold, tree)
	fleet := ic.NewRegistryFleet(registry, collector, log)

	server := ic.NewServer(tree, batcher, registry, rt, collector, fleet)
	server.WithSentryHeartbeat(sentryPingerFor(registry), cfg.SentryHeartbeatInterval, log)

	mux := http.NewServeMux()
	server.Routes(mux)

	handler := logging.RequestID(logging.Recovery()(logging.Logger(slogpretty.DefaultHandler)(mux)))
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go snapMgr.Run(ctx, cfg.SnapshotInterval())

	serveErr := make(chan error, 1)
	go func() {
		log.Info("information center listening", "addr", cfg.ListenAddr)
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

// sentryPingerFor resolves a sentry id to its health-check pinger by
// looking up its address in the registry on every call, so a sentry's
// address can change across restarts without restarting the IC.
func sentryPingerFor(registry *store.Registry) func(sentryID string) health.SentryPinger {
	return func(sentryID string) health.SentryPinger {
		return health.NewHTTPSentryPinger(func(id string) string {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			fleet, err := registry.LoadAll(ctx)
			if err != nil {
				return ""
			}
			fv, ok := fleet[id]
			if !ok {
				return ""
			}
			return fmt.Sprintf("http://%s:%d/v1/health", fv.IP, fv.Port)
		})
	}
}
