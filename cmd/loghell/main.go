package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coffersTech/loghell/internal/cluster"
	"github.com/coffersTech/loghell/internal/config"
	"github.com/coffersTech/loghell/internal/engine"
	"github.com/coffersTech/loghell/internal/index"
	"github.com/coffersTech/loghell/internal/logger"
	"github.com/coffersTech/loghell/internal/metrics"
	"github.com/coffersTech/loghell/internal/server"
	"github.com/coffersTech/loghell/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK              = 0
	exitStartFailure    = 201
	exitShutdownTimeout = 202
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("loghell", pflag.ContinueOnError)
	config.SetupFlagSet(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitStartFailure
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartFailure
	}
	logger.Init(cfg)
	log := logger.Component("main")
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitStartFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	broadcaster := cluster.NewBroadcaster(cfg.ClusterBuffer, m)
	defer broadcaster.Close()

	ls, err := engine.Open(ctx, engine.Options{
		Index: index.Options{
			Name:   cfg.Index,
			Fields: cfg.IndexFields,
			Logger: logger.Component("index"),
		},
		Storage: storage.Options{
			Name:   cfg.Storage,
			Path:   cfg.StoragePath,
			S3:     cfg.S3,
			Logger: logger.Component("storage"),
		},
		Publisher: broadcaster,
		Logger:    logger.Component("engine"),
		Metrics:   m,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open log storage")
		return exitStartFailure
	}
	var timedOut bool
	defer func() {
		// A handler stuck in Store still holds the engine lock.
		if timedOut {
			return
		}
		if err := ls.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close log storage")
		}
	}()

	dashboard, err := server.LoadDashboard(cfg.DashboardPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load dashboard")
		return exitStartFailure
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.SocketAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.SocketAddr).Msg("failed to bind socket")
		return exitStartFailure
	}
	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		if metricsLn, err = lc.Listen(ctx, "tcp", cfg.MetricsAddr); err != nil {
			ln.Close()
			log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("failed to bind metrics socket")
			return exitStartFailure
		}
	}

	conns := new(atomic.Int64)
	m.ObserveConnections(conns)
	srv := server.New(ls, broadcaster, server.Options{
		Dashboard:    dashboard,
		SSEQuery:     cfg.SSEQuery,
		PollInterval: cfg.SSEPollInterval,
		Connections:  conns,
		Logger:       logger.Component("server"),
		Metrics:      m,
	})
	replicator := cluster.NewReplicator(cfg.ClusterAddrs, ls, logger.Component("cluster"), m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error { return replicator.Run(gctx) })
	if metricsLn != nil {
		g.Go(func() error { return m.Serve(gctx, metricsLn) })
	}
	log.Info().
		Str("addr", cfg.SocketAddr).
		Strs("peers", cfg.ClusterAddrs).
		Str("metrics", cfg.MetricsAddr).
		Msg("loghell started")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	timedOut, runErr = awaitShutdown(ctx, done, cfg.ShutdownTimeout, log)
	if timedOut {
		log.Error().Int64("open_connections", conns.Load()).Msg("shutdown timed out")
		return exitShutdownTimeout
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("server stopped")
		return exitStartFailure
	}
	log.Info().Msg("loghell exited gracefully")
	return exitOK
}

// awaitShutdown waits for done. Once ctx is cancelled it waits at most
// timeout more and reports whether that bound was hit.
func awaitShutdown(ctx context.Context, done <-chan error, timeout time.Duration, log zerolog.Logger) (bool, error) {
	select {
	case err := <-done:
		return false, err
	case <-ctx.Done():
	}
	log.Info().Dur("timeout", timeout).Msg("shutting down")
	select {
	case err := <-done:
		return false, err
	case <-time.After(timeout):
		return true, nil
	}
}
