package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyberinferno/go-jsonlnet/idle"
	"github.com/cyberinferno/go-jsonlnet/logger"
	"github.com/cyberinferno/go-jsonlnet/metrics"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/server"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pollTimeout = 100 * time.Millisecond

type serveOptions struct {
	addr           string
	metricsAddr    string
	idleTimeout    time.Duration
	maxQueuedBytes int
	logLevel       string
}

func serveCmd(logLevel *string) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-lines RPC server",
		Long: `Run the JSON-lines RPC server until interrupted.

Requests for "ping" are answered with "pong" and "echo" returns its params;
other methods get a method-not-found error. Notifications are ignored.

Examples:
  jsonlnet serve
  jsonlnet serve --addr=0.0.0.0:7000 --metrics-addr=:9100
  jsonlnet serve --idle-timeout=5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logLevel = *logLevel
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:7000", "Address to listen on")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Address for /metrics and /healthz (disabled when empty)")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", 0, "Disconnect peers idle for this long (0 disables)")
	cmd.Flags().IntVar(&opts.maxQueuedBytes, "max-queued-bytes", 0, "Per-peer write queue limit in bytes (0 is unbounded)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	level, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger("jsonlnet", level)
	defer log.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	poller, err := netpoll.Open()
	if err != nil {
		return fmt.Errorf("open poller: %w", err)
	}
	defer poller.Close()

	cfg := server.DefaultConfig(opts.addr)
	cfg.MaxQueuedBytes = opts.maxQueuedBytes
	cfg.Logger = log.With(logger.Field{Key: "component", Value: "server"})
	cfg.Metrics = metrics.New(registry, "jsonlnet", "server")

	srv, err := server.Start(poller, cfg)
	if err != nil {
		return err
	}

	loop := &serveLoop{poller: poller, server: srv, log: log}
	if opts.idleTimeout > 0 {
		loop.idle = idle.NewTracker(opts.idleTimeout)
		log.Info("idle peers will be disconnected", logger.Field{Key: "timeout", Value: loop.idle.Timeout().String()})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.run(gctx)
	})

	if opts.metricsAddr != "" {
		httpSrv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           newRouter(registry, &loop.connections),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Info("metrics server started", logger.Field{Key: "addr", Value: opts.metricsAddr})
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// serveLoop owns the poller and the server; only its goroutine touches them.
type serveLoop struct {
	poller      netpoll.Poller
	server      *server.Server
	idle        *idle.Tracker
	log         logger.Logger
	connections atomic.Int64
}

func (l *serveLoop) run(ctx context.Context) error {
	events := make([]netpoll.Event, 0, 256)
	for {
		select {
		case <-ctx.Done():
			if err := l.server.Close(l.poller); err != nil {
				l.log.Warn("server close failed", logger.Err(err))
			}

			return nil
		default:
		}

		ready, err := l.poller.Poll(pollTimeout, events)
		if err != nil {
			_ = l.server.Close(l.poller)
			return fmt.Errorf("poll: %w", err)
		}

		for _, ev := range ready {
			if err := l.server.HandleEvent(l.poller, ev); err != nil {
				l.log.Error("event dispatch failed", logger.Err(err))
			}
		}

		l.serveRequests()
		l.reapIdle()
		l.connections.Store(int64(l.server.NumConnections()))
	}
}

func (l *serveLoop) serveRequests() {
	for {
		peer, msg, ok := l.server.TryRecv()
		if !ok {
			return
		}

		if l.idle != nil {
			l.idle.Touch(peer)
		}

		resp, ok := handle(msg)
		if !ok {
			continue
		}

		if err := l.server.Reply(l.poller, peer, resp); err != nil {
			l.log.Warn("reply failed", logger.Field{Key: "peer", Value: peer}, logger.Err(err))
		}
	}
}

func (l *serveLoop) reapIdle() {
	if l.idle == nil {
		return
	}

	for _, peer := range l.idle.Expired(l.server.Connections()) {
		l.log.Info("disconnecting idle peer", logger.Field{Key: "peer", Value: peer})
		_ = l.server.Disconnect(l.poller, peer)
		l.idle.Forget(peer)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int64  `json:"connections"`
}

func newRouter(registry *prometheus.Registry, connections *atomic.Int64) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Connections: connections.Load()})
	})

	return r
}
