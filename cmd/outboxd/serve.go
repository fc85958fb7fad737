package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/outbox/api"
	"github.com/xraph/outbox/audithook"
	"github.com/xraph/outbox/engine"
	"github.com/xraph/outbox/handlers"
	"github.com/xraph/outbox/notify/redisnotify"
	"github.com/xraph/outbox/observability"
	"github.com/xraph/outbox/stream"
	"github.com/xraph/outbox/upstream"
)

const redisConnectWait = 10 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and the operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			return serve(ctx, s)
		},
	}
}

func serve(ctx context.Context, s *session) error {
	cfg, logger := s.cfg, s.logger

	broker := stream.NewBroker(logger)
	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithExtension(broker),
		engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger), audithook.WithLogger(logger))),
	}
	checks := []api.HealthCheck{s.store.Ping}

	if cfg.RedisURL != "" {
		rc, err := redisnotify.Connect(ctx, cfg.RedisURL, redisConnectWait)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rc.Close()
		opts = append(opts, engine.WithExtension(redisnotify.New(rc,
			redisnotify.WithChannel(cfg.RedisChannel),
			redisnotify.WithLogger(logger),
		)))
		checks = append(checks, redisnotify.Healthcheck(rc))
	}

	q, err := engine.New(s.store, opts...)
	if err != nil {
		return err
	}

	deps, err := upstreamDeps(s)
	if err != nil {
		return err
	}
	handlers.Register(q, deps)

	metrics, err := observability.Handler(observability.NewStatsCollector(s.store, logger))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	apiOpts := []api.Option{api.WithLogger(logger), api.WithMetricsHandler(metrics)}
	for _, c := range checks {
		apiOpts = append(apiOpts, api.WithHealthCheck(c))
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(q, broker, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := q.Start(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("operator api listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop the queue first: it closes event stream subscribers, which
		// lets the HTTP server drain long-lived connections.
		qErr := q.Stop(shutdownCtx)
		return errors.Join(qErr, srv.Shutdown(shutdownCtx))
	})
	return eg.Wait()
}

// upstreamDeps builds the outbound collaborators that are configured.
func upstreamDeps(s *session) (handlers.Deps, error) {
	cfg, logger := s.cfg, s.logger
	deps := handlers.Deps{Logger: logger}

	timeout := cfg.JobTimeout
	if cfg.CommerceURL != "" {
		c, err := upstream.New(cfg.CommerceURL,
			upstream.WithToken(cfg.CommerceToken),
			upstream.WithTimeout(timeout),
			upstream.WithLogger(logger),
		)
		if err != nil {
			return deps, fmt.Errorf("commerce client: %w", err)
		}
		deps.Commerce = handlers.NewCommerceClient(c)
	}
	if cfg.LabelsURL != "" {
		c, err := upstream.New(cfg.LabelsURL,
			upstream.WithToken(cfg.LabelsToken),
			upstream.WithTimeout(timeout),
			upstream.WithLogger(logger),
		)
		if err != nil {
			return deps, fmt.Errorf("labels client: %w", err)
		}
		deps.Labels = handlers.NewLabelClient(c)
	}
	return deps, nil
}
