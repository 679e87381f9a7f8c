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

	"github.com/helixml/vecmatch"
	"github.com/helixml/vecmatch/infrastructure/api"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/log"
)

const shutdownTimeout = 5 * time.Second

// session is one CLI invocation: a configured client, a context cancelled
// on SIGINT/SIGTERM, and the optional monitoring server.
type session struct {
	ctx    context.Context
	cfg    config.AppConfig
	client *vecmatch.Client
	logger *slog.Logger
	server *api.Server
	stop   context.CancelFunc
}

// loadConfig loads configuration from .env file and environment variables.
func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openSession loads config, applies overrides, and opens a client.
func openSession(parent context.Context, flags *globalFlags, overrides ...config.AppConfigOption) (*session, error) {
	cfg, err := loadConfig(flags.envFile)
	if err != nil {
		return nil, err
	}
	if flags.metricsAddr != "" {
		overrides = append(overrides, config.WithMetricsAddr(flags.metricsAddr))
	}
	cfg = cfg.Apply(overrides...)

	logger := log.Configure(cfg)
	runID := log.NewCorrelationID()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx = log.WithCorrelationID(ctx, runID)

	client, err := vecmatch.New(cfg, vecmatch.WithLogger(logger), vecmatch.WithRunID(runID))
	if err != nil {
		stop()
		return nil, fmt.Errorf("create client: %w", err)
	}

	s := &session{ctx: ctx, cfg: cfg, client: client, logger: logger, stop: stop}
	if addr := cfg.MetricsAddr(); addr != "" {
		s.serveMonitoring(addr)
	}
	return s, nil
}

func (s *session) serveMonitoring(addr string) {
	s.server = api.NewServer(addr, s.logger)
	monitor := api.NewMonitorRouter(s.client.Metrics().Registry(), s.client.Progress(), s.client.Health)
	s.server.Router().Mount("/", monitor.Routes())
	go func() {
		if err := s.server.Start(); err != nil {
			s.logger.Error("monitoring server failed", slog.Any("error", err))
		}
	}()
}

// interrupted reports whether err comes from the user stopping the run.
func (s *session) interrupted(err error) bool {
	return errors.Is(err, context.Canceled) && s.ctx.Err() != nil
}

func (s *session) Close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", slog.Any("error", err))
		}
		cancel()
	}
	if err := s.client.Close(); err != nil {
		s.logger.Error("failed to close client", slog.Any("error", err))
	}
	s.stop()
}
