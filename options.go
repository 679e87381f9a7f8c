package vecmatch

import (
	"io"
	"log/slog"

	"github.com/helixml/vecmatch/domain/search"
	"github.com/helixml/vecmatch/infrastructure/tracking"
	"github.com/helixml/vecmatch/internal/metrics"
)

// clientConfig holds what New needs beyond the AppConfig.
type clientConfig struct {
	logger    *slog.Logger
	embedder  search.Embedder
	metrics   *metrics.Metrics
	runID     string
	reporters []tracking.Reporter
	closers   []io.Closer
}

// Option configures the Client.
type Option func(*clientConfig)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithEmbedder replaces the OpenAI-compatible provider built from the
// embedding endpoint config.
func WithEmbedder(e search.Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithMetrics sets the metrics sink. Defaults to a fresh private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithRunID sets the identifier stamped on quarantine entries. Defaults to
// a new correlation id.
func WithRunID(id string) Option {
	return func(c *clientConfig) {
		c.runID = id
	}
}

// WithReporter adds a progress reporter to every operation.
func WithReporter(r tracking.Reporter) Option {
	return func(c *clientConfig) {
		c.reporters = append(c.reporters, r)
	}
}

// WithCloser registers a resource to be closed when the Client shuts down.
func WithCloser(c io.Closer) Option {
	return func(cfg *clientConfig) {
		cfg.closers = append(cfg.closers, c)
	}
}
