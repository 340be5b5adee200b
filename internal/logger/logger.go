// Package logger builds the process logger and the optional New Relic
// application from the observability config.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/config"
)

// New returns a zerolog logger writing to stderr.
func New(cfg *config.ObservabilityConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg *config.ObservabilityConfig, w io.Writer) zerolog.Logger {
	if cfg == nil {
		cfg = config.DefaultObservabilityConfig()
	}
	out := w
	if cfg.Logging.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(cfg.GetLogLevel()).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("env", cfg.Environment).
		Logger()
}

// NewRelic returns nil when no license key is configured. A nil application
// is safe to use: transactions and segments become no-ops.
func NewRelic(cfg *config.ObservabilityConfig) (*newrelic.Application, error) {
	if cfg == nil || !cfg.NewRelicEnabled() {
		return nil, nil
	}
	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.ServiceName),
		newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(cfg.NewRelic.AppLogForwardingEnabled),
		newrelic.ConfigDistributedTracerEnabled(cfg.NewRelic.DistributedTracingEnabled),
	)
	if err != nil {
		return nil, fmt.Errorf("new relic: %w", err)
	}
	return app, nil
}
