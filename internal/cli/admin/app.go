package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/cli"
	"github.com/cloo-solutions/kbcore/internal/config"
	"github.com/cloo-solutions/kbcore/internal/telemetry"
)

// AppFactory builds the application for a command. The returned function
// releases everything the factory acquired.
type AppFactory func(ctx context.Context) (*cli.App, func(), error)

// DefaultApp loads configuration from the environment and wires the application.
func DefaultApp(ctx context.Context) (*cli.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := cli.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	shutdownTelemetry := func() {}
	if cfg.HasSentry() {
		// 10% sampling in production, everything elsewhere
		sampleRate := 1.0
		if cfg.Environment == "production" {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Logger:           log,
		})
		if err != nil {
			log.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			shutdownTelemetry = shutdown
		}
	}

	app, err := cli.NewApp(ctx, cfg, log)
	if err != nil {
		shutdownTelemetry()
		_ = log.Sync()
		return nil, nil, err
	}

	return app, func() {
		app.Close()
		shutdownTelemetry()
		_ = log.Sync()
	}, nil
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonBytes))
	return err
}
