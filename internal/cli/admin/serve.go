package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/api/handlers"
	"github.com/cloo-solutions/kbcore/internal/cli"
	"github.com/cloo-solutions/kbcore/internal/database"
	"github.com/cloo-solutions/kbcore/internal/server"
)

// ServeCmd returns the serve command
func ServeCmd(newApp AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the kbcore HTTP API server on the specified port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, newApp)
		},
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBCORE_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", database.DefaultMigrationsSource, "Migrations source URL")

	return cmd
}

func runServe(cmd *cobra.Command, newApp AppFactory) error {
	ctx := context.Background()

	app, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	log := app.Logger

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if app.Config.UsesPostgres() && !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := database.Migrate(app.Config.DatabaseURL, source, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	port := app.Config.Port
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		port = p
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewHandler(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", port), zap.String("store", app.Config.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

// NewHandler builds the HTTP router for app.
func NewHandler(app *cli.App) http.Handler {
	return server.NewRouter(server.RouterConfig{
		Logger:           app.Logger,
		Gatherer:         app.Registry,
		KnowledgeHandler: handlers.NewKnowledgeHandler(app.Knowledge, app.Ingestion, app.Embedding),
		SearchHandler:    handlers.NewSearchHandler(app.Search),
		Ping:             app.Ping,
	})
}
