package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/engine"
	"github.com/vetgate/vetgate/internal/logging"
	"github.com/vetgate/vetgate/internal/points"
	"github.com/vetgate/vetgate/internal/scheduler"
	"github.com/vetgate/vetgate/internal/store"
	"github.com/vetgate/vetgate/internal/validation"
	"github.com/vetgate/vetgate/pkg/mcp"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Logs go to stderr; stdout belongs to the MCP stdio transport.
	handler := logging.NewCorrelationHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	logger := slog.New(handler)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return err
	}

	sources := datasources.NewRegistry(logger)
	pointReg := points.NewRegistry(logger)
	if err := registerConfigured(cfg, sources, pointReg); err != nil {
		return err
	}

	eng := engine.New(sources, st, logger)
	dispatcher := points.NewDispatcher(pointReg, sources, st, eng, logger)
	checker := validation.NewChecker(sources, pointReg)

	if cfg.RetentionDays > 0 {
		window := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		retention, err := scheduler.NewRetention(st, cfg.RetentionSchedule, window, logger)
		if err != nil {
			return fmt.Errorf("retention scheduler: %w", err)
		}
		if err := retention.Start(ctx); err != nil {
			return err
		}
		defer retention.Stop()
	}

	srv := mcp.NewVetgateServer(mcp.VetgateServerDeps{
		Dispatcher: dispatcher,
		Store:      st,
		Checker:    checker,
		Logger:     logger,
	})

	logger.Info("vetgate serving on stdio",
		slog.String("db_path", cfg.DBPath),
		slog.Int("datasources", sources.Count()),
		slog.Int("points", pointReg.Count()),
	)
	return srv.Serve(ctx)
}
