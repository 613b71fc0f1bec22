package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/points"
	"github.com/vetgate/vetgate/pkg/schema"
)

// DataSourceConfig declares a static-value datasource registered at startup.
// The configured value is returned verbatim on every call, which is enough for
// feature flags and fixed thresholds; code-backed datasources are registered by
// the embedding application.
type DataSourceConfig struct {
	Name        string            `json:"name"`
	Kind        schema.ReturnKind `json:"kind"`
	Description string            `json:"description,omitempty"`
	Value       any               `json:"value"`
}

// PointConfig declares an execution point registered at startup.
type PointConfig struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category,omitempty"`
	AllowedDataSources []string `json:"allowed_datasources,omitempty"`
}

// Config holds all vetgate server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string             `json:"db_path"`
	LogLevel          string             `json:"log_level"`
	RetentionSchedule string             `json:"retention_schedule"`
	RetentionDays     int                `json:"retention_days"`
	DataSources       []DataSourceConfig `json:"datasources,omitempty"`
	Points            []PointConfig      `json:"points,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(vetgateDir(), "vetgate.db"),
		LogLevel:          "info",
		RetentionSchedule: "0 3 * * *",
		RetentionDays:     90,
	}
}

func vetgateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vetgate"
	}
	return filepath.Join(home, ".vetgate")
}

func settingsPath() string {
	return filepath.Join(vetgateDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("VETGATE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("VETGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VETGATE_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("VETGATE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerConfigured populates the registries from the static config sections.
func registerConfigured(cfg Config, sources *datasources.Registry, pointReg *points.Registry) error {
	for _, ds := range cfg.DataSources {
		value := ds.Value
		fn := datasources.Callable(func(context.Context, map[string]any) (any, error) {
			return value, nil
		})
		if err := sources.Register(ds.Name, nil, ds.Kind, ds.Description, fn); err != nil {
			return err
		}
	}
	for _, p := range cfg.Points {
		if err := pointReg.Register(p.Code, p.Name, p.Description, p.Category, p.AllowedDataSources); err != nil {
			return err
		}
	}
	return nil
}
