// Package config defines the service configuration and its defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation without system zoneinfo

	"github.com/google/uuid"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/internal/pipeline"
	"github.com/smartcity/hardbruecke/internal/service"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	Port string `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage selects where fetched days and prediction logs are kept.
	Storage     string `koanf:"storage"`
	DatabaseURL string `koanf:"database_url"`
	SQLitePath  string `koanf:"sqlite_path"`

	OpenDataURL       string `koanf:"opendata_url"`
	OpenDataTimeoutMS int    `koanf:"opendata_timeout_ms"`

	// ModelPath points at an exported decision tree. When empty the model
	// service at MLServiceURL is used instead.
	ModelPath    string `koanf:"model_path"`
	MLServiceURL string `koanf:"ml_service_url"`

	// DatasetPath is an optional local CSV export consulted before the API.
	DatasetPath string `koanf:"dataset_path"`

	// FeatureOrder is the regressor input order. A model file carrying its
	// own feature names overrides it.
	FeatureOrder []string `koanf:"feature_order"`

	// Resources maps a year to its open data resource id.
	Resources map[string]string `koanf:"resources"`

	// Timezone of the counting data, used to pick the default day.
	Timezone string `koanf:"timezone"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Port:              "8080",
		Env:               "development",
		Storage:           StoragePostgres,
		SQLitePath:        "hardbruecke.db",
		OpenDataURL:       service.DefaultOpenDataURL,
		OpenDataTimeoutMS: 10_000,
		MLServiceURL:      "http://localhost:8000",
		FeatureOrder:      append([]string(nil), pipeline.DefaultFeatureOrder...),
		Resources:         service.DefaultResources(),
		Timezone:          "Europe/Zurich",
	}
}

// OpenDataTimeout returns the open data request timeout
func (c *Config) OpenDataTimeout() time.Duration {
	return time.Duration(c.OpenDataTimeoutMS) * time.Millisecond
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port must not be empty", ErrInvalidConfig)
	}
	switch c.Storage {
	case StoragePostgres, StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}
	if c.OpenDataTimeoutMS <= 0 {
		return fmt.Errorf("%w: opendata_timeout_ms must be positive", ErrInvalidConfig)
	}
	if len(c.FeatureOrder) == 0 {
		return fmt.Errorf("%w: feature_order must not be empty", ErrInvalidConfig)
	}
	var probe domain.FeaturizedObservation
	for _, name := range c.FeatureOrder {
		if _, ok := probe.Feature(name); !ok {
			return fmt.Errorf("%w: unknown feature %q", ErrInvalidConfig, name)
		}
	}
	for year, id := range c.Resources {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: resource for %s is not a uuid: %q", ErrInvalidConfig, year, id)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.Timezone, err)
	}
	return nil
}

// splitList parses a comma separated env value
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseResources parses "2021=<id>,2022=<id>"
func parseResources(s string) map[string]any {
	out := make(map[string]any)
	for _, pair := range splitList(s) {
		year, id, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(year)] = strings.TrimSpace(id)
	}
	return out
}
