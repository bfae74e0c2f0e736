package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/ingest"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig        `yaml:"server"`
	Database DatabaseConfig      `yaml:"database"`
	Storage  StorageConfig       `yaml:"storage"`
	Auth     AuthConfig          `yaml:"auth"`
	Ingest   IngestConfig        `yaml:"ingest"`
	Cases    map[string][]string `yaml:"cases"` // case number -> case IDs, used when no database is configured
	Sources  []ingest.DataSource `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	CORSOrigins   []string `yaml:"cors_origins"`
	MaxUploadSize int64    `yaml:"max_upload_size"` // bytes
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig holds attachment storage settings. An empty Dir keeps the
// placeholder store that only hands out IDs.
type StorageConfig struct {
	Dir               string `yaml:"dir"`
	MaxAttachmentSize int64  `yaml:"max_attachment_size"`
}

// AuthConfig holds bearer-token settings. With an empty secret requests are
// attributed to "anonymous".
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Required  bool   `yaml:"required"`
}

// IngestConfig holds engine and bulk import tuning.
type IngestConfig struct {
	BatchSize           int                      `yaml:"batch_size"`
	BatchDelay          time.Duration            `yaml:"batch_delay"`
	BatchTimeout        time.Duration            `yaml:"batch_timeout"`
	Retention           time.Duration            `yaml:"retention"`
	SweepSchedule       string                   `yaml:"sweep_schedule"`
	RollbackPolicy      string                   `yaml:"rollback_policy"` // executed | all
	SimilarityThreshold float64                  `yaml:"similarity_threshold"`
	Concurrency         engine.ConcurrencyLimits `yaml:"concurrency"`
	Retry               engine.RetryPolicy       `yaml:"retry"`
}

// SourceSettings is the typed view of a source's free-form config map.
type SourceSettings struct {
	// Preset "lead" attaches the built-in lead schema when the source
	// declares none.
	Preset string `mapstructure:"preset"`
	// Format is the upload format assumed when an import request names none.
	Format string `mapstructure:"format"`
}

// DecodeSourceSettings decodes src.Config into SourceSettings.
func DecodeSourceSettings(src ingest.DataSource) (SourceSettings, error) {
	var s SourceSettings
	if err := mapstructure.Decode(src.Config, &s); err != nil {
		return s, fmt.Errorf("source %q config: %w", src.ID, err)
	}
	return s, nil
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			CORSOrigins:   []string{"*"},
			MaxUploadSize: 32 << 20,
		},
		Storage: StorageConfig{
			MaxAttachmentSize: 10 << 20,
		},
		Ingest: IngestConfig{
			BatchSize:           100,
			BatchDelay:          100 * time.Millisecond,
			BatchTimeout:        60 * time.Second,
			Retention:           time.Hour,
			SweepSchedule:       "@every 5m",
			RollbackPolicy:      "executed",
			SimilarityThreshold: 0.8,
			Concurrency:         engine.ConcurrencyLimits{Global: 32, PerSource: 8},
			Retry:               engine.DefaultRetryPolicy(),
		},
		Cases: map[string][]string{},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Cases == nil {
		cfg.Cases = map[string][]string{}
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = cfg.Sources[i].ID
		}
	}
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with INGEST_DATABASE_URL,
// INGEST_JWT_SECRET, INGEST_PORT and INGEST_STORAGE_DIR when set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("INGEST_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("INGEST_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("INGEST_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("INGEST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INGEST_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}
