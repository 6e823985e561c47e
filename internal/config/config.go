// Package config loads the process configuration from the environment,
// with an optional .env file for development. The resulting value is
// injected at construction time; there is no package-level singleton.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type HTTP struct {
	Port    int
	Address string
	BaseURL string
}

type Database struct {
	URI  string
	Name string
}

type Blob struct {
	ConnectionURL string
	CDN           string
	Container     string
	// LocalDir backs the afero file store used when no connection
	// string is configured (development).
	LocalDir string
}

type Screenshots struct {
	JPEGQuality          int
	MaxFileSizeBytes     int64
	LimitPer24h          int
	RecencyThresholdDays int
}

type Similarity struct {
	ModelPath       string
	OnnxLibraryPath string
	InputName       string
	OutputName      string
}

type Config struct {
	Env     string
	Verbose bool

	HTTP        HTTP
	Database    Database
	Blob        Blob
	Screenshots Screenshots
	Similarity  Similarity

	SupportContact string
	SystemPassword string
	OpenAIAPIKey   string
	SentryDSN      string
}

// Load reads the configuration from HOF_* environment variables,
// loading a .env file first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:     getString("HOF_ENV", EnvDevelopment),
		Verbose: getBool("HOF_VERBOSE", false),
		HTTP: HTTP{
			Port:    getInt("HOF_HTTP_PORT", 4000),
			Address: getString("HOF_HTTP_ADDRESS", "0.0.0.0"),
			BaseURL: getString("HOF_HTTP_BASE_URL", "http://localhost:4000"),
		},
		Database: Database{
			URI:  getString("HOF_DATABASE_URI", "mongodb://localhost:27017"),
			Name: getString("HOF_DATABASE_NAME", "halloffame"),
		},
		Blob: Blob{
			ConnectionURL: getString("HOF_BLOB_CONNECTION_URL", ""),
			CDN:           getString("HOF_BLOB_CDN", "https://halloffame.azureedge.net"),
			Container:     getString("HOF_BLOB_CONTAINER", "screenshots"),
			LocalDir:      getString("HOF_BLOB_LOCAL_DIR", "blobs"),
		},
		Screenshots: Screenshots{
			JPEGQuality:          getInt("HOF_SCREENSHOTS_JPEG_QUALITY", 85),
			MaxFileSizeBytes:     getInt64("HOF_SCREENSHOTS_MAX_FILE_SIZE_BYTES", 15*1024*1024),
			LimitPer24h:          getInt("HOF_SCREENSHOTS_LIMIT_PER_24H", 10),
			RecencyThresholdDays: getInt("HOF_SCREENSHOTS_RECENCY_THRESHOLD_DAYS", 30),
		},
		Similarity: Similarity{
			ModelPath:       getString("HOF_SIMILARITY_MODEL_PATH", "models/feature-vector.onnx"),
			OnnxLibraryPath: getString("HOF_SIMILARITY_ONNX_LIBRARY_PATH", ""),
			InputName:       getString("HOF_SIMILARITY_INPUT_NAME", "images"),
			OutputName:      getString("HOF_SIMILARITY_OUTPUT_NAME", "feature_vector"),
		},
		SupportContact: getString("HOF_SUPPORT_CONTACT", "support@halloffame.cs2.mtq.io"),
		SystemPassword: getString("HOF_SYSTEM_PASSWORD", ""),
		OpenAIAPIKey:   getString("HOF_OPENAI_API_KEY", ""),
		SentryDSN:      getString("HOF_SENTRY_DSN", ""),
	}

	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, fmt.Errorf("invalid HOF_ENV %q: must be %q or %q",
			cfg.Env, EnvDevelopment, EnvProduction)
	}
	if cfg.Screenshots.JPEGQuality < 1 || cfg.Screenshots.JPEGQuality > 100 {
		return nil, fmt.Errorf("invalid HOF_SCREENSHOTS_JPEG_QUALITY %d", cfg.Screenshots.JPEGQuality)
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production
// warmup/formatting behavior.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
