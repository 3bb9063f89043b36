// Package config assembles runtime settings from the environment.
// Flags cover the per-invocation knobs; everything tied to the site
// (endpoints, credentials, buckets) lives here.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Accounting AccountingConfig
	Directory  DirectoryConfig
	Report     ReportConfig
	Telemetry  TelemetryConfig
	Storage    StorageConfig
	Database   DatabaseConfig
}

type AccountingConfig struct {
	// SacctBinary is resolved through PATH unless absolute.
	SacctBinary string
}

type DirectoryConfig struct {
	BaseURL           string
	Username          string
	Password          string
	NetrcPath         string
	Timeout           time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	Concurrency       int
}

type ReportConfig struct {
	// ExcludedDomainMarker skips staff addresses when extracting
	// notification lists.
	ExcludedDomainMarker string
	InitiativeSuffix     string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	MetricsAddr  string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

func Load() Config {
	return Config{
		Accounting: AccountingConfig{
			SacctBinary: env("TOPUSERS_SACCT_BINARY", "sacct"),
		},
		Directory: DirectoryConfig{
			BaseURL:           env("TOPUSERS_SIM_URL", "https://simapi.sim.lrz.de"),
			Username:          env("TOPUSERS_SIM_USERNAME", ""),
			Password:          env("TOPUSERS_SIM_PASSWORD", ""),
			NetrcPath:         env("TOPUSERS_NETRC", defaultNetrcPath()),
			Timeout:           envDuration("TOPUSERS_SIM_TIMEOUT", 10*time.Second),
			MaxAttempts:       envInt("TOPUSERS_SIM_MAX_ATTEMPTS", 3),
			RequestsPerSecond: envFloat("TOPUSERS_SIM_RATE", 5),
			Concurrency:       envInt("TOPUSERS_SIM_CONCURRENCY", 4),
		},
		Report: ReportConfig{
			ExcludedDomainMarker: env("TOPUSERS_EXCLUDED_DOMAIN_MARKER", "lrz"),
			InitiativeSuffix:     env("TOPUSERS_INITIATIVE_SUFFIX", "ai-h-mcml"),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("TOPUSERS_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("TOPUSERS_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TOPUSERS_OTLP_INSECURE", false),
			MetricsAddr:  env("TOPUSERS_METRICS_ADDR", ""),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", ""),
			SecretKey: env("MINIO_SECRET_KEY", ""),
			Bucket:    env("MINIO_BUCKET", "topusers-reports"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
	}
}

func defaultNetrcPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".netrc")
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
