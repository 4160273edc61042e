package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends accepted by VOID_STORE.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreS3       = "s3"
	StoreMemory   = "memory"
)

type Config struct {
	RPCURL     string // VOID_RPC_URL (default mainnet-beta)
	HTTPAddr   string // VOID_HTTP_ADDR (default ":8080")
	PolicyPath string // VOID_POLICY_PATH (optional, empty = built-in policy)

	Store       string // VOID_STORE (default "file")
	StorePath   string // VOID_STORE_PATH (directory for file, database file for sqlite)
	DatabaseURL string // VOID_DATABASE_URL (required for postgres)
	S3Bucket    string // VOID_S3_BUCKET (required for s3)
	S3Region    string // VOID_S3_REGION (default "us-east-1")
	S3Endpoint  string // VOID_S3_ENDPOINT (custom endpoint for MinIO)
	S3Prefix    string // VOID_S3_PREFIX (default "void-supply")

	NATSURL string // VOID_NATS_URL (optional, empty = no events)

	RefreshInterval  time.Duration // VOID_REFRESH_INTERVAL (default 60s)
	RPCTimeout       time.Duration // VOID_RPC_TIMEOUT (default 8s)
	RPCRPS           float64       // VOID_RPC_RPS (default 0 = unpaced)
	FetchConcurrency int           // VOID_FETCH_CONCURRENCY (default 8)
}

func Load() (*Config, error) {
	c := &Config{
		RPCURL:      envOrDefault("VOID_RPC_URL", "https://api.mainnet-beta.solana.com"),
		HTTPAddr:    envOrDefault("VOID_HTTP_ADDR", ":8080"),
		PolicyPath:  os.Getenv("VOID_POLICY_PATH"),
		Store:       envOrDefault("VOID_STORE", StoreFile),
		StorePath:   os.Getenv("VOID_STORE_PATH"),
		DatabaseURL: os.Getenv("VOID_DATABASE_URL"),
		S3Bucket:    os.Getenv("VOID_S3_BUCKET"),
		S3Region:    envOrDefault("VOID_S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("VOID_S3_ENDPOINT"),
		S3Prefix:    envOrDefault("VOID_S3_PREFIX", "void-supply"),
		NATSURL:     os.Getenv("VOID_NATS_URL"),
	}

	var err error
	if c.RefreshInterval, err = durationEnv("VOID_REFRESH_INTERVAL", "60s"); err != nil {
		return nil, err
	}
	if c.RPCTimeout, err = durationEnv("VOID_RPC_TIMEOUT", "8s"); err != nil {
		return nil, err
	}
	if v := os.Getenv("VOID_RPC_RPS"); v != "" {
		if c.RPCRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("VOID_RPC_RPS: %w", err)
		}
	}
	if c.FetchConcurrency, err = strconv.Atoi(envOrDefault("VOID_FETCH_CONCURRENCY", "8")); err != nil {
		return nil, fmt.Errorf("VOID_FETCH_CONCURRENCY: %w", err)
	}

	if c.StorePath == "" {
		switch c.Store {
		case StoreFile:
			c.StorePath = ".void-cache"
		case StoreSQLite:
			c.StorePath = "void-supply.db"
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("VOID_DATABASE_URL is required for store %q", c.Store)
		}
	case StoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("VOID_S3_BUCKET is required for store %q", c.Store)
		}
	default:
		return fmt.Errorf("VOID_STORE: unknown backend %q", c.Store)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("VOID_RPC_URL is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("VOID_REFRESH_INTERVAL must be positive")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("VOID_RPC_TIMEOUT must be positive")
	}
	if c.RPCRPS < 0 {
		return fmt.Errorf("VOID_RPC_RPS must not be negative")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("VOID_FETCH_CONCURRENCY must be positive")
	}
	return nil
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
