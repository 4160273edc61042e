package config

import (
	"testing"
	"time"
)

var allEnvVars = []string{
	"VOID_RPC_URL", "VOID_HTTP_ADDR", "VOID_POLICY_PATH", "VOID_STORE", "VOID_STORE_PATH",
	"VOID_DATABASE_URL", "VOID_S3_BUCKET", "VOID_S3_REGION", "VOID_S3_ENDPOINT", "VOID_S3_PREFIX",
	"VOID_NATS_URL", "VOID_REFRESH_INTERVAL", "VOID_RPC_TIMEOUT", "VOID_RPC_RPS", "VOID_FETCH_CONCURRENCY",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RPCURL != "https://api.mainnet-beta.solana.com" {
		t.Errorf("RPCURL = %q", c.RPCURL)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", c.HTTPAddr)
	}
	if c.Store != StoreFile || c.StorePath != ".void-cache" {
		t.Errorf("store = %q at %q", c.Store, c.StorePath)
	}
	if c.RefreshInterval != 60*time.Second {
		t.Errorf("RefreshInterval = %v", c.RefreshInterval)
	}
	if c.RPCTimeout != 8*time.Second {
		t.Errorf("RPCTimeout = %v", c.RPCTimeout)
	}
	if c.RPCRPS != 0 {
		t.Errorf("RPCRPS = %v", c.RPCRPS)
	}
	if c.FetchConcurrency != 8 {
		t.Errorf("FetchConcurrency = %d", c.FetchConcurrency)
	}
	if c.S3Region != "us-east-1" || c.S3Prefix != "void-supply" {
		t.Errorf("s3 defaults = %q %q", c.S3Region, c.S3Prefix)
	}
	if c.NATSURL != "" {
		t.Errorf("NATSURL = %q", c.NATSURL)
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "SQLiteDefaultPath",
			env:  map[string]string{"VOID_STORE": "sqlite"},
			check: func(t *testing.T, c *Config) {
				if c.StorePath != "void-supply.db" {
					t.Errorf("StorePath = %q", c.StorePath)
				}
			},
		},
		{
			name:    "PostgresNeedsURL",
			env:     map[string]string{"VOID_STORE": "postgres"},
			wantErr: true,
		},
		{
			name: "Postgres",
			env:  map[string]string{"VOID_STORE": "postgres", "VOID_DATABASE_URL": "postgres://localhost/void"},
			check: func(t *testing.T, c *Config) {
				if c.DatabaseURL != "postgres://localhost/void" {
					t.Errorf("DatabaseURL = %q", c.DatabaseURL)
				}
			},
		},
		{
			name:    "S3NeedsBucket",
			env:     map[string]string{"VOID_STORE": "s3"},
			wantErr: true,
		},
		{
			name:    "UnknownStore",
			env:     map[string]string{"VOID_STORE": "redis"},
			wantErr: true,
		},
		{
			name: "Overrides",
			env: map[string]string{
				"VOID_RPC_URL":           "http://localhost:8899",
				"VOID_REFRESH_INTERVAL":  "15s",
				"VOID_RPC_TIMEOUT":       "2s",
				"VOID_RPC_RPS":           "4.5",
				"VOID_FETCH_CONCURRENCY": "2",
				"VOID_NATS_URL":          "nats://localhost:4222",
			},
			check: func(t *testing.T, c *Config) {
				if c.RPCURL != "http://localhost:8899" || c.RefreshInterval != 15*time.Second ||
					c.RPCTimeout != 2*time.Second || c.RPCRPS != 4.5 || c.FetchConcurrency != 2 ||
					c.NATSURL != "nats://localhost:4222" {
					t.Errorf("unexpected config %+v", c)
				}
			},
		},
		{
			name:    "BadInterval",
			env:     map[string]string{"VOID_REFRESH_INTERVAL": "soon"},
			wantErr: true,
		},
		{
			name:    "ZeroInterval",
			env:     map[string]string{"VOID_REFRESH_INTERVAL": "0s"},
			wantErr: true,
		},
		{
			name:    "BadConcurrency",
			env:     map[string]string{"VOID_FETCH_CONCURRENCY": "0"},
			wantErr: true,
		},
		{
			name:    "NegativeRPS",
			env:     map[string]string{"VOID_RPC_RPS": "-1"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			c, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.check(t, c)
		})
	}
}
