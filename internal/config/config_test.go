package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHUNK_STORE", "")
	t.Setenv("CHUNK_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.ChunkSize != 1000 {
		t.Errorf("expected default chunk size 1000, got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Worker.RowConcurrency != 3 {
		t.Errorf("expected default row concurrency 3, got %d", cfg.Worker.RowConcurrency)
	}
	if cfg.Worker.RowRateLimit != 10 {
		t.Errorf("expected default row rate limit 10, got %d", cfg.Worker.RowRateLimit)
	}
	if cfg.Storage.ChunkStore != "disk" {
		t.Errorf("expected disk chunk store, got %q", cfg.Storage.ChunkStore)
	}
	if cfg.Pipeline.LeaseTTL != 60*time.Second {
		t.Errorf("expected 60s lease ttl, got %s", cfg.Pipeline.LeaseTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "250")
	t.Setenv("LEASE_TTL", "2m")
	t.Setenv("WORKER_ROW_CONCURRENCY", "8")
	t.Setenv("SHEET_READER", "stream")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.ChunkSize != 250 {
		t.Errorf("chunk size: got %d", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.LeaseTTL != 2*time.Minute {
		t.Errorf("lease ttl: got %s", cfg.Pipeline.LeaseTTL)
	}
	if cfg.Worker.RowConcurrency != 8 {
		t.Errorf("row concurrency: got %d", cfg.Worker.RowConcurrency)
	}
	if cfg.Pipeline.SheetReader != "stream" {
		t.Errorf("sheet reader: got %q", cfg.Pipeline.SheetReader)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown chunk store", "CHUNK_STORE", "ftp"},
		{"zero chunk size", "CHUNK_SIZE", "0"},
		{"lease ttl under a second", "LEASE_TTL", "10ms"},
		{"unknown sheet reader", "SHEET_READER", "magic"},
		{"s3 without bucket", "CHUNK_STORE", "s3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("S3_BUCKET", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "warn": "WARN", "bogus": "INFO"} {
		c := &Config{LogLevel: in}
		if got := c.SlogLevel().String(); got != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}
}
