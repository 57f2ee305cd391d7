package config

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN": "postgres://localhost/gamerent",
	}))
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}

	if cfg.Addr != ":8098" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.SweepInterval != 30*time.Second || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("intervals = %v %v", cfg.SweepInterval, cfg.IdempotencyTTL)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://localhost:5173"}) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if !cfg.S3.ForcePathStyle || cfg.S3.Endpoint != "" || cfg.S3.Bucket != "gamerent-ledger" {
		t.Fatalf("S3 = %+v", cfg.S3)
	}
	if cfg.Currency != "LKR" {
		t.Fatalf("Currency = %q", cfg.Currency)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":               "postgres://db/gamerent",
		"ADDR":                 ":9000",
		"CORS_ALLOWED_ORIGINS": "https://store.example,https://admin.example",
		"SWEEP_INTERVAL":       "5s",
		"S3_ENDPOINT":          "minio:9000",
		"S3_DISABLE_TLS":       "true",
		"S3_BUCKET":            "exports",
	}))
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}

	if cfg.Addr != ":9000" || cfg.SweepInterval != 5*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.S3.Endpoint != "minio:9000" || !cfg.S3.DisableTLS || cfg.S3.Bucket != "exports" {
		t.Fatalf("S3 = %+v", cfg.S3)
	}
}

func TestLoadWithRequiresDSN(t *testing.T) {
	if _, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{})); err == nil {
		t.Fatal("expected error for missing DB_DSN")
	}
}
