package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the rental API and gamerentctl.
type Config struct {
	Addr           string        `env:"ADDR,default=:8098"`
	DBDSN          string        `env:"DB_DSN,required"`
	NATSURL        string        `env:"NATS_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MINUTE,default=300"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,default=30s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`
	EventMaxAge    time.Duration `env:"EVENT_MAX_AGE,default=168h"`
	LogFormat      string        `env:"LOG_FORMAT,default=console"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	Currency       string        `env:"CURRENCY,default=LKR"`
	S3             S3            `env:",prefix=S3_"`
	ExportURLTTL   time.Duration `env:"EXPORT_URL_TTL,default=15m"`
}

// S3 configures the ledger export bucket. Exports are disabled while Endpoint is empty.
type S3 struct {
	Endpoint       string `env:"ENDPOINT"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	Region         string `env:"REGION,default=us-east-1"`
	Bucket         string `env:"BUCKET,default=gamerent-ledger"`
	DisableTLS     bool   `env:"DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE,default=true"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
