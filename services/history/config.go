package history

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the history service.
type Config struct {
	Addr          string        `env:"ADDR,default=:8080"`
	DBDSN         string        `env:"DB_DSN,required"`
	NATSURL       string        `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	OTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	S3Bucket      string        `env:"S3_BUCKET"`
	PresignTTL    time.Duration `env:"PRESIGN_TTL,default=15m"`
	RateLimit     int           `env:"RATE_LIMIT_PER_MINUTE,default=100"`
	SkipMigration bool          `env:"SKIP_MIGRATIONS,default=false"`
}

// LoadConfig returns a Config populated from environment variables.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", cfg.RateLimit)
	}
	if cfg.PresignTTL <= 0 || cfg.PresignTTL > time.Hour {
		return Config{}, fmt.Errorf("PRESIGN_TTL must be within (0, 1h], got %s", cfg.PresignTTL)
	}
	return cfg, nil
}
