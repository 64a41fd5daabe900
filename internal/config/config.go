package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBPath  string `env:"DB_PATH"  envDefault:"scrapper.sqlite"`
	BotHost string `env:"BOT_HOST" envDefault:"0.0.0.0"`
	BotPort int    `env:"BOT_PORT" envDefault:"7777"`

	// PushType selects the outbound delivery transport.
	PushType string `env:"PUSH_TYPE" envDefault:"HTTP"`

	PageSize     int           `env:"PAGE_SIZE"          envDefault:"50"`
	IdleBackoff  time.Duration `env:"IDLE_BACKOFF"       envDefault:"1h"`
	ChunkCount   int           `env:"CHUNK_COUNT"        envDefault:"4"`
	WorkerPool   int           `env:"WORKER_POOL_SIZE"   envDefault:"4"`
	MisfireGrace time.Duration `env:"MISFIRE_GRACE"      envDefault:"5m"`
	Timezone     string        `env:"SCHEDULER_TIMEZONE" envDefault:"Europe/Moscow"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"20s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PageSize < 1 {
		return Config{}, fmt.Errorf("PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	if cfg.ChunkCount < 1 {
		return Config{}, fmt.Errorf("CHUNK_COUNT must be positive, got %d", cfg.ChunkCount)
	}
	if cfg.WorkerPool < 1 {
		return Config{}, fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", cfg.WorkerPool)
	}

	return cfg, nil
}
