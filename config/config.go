// Package config loads application settings from environment variables,
// with a .env file fallback for development.
package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Settings holds tunable application configuration. Per-organization
// Mindbody credentials live in the organizations collection, not here.
type Settings struct {
	// MindbodyBaseURL overrides the API base URL (useful for tests/staging).
	MindbodyBaseURL string `env:"MINDBODY_BASE_URL" envDefault:"https://api.mindbodyonline.com/public/v6"`

	// BatchDelay is the pause between import batches to stay under the
	// external API's rate limit.
	BatchDelay time.Duration `env:"IMPORT_BATCH_DELAY" envDefault:"400ms"`

	// PageSize is the page size requested from paginated endpoints.
	PageSize int `env:"IMPORT_PAGE_SIZE" envDefault:"200"`

	// StudentsPerBatch bounds how many students a single visits/sales batch
	// covers. Each student costs one API call, so this also bounds the
	// cancellation latency of those phases.
	StudentsPerBatch int `env:"IMPORT_STUDENTS_PER_BATCH" envDefault:"5"`

	// ScheduleResyncInterval is how often the scheduler reconciles its cron
	// entries with the scheduled_imports collection.
	ScheduleResyncInterval time.Duration `env:"SCHEDULE_RESYNC_INTERVAL" envDefault:"5m"`

	// ScheduleMinInterval is the minimum gap between automatic scheduled
	// runs for one organization.
	ScheduleMinInterval time.Duration `env:"SCHEDULE_MIN_INTERVAL" envDefault:"10m"`

	// SchedulePollInterval is how often the scheduler polls a triggered
	// job for completion.
	SchedulePollInterval time.Duration `env:"SCHEDULE_POLL_INTERVAL" envDefault:"30s"`

	// SchedulePollTimeout is the wall-clock ceiling on waiting for a
	// triggered job before recording a timeout failure.
	SchedulePollTimeout time.Duration `env:"SCHEDULE_POLL_TIMEOUT" envDefault:"4h"`
}

// Load parses settings from environment variables. If a .env file exists in
// the working directory it is loaded first; real environment variables win.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables only")
	}

	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
