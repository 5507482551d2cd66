package core

import (
	"fmt"
	"os"
	"time"
)

const (
	// DefaultLockTimeout is how long a lease survives without renewal.
	DefaultLockTimeout = 5 * time.Minute
	// DefaultSweepInterval is how often the expiry sweep scans the table.
	DefaultSweepInterval = 30 * time.Second
)

// Config carries the coordinator's tunables. Zero values fall back to the
// defaults at construction time.
type Config struct {
	// LockTimeout is the lease duration; a lock whose last renewal is older
	// than this is expired by the next sweep. Zero falls back to the default,
	// a negative value disables expiry.
	LockTimeout time.Duration
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration
	// EventBuffer sizes each event subscriber's channel.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultSubscriberBuffer
	}
	return c
}

// ConfigFromEnv reads the coordinator tunables from the environment:
//
//	FACILITYCORE_LOCK_TIMEOUT: lease duration (Go syntax, default 5m)
//	FACILITYCORE_SWEEP_INTERVAL: sweep period (default 30s)
func ConfigFromEnv() (Config, error) {
	cfg := Config{}
	if v := os.Getenv("FACILITYCORE_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse FACILITYCORE_LOCK_TIMEOUT: %w", err)
		}
		cfg.LockTimeout = d
	}
	if v := os.Getenv("FACILITYCORE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse FACILITYCORE_SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}
	return cfg.withDefaults(), nil
}
