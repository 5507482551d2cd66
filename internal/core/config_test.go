package core

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.LockTimeout != DefaultLockTimeout {
		t.Fatalf("lock timeout = %v", cfg.LockTimeout)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Fatalf("sweep interval = %v", cfg.SweepInterval)
	}
	if cfg.EventBuffer != defaultSubscriberBuffer {
		t.Fatalf("event buffer = %d", cfg.EventBuffer)
	}
}

func TestConfigNegativeTimeoutPassesThrough(t *testing.T) {
	cfg := Config{LockTimeout: -1}.withDefaults()
	if cfg.LockTimeout != -1 {
		t.Fatalf("negative lock timeout coerced to %v", cfg.LockTimeout)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FACILITYCORE_LOCK_TIMEOUT", "90s")
	t.Setenv("FACILITYCORE_SWEEP_INTERVAL", "10s")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.LockTimeout != 90*time.Second || cfg.SweepInterval != 10*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("FACILITYCORE_LOCK_TIMEOUT", "five minutes")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}
