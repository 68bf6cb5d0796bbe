package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Errorf("SweepInterval = %v, want 30m", cfg.SweepInterval)
	}
	if !cfg.PreloadWatch {
		t.Error("PreloadWatch should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SAMPLE_RATE", "44100")
	t.Setenv("PRELOAD_WATCH", "false")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("HIGH_PRIORITY_SENDERS", "alice, bob ,")

	cfg := Load()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.PreloadWatch {
		t.Error("PreloadWatch should be false")
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if len(cfg.HighPriority) != 2 || cfg.HighPriority[0] != "alice" || cfg.HighPriority[1] != "bob" {
		t.Errorf("HighPriority = %v, want [alice bob]", cfg.HighPriority)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SAMPLE_RATE", "not-a-number")
	t.Setenv("CACHE_TTL", "garbage")

	cfg := Load()

	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want default 16000", cfg.SampleRate)
	}
	if cfg.CacheTTL != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want default 24h", cfg.CacheTTL)
	}
}
