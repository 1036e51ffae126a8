// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.SubscriptionCapMicro != 4_000_000 {
		t.Errorf("SubscriptionCapMicro = %d, want 4000000", cfg.SubscriptionCapMicro)
	}
	if cfg.FreeDailyCapMicro != 100_000 {
		t.Errorf("FreeDailyCapMicro = %d, want 100000", cfg.FreeDailyCapMicro)
	}
	if cfg.DefaultTimezone != "UTC" {
		t.Errorf("DefaultTimezone = %s, want UTC", cfg.DefaultTimezone)
	}
	if cfg.CacheTimeout != 250*time.Millisecond {
		t.Errorf("CacheTimeout = %v, want 250ms", cfg.CacheTimeout)
	}
}

func TestLoadWithNoConfiguration(t *testing.T) {
	os.Unsetenv("PARLO_CONFIG")
	os.Unsetenv("PARLO_SUBSCRIPTION_CAP_MICRO")
	os.Unsetenv("PARLO_FREE_DAILY_CAP_MICRO")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Default() {
		t.Errorf("zero-config load should equal defaults, got %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLO_FREE_DAILY_CAP_MICRO", "250000")
	t.Setenv("PARLO_DEFAULT_TIMEZONE", "Asia/Tokyo")
	t.Setenv("PARLO_CACHE_TIMEOUT", "100ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.FreeDailyCapMicro != 250_000 {
		t.Errorf("FreeDailyCapMicro = %d, want 250000", cfg.FreeDailyCapMicro)
	}
	if cfg.DefaultTimezone != "Asia/Tokyo" {
		t.Errorf("DefaultTimezone = %s, want Asia/Tokyo", cfg.DefaultTimezone)
	}
	if cfg.CacheTimeout != 100*time.Millisecond {
		t.Errorf("CacheTimeout = %v, want 100ms", cfg.CacheTimeout)
	}
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("PARLO_FREE_DAILY_CAP_MICRO", "not-a-number")
	t.Setenv("PARLO_SUBSCRIPTION_CAP_MICRO", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.FreeDailyCapMicro != 100_000 {
		t.Errorf("invalid env should leave default, got %d", cfg.FreeDailyCapMicro)
	}
	if cfg.SubscriptionCapMicro != 4_000_000 {
		t.Errorf("negative env should leave default, got %d", cfg.SubscriptionCapMicro)
	}
}

func TestYAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parlo.yaml")
	body := "port: \"9000\"\nfree_daily_cap_micro: 50000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PARLO_CONFIG", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("env should win over file: port = %s, want 9100", cfg.Port)
	}
	if cfg.FreeDailyCapMicro != 50_000 {
		t.Errorf("file should win over default: cap = %d, want 50000", cfg.FreeDailyCapMicro)
	}
}

func TestMissingConfigFileErrors(t *testing.T) {
	t.Setenv("PARLO_CONFIG", "/nonexistent/parlo.yaml")

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
