package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tor.SocksPort != 9050 {
		t.Fatalf("tor socks port = %d, want 9050", cfg.Tor.SocksPort)
	}
	if cfg.I2P.HTTPProxyPort != 4444 || cfg.I2P.ConsolePort != 7070 {
		t.Fatalf("i2p ports = %d/%d, want 4444/7070", cfg.I2P.HTTPProxyPort, cfg.I2P.ConsolePort)
	}
	if cfg.Health.MaxWaitMin != 15 || cfg.Health.StallAfterMin != 5 || !cfg.Health.GentleMode {
		t.Fatalf("health defaults = %+v", cfg.Health)
	}
	if cfg.Loop.PollIntervalSec != 5 {
		t.Fatalf("poll interval = %d, want 5", cfg.Loop.PollIntervalSec)
	}
}

func TestLoadTOMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veild.toml")
	body := `
listen = ":9001"
history_dsn = "sqlite:///tmp/audit.db"

[log]
dir = "/var/log/veild"
max_size_mb = 5

[tor]
socks_port = 9150

[i2p]
bandwidth_kbps = 2048

[health]
max_wait_min = 30
gentle_mode = false

[supervisor]
poll_interval_sec = 2
`
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9001" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.HistoryDSN != "sqlite:///tmp/audit.db" {
		t.Fatalf("history dsn = %q", cfg.HistoryDSN)
	}
	if cfg.Log.Dir != "/var/log/veild" || cfg.Log.MaxSizeMB != 5 {
		t.Fatalf("log config = %+v", cfg.Log)
	}
	if cfg.Tor.SocksPort != 9150 {
		t.Fatalf("tor socks port = %d, want 9150", cfg.Tor.SocksPort)
	}
	if cfg.I2P.BandwidthKBps != 2048 {
		t.Fatalf("i2p bandwidth = %d, want 2048", cfg.I2P.BandwidthKBps)
	}
	if cfg.Health.MaxWaitMin != 30 || cfg.Health.GentleMode {
		t.Fatalf("health = %+v", cfg.Health)
	}
	// Untouched keys keep their defaults.
	if cfg.I2P.ConsolePort != 7070 {
		t.Fatalf("console port = %d, want default 7070", cfg.I2P.ConsolePort)
	}
	if cfg.Loop.PollIntervalSec != 2 {
		t.Fatalf("poll interval = %d, want 2", cfg.Loop.PollIntervalSec)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("Load of a missing file must error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"VEILD_GRACE_PERIOD_MIN":    "5",
		"VEILD_MAX_HEALTH_ATTEMPTS": "40",
		"VEILD_GENTLE_MODE":         "false",
		"VEILD_POLL_INTERVAL_SEC":   "1",
		"VEILD_HISTORY_DSN":         "postgres://u:p@db/veild",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.applyEnv(lookup)

	if cfg.Health.GracePeriodMin != 5 {
		t.Fatalf("grace = %d, want 5", cfg.Health.GracePeriodMin)
	}
	if cfg.Health.MaxAttempts != 40 {
		t.Fatalf("attempts = %d, want 40", cfg.Health.MaxAttempts)
	}
	if cfg.Health.GentleMode {
		t.Fatalf("gentle mode not overridden")
	}
	if cfg.Loop.PollIntervalSec != 1 {
		t.Fatalf("poll = %d, want 1", cfg.Loop.PollIntervalSec)
	}
	if cfg.HistoryDSN != "postgres://u:p@db/veild" {
		t.Fatalf("history dsn = %q", cfg.HistoryDSN)
	}
}

func TestEnvMalformedValuesFallBack(t *testing.T) {
	env := map[string]string{
		"VEILD_GRACE_PERIOD_MIN":  "soon",
		"VEILD_GENTLE_MODE":       "kinda",
		"VEILD_POLL_INTERVAL_SEC": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.applyEnv(lookup)

	def := Default()
	if cfg.Health.GracePeriodMin != def.Health.GracePeriodMin {
		t.Fatalf("malformed int override changed value: %d", cfg.Health.GracePeriodMin)
	}
	if cfg.Health.GentleMode != def.Health.GentleMode {
		t.Fatalf("malformed bool override changed value")
	}
	if cfg.Loop.PollIntervalSec != def.Loop.PollIntervalSec {
		t.Fatalf("empty override changed value: %d", cfg.Loop.PollIntervalSec)
	}
}

func TestDurationHelpers(t *testing.T) {
	h := HealthConfig{GracePeriodMin: 2, CheckIntervalSec: 30, MaxWaitMin: 15, GatePollSec: 10, StallAfterMin: 5}
	if h.Grace().Minutes() != 2 || h.CheckInterval().Seconds() != 30 {
		t.Fatalf("grace/interval = %s/%s", h.Grace(), h.CheckInterval())
	}
	if h.MaxWait().Minutes() != 15 || h.GatePoll().Seconds() != 10 {
		t.Fatalf("max wait/gate poll = %s/%s", h.MaxWait(), h.GatePoll())
	}
	if h.StallAfter().Minutes() != 5 {
		t.Fatalf("stall after = %s", h.StallAfter())
	}
}
