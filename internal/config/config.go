// Package config loads the supervisor's TOML configuration and applies
// VEILD_* environment overrides. Every toggle has a documented default;
// a malformed override falls back to the default instead of failing the
// boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/hollowtree/veild/internal/logger"
	"github.com/hollowtree/veild/internal/routestore"
)

// Config is the top-level TOML structure.
type Config struct {
	Listen     string        `toml:"listen" mapstructure:"listen"`
	LogLevel   string        `toml:"log_level" mapstructure:"log_level"`
	HistoryDSN string        `toml:"history_dsn" mapstructure:"history_dsn"`
	Env        []string      `toml:"env" mapstructure:"env"`
	Log        logger.Config `toml:"log" mapstructure:"log"`

	Tor    TorConfig    `toml:"tor" mapstructure:"tor"`
	I2P    I2PConfig    `toml:"i2p" mapstructure:"i2p"`
	Web    WorkerConfig `toml:"web" mapstructure:"web"`
	Crawl  WorkerConfig `toml:"crawl" mapstructure:"crawl"`
	Health HealthConfig `toml:"health" mapstructure:"health"`
	Loop   LoopConfig   `toml:"supervisor" mapstructure:"supervisor"`
	Reseed ReseedConfig `toml:"reseed" mapstructure:"reseed"`
}

// TorConfig describes the tor client daemon.
type TorConfig struct {
	Command    string `toml:"command" mapstructure:"command"`
	ConfigPath string `toml:"config_path" mapstructure:"config_path"`
	DataDir    string `toml:"data_dir" mapstructure:"data_dir"`
	SocksPort  int    `toml:"socks_port" mapstructure:"socks_port"`
	PIDFile    string `toml:"pidfile" mapstructure:"pidfile"`
}

// I2PConfig describes the i2pd daemon.
type I2PConfig struct {
	Command       string   `toml:"command" mapstructure:"command"`
	ConfigPath    string   `toml:"config_path" mapstructure:"config_path"`
	DataDir       string   `toml:"data_dir" mapstructure:"data_dir"`
	HTTPProxyPort int      `toml:"http_proxy_port" mapstructure:"http_proxy_port"`
	ConsolePort   int      `toml:"console_port" mapstructure:"console_port"`
	SAMPort       int      `toml:"sam_port" mapstructure:"sam_port"`
	BandwidthKBps int      `toml:"bandwidth_kbps" mapstructure:"bandwidth_kbps"`
	SharePercent  int      `toml:"share_percent" mapstructure:"share_percent"`
	PIDFile       string   `toml:"pidfile" mapstructure:"pidfile"`
	StalePaths    []string `toml:"stale_paths" mapstructure:"stale_paths"`
	FreshMin      int      `toml:"fresh_min" mapstructure:"fresh_min"`
}

// WorkerConfig describes an application worker role.
type WorkerConfig struct {
	Command string   `toml:"command" mapstructure:"command"`
	WorkDir string   `toml:"workdir" mapstructure:"workdir"`
	Port    int      `toml:"port" mapstructure:"port"`
	Env     []string `toml:"env" mapstructure:"env"`
}

// HealthConfig tunes the readiness probes and the gate.
type HealthConfig struct {
	GracePeriodMin   int    `toml:"grace_period_min" mapstructure:"grace_period_min"`
	MaxAttempts      int    `toml:"max_attempts" mapstructure:"max_attempts"`
	CheckIntervalSec int    `toml:"check_interval_sec" mapstructure:"check_interval_sec"`
	MinConsoleBytes  int    `toml:"min_console_bytes" mapstructure:"min_console_bytes"`
	MaxWaitMin       int    `toml:"max_wait_min" mapstructure:"max_wait_min"`
	GatePollSec      int    `toml:"gate_poll_sec" mapstructure:"gate_poll_sec"`
	StallAfterMin    int    `toml:"stall_after_min" mapstructure:"stall_after_min"`
	GentleMode       bool   `toml:"gentle_mode" mapstructure:"gentle_mode"`
	CapabilityTarget string `toml:"capability_target" mapstructure:"capability_target"`
}

// LoopConfig tunes the steady-state supervisor loop.
type LoopConfig struct {
	PollIntervalSec   int `toml:"poll_interval_sec" mapstructure:"poll_interval_sec"`
	StatusIntervalSec int `toml:"status_interval_sec" mapstructure:"status_interval_sec"`
	StopGraceSec      int `toml:"stop_grace_sec" mapstructure:"stop_grace_sec"`
	RestartThreshold  int `toml:"restart_threshold" mapstructure:"restart_threshold"`
}

// ReseedConfig tunes bootstrap endpoint discovery.
type ReseedConfig struct {
	Candidates []string `toml:"candidates" mapstructure:"candidates"`
	Quota      int      `toml:"quota" mapstructure:"quota"`
	BudgetMin  int      `toml:"budget_min" mapstructure:"budget_min"`
	Forced     bool     `toml:"forced" mapstructure:"forced"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() Config {
	return Config{
		Listen:     ":8642",
		LogLevel:   "info",
		HistoryDSN: "",
		Tor: TorConfig{
			Command:    "tor -f /etc/tor/torrc",
			ConfigPath: "/etc/tor/torrc",
			DataDir:    "/var/lib/tor",
			SocksPort:  9050,
		},
		I2P: I2PConfig{
			Command:       "i2pd --conf=/etc/i2pd/i2pd.conf",
			ConfigPath:    "/etc/i2pd/i2pd.conf",
			DataDir:       "/var/lib/i2pd",
			HTTPProxyPort: 4444,
			ConsolePort:   7070,
			BandwidthKBps: 1024,
			SharePercent:  50,
			StalePaths:    []string{"/var/lib/i2pd/i2pd.pid"},
			FreshMin:      routestore.DefaultFreshMinimum,
		},
		Web:   WorkerConfig{Command: "veil-web", Port: 8080},
		Crawl: WorkerConfig{Command: "veil-crawler"},
		Health: HealthConfig{
			GracePeriodMin:   2,
			MaxAttempts:      20,
			CheckIntervalSec: 30,
			MinConsoleBytes:  100,
			MaxWaitMin:       15,
			GatePollSec:      30,
			StallAfterMin:    5,
			GentleMode:       true,
			CapabilityTarget: "https://httpbin.org/ip",
		},
		Loop: LoopConfig{
			PollIntervalSec:   5,
			StatusIntervalSec: 60,
			StopGraceSec:      10,
		},
		Reseed: ReseedConfig{},
	}
}

// Load reads TOML from path over the defaults, then applies environment
// overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// applyEnv overlays the VEILD_* toggles. lookup is injectable for tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	c.Health.GracePeriodMin = envInt(lookup, "VEILD_GRACE_PERIOD_MIN", c.Health.GracePeriodMin)
	c.Health.MaxAttempts = envInt(lookup, "VEILD_MAX_HEALTH_ATTEMPTS", c.Health.MaxAttempts)
	c.Health.CheckIntervalSec = envInt(lookup, "VEILD_CHECK_INTERVAL_SEC", c.Health.CheckIntervalSec)
	c.Health.MinConsoleBytes = envInt(lookup, "VEILD_MIN_CONSOLE_BYTES", c.Health.MinConsoleBytes)
	c.Health.MaxWaitMin = envInt(lookup, "VEILD_MAX_WAIT_MIN", c.Health.MaxWaitMin)
	c.Health.StallAfterMin = envInt(lookup, "VEILD_STALL_AFTER_MIN", c.Health.StallAfterMin)
	c.Health.GentleMode = envBool(lookup, "VEILD_GENTLE_MODE", c.Health.GentleMode)
	c.Loop.PollIntervalSec = envInt(lookup, "VEILD_POLL_INTERVAL_SEC", c.Loop.PollIntervalSec)
	c.Loop.RestartThreshold = envInt(lookup, "VEILD_RESTART_THRESHOLD", c.Loop.RestartThreshold)
	if dsn, ok := lookup("VEILD_HISTORY_DSN"); ok && dsn != "" {
		c.HistoryDSN = dsn
	}
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// Durations derived from the integer toggles.

func (h HealthConfig) Grace() time.Duration { return time.Duration(h.GracePeriodMin) * time.Minute }
func (h HealthConfig) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalSec) * time.Second
}
func (h HealthConfig) MaxWait() time.Duration    { return time.Duration(h.MaxWaitMin) * time.Minute }
func (h HealthConfig) GatePoll() time.Duration   { return time.Duration(h.GatePollSec) * time.Second }
func (h HealthConfig) StallAfter() time.Duration { return time.Duration(h.StallAfterMin) * time.Minute }

func (l LoopConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSec) * time.Second
}
func (l LoopConfig) StatusInterval() time.Duration {
	return time.Duration(l.StatusIntervalSec) * time.Second
}
func (l LoopConfig) StopGrace() time.Duration { return time.Duration(l.StopGraceSec) * time.Second }
