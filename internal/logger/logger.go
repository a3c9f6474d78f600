package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for captured daemon/worker output.
const (
	DefaultMaxSizeMB  = 20 // MB per file before rotation
	DefaultMaxBackups = 5  // rotated files to keep
	DefaultMaxAgeDays = 14 // days to keep
)

// Config describes where a managed role's stdout/stderr are captured.
// If StdoutPath/StderrPath are empty and Dir is set, files will be
// Dir/<role>.stdout.log and Dir/<role>.stderr.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RoleWriters returns rotating io.WriteClosers for the given role's
// stdout and stderr. Either writer may be nil when no destination is
// configured for it.
func (c Config) RoleWriters(role string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", role))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", role))
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.newRotator(stdout)
	}
	if stderr != "" {
		errW = c.newRotator(stderr)
	}
	return outW, errW, nil
}

func (c Config) newRotator(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the supervisor's own structured logger. Level is one of
// debug/info/warn/error (case-insensitive); anything else means info.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
