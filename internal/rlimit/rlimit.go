//go:build !windows

// Package rlimit raises the OS resource ceilings the anonymity-network
// daemons need before anything is launched. i2pd in particular keeps one
// descriptor per transit tunnel and falls over quietly when the soft
// NOFILE limit is left at a container default.
package rlimit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// AbsoluteFloor is the minimum usable soft NOFILE ceiling. Below this the
// daemons cannot hold enough sockets to build tunnels, and a silent
// partial-capacity start is worse than an explicit abort.
const AbsoluteFloor = 2048

// DefaultTargets is the descending ladder of soft-limit targets tried in
// order until one sticks.
var DefaultTargets = []uint64{65536, 32768, 16384, 8192, 4096}

// ErrFloorUnmet is returned when every attempt leaves the effective soft
// ceiling below AbsoluteFloor. It is a fatal boot failure.
var ErrFloorUnmet = errors.New("rlimit: effective open-file ceiling below minimum")

// Result records what the limiter achieved.
type Result struct {
	Soft uint64 // effective soft ceiling after all attempts
	Hard uint64 // effective hard ceiling
}

// Limiter attempts to raise RLIMIT_NOFILE. The syscall hooks are fields so
// tests can exercise the fallback ladder without privileges.
type Limiter struct {
	Targets []uint64
	Floor   uint64
	Logger  *slog.Logger

	// SystemWidePath, when non-empty, is written best-effort with the first
	// target (privileged system-wide ceiling, e.g. /proc/sys/fs/file-max).
	SystemWidePath string

	getrlimit func(int, *syscall.Rlimit) error
	setrlimit func(int, *syscall.Rlimit) error
}

// New returns a Limiter with production defaults.
func New(logger *slog.Logger) *Limiter {
	return &Limiter{
		Targets:        DefaultTargets,
		Floor:          AbsoluteFloor,
		Logger:         logger,
		SystemWidePath: "/proc/sys/fs/file-max",
		getrlimit:      syscall.Getrlimit,
		setrlimit:      syscall.Setrlimit,
	}
}

// Raise walks the target ladder until a Setrlimit attempt succeeds, then
// reads back the effective ceilings. The system-wide raise is attempted
// first and is non-fatal. Raise returns ErrFloorUnmet when the read-back
// soft ceiling is below Floor.
func (l *Limiter) Raise() (Result, error) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	targets := l.Targets
	if len(targets) == 0 {
		targets = DefaultTargets
	}

	if l.SystemWidePath != "" {
		if err := os.WriteFile(l.SystemWidePath, fmt.Appendf(nil, "%d\n", targets[0]), 0o644); err != nil {
			log.Debug("system-wide file ceiling raise failed", "path", l.SystemWidePath, "err", err)
		} else {
			log.Info("raised system-wide file ceiling", "path", l.SystemWidePath, "value", targets[0])
		}
	}

	var cur syscall.Rlimit
	if err := l.getrlimit(syscall.RLIMIT_NOFILE, &cur); err != nil {
		return Result{}, fmt.Errorf("rlimit: read current NOFILE: %w", err)
	}

	raised := false
	for _, target := range targets {
		want := syscall.Rlimit{Cur: target, Max: target}
		if cur.Max > target {
			want.Max = cur.Max
		}
		if err := l.setrlimit(syscall.RLIMIT_NOFILE, &want); err != nil {
			log.Debug("NOFILE raise attempt failed", "target", target, "err", err)
			continue
		}
		log.Info("raised NOFILE ceiling", "target", target)
		raised = true
		break
	}
	if !raised {
		log.Warn("all NOFILE raise attempts failed; keeping inherited ceiling")
	}

	var eff syscall.Rlimit
	if err := l.getrlimit(syscall.RLIMIT_NOFILE, &eff); err != nil {
		return Result{}, fmt.Errorf("rlimit: read effective NOFILE: %w", err)
	}
	res := Result{Soft: eff.Cur, Hard: eff.Max}

	floor := l.Floor
	if floor == 0 {
		floor = AbsoluteFloor
	}
	if res.Soft < floor {
		return res, fmt.Errorf("%w: soft=%d floor=%d", ErrFloorUnmet, res.Soft, floor)
	}
	return res, nil
}
