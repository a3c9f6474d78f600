package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/probe"
)

// Gate is the mandatory readiness checkpoint between daemon launch and
// worker launch. It polls both daemons' readiness probes on a fixed
// interval and reports success only when both are ready strictly before
// MaxWait elapses. Partial readiness is never success.
type Gate struct {
	PollInterval time.Duration
	MaxWait      time.Duration

	TorProbe func(ctx context.Context) probe.Result
	I2PProbe func(ctx context.Context) probe.Result

	// RouterCount, when set, reads the i2p daemon's known-router count
	// each cycle. If the count stops growing for StallAfter while the
	// daemon is still unready, the gate gives up early with Stalled set
	// so the orchestrator can force a reseed instead of burning the rest
	// of the budget. Zero StallAfter disables the check.
	RouterCount func(ctx context.Context) (int, bool)
	StallAfter  time.Duration

	Logger *slog.Logger

	// injectable for tests; nil means real clock and context-aware sleep.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// GateStatus records what the gate observed by the time it returned.
type GateStatus struct {
	TorReady bool
	I2PReady bool
	Stalled  bool // router count stopped growing for StallAfter
	Routers  int  // highest known-router count observed
	Elapsed  time.Duration
}

// Wait runs the gate loop. A daemon marked ready stays ready; it is not
// re-probed on later cycles. Returns false when MaxWait elapses or the
// context is cancelled before both daemons are ready.
func (g *Gate) Wait(ctx context.Context) (GateStatus, bool) {
	log := g.Logger
	if log == nil {
		log = slog.Default()
	}
	now := g.now
	if now == nil {
		now = time.Now
	}
	sleep := g.sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	// Probes carry their own grace and retry schedules, so a single probe
	// pass can outlast the whole budget. The deadline cuts in-flight
	// attempts short; a cancelled probe reports Unhealthy.
	ctx, cancel := context.WithTimeout(ctx, g.MaxWait)
	defer cancel()

	var st GateStatus
	start := now()
	lastProgress := start
	for {
		st.Elapsed = now().Sub(start)
		if st.Elapsed >= g.MaxWait {
			log.Error("readiness gate timed out",
				"elapsed", st.Elapsed, "tor_ready", st.TorReady, "i2p_ready", st.I2PReady)
			return st, false
		}

		if !st.TorReady && g.TorProbe(ctx) == probe.Healthy {
			st.TorReady = true
			metrics.SetServiceReady(RoleTor, true)
			log.Info("daemon verified", "role", RoleTor, "elapsed", now().Sub(start))
		}
		if !st.I2PReady && g.I2PProbe(ctx) == probe.Healthy {
			st.I2PReady = true
			metrics.SetServiceReady(RoleI2P, true)
			log.Info("daemon verified", "role", RoleI2P, "elapsed", now().Sub(start))
		}
		if st.TorReady && st.I2PReady {
			st.Elapsed = now().Sub(start)
			return st, true
		}

		if g.RouterCount != nil && g.StallAfter > 0 && !st.I2PReady {
			if n, ok := g.RouterCount(ctx); ok {
				if n > st.Routers {
					st.Routers = n
					lastProgress = now()
				}
				log.Info("i2p bootstrap progress", "routers", n)
			}
			if now().Sub(lastProgress) >= g.StallAfter {
				st.Stalled = true
				st.Elapsed = now().Sub(start)
				log.Warn("i2p router count stalled",
					"routers", st.Routers, "stalled_for", now().Sub(lastProgress))
				return st, false
			}
		}

		if !sleep(ctx, g.PollInterval) {
			st.Elapsed = now().Sub(start)
			return st, false
		}
	}
}

func ctxSleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
