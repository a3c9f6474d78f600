// Package supervisor keeps the launched fleet alive: it polls liveness of
// every managed role on a fixed interval, relaunches the dead, emits a
// periodic aggregate status line, and owns the signal-driven teardown.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hollowtree/veild/internal/history"
	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/process"
)

// Proc is the per-role behavior the supervisor drives. Satisfied by
// *process.Process.
type Proc interface {
	Name() string
	Start(mergedEnv []string) error
	Alive() (bool, string)
	Stop(grace time.Duration) error
	IncRestarts() int
	Snapshot() process.Status
}

// Supervisor polls a fixed fleet. Probing and restart decisions run
// sequentially inside Run's goroutine; there is no per-role concurrency,
// which keeps the failure/restart logic race-free at the cost of poll
// latency being the sum of each check.
type Supervisor struct {
	PollInterval time.Duration
	StatusEvery  time.Duration
	StopGrace    time.Duration
	Env          []string
	History      history.Sink
	Logger       *slog.Logger

	procs []Proc // launch order; teardown runs in reverse
	down  atomic.Bool

	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

// New returns a supervisor over the fleet in launch order.
func New(procs []Proc, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		PollInterval: 5 * time.Second,
		StatusEvery:  time.Minute,
		StopGrace:    10 * time.Second,
		Logger:       logger,
		procs:        procs,
	}
}

func (s *Supervisor) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run polls until the context is cancelled, then performs the guarded
// teardown. A cancellation arriving mid-poll takes effect at the next
// scheduling point; in-flight liveness checks complete naturally.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.log()
	now := s.now
	if now == nil {
		now = time.Now
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	log.Info("supervising fleet", "roles", len(s.procs), "poll_interval", s.PollInterval)
	lastStatus := now()
	for {
		if !sleep(ctx, s.PollInterval) {
			s.Shutdown()
			return nil
		}
		s.pollOnce(ctx)
		if s.StatusEvery > 0 && now().Sub(lastStatus) >= s.StatusEvery {
			s.logStatus()
			lastStatus = now()
		}
	}
}

// pollOnce checks every role sequentially and relaunches any whose process
// is gone. Liveness is PID-based only: a hung process that still exists is
// not restarted here. Restarts are unbounded; availability wins over
// failure escalation.
func (s *Supervisor) pollOnce(ctx context.Context) {
	if s.down.Load() {
		return
	}
	log := s.log()
	for _, p := range s.procs {
		alive, _ := p.Alive()
		if alive {
			continue
		}
		role := p.Name()
		log.Warn("role died, relaunching", "role", role)
		if err := p.Start(s.Env); err != nil {
			// Retried on the next poll cycle.
			log.Error("relaunch failed", "role", role, "error", err)
			continue
		}
		n := p.IncRestarts()
		metrics.IncRestart(role)
		s.record(ctx, history.EventRestart, p, "relaunched after death")
		log.Info("role relaunched", "role", role, "pid", p.Snapshot().PID, "restarts", n)
	}
}

// Shutdown tears the fleet down exactly once, in reverse launch order,
// each role fully stopped before the next. Safe to call from any
// goroutine; repeated calls (duplicate termination signals) are no-ops.
func (s *Supervisor) Shutdown() {
	if !s.down.CompareAndSwap(false, true) {
		return
	}
	log := s.log()
	log.Info("shutdown signal honored, tearing down fleet")
	for i := len(s.procs) - 1; i >= 0; i-- {
		p := s.procs[i]
		role := p.Name()
		if err := p.Stop(s.StopGrace); err != nil {
			log.Warn("teardown", "role", role, "error", err)
		}
		metrics.IncStop(role)
		metrics.SetServiceReady(role, false)
		s.record(context.Background(), history.EventShutdown, p, "fleet teardown")
		log.Info("role stopped", "role", role)
	}
	log.Info("fleet teardown complete")
}

// ShuttingDown reports whether teardown has begun.
func (s *Supervisor) ShuttingDown() bool { return s.down.Load() }

// Snapshot returns point-in-time statuses for every role in launch order.
func (s *Supervisor) Snapshot() []process.Status {
	out := make([]process.Status, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p.Snapshot())
	}
	return out
}

func (s *Supervisor) logStatus() {
	alive := 0
	restarts := 0
	for _, st := range s.Snapshot() {
		if st.Running {
			alive++
		}
		restarts += st.Restarts
	}
	s.log().Info("fleet status", "alive", alive, "total", len(s.procs), "restarts", restarts)
}

func (s *Supervisor) record(ctx context.Context, t history.EventType, p Proc, detail string) {
	if s.History == nil {
		return
	}
	snap := p.Snapshot()
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Record: history.Record{
			Role:     p.Name(),
			PID:      snap.PID,
			Restarts: snap.Restarts,
			Detail:   detail,
		},
	}
	if err := s.History.Send(ctx, e); err != nil {
		s.log().Warn("history sink", "event", string(t), "role", p.Name(), "error", err)
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
