// Package bootstrap sequences the boot of the managed fleet: resource
// limits, filesystem setup, reseed discovery, config materialization,
// daemon launch, the mandatory readiness gate, and finally worker launch.
// The orchestrator aborts the whole boot rather than proceed past an
// unmet resource floor or an unverified proxy.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hollowtree/veild/internal/history"
	"github.com/hollowtree/veild/internal/material"
	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/process"
	"github.com/hollowtree/veild/internal/reseed"
	"github.com/hollowtree/veild/internal/rlimit"
	"github.com/hollowtree/veild/internal/routestore"
)

// Managed role names, in launch order. Teardown runs in reverse.
const (
	RoleTor   = "tor-proxy"
	RoleI2P   = "i2p-proxy"
	RoleWeb   = "web-worker"
	RoleCrawl = "crawl-worker"
)

// Phase is a boot state. Transitions are strictly forward except for the
// terminal Aborted, reachable from LimitsSet (floor violated) or from
// ReadinessGate (gate timeout).
type Phase string

const (
	PhaseInit             Phase = "init"
	PhaseLimitsSet        Phase = "limits-set"
	PhaseDirectoriesReady Phase = "directories-ready"
	PhaseDaemonsLaunching Phase = "daemons-launching"
	PhaseReadinessGate    Phase = "readiness-gate"
	PhaseDaemonsVerified  Phase = "daemons-verified"
	PhaseWorkersLaunching Phase = "workers-launching"
	PhaseSteadyState      Phase = "steady-state"
	PhaseAborted          Phase = "aborted"
)

// Phases lists every phase in transition order, Aborted last.
var Phases = []string{
	string(PhaseInit),
	string(PhaseLimitsSet),
	string(PhaseDirectoriesReady),
	string(PhaseDaemonsLaunching),
	string(PhaseReadinessGate),
	string(PhaseDaemonsVerified),
	string(PhaseWorkersLaunching),
	string(PhaseSteadyState),
	string(PhaseAborted),
}

// ErrGateTimeout is the fatal boot failure for an unsatisfied readiness
// gate. Workers are never launched against unverified proxies.
var ErrGateTimeout = errors.New("bootstrap: readiness gate not satisfied within budget")

// Proc is the slice of process behavior the orchestrator drives. It is
// satisfied by *process.Process.
type Proc interface {
	Name() string
	Start(mergedEnv []string) error
	Alive() (bool, string)
	Stop(grace time.Duration) error
	Snapshot() process.Status
}

// Factory builds a Proc for a role spec.
type Factory func(spec process.Spec) Proc

// Limiter raises OS resource ceilings before any daemon is launched.
type Limiter interface {
	Raise() (rlimit.Result, error)
}

// Discoverer yields a non-empty list of working reseed endpoints.
type Discoverer interface {
	Discover(ctx context.Context) []string
}

// Orchestrator runs the boot phase sequence. Zero value is not usable;
// populate the fields and call Run once.
type Orchestrator struct {
	Limiter Limiter
	Dirs    []string // created before daemon launch (data dirs, log dirs)

	RouteStore *routestore.Store
	FreshMin   int  // route-record count below which a reseed is forced
	Forced     bool // operator-forced aggressive reseed

	Discovery      Discoverer // clearnet reseed discovery
	CrossDiscovery Discoverer // optional: discovery routed through the tor proxy

	Materializer Materializer

	TorSpec     process.Spec
	I2PSpec     process.Spec
	WorkerSpecs []process.Spec // web-worker then crawl-worker

	Gate         *Gate
	ExtendedWait time.Duration // gate budget on the forced-reseed branch
	StopGrace    time.Duration // per-role grace during abort teardown

	Env     []string // merged environment for every launched role
	History history.Sink
	Logger  *slog.Logger

	phase  Phase
	launch []Proc // launch order, newest last
	newer  Factory
}

// New returns an orchestrator that launches real OS processes.
func New() *Orchestrator {
	return &Orchestrator{
		FreshMin:     routestore.DefaultFreshMinimum,
		ExtendedWait: 30 * time.Minute,
		StopGrace:    10 * time.Second,
		newer:        func(spec process.Spec) Proc { return process.New(spec) },
	}
}

// Phase reports the orchestrator's current boot phase.
func (o *Orchestrator) Phase() Phase { return o.phase }

// Proc returns the launched handle for a role, or nil before its launch.
// Gate probes use this to tie port checks to the actual process.
func (o *Orchestrator) Proc(name string) Proc {
	for _, p := range o.launch {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase = p
	metrics.SetBootPhase(string(p), Phases)
	o.log().Info("boot phase", "phase", string(p))
}

// Run executes the boot sequence and returns the launched fleet in launch
// order (tor-proxy, i2p-proxy, then workers). On a fatal boot failure it
// stops whatever it launched, enters Aborted, and returns a non-nil error
// wrapping rlimit.ErrFloorUnmet or ErrGateTimeout so the caller can map
// the failure to a distinct exit code.
func (o *Orchestrator) Run(ctx context.Context) ([]Proc, error) {
	log := o.log()
	o.setPhase(PhaseInit)

	res, err := o.Limiter.Raise()
	if err != nil {
		o.abort("resource limiter", err)
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	log.Info("resource ceilings raised", "soft", res.Soft, "hard", res.Hard)
	o.Materializer.ApplyLimits(res.Soft)
	o.setPhase(PhaseLimitsSet)

	for _, dir := range o.Dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			o.abort("directory setup", err)
			return nil, fmt.Errorf("bootstrap: create %s: %w", dir, err)
		}
	}
	o.setPhase(PhaseDirectoriesReady)

	// Appraise the route store before launching anything: a cold or thin
	// netDb forces the aggressive reseed branch.
	count, err := o.RouteStore.Count()
	if err != nil {
		log.Warn("route store unreadable, treating as empty", "error", err)
		count = 0
	}
	forced := o.Forced || count < o.FreshMin
	mode := material.SelectMode(count, o.FreshMin, o.Forced)
	log.Info("route store appraised",
		"records", count, "fresh_min", o.FreshMin, "mode", mode.String(), "forced_reseed", forced)

	o.setPhase(PhaseDaemonsLaunching)

	if err := o.Materializer.WriteTor(); err != nil {
		o.abort("tor config", err)
		return nil, fmt.Errorf("bootstrap: materialize tor config: %w", err)
	}
	if err := o.launchRole(ctx, o.TorSpec); err != nil {
		o.abort("tor launch", err)
		return nil, fmt.Errorf("bootstrap: launch %s: %w", o.TorSpec.Name, err)
	}

	// The forced branch clears the store before the i2p daemon ever runs,
	// so stale and fresh peer records never mix. Cross-bootstrap discovery
	// rides the already-running tor proxy when available.
	disc := o.Discovery
	if forced {
		if err := o.RouteStore.Clear(); err != nil {
			o.abort("route store clear", err)
			return nil, fmt.Errorf("bootstrap: clear route store: %w", err)
		}
		log.Info("route store cleared for forced reseed")
		if o.CrossDiscovery != nil {
			disc = o.CrossDiscovery
			log.Info("reseed discovery routed through tor proxy")
		}
	}
	endpoints := disc.Discover(ctx)
	metrics.SetReseedEndpoints(len(endpoints))
	joined := reseed.Join(endpoints)

	if err := o.Materializer.WriteI2P(mode, joined); err != nil {
		o.abort("i2p config", err)
		return nil, fmt.Errorf("bootstrap: materialize i2p config: %w", err)
	}
	if err := o.launchRole(ctx, o.I2PSpec); err != nil {
		o.abort("i2p launch", err)
		return nil, fmt.Errorf("bootstrap: launch %s: %w", o.I2PSpec.Name, err)
	}

	o.setPhase(PhaseReadinessGate)
	gate := *o.Gate
	if forced && o.ExtendedWait > 0 {
		gate.MaxWait = o.ExtendedWait
	}
	st, ok := gate.Wait(ctx)

	if !ok && st.Stalled && !forced {
		// The daemon is up but stopped learning routers: its seed data is
		// bad, and waiting out the budget will not fix that. Force the
		// reseed branch now.
		log.Warn("forcing reseed after router-count stall",
			"routers", st.Routers, "elapsed", st.Elapsed)
		forced = true
		joined, err = o.forcedRelaunch(ctx)
		if err != nil {
			o.abort("forced relaunch", err)
			return nil, fmt.Errorf("bootstrap: forced relaunch %s: %w", o.I2PSpec.Name, err)
		}
		gate = *o.Gate
		if o.ExtendedWait > 0 {
			gate.MaxWait = o.ExtendedWait
		}
		st, ok = gate.Wait(ctx)
	}

	if !ok && forced {
		// Last resort before aborting: relaunch the i2p daemon with the
		// minimal-capability config and give the gate one more normal budget.
		log.Warn("extended gate failed, falling back to minimal config",
			"tor_ready", st.TorReady, "i2p_ready", st.I2PReady, "elapsed", st.Elapsed)
		if err := o.relaunchI2PMinimal(ctx, joined); err != nil {
			o.abort("minimal relaunch", err)
			return nil, fmt.Errorf("bootstrap: relaunch %s: %w", o.I2PSpec.Name, err)
		}
		gate = *o.Gate
		st, ok = gate.Wait(ctx)
	}
	if !ok {
		err := fmt.Errorf("bootstrap: tor_ready=%t i2p_ready=%t after %s: %w",
			st.TorReady, st.I2PReady, st.Elapsed, ErrGateTimeout)
		o.abort("readiness gate", err)
		return nil, err
	}
	o.setPhase(PhaseDaemonsVerified)

	o.setPhase(PhaseWorkersLaunching)
	for _, spec := range o.WorkerSpecs {
		if err := o.launchRole(ctx, spec); err != nil {
			o.abort("worker launch", err)
			return nil, fmt.Errorf("bootstrap: launch %s: %w", spec.Name, err)
		}
	}

	o.setPhase(PhaseSteadyState)
	return o.launch, nil
}

func (o *Orchestrator) launchRole(ctx context.Context, spec process.Spec) error {
	p := o.newProc(spec)
	if err := p.Start(o.Env); err != nil {
		return err
	}
	o.launch = append(o.launch, p)
	metrics.IncStart(spec.Name)
	o.record(ctx, history.EventStart, p, "launched")
	o.log().Info("role launched", "role", spec.Name, "pid", p.Snapshot().PID)
	return nil
}

func (o *Orchestrator) relaunchI2PMinimal(ctx context.Context, endpoints string) error {
	o.stopRole(ctx, o.I2PSpec.Name, "minimal-config relaunch")
	if err := o.Materializer.WriteI2P(material.ModeMinimal, endpoints); err != nil {
		return err
	}
	return o.launchRole(ctx, o.I2PSpec)
}

// forcedRelaunch restarts the i2p daemon on a clean route store with
// cross-discovered endpoints and the aggressive config. Returns the joined
// endpoint list so later fallbacks reuse it.
func (o *Orchestrator) forcedRelaunch(ctx context.Context) (string, error) {
	o.stopRole(ctx, o.I2PSpec.Name, "stalled reseed relaunch")
	if err := o.RouteStore.Clear(); err != nil {
		return "", err
	}
	disc := o.Discovery
	if o.CrossDiscovery != nil {
		disc = o.CrossDiscovery
	}
	endpoints := disc.Discover(ctx)
	metrics.SetReseedEndpoints(len(endpoints))
	joined := reseed.Join(endpoints)
	if err := o.Materializer.WriteI2P(material.ModeAggressive, joined); err != nil {
		return "", err
	}
	return joined, o.launchRole(ctx, o.I2PSpec)
}

// stopRole stops a launched role and drops its handle so a relaunch can
// take its slot.
func (o *Orchestrator) stopRole(ctx context.Context, name, detail string) {
	for i, p := range o.launch {
		if p.Name() != name {
			continue
		}
		if err := p.Stop(o.StopGrace); err != nil {
			o.log().Warn("stop before relaunch", "role", p.Name(), "error", err)
		}
		o.record(ctx, history.EventStop, p, detail)
		o.launch = append(o.launch[:i], o.launch[i+1:]...)
		return
	}
}

func (o *Orchestrator) newProc(spec process.Spec) Proc {
	if o.newer != nil {
		return o.newer(spec)
	}
	return process.New(spec)
}

// abort enters the terminal phase and tears down every launched role in
// reverse launch order. No role handle survives an abort.
func (o *Orchestrator) abort(stage string, cause error) {
	log := o.log()
	log.Error("boot aborted", "stage", stage, "error", cause)
	for i := len(o.launch) - 1; i >= 0; i-- {
		p := o.launch[i]
		if err := p.Stop(o.StopGrace); err != nil {
			log.Warn("teardown during abort", "role", p.Name(), "error", err)
		}
		metrics.IncStop(p.Name())
		o.record(context.Background(), history.EventAbort, p, stage)
	}
	o.launch = nil
	o.setPhase(PhaseAborted)
}

func (o *Orchestrator) record(ctx context.Context, t history.EventType, p Proc, detail string) {
	if o.History == nil {
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
	if err := o.History.Send(ctx, e); err != nil {
		o.log().Warn("history sink", "event", string(t), "role", p.Name(), "error", err)
	}
}
