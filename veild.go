// Package veild supervises a small fleet of anonymity-network daemons
// (tor, i2pd) and the application workers that depend on them. It raises
// resource ceilings, discovers reseed endpoints, materializes daemon
// configs, health-gates the proxies before any worker launches, keeps the
// fleet alive, and tears it down deterministically on a single signal.
package veild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hollowtree/veild/internal/bootstrap"
	"github.com/hollowtree/veild/internal/config"
	"github.com/hollowtree/veild/internal/history"
	"github.com/hollowtree/veild/internal/logger"
	"github.com/hollowtree/veild/internal/material"
	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/probe"
	"github.com/hollowtree/veild/internal/process"
	"github.com/hollowtree/veild/internal/reseed"
	"github.com/hollowtree/veild/internal/rlimit"
	"github.com/hollowtree/veild/internal/routestore"
	"github.com/hollowtree/veild/internal/supervisor"
)

// Re-export core types for external consumers.

type Spec = process.Spec

type Status = process.Status

type Config = config.Config

// Exit codes. Fatal boot failures are distinguishable so an outer
// orchestration layer can tell a retryable boot from a permanent
// misconfiguration.
const (
	ExitClean        = 0
	ExitFatal        = 1
	ExitLimiterFloor = 2
	ExitGateTimeout  = 3
)

// ExitCode maps an error from Bootstrap or the supervisor to the
// process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitClean
	case errors.Is(err, rlimit.ErrFloorUnmet):
		return ExitLimiterFloor
	case errors.Is(err, bootstrap.ErrGateTimeout):
		return ExitGateTimeout
	default:
		return ExitFatal
	}
}

// LoadConfig reads the TOML config (empty path means defaults) and applies
// environment overrides.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// NewLogger builds the supervisor's own structured logger.
func NewLogger(level string) *slog.Logger { return logger.New(level) }

// Probe timeouts for the capability proofs. I2P gets more headroom: its
// tunnels are slower to build than a tor circuit.
const (
	torCapabilityTimeout = 15 * time.Second
	i2pCapabilityTimeout = 25 * time.Second
)

// Engine assembles the bootstrap orchestrator and steady-state supervisor
// from one configuration.
type Engine struct {
	cfg  config.Config
	log  *slog.Logger
	hist history.Sink
	orch *bootstrap.Orchestrator
}

// NewEngine wires an engine. hist may be nil when no audit sink is
// configured.
func NewEngine(cfg config.Config, log *slog.Logger, hist history.Sink) *Engine {
	e := &Engine{cfg: cfg, log: log, hist: hist}
	e.orch = e.buildOrchestrator()
	return e
}

// Bootstrap runs the boot sequence and returns the launched fleet.
func (e *Engine) Bootstrap(ctx context.Context) ([]bootstrap.Proc, error) {
	return e.orch.Run(ctx)
}

// Phase exposes the orchestrator's current boot phase.
func (e *Engine) Phase() bootstrap.Phase { return e.orch.Phase() }

// NewSupervisor builds the steady-state loop over a bootstrapped fleet.
func (e *Engine) NewSupervisor(procs []bootstrap.Proc) (*supervisor.Supervisor, error) {
	fleet := make([]supervisor.Proc, 0, len(procs))
	for _, p := range procs {
		sp, ok := p.(supervisor.Proc)
		if !ok {
			return nil, fmt.Errorf("veild: role %s does not support supervision", p.Name())
		}
		fleet = append(fleet, sp)
	}
	s := supervisor.New(fleet, e.log)
	s.PollInterval = e.cfg.Loop.PollInterval()
	s.StatusEvery = e.cfg.Loop.StatusInterval()
	s.StopGrace = e.cfg.Loop.StopGrace()
	s.Env = e.cfg.Env
	s.History = e.hist
	return s, nil
}

func (e *Engine) buildOrchestrator() *bootstrap.Orchestrator {
	cfg := e.cfg
	store := routestore.New(filepath.Join(cfg.I2P.DataDir, "netDb"))

	o := bootstrap.New()
	o.Limiter = rlimit.New(e.log)
	o.Dirs = []string{cfg.Tor.DataDir, cfg.I2P.DataDir, store.Dir}
	if cfg.Log.Dir != "" {
		o.Dirs = append(o.Dirs, cfg.Log.Dir)
	}
	o.RouteStore = store
	o.FreshMin = cfg.I2P.FreshMin
	o.Forced = cfg.Reseed.Forced
	o.Discovery = e.buildDiscovery(nil)
	o.CrossDiscovery = e.buildDiscovery(&probe.ProxyEndpoint{
		Scheme: probe.ProxySOCKS5,
		Addr:   localAddr(cfg.Tor.SocksPort),
	})
	o.Materializer = &bootstrap.ArtifactWriter{
		TorPath: cfg.Tor.ConfigPath,
		I2PPath: cfg.I2P.ConfigPath,
		Tor: material.TorParams{
			SocksPort: cfg.Tor.SocksPort,
			DataDir:   cfg.Tor.DataDir,
		},
		I2P: material.I2PParams{
			DataDir:       cfg.I2P.DataDir,
			HTTPProxyPort: cfg.I2P.HTTPProxyPort,
			ConsolePort:   cfg.I2P.ConsolePort,
			SAMPort:       cfg.I2P.SAMPort,
			BandwidthKBps: cfg.I2P.BandwidthKBps,
			SharePercent:  cfg.I2P.SharePercent,
		},
	}
	o.TorSpec, o.I2PSpec, o.WorkerSpecs = RoleSpecs(cfg)
	o.Gate = e.buildGate()
	o.StopGrace = cfg.Loop.StopGrace()
	o.Env = cfg.Env
	o.History = e.hist
	o.Logger = e.log
	return o
}

func (e *Engine) buildDiscovery(via *probe.ProxyEndpoint) *reseed.Discovery {
	p := probe.NewEndpointProbe(10*time.Second, 20*time.Second, probe.EndpointTransport(via))
	d := reseed.New(p, e.log)
	if len(e.cfg.Reseed.Candidates) > 0 {
		d.Candidates = e.cfg.Reseed.Candidates
	}
	if e.cfg.Reseed.Quota > 0 {
		d.Quota = e.cfg.Reseed.Quota
	}
	if e.cfg.Reseed.BudgetMin > 0 {
		d.Budget = time.Duration(e.cfg.Reseed.BudgetMin) * time.Minute
	}
	return d
}

func (e *Engine) buildGate() *bootstrap.Gate {
	cfg := e.cfg
	netdb := "http://" + localAddr(cfg.I2P.ConsolePort) + "/netdb"
	return &bootstrap.Gate{
		PollInterval: cfg.Health.GatePoll(),
		MaxWait:      cfg.Health.MaxWait(),
		TorProbe:     e.torProbe(),
		I2PProbe:     e.i2pProbe(),
		RouterCount: func(ctx context.Context) (int, bool) {
			return probe.ConsoleRouterCount(ctx, netdb, 10*time.Second)
		},
		StallAfter: cfg.Health.StallAfter(),
		Logger:     e.log,
	}
}

// torProbe verifies the tor daemon in two stages: its SOCKS port must be
// bound, then a request through it must reach the capability target.
func (e *Engine) torProbe() func(ctx context.Context) probe.Result {
	cfg := e.cfg
	addr := localAddr(cfg.Tor.SocksPort)
	return func(ctx context.Context) probe.Result {
		port := probe.Check{
			Role:     bootstrap.RoleTor,
			Kind:     probe.KindPortBound,
			Addr:     addr,
			Alive:    e.roleAlive(bootstrap.RoleTor),
			Attempts: 3,
			Interval: 2 * time.Second,
			Timeout:  5 * time.Second,
			Logger:   e.log,
		}
		if r := port.Run(ctx); r != probe.Healthy {
			metrics.RecordProbeResult(bootstrap.RoleTor, port.Kind.String(), r.String())
			return r
		}
		capability := probe.Check{
			Role:     bootstrap.RoleTor,
			Kind:     probe.KindCapability,
			Proxy:    probe.ProxyEndpoint{Scheme: probe.ProxySOCKS5, Addr: addr},
			Target:   cfg.Health.CapabilityTarget,
			Attempts: cfg.Health.MaxAttempts,
			Interval: cfg.Health.CheckInterval(),
			Timeout:  torCapabilityTimeout,
			Logger:   e.log,
		}
		r := capability.Run(ctx)
		metrics.RecordProbeResult(bootstrap.RoleTor, capability.Kind.String(), r.String())
		return r
	}
}

// i2pProbe reads the router console first (a body under the configured
// minimum means the router is still initializing), then proves the HTTP
// proxy tunnel end to end.
func (e *Engine) i2pProbe() func(ctx context.Context) probe.Result {
	cfg := e.cfg
	consoleURL := "http://" + localAddr(cfg.I2P.ConsolePort) + "/"
	proxyAddr := localAddr(cfg.I2P.HTTPProxyPort)
	return func(ctx context.Context) probe.Result {
		console := probe.Check{
			Role:           bootstrap.RoleI2P,
			Kind:           probe.KindConsole,
			Grace:          cfg.Health.Grace(),
			URL:            consoleURL,
			MinBytes:       cfg.Health.MinConsoleBytes,
			UnhealthyWords: []string{"error", "failed", "shutdown in progress"},
			Attempts:       cfg.Health.MaxAttempts,
			Interval:       cfg.Health.CheckInterval(),
			Timeout:        10 * time.Second,
			Logger:         e.log,
		}
		if r := console.Run(ctx); r != probe.Healthy {
			metrics.RecordProbeResult(bootstrap.RoleI2P, console.Kind.String(), r.String())
			return r
		}
		capability := probe.Check{
			Role:     bootstrap.RoleI2P,
			Kind:     probe.KindCapability,
			Proxy:    probe.ProxyEndpoint{Scheme: probe.ProxyHTTP, Addr: proxyAddr},
			Target:   cfg.Health.CapabilityTarget,
			Attempts: cfg.Health.MaxAttempts,
			Interval: cfg.Health.CheckInterval(),
			Timeout:  i2pCapabilityTimeout,
			Logger:   e.log,
		}
		r := capability.Run(ctx)
		metrics.RecordProbeResult(bootstrap.RoleI2P, capability.Kind.String(), r.String())
		return r
	}
}

func (e *Engine) roleAlive(role string) func() bool {
	return func() bool {
		p := e.orch.Proc(role)
		if p == nil {
			return false
		}
		alive, _ := p.Alive()
		return alive
	}
}

// RoleSpecs builds the launch specs for every managed role from config.
func RoleSpecs(cfg config.Config) (tor, i2p process.Spec, workers []process.Spec) {
	tor = process.Spec{
		Name:    bootstrap.RoleTor,
		Command: cfg.Tor.Command,
		PIDFile: cfg.Tor.PIDFile,
		Log:     cfg.Log,
	}
	i2p = process.Spec{
		Name:       bootstrap.RoleI2P,
		Command:    cfg.I2P.Command,
		PIDFile:    cfg.I2P.PIDFile,
		StalePaths: cfg.I2P.StalePaths,
		Log:        cfg.Log,
	}
	workers = []process.Spec{
		{
			Name:    bootstrap.RoleWeb,
			Command: cfg.Web.Command,
			WorkDir: cfg.Web.WorkDir,
			Env:     cfg.Web.Env,
			Log:     cfg.Log,
		},
		{
			Name:    bootstrap.RoleCrawl,
			Command: cfg.Crawl.Command,
			WorkDir: cfg.Crawl.WorkDir,
			Env:     cfg.Crawl.Env,
			Log:     cfg.Log,
		},
	}
	return tor, i2p, workers
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
