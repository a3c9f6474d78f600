package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hollowtree/veild"
	"github.com/hollowtree/veild/internal/history"
	"github.com/hollowtree/veild/internal/history/factory"
	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/process"
	"github.com/hollowtree/veild/internal/server"
	"github.com/hollowtree/veild/internal/supervisor"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Bootstrap and supervise the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return runFleet(cfg)
		},
	}
}

func runFleet(cfg veild.Config) error {
	log := veild.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration", "error", err)
	}

	var sink history.Sink
	if cfg.HistoryDSN != "" {
		s, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			// Auditing is best-effort; supervision matters more.
			log.Warn("history sink unavailable", "dsn", cfg.HistoryDSN, "error", err)
		} else {
			sink = s
			defer func() { _ = s.Close() }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The liveness surface comes up before bootstrap so a platform probe
	// hitting /healthz during boot sees 503, not a refused connection.
	state := &fleetState{}
	srv := server.NewServer(cfg.Listen, server.NewRouter(state.Ready, state.Snapshot))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("liveness surface listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		state.ready.Store(false)
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	engine := veild.NewEngine(cfg, log, sink)
	procs, err := engine.Bootstrap(gctx)
	if err != nil {
		return drainOn(err, stop, g, log)
	}
	sup, err := engine.NewSupervisor(procs)
	if err != nil {
		return drainOn(err, stop, g, log)
	}
	state.adopt(sup)

	g.Go(func() error {
		return sup.Run(gctx)
	})
	return g.Wait()
}

// drainOn shuts the liveness surface down after a failed boot and reports
// the boot error, which decides the exit code.
func drainOn(err error, stop context.CancelFunc, g *errgroup.Group, log *slog.Logger) error {
	stop()
	if werr := g.Wait(); werr != nil {
		log.Warn("liveness surface shutdown", "error", werr)
	}
	return err
}

// fleetState gates the liveness surface. The supervisor handle is absent
// until bootstrap completes, so /healthz reports unready during boot and
// /status serves an empty fleet.
type fleetState struct {
	ready atomic.Bool
	sup   atomic.Pointer[supervisor.Supervisor]
}

func (s *fleetState) adopt(sup *supervisor.Supervisor) {
	s.sup.Store(sup)
	s.ready.Store(true)
}

func (s *fleetState) Ready() bool {
	sup := s.sup.Load()
	return s.ready.Load() && sup != nil && !sup.ShuttingDown()
}

func (s *fleetState) Snapshot() []process.Status {
	if sup := s.sup.Load(); sup != nil {
		return sup.Snapshot()
	}
	return nil
}
