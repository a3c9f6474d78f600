package veild

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hollowtree/veild/internal/bootstrap"
	"github.com/hollowtree/veild/internal/config"
	"github.com/hollowtree/veild/internal/rlimit"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"clean", nil, ExitClean},
		{"limiter floor", fmt.Errorf("bootstrap: %w", rlimit.ErrFloorUnmet), ExitLimiterFloor},
		{"gate timeout", fmt.Errorf("bootstrap: after 15m: %w", bootstrap.ErrGateTimeout), ExitGateTimeout},
		{"other fatal", errors.New("config unreadable"), ExitFatal},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("%s: ExitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRoleSpecsCarryCommandsAndLogConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Dir = "/var/log/veild"
	cfg.Web.Command = "veil-web --port 8080"

	tor, i2p, workers := RoleSpecs(cfg)
	if tor.Name != bootstrap.RoleTor || tor.Command != cfg.Tor.Command {
		t.Fatalf("tor spec = %+v", tor)
	}
	if i2p.Name != bootstrap.RoleI2P || len(i2p.StalePaths) == 0 {
		t.Fatalf("i2p spec missing stale paths: %+v", i2p)
	}
	if len(workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(workers))
	}
	if workers[0].Name != bootstrap.RoleWeb || workers[0].Command != "veil-web --port 8080" {
		t.Fatalf("web spec = %+v", workers[0])
	}
	if workers[1].Name != bootstrap.RoleCrawl {
		t.Fatalf("crawl spec = %+v", workers[1])
	}
	for _, s := range []Spec{tor, i2p, workers[0], workers[1]} {
		if s.Log.Dir != "/var/log/veild" {
			t.Fatalf("%s lost log config", s.Name)
		}
	}
}

func TestNewEngineAssembles(t *testing.T) {
	cfg := config.Default()
	e := NewEngine(cfg, NewLogger("info"), nil)
	if e.Phase() != "" && e.Phase() != bootstrap.PhaseInit {
		t.Fatalf("fresh engine phase = %s", e.Phase())
	}
	sup, err := e.NewSupervisor(nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	if sup.PollInterval != cfg.Loop.PollInterval() {
		t.Fatalf("poll interval = %s", sup.PollInterval)
	}
}
