//go:build !windows

package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hollowtree/veild/internal/detector"
	"github.com/hollowtree/veild/internal/env"
)

// Process owns the handle of one launched role. Exactly one live handle
// exists per role at any time; the supervisor never calls Start while a
// prior handle is still alive.
type Process struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	status    Status
	restarts  int
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the reaper when cmd.Wait returns
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// Spec returns a copy of the launch parameters. Restarts reuse this copy
// verbatim so a relaunched role runs the exact original command.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

func (p *Process) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec.Name
}

// Start launches the role's command. It removes stale lock/socket artifacts
// left by a prior instance first, since daemons like tor and i2pd refuse to
// start when they find a lock file from a process that no longer exists.
func (p *Process) Start(mergedEnv []string) error {
	p.mu.Lock()
	spec := p.spec
	p.mu.Unlock()

	p.cleanStaleArtifacts(spec)

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 || len(spec.Env) > 0 {
		cmd.Env = env.Compose(mergedEnv, spec.Env)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.attachOutput(cmd, spec)

	if err := cmd.Start(); err != nil {
		p.CloseWriters()
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = make(chan struct{})
	p.status = Status{
		Name:      spec.Name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Restarts:  p.restarts,
	}
	wd := p.waitDone
	p.mu.Unlock()

	p.writePIDFile(spec, cmd.Process.Pid)

	// Reap the child as soon as it exits so liveness polling never sees
	// a long-lived zombie.
	go func() {
		err := cmd.Wait()
		p.markExited(err)
		p.CloseWriters()
		close(wd)
	}()
	return nil
}

func (p *Process) attachOutput(cmd *exec.Cmd, spec Spec) {
	if spec.Log.Dir == "" && spec.Log.StdoutPath == "" && spec.Log.StderrPath == "" {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		return
	}
	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	outW, errW, _ := spec.Log.RoleWriters(spec.Name)
	p.mu.Lock()
	p.outCloser, p.errCloser = outW, errW
	p.mu.Unlock()
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
}

func (p *Process) cleanStaleArtifacts(spec Spec) {
	for _, path := range spec.StalePaths {
		_ = os.Remove(path)
	}
	if spec.PIDFile != "" {
		// Only remove the pidfile when the recorded process is gone.
		d := detector.PIDFileDetector{PIDFile: spec.PIDFile}
		if alive, _ := d.Alive(); !alive {
			_ = os.Remove(spec.PIDFile)
		}
	}
}

func (p *Process) markExited(err error) {
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.mu.Unlock()
}

func (p *Process) writePIDFile(spec Spec, pid int) {
	if spec.PIDFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(spec.PIDFile), 0o750)
	_ = os.WriteFile(spec.PIDFile, []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePIDFile best-effort.
func (p *Process) RemovePIDFile() {
	p.mu.Lock()
	pidFile := p.spec.PIDFile
	p.mu.Unlock()
	if pidFile != "" {
		_ = os.Remove(pidFile)
	}
}

// IncRestarts bumps and returns the restart counter.
func (p *Process) IncRestarts() int {
	p.mu.Lock()
	p.restarts++
	v := p.restarts
	p.status.Restarts = v
	p.mu.Unlock()
	return v
}

func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// CloseWriters closes any rotating log writers attached to the child.
func (p *Process) CloseWriters() {
	p.mu.Lock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
	p.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	return s
}

// Alive probes liveness without blocking. It checks the launched PID first
// (treating a zombie as dead), then any pidfile the daemon maintains itself.
// This intentionally checks only process existence, not listening ports.
func (p *Process) Alive() (bool, string) {
	p.mu.Lock()
	cmd := p.cmd
	running := p.status.Running
	pidFile := p.spec.PIDFile
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil && running {
		pid := cmd.Process.Pid
		if isZombie(pid) {
			return false, ""
		}
		if syscall.Kill(pid, 0) == nil {
			return true, "exec:pid"
		}
	}
	if pidFile != "" {
		d := detector.PIDFileDetector{PIDFile: pidFile}
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

// Stop sends SIGTERM to the role's process group, waits up to grace for the
// reaper to observe the exit, then escalates to SIGKILL. Idempotent: stopping
// a dead process is a no-op.
func (p *Process) Stop(grace time.Duration) error {
	alive, _ := p.Alive()
	if !alive {
		return nil
	}
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	if wd != nil {
		select {
		case <-wd:
		case <-time.After(grace):
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			select {
			case <-wd:
			case <-time.After(200 * time.Millisecond):
				// best-effort
			}
		}
	}
	p.RemovePIDFile()
	st := p.Snapshot()
	if st.ExitErr != nil && !isExpectedExit(st.ExitErr) {
		return st.ExitErr
	}
	return nil
}

// Kill sends SIGKILL to the process group immediately.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if wd != nil {
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
		}
	}
	p.RemovePIDFile()
	return nil
}

// isExpectedExit reports whether err is the normal outcome of a signalled
// termination rather than a launch or wait failure.
func isExpectedExit(err error) bool {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return true
	}
	return false
}

// isZombie returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
