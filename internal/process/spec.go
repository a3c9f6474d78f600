package process

import (
	"os/exec"
	"strings"

	"github.com/hollowtree/veild/internal/logger"
)

// Spec describes one managed role: a daemon (tor, i2pd) or an application
// worker. The supervisor treats the command as a black box; everything it
// knows about the process is captured here.
type Spec struct {
	Name       string        `json:"name"`        // role name, e.g. "tor-proxy"
	Command    string        `json:"command"`     // launch command (shell heuristics applied)
	WorkDir    string        `json:"work_dir"`    // optional working dir
	Env        []string      `json:"env"`         // optional extra env (K=V)
	PIDFile    string        `json:"pid_file"`    // optional pidfile path written after start
	StalePaths []string      `json:"stale_paths"` // lock/socket artifacts removed before each launch
	Log        logger.Config `json:"log"`         // rotated stdout/stderr capture
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'i2pd --conf=...'"), avoiding double-wrapping.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Absolute shell path avoids PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It returns (shellPath, afterCArg, true) on match,
// preserving the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
