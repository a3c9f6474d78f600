// Package detector provides liveness detection strategies for managed
// daemons and workers. A detector answers one question: does the role's
// process still exist? Readiness is a separate concern (internal/probe).
package detector

// Detector is a strategy that determines if a process is running.
// Implementations must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
