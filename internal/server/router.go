// Package server exposes the supervisor's liveness surface over HTTP:
// an aggregate readiness endpoint for platform probes, per-role status
// snapshots, and the prometheus metrics handler.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hollowtree/veild/internal/metrics"
	"github.com/hollowtree/veild/internal/process"
)

// Router provides embeddable HTTP handlers over the fleet state.
// Endpoints:
//
//	GET /healthz   200 {"ready":true} once the readiness gate passed,
//	               503 {"ready":false} before that and during shutdown
//	GET /status    per-role status snapshots, JSON array
//	GET /metrics   prometheus exposition
type Router struct {
	ready    func() bool
	snapshot func() []process.Status
}

// NewRouter builds a router over the readiness and snapshot sources.
// ready reflects the same state the bootstrap orchestrator computed;
// snapshot reports every managed role in launch order.
func NewRouter(ready func() bool, snapshot func() []process.Status) *Router {
	return &Router{ready: ready, snapshot: snapshot}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealthz)
	g.GET("/status", r.handleStatus)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer returns a standalone HTTP server on addr using this router.
// The caller owns ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type healthResp struct {
	Ready bool `json:"ready"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	if r.ready() {
		c.JSON(http.StatusOK, healthResp{Ready: true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, healthResp{Ready: false})
}

type roleStatus struct {
	Name       string `json:"name"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid"`
	Restarts   int    `json:"restarts"`
	DetectedBy string `json:"detected_by,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snaps := r.snapshot()
	out := make([]roleStatus, 0, len(snaps))
	for _, s := range snaps {
		rs := roleStatus{
			Name:       s.Name,
			Running:    s.Running,
			PID:        s.PID,
			Restarts:   s.Restarts,
			DetectedBy: s.DetectedBy,
		}
		if !s.StartedAt.IsZero() {
			rs.StartedAt = s.StartedAt.Format(time.RFC3339)
		}
		out = append(out, rs)
	}
	c.JSON(http.StatusOK, out)
}
