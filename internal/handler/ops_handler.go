package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-scheduler/internal/service"
	appErrors "github.com/noah-isme/exam-scheduler/pkg/errors"
	"github.com/noah-isme/exam-scheduler/pkg/response"
)

// ReadinessCheck probes one dependency.
type ReadinessCheck func(ctx context.Context) error

type queueDepth interface {
	Len(ctx context.Context) (int64, error)
}

type pendingCounter interface {
	Pending() int64
}

// OpsHandler exposes liveness, readiness and Prometheus endpoints.
type OpsHandler struct {
	metrics *service.MetricsService
	checks  map[string]ReadinessCheck
	queue   queueDepth
	worker  pendingCounter
	timeout time.Duration
}

// NewOpsHandler constructs the handler. queue and worker may be nil.
func NewOpsHandler(metrics *service.MetricsService, checks map[string]ReadinessCheck, queue queueDepth, worker pendingCounter) *OpsHandler {
	return &OpsHandler{
		metrics: metrics,
		checks:  checks,
		queue:   queue,
		worker:  worker,
		timeout: 2 * time.Second,
	}
}

// Register mounts the ops routes.
func (h *OpsHandler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
}

// Health responds with a generic OK payload for liveness probes.
func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every readiness check and reports queue depth.
func (h *OpsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}

	meta := map[string]interface{}{"checks": status}
	if h.queue != nil {
		if depth, err := h.queue.Len(ctx); err == nil {
			meta["queued_runs"] = depth
		}
	}
	if h.worker != nil {
		meta["pending_runs"] = h.worker.Pending()
	}

	if !ready {
		response.Error(c, appErrors.Clone(appErrors.ErrNotReady, ""), meta)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ready"}, meta)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *OpsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
