package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(metrics *metrics.Metrics, tracer tracing.Tracer) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		tracer:  tracer,
	}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-metrics")
	defer h.tracer.EndTransaction(txn)

	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))

	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck reports per-component health, 503 if any is down
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	healthy := h.metrics.Healthy()

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":         healthy,
		"details":        h.metrics.GetHealthChecks(),
		"uptime_seconds": h.metrics.GetUptimeSeconds(),
		"in_flight":      h.metrics.GetGauges()[metrics.PoolInFlight],
	})
}
