package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service-level metrics. Registered on the default registry and exposed on
// /metrics by main.
var (
	// PermissionDecisions counts allow/deny outcomes of permission checks
	PermissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Name:      "permission_decisions_total",
		Help:      "Permission check outcomes",
	}, []string{"result"})

	// CacheLookups counts permission cache hits and misses
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Name:      "permission_cache_lookups_total",
		Help:      "Permission cache lookup outcomes",
	}, []string{"outcome"})

	// TenantSwitches counts switch attempts by outcome
	TenantSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Name:      "tenant_switches_total",
		Help:      "Tenant switch attempts by outcome",
	}, []string{"outcome"})

	// SecurityEvents counts recorded security events
	SecurityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Name:      "security_events_total",
		Help:      "Security events recorded, by type and risk level",
	}, []string{"event_type", "risk_level"})

	// ActiveDelegations tracks currently active permission delegations
	ActiveDelegations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "access_service",
		Name:      "active_delegations",
		Help:      "Permission delegations whose window contains now",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "access_service",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "access_service",
		Name:      "http_requests_total",
		Help:      "HTTP requests processed",
	}, []string{"method", "path", "status"})
)

// Middleware records request counts and latency per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
