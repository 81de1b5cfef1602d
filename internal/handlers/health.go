package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	natsClient "access-service/internal/nats"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db         *gorm.DB
	redis      *redis.Client
	natsClient *natsClient.Client
}

// NewHealthHandler creates a new health handler. Redis and NATS are
// optional dependencies and reported as degraded when absent.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client, nc *natsClient.Client) *HealthHandler {
	return &HealthHandler{
		db:         db,
		redis:      rdb,
		natsClient: nc,
	}
}

// Check represents a health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := map[string]Check{}
	healthy := true

	checks["database"] = h.checkDatabase(c.Request.Context())
	if checks["database"].Status != "healthy" {
		healthy = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = Check{Status: "degraded", Message: err.Error()}
		} else {
			checks["redis"] = Check{Status: "healthy"}
		}
	} else {
		checks["redis"] = Check{Status: "degraded", Message: "not configured"}
	}

	if h.natsClient != nil && h.natsClient.IsConnected() {
		checks["nats"] = Check{Status: "healthy"}
	} else {
		checks["nats"] = Check{Status: "degraded", Message: "not connected"}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    overall,
		"service":   "access-service",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// Ready handles GET /ready for readiness probes: database only, the
// optional dependencies never gate readiness
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.checkDatabase(c.Request.Context()).Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) Check {
	sqlDB, err := h.db.DB()
	if err != nil {
		return Check{Status: "unhealthy", Message: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return Check{Status: "unhealthy", Message: err.Error()}
	}
	return Check{Status: "healthy"}
}
