package middleware

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"access-service/internal/models"
	"access-service/internal/tenantctx"
)

// Context keys set by the middleware chain
const (
	RequestIDKey  = "request_id"
	TenantIDKey   = "tenant_id"
	TenantSlugKey = "tenant_slug"
	UserIDKey     = "user_id"
	SessionIDKey  = "session_id"
)

// RequestID middleware generates or extracts correlation IDs for request tracing
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// StructuredLogger middleware logs requests with structured fields
func StructuredLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		requestID, _ := c.Get(RequestIDKey)

		log.Printf(
			"[%s] method=%s path=%s status=%d duration=%v ip=%s user_agent=%s request_id=%s",
			time.Now().Format(time.RFC3339),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			duration,
			c.ClientIP(),
			c.Request.UserAgent(),
			requestID,
		)
	}
}

// Principal extracts the authenticated user from the gateway headers.
// Authentication happens upstream; this service trusts X-User-ID and
// X-User-Email from the gateway. Absent headers mean a guest.
func Principal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := principalFromRequest(c); user != nil {
			c.Set(UserIDKey, user.ID.String())
		}
		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			c.Set(SessionIDKey, sessionID)
		}
		c.Next()
	}
}

// TenantContext resolves the request host and binds the matching tenant
// into the request context before any handler runs. Requests to the main
// domain and reserved subdomains pass through unbound.
func TenantContext(manager *tenantctx.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalFromRequest(c)

		ctx, tenant, err := manager.Establish(c.Request.Context(), c.Request.Host, principal)
		c.Request = c.Request.WithContext(ctx)

		if err != nil {
			switch {
			case errors.Is(err, tenantctx.ErrTenantNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
			case errors.Is(err, tenantctx.ErrInvalidTenant):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant is not active"})
			case errors.Is(err, tenantctx.ErrAccessDenied):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access to tenant denied"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tenant resolution failed"})
			}
			return
		}

		if tenant != nil {
			c.Set(TenantIDKey, tenant.ID.String())
			c.Set(TenantSlugKey, tenant.Slug)
		}
		c.Next()
	}
}

// principalFromRequest builds the principal from the gateway headers,
// returning nil for guests
func principalFromRequest(c *gin.Context) *models.User {
	rawID := c.GetHeader("X-User-ID")
	if rawID == "" {
		return nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil
	}
	return &models.User{
		ID:     id,
		Email:  c.GetHeader("X-User-Email"),
		Status: "active",
	}
}

// GetPrincipal returns the request's authenticated user, or nil for guests
func GetPrincipal(c *gin.Context) *models.User {
	return principalFromRequest(c)
}

// GetSessionID returns the request's session identifier, falling back to
// the user ID so session state still works without a session header
func GetSessionID(c *gin.Context) string {
	if sessionID, exists := c.Get(SessionIDKey); exists {
		if s, ok := sessionID.(string); ok && s != "" {
			return s
		}
	}
	if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
		return sessionID
	}
	return c.GetHeader("X-User-ID")
}

// GetTenantID returns the bound tenant ID from the gin context
func GetTenantID(c *gin.Context) string {
	if tenantID, exists := c.Get(TenantIDKey); exists {
		if s, ok := tenantID.(string); ok {
			return s
		}
	}
	return ""
}
