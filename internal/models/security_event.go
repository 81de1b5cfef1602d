package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SecurityEventType is the closed set of auditable security event types.
// Unknown types are rejected at construction, not stored.
type SecurityEventType string

const (
	EventLoginSuccess        SecurityEventType = "login_success"
	EventLoginFailure        SecurityEventType = "login_failure"
	EventUnauthorizedAccess  SecurityEventType = "unauthorized_access"
	EventPrivilegeEscalation SecurityEventType = "privilege_escalation"
	EventTenantSwitch        SecurityEventType = "tenant_switch"
	EventCrossTenantAccess   SecurityEventType = "cross_tenant_access"
	EventSensitiveDataAccess SecurityEventType = "sensitive_data_access"
	EventRateLimitExceeded   SecurityEventType = "rate_limit_exceeded"
	EventAdminAction         SecurityEventType = "admin_action"
	EventPermissionChange    SecurityEventType = "permission_change"
	EventDelegationChange    SecurityEventType = "delegation_change"
	EventSuspiciousActivity  SecurityEventType = "suspicious_activity"
)

// Valid reports whether the event type belongs to the taxonomy
func (t SecurityEventType) Valid() bool {
	switch t {
	case EventLoginSuccess, EventLoginFailure, EventUnauthorizedAccess,
		EventPrivilegeEscalation, EventTenantSwitch, EventCrossTenantAccess,
		EventSensitiveDataAccess, EventRateLimitExceeded, EventAdminAction,
		EventPermissionChange, EventDelegationChange, EventSuspiciousActivity:
		return true
	}
	return false
}

// RiskLevel classifies how dangerous an event is
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the risk level is one of the four defined levels
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// SecurityEvent is a write-once audit record. Events are never updated or
// deleted by application code.
type SecurityEvent struct {
	ID        uuid.UUID         `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventType SecurityEventType `json:"event_type" gorm:"type:varchar(50);not null;index"`
	RiskLevel RiskLevel         `json:"risk_level" gorm:"type:varchar(20);not null;index"`

	// Actor context; all optional since some events are pre-authentication
	UserID   *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid;index"`
	Email    string     `json:"email,omitempty" gorm:"type:varchar(255);index"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty" gorm:"type:uuid;index"`

	// Request context
	IPAddress string `json:"ip_address,omitempty" gorm:"type:varchar(45);index"`
	UserAgent string `json:"user_agent,omitempty" gorm:"type:text"`
	Resource  string `json:"resource,omitempty" gorm:"type:varchar(255)"`

	Details datatypes.JSON `json:"details,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at" gorm:"index;not null"`
}

// TableName specifies the table name
func (SecurityEvent) TableName() string {
	return "security_events"
}

// BeforeCreate hook to set ID and timestamp
func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// IsHighRisk reports whether the event should hit the immediate alert path
func (e *SecurityEvent) IsHighRisk() bool {
	return e.RiskLevel == RiskHigh || e.RiskLevel == RiskCritical
}
