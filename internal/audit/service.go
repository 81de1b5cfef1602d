package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"access-service/internal/config"
	"access-service/internal/metrics"
	"access-service/internal/models"
)

// EventStore persists security events and answers the windowed counts the
// risk scoring and detectors need
type EventStore interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	CountByIP(ctx context.Context, eventType models.SecurityEventType, ip string, since time.Time) (int64, error)
	CountByEmail(ctx context.Context, eventType models.SecurityEventType, email string, since time.Time) (int64, error)
	CountByUser(ctx context.Context, eventType models.SecurityEventType, userID uuid.UUID, since time.Time) (int64, error)
}

// AlertPublisher pushes high and critical events to the alerting pipeline
type AlertPublisher interface {
	PublishAlert(ctx context.Context, event *models.SecurityEvent) error
}

// EventFields is the caller-supplied payload for a security event. All
// fields are optional; RiskLevel is computed when absent.
type EventFields struct {
	UserID    *uuid.UUID
	Email     string
	TenantID  *uuid.UUID
	IPAddress string
	UserAgent string
	Resource  string
	RiskLevel models.RiskLevel
	Details   map[string]interface{}
}

// Service records security events. Recording never fails from the caller's
// perspective: persistence, alerting and detector failures are logged and
// swallowed so the audit trail cannot take down the hot path.
type Service struct {
	store  EventStore
	alerts AlertPublisher
	logger *logrus.Logger

	bruteForceThreshold int
	switchThreshold     int
	window              time.Duration

	now func() time.Time
}

// NewService creates a security audit service
func NewService(store EventStore, logger *logrus.Logger, cfg config.AuditConfig) *Service {
	return &Service{
		store:               store,
		logger:              logger,
		bruteForceThreshold: cfg.BruteForceThreshold,
		switchThreshold:     cfg.SwitchThreshold,
		window:              cfg.DetectionWindow,
		now:                 time.Now,
	}
}

// SetAlertPublisher attaches the alert pipeline. Optional; without it
// high-risk events are only logged.
func (s *Service) SetAlertPublisher(alerts AlertPublisher) {
	s.alerts = alerts
}

// LogEvent records a security event and runs the pattern detectors.
// Unknown event types are rejected with a log line and nil return; every
// valid call returns the recorded event.
func (s *Service) LogEvent(ctx context.Context, eventType models.SecurityEventType, fields EventFields) *models.SecurityEvent {
	if !eventType.Valid() {
		s.logger.WithField("event_type", eventType).Error("Rejected security event with unknown type")
		return nil
	}

	event := &models.SecurityEvent{
		EventType: eventType,
		UserID:    fields.UserID,
		Email:     fields.Email,
		TenantID:  fields.TenantID,
		IPAddress: fields.IPAddress,
		UserAgent: fields.UserAgent,
		Resource:  fields.Resource,
		CreatedAt: s.now().UTC(),
	}

	if len(fields.Details) > 0 {
		if data, err := json.Marshal(fields.Details); err == nil {
			event.Details = datatypes.JSON(data)
		} else {
			// Malformed payload degrades to a minimal record
			s.logger.WithError(err).WithField("event_type", eventType).Warn("Dropping unserializable event details")
		}
	}

	if fields.RiskLevel.Valid() {
		event.RiskLevel = fields.RiskLevel
	} else {
		event.RiskLevel = s.computeRisk(ctx, eventType, fields)
	}

	if err := s.store.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"risk_level": event.RiskLevel,
		}).Error("Failed to persist security event")
	}

	s.emit(event)
	metrics.SecurityEvents.WithLabelValues(string(event.EventType), string(event.RiskLevel)).Inc()

	if event.IsHighRisk() && s.alerts != nil {
		if err := s.alerts.PublishAlert(ctx, event); err != nil {
			s.logger.WithError(err).WithField("event_id", event.ID).Warn("Failed to publish security alert")
		}
	}

	// Detectors never run on their own output
	if eventType != models.EventSuspiciousActivity {
		s.runDetectors(ctx, event)
	}
	return event
}

// computeRisk assigns a risk level when the caller did not supply one
func (s *Service) computeRisk(ctx context.Context, eventType models.SecurityEventType, fields EventFields) models.RiskLevel {
	switch eventType {
	case models.EventLoginFailure:
		return s.loginFailureRisk(ctx, fields)
	case models.EventLoginSuccess, models.EventTenantSwitch:
		return models.RiskLow
	case models.EventUnauthorizedAccess, models.EventRateLimitExceeded,
		models.EventSensitiveDataAccess, models.EventAdminAction,
		models.EventPermissionChange, models.EventDelegationChange:
		return models.RiskMedium
	case models.EventCrossTenantAccess, models.EventSuspiciousActivity:
		return models.RiskHigh
	case models.EventPrivilegeEscalation:
		return models.RiskCritical
	default:
		return models.RiskLow
	}
}

// loginFailureRisk scales with the number of recent failures for the same
// email, or IP when no email is known: 0-2 low, 3-5 medium, 6-10 high,
// 11+ critical
func (s *Service) loginFailureRisk(ctx context.Context, fields EventFields) models.RiskLevel {
	since := s.now().Add(-s.window)

	var count int64
	var err error
	switch {
	case fields.Email != "":
		count, err = s.store.CountByEmail(ctx, models.EventLoginFailure, fields.Email, since)
	case fields.IPAddress != "":
		count, err = s.store.CountByIP(ctx, models.EventLoginFailure, fields.IPAddress, since)
	default:
		return models.RiskMedium
	}
	if err != nil {
		s.logger.WithError(err).Warn("Login failure count unavailable, defaulting risk to medium")
		return models.RiskMedium
	}

	switch {
	case count <= 2:
		return models.RiskLow
	case count <= 5:
		return models.RiskMedium
	case count <= 10:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// emit writes the event to the structured log
func (s *Service) emit(event *models.SecurityEvent) {
	entry := s.logger.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"risk_level": event.RiskLevel,
		"ip_address": event.IPAddress,
		"resource":   event.Resource,
	})
	if event.UserID != nil {
		entry = entry.WithField("user_id", event.UserID)
	}
	if event.TenantID != nil {
		entry = entry.WithField("tenant_id", event.TenantID)
	}
	if event.IsHighRisk() {
		entry.Warn("Security event")
	} else {
		entry.Info("Security event")
	}
}
