package audit

import (
	"context"

	"access-service/internal/models"
)

// Detector details written under the "pattern" key
const (
	PatternBruteForce         = "brute_force_attack"
	PatternUnusualHour        = "unusual_hour_access"
	PatternExcessiveSwitching = "excessive_tenant_switching"
)

// authenticatedAccessTypes are the event types the unusual-hour detector
// watches: actions only a logged-in principal can trigger
var authenticatedAccessTypes = map[models.SecurityEventType]bool{
	models.EventLoginSuccess:        true,
	models.EventTenantSwitch:        true,
	models.EventSensitiveDataAccess: true,
	models.EventAdminAction:         true,
}

// runDetectors runs the pattern detectors synchronously after a write.
// Each detector is isolated: a failure or panic is contained here and
// never reaches the caller of LogEvent.
func (s *Service) runDetectors(ctx context.Context, event *models.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Security detector panicked")
		}
	}()

	s.detectBruteForce(ctx, event)
	s.detectUnusualHour(ctx, event)
	s.detectExcessiveSwitching(ctx, event)
}

// detectBruteForce fires once per threshold crossing: exactly when the
// windowed failure count for the IP reaches the threshold, not on every
// failure beyond it
func (s *Service) detectBruteForce(ctx context.Context, event *models.SecurityEvent) {
	if event.EventType != models.EventLoginFailure || event.IPAddress == "" {
		return
	}

	count, err := s.store.CountByIP(ctx, models.EventLoginFailure, event.IPAddress, s.now().Add(-s.window))
	if err != nil {
		s.logger.WithError(err).Warn("Brute force detector count failed")
		return
	}
	if count != int64(s.bruteForceThreshold) {
		return
	}

	s.LogEvent(ctx, models.EventSuspiciousActivity, EventFields{
		Email:     event.Email,
		IPAddress: event.IPAddress,
		RiskLevel: models.RiskCritical,
		Details: map[string]interface{}{
			"pattern":        PatternBruteForce,
			"failure_count":  count,
			"window_minutes": int(s.window.Minutes()),
		},
	})
}

// detectUnusualHour flags authenticated access between 02:00 and 06:00
// local time
func (s *Service) detectUnusualHour(ctx context.Context, event *models.SecurityEvent) {
	if !authenticatedAccessTypes[event.EventType] {
		return
	}

	hour := event.CreatedAt.Local().Hour()
	if hour < 2 || hour >= 6 {
		return
	}

	s.LogEvent(ctx, models.EventSuspiciousActivity, EventFields{
		UserID:    event.UserID,
		Email:     event.Email,
		TenantID:  event.TenantID,
		IPAddress: event.IPAddress,
		RiskLevel: models.RiskMedium,
		Details: map[string]interface{}{
			"pattern":     PatternUnusualHour,
			"event_type":  string(event.EventType),
			"access_hour": hour,
		},
	})
}

// detectExcessiveSwitching fires once when a principal's windowed tenant
// switch count reaches the threshold
func (s *Service) detectExcessiveSwitching(ctx context.Context, event *models.SecurityEvent) {
	if event.EventType != models.EventTenantSwitch || event.UserID == nil {
		return
	}

	count, err := s.store.CountByUser(ctx, models.EventTenantSwitch, *event.UserID, s.now().Add(-s.window))
	if err != nil {
		s.logger.WithError(err).Warn("Excessive switching detector count failed")
		return
	}
	if count != int64(s.switchThreshold) {
		return
	}

	s.LogEvent(ctx, models.EventSuspiciousActivity, EventFields{
		UserID:    event.UserID,
		TenantID:  event.TenantID,
		IPAddress: event.IPAddress,
		RiskLevel: models.RiskHigh,
		Details: map[string]interface{}{
			"pattern":        PatternExcessiveSwitching,
			"switch_count":   count,
			"window_minutes": int(s.window.Minutes()),
		},
	})
}
