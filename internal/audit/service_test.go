package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/config"
	"access-service/internal/models"
)

// memoryEventStore keeps events in a slice and answers counts from it
type memoryEventStore struct {
	events  []*models.SecurityEvent
	lastCtx context.Context
}

func (m *memoryEventStore) Create(ctx context.Context, event *models.SecurityEvent) error {
	m.events = append(m.events, event)
	m.lastCtx = ctx
	return nil
}

func (m *memoryEventStore) CountByIP(ctx context.Context, eventType models.SecurityEventType, ip string, since time.Time) (int64, error) {
	var n int64
	for _, e := range m.events {
		if e.EventType == eventType && e.IPAddress == ip && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryEventStore) CountByEmail(ctx context.Context, eventType models.SecurityEventType, email string, since time.Time) (int64, error) {
	var n int64
	for _, e := range m.events {
		if e.EventType == eventType && e.Email == email && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryEventStore) CountByUser(ctx context.Context, eventType models.SecurityEventType, userID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	for _, e := range m.events {
		if e.EventType == eventType && e.UserID != nil && *e.UserID == userID && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryEventStore) byType(t models.SecurityEventType) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, e := range m.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(store *memoryEventStore) *Service {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s := NewService(store, logger, config.AuditConfig{
		BruteForceThreshold: 10,
		SwitchThreshold:     20,
		DetectionWindow:     time.Hour,
	})
	// Pin the clock to midday so the unusual-hour detector stays quiet
	// unless a test moves it deliberately
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	s.now = func() time.Time { return noon }
	return s
}

func TestLogEventRejectsUnknownType(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	event := s.LogEvent(context.Background(), "made_up_type", EventFields{})
	assert.Nil(t, event)
	assert.Empty(t, store.events)
}

func TestLoginFailureRiskLadder(t *testing.T) {
	tests := []struct {
		name          string
		priorFailures int
		wantRisk      models.RiskLevel
	}{
		{"first failures are low", 1, models.RiskLow},
		{"repeated failures are medium", 4, models.RiskMedium},
		{"sustained failures are high", 8, models.RiskHigh},
		{"hammering is critical", 12, models.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryEventStore{}
			s := newTestService(store)
			// Avoid the brute force detector muddying the event list
			s.bruteForceThreshold = 1 << 30

			var last *models.SecurityEvent
			for i := 0; i < tt.priorFailures+1; i++ {
				last = s.LogEvent(context.Background(), models.EventLoginFailure, EventFields{
					Email:     "target@acme.io",
					IPAddress: "10.0.0.1",
				})
			}
			require.NotNil(t, last)
			assert.Equal(t, tt.wantRisk, last.RiskLevel)
		})
	}
}

func TestCallerRiskLevelWins(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	event := s.LogEvent(context.Background(), models.EventLoginSuccess, EventFields{
		RiskLevel: models.RiskHigh,
	})
	require.NotNil(t, event)
	assert.Equal(t, models.RiskHigh, event.RiskLevel)
}

func TestBruteForceFiresOncePerCrossing(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	for i := 0; i < 15; i++ {
		s.LogEvent(context.Background(), models.EventLoginFailure, EventFields{
			IPAddress: "203.0.113.7",
		})
	}

	suspicious := store.byType(models.EventSuspiciousActivity)
	require.Len(t, suspicious, 1, "detector must fire exactly once at the threshold crossing")
	assert.Equal(t, models.RiskCritical, suspicious[0].RiskLevel)
	assert.Contains(t, string(suspicious[0].Details), PatternBruteForce)
	assert.Equal(t, "203.0.113.7", suspicious[0].IPAddress)
}

func TestBruteForceIgnoresOldFailures(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	base := time.Now()
	// Nine stale failures outside the window
	s.now = func() time.Time { return base.Add(-2 * time.Hour) }
	for i := 0; i < 9; i++ {
		s.LogEvent(context.Background(), models.EventLoginFailure, EventFields{IPAddress: "203.0.113.7"})
	}

	// One fresh failure: windowed count is 1, far from the threshold
	s.now = func() time.Time { return base }
	s.LogEvent(context.Background(), models.EventLoginFailure, EventFields{IPAddress: "203.0.113.7"})

	assert.Empty(t, store.byType(models.EventSuspiciousActivity))
}

func TestExcessiveSwitchingFiresAtThreshold(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)
	userID := uuid.New()

	for i := 0; i < 25; i++ {
		s.LogEvent(context.Background(), models.EventTenantSwitch, EventFields{
			UserID: &userID,
		})
	}

	suspicious := store.byType(models.EventSuspiciousActivity)
	require.Len(t, suspicious, 1)
	assert.Equal(t, models.RiskHigh, suspicious[0].RiskLevel)
	assert.Contains(t, string(suspicious[0].Details), PatternExcessiveSwitching)
}

func TestUnusualHourDetector(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)
	userID := uuid.New()

	// 03:30 local time
	threeAM := time.Date(2026, 3, 10, 3, 30, 0, 0, time.Local)
	s.now = func() time.Time { return threeAM }

	s.LogEvent(context.Background(), models.EventLoginSuccess, EventFields{UserID: &userID})

	suspicious := store.byType(models.EventSuspiciousActivity)
	require.Len(t, suspicious, 1)
	assert.Contains(t, string(suspicious[0].Details), PatternUnusualHour)

	// Midday access is fine
	store.events = nil
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	s.now = func() time.Time { return noon }
	s.LogEvent(context.Background(), models.EventLoginSuccess, EventFields{UserID: &userID})
	assert.Empty(t, store.byType(models.EventSuspiciousActivity))
}

func TestDetectorsCarryCallerContext(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)
	userID := uuid.New()

	threeAM := time.Date(2026, 3, 10, 3, 30, 0, 0, time.Local)
	s.now = func() time.Time { return threeAM }

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-7")
	s.LogEvent(ctx, models.EventLoginSuccess, EventFields{UserID: &userID})

	require.Len(t, store.byType(models.EventSuspiciousActivity), 1)
	// The follow-up write triggered by the detector runs on the caller's
	// request context, not a detached one
	assert.Equal(t, "req-7", store.lastCtx.Value(ctxKey{}))
}

func TestUnusualHourSkipsUnauthenticatedTypes(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.Local)
	s.now = func() time.Time { return threeAM }

	s.LogEvent(context.Background(), models.EventLoginFailure, EventFields{IPAddress: "10.0.0.1"})
	assert.Empty(t, store.byType(models.EventSuspiciousActivity))
}

func TestDetectorsSkipSuspiciousActivity(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	threeAM := time.Date(2026, 3, 10, 3, 0, 0, 0, time.Local)
	s.now = func() time.Time { return threeAM }

	// Logging suspicious activity directly must not recurse into detectors
	s.LogEvent(context.Background(), models.EventSuspiciousActivity, EventFields{
		RiskLevel: models.RiskHigh,
		Details:   map[string]interface{}{"pattern": "manual"},
	})
	assert.Len(t, store.events, 1)
}

func TestUnserializableDetailsDegrade(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	event := s.LogEvent(context.Background(), models.EventAdminAction, EventFields{
		Details: map[string]interface{}{"bad": func() {}},
	})
	require.NotNil(t, event)
	assert.Empty(t, event.Details, "unserializable details degrade to a minimal record")
	assert.Len(t, store.events, 1)
}

func TestHighRiskEventsAlert(t *testing.T) {
	store := &memoryEventStore{}
	s := newTestService(store)

	published := make([]*models.SecurityEvent, 0)
	s.SetAlertPublisher(alertFunc(func(ctx context.Context, e *models.SecurityEvent) error {
		published = append(published, e)
		return nil
	}))

	s.LogEvent(context.Background(), models.EventPrivilegeEscalation, EventFields{})
	require.Len(t, published, 1)
	assert.Equal(t, models.EventPrivilegeEscalation, published[0].EventType)

	s.LogEvent(context.Background(), models.EventLoginSuccess, EventFields{})
	assert.Len(t, published, 1, "low-risk events do not alert")
}

type alertFunc func(ctx context.Context, event *models.SecurityEvent) error

func (f alertFunc) PublishAlert(ctx context.Context, event *models.SecurityEvent) error {
	return f(ctx, event)
}
