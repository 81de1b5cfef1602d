package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"access-service/internal/models"
)

// EventRepository persists security events. Events are append-only: there
// are deliberately no update or delete methods.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new security event repository
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create appends a security event
func (r *EventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create security event: %w", err)
	}
	return nil
}

// CountByIP counts events of a type from an IP since the given instant
func (r *EventRepository) CountByIP(ctx context.Context, eventType models.SecurityEventType, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("event_type = ? AND ip_address = ? AND created_at >= ?", eventType, ip, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count events by ip: %w", err)
	}
	return count, nil
}

// CountByEmail counts events of a type for an email since the given instant
func (r *EventRepository) CountByEmail(ctx context.Context, eventType models.SecurityEventType, email string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("event_type = ? AND email = ? AND created_at >= ?", eventType, email, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count events by email: %w", err)
	}
	return count, nil
}

// CountByUser counts events of a type for a user since the given instant
func (r *EventRepository) CountByUser(ctx context.Context, eventType models.SecurityEventType, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("event_type = ? AND user_id = ? AND created_at >= ?", eventType, userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count events by user: %w", err)
	}
	return count, nil
}

// EventQuery filters event listings
type EventQuery struct {
	TenantID  *uuid.UUID
	UserID    *uuid.UUID
	EventType models.SecurityEventType
	RiskLevel models.RiskLevel
	Since     time.Time
	Limit     int
}

// List returns events matching the query, newest first
func (r *EventRepository) List(ctx context.Context, q EventQuery) ([]models.SecurityEvent, error) {
	db := r.db.WithContext(ctx).Model(&models.SecurityEvent{})
	if q.TenantID != nil {
		db = db.Where("tenant_id = ?", *q.TenantID)
	}
	if q.UserID != nil {
		db = db.Where("user_id = ?", *q.UserID)
	}
	if q.EventType != "" {
		db = db.Where("event_type = ?", q.EventType)
	}
	if q.RiskLevel != "" {
		db = db.Where("risk_level = ?", q.RiskLevel)
	}
	if !q.Since.IsZero() {
		db = db.Where("created_at >= ?", q.Since)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []models.SecurityEvent
	if err := db.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}

// FailedLogins returns recent login failures, newest first
func (r *EventRepository) FailedLogins(ctx context.Context, since time.Time, limit int) ([]models.SecurityEvent, error) {
	return r.List(ctx, EventQuery{
		EventType: models.EventLoginFailure,
		Since:     since,
		Limit:     limit,
	})
}
