package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"access-service/internal/models"
)

// AlertPublisher pushes high-risk security events onto the security stream
// for downstream alerting. Publishing is best effort: a disconnected NATS
// never blocks the audit path.
type AlertPublisher struct {
	client *Client
	logger *logrus.Logger
}

// NewAlertPublisher creates a security alert publisher
func NewAlertPublisher(client *Client, logger *logrus.Logger) *AlertPublisher {
	return &AlertPublisher{
		client: client,
		logger: logger,
	}
}

// PublishAlert publishes a security event to security.alert.<risk_level>
func (p *AlertPublisher) PublishAlert(ctx context.Context, event *models.SecurityEvent) error {
	if p.client == nil || !p.client.IsConnected() {
		p.logger.Warn("NATS not connected, skipping security alert publish")
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal security alert: %w", err)
	}

	subject := SubjectAlertPrefix + string(event.RiskLevel)
	if _, err := p.client.JetStream().Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish security alert: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"subject":    subject,
		"event_type": event.EventType,
		"risk_level": event.RiskLevel,
	}).Debug("Published security alert")
	return nil
}
