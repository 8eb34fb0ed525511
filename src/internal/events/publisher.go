package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/dungpv04/be-android/src/internal/config"
	"github.com/dungpv04/be-android/src/internal/models"
)

// Publisher emits session lifecycle and attendance events to the events
// exchange. Publishing is best-effort: a broker failure is logged and
// reported but never blocks the write that triggered it.
type Publisher interface {
	PublishSessionEvent(sessionID, action, actor string) error
	PublishAttendanceEvent(entry *models.Attendance, action string) error
}

type publisher struct {
	channel *amqp.Channel
	cfg     *config.RabbitMQConfig
}

func NewPublisher(channel *amqp.Channel, cfg *config.Configuration) Publisher {
	return &publisher{
		channel: channel,
		cfg:     &cfg.Queue.RabbitMQ,
	}
}

func (p *publisher) PublishSessionEvent(sessionID, action, actor string) error {
	event := models.SessionEvent{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	}

	routingKey := models.RoutingKeySessionOpened
	if action == models.ActionSessionClosed {
		routingKey = models.RoutingKeySessionClosed
	}

	if err := p.publish(routingKey, event); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"action":      action,
		"routing_key": routingKey,
	}).Debug("Session event published")

	return nil
}

func (p *publisher) PublishAttendanceEvent(entry *models.Attendance, action string) error {
	event := models.AttendanceEvent{
		EventID:    uuid.NewString(),
		SessionID:  entry.SessionID,
		StudentID:  entry.StudentID,
		Action:     action,
		Status:     entry.Status,
		Method:     entry.Method,
		Confidence: entry.Confidence,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		Timestamp:  time.Now().UTC(),
	}

	if err := p.publish(models.RoutingKeyAttendanceMarked, event); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": entry.SessionID,
		"student_id": entry.StudentID,
		"action":     action,
	}).Debug("Attendance event published")

	return nil
}

func (p *publisher) publish(routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.Publish(
		p.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)

	if err != nil {
		logrus.WithError(err).WithField("routing_key", routingKey).Error("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
