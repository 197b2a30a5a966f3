package service

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/pkg/messaging"
	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type SessionEvent struct {
	SessionID     string               `json:"session_id"`
	State         models.SessionState  `json:"state"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Kind          models.ReportKind    `json:"kind"`
	Message       string               `json:"message"`
	Attempt       int                  `json:"attempt,omitempty"`
	Amount        int64                `json:"amount"`
	PackageLabel  string               `json:"package_label"`
	Time          time.Time            `json:"time"`
}

// EventPublisher fans session state changes out to the events exchange.
// Routing keys look like "session.payment_failed".
type EventPublisher struct {
	publisher messaging.Publisher
	exchange  string
	logger    *logrus.Logger
}

func NewEventPublisher(publisher messaging.Publisher, exchange string, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
	}
}

func (p *EventPublisher) PublishStatus(session *models.PaymentSession, report models.StatusReport) {
	event := SessionEvent{
		SessionID:     session.SessionID,
		State:         report.State,
		PaymentStatus: session.PaymentStatus,
		Kind:          report.Kind,
		Message:       report.Message,
		Attempt:       report.Attempt,
		Amount:        session.Amount,
		PackageLabel:  session.PackageLabel,
		Time:          report.Time,
	}

	routingKey := fmt.Sprintf("session.%s", report.State)
	if report.IsProgress() {
		routingKey = "session.poll_attempt"
	}

	if err := p.publisher.PublishEvent(p.exchange, routingKey, event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  session.SessionID,
			"routing_key": routingKey,
		}).Warn("Failed to publish session event")
	}
}
