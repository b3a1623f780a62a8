// Package notify decides and dispatches delivery notifications for
// purchase orders. The decision (who to notify, with what payload) is pure;
// transport goes through an injected Dispatcher so the decision logic is
// testable without one.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/config"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/messaging"
	"github.com/medisupply/procura/pkg/errorbank"
)

var notifyTracer = otel.Tracer("github.com/medisupply/procura/notify")

// Patient identifies one notification target.
type Patient struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Contact  string `json:"contact"`
}

// Payload is the decided notification content for one order.
type Payload struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Patients    []Patient `json:"patients"`
	Medications []string  `json:"medications"`
	Channel     string    `json:"channel"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Outcome counts per-patient dispatch results.
type Outcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// AllDelivered reports whether every patient was notified.
func (o Outcome) AllDelivered() bool {
	return o.Failed == 0
}

// Dispatcher is the external notification service boundary. Implementations
// must not block past the context deadline.
type Dispatcher interface {
	DispatchDeliveryNotification(ctx context.Context, payload Payload) (Outcome, error)
}

// BuildPayload derives the notification payload from a delivered order.
// Pure; returns false when the order has nobody to notify.
func BuildPayload(order *entity.PurchaseOrder, channel string) (Payload, bool) {
	if order == nil || len(order.Patients) == 0 {
		return Payload{}, false
	}
	payload := Payload{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Channel:     channel,
	}
	if order.DeliveredAt != nil {
		payload.DeliveredAt = *order.DeliveredAt
	}
	for _, p := range order.Patients {
		payload.Patients = append(payload.Patients, Patient{
			Name:     p.Name,
			Document: p.Document,
			Contact:  p.Contact,
		})
	}
	seen := make(map[string]bool, len(order.Lines))
	for _, line := range order.Lines {
		if seen[line.MedicationCode] {
			continue
		}
		seen[line.MedicationCode] = true
		payload.Medications = append(payload.Medications, line.MedicationName)
	}
	return payload, true
}

// Trigger invokes the dispatcher with a bounded timeout and converts
// dispatch errors into a recorded all-failed outcome instead of
// propagating them. Delivery confirmation must never fail because
// notification did.
type Trigger struct {
	dispatcher Dispatcher
	timeout    time.Duration
	channel    string
	logger     *zap.Logger
}

// NewTrigger builds the delivery notification trigger.
func NewTrigger(dispatcher Dispatcher, cfg config.Config, logger *zap.Logger) *Trigger {
	return &Trigger{
		dispatcher: dispatcher,
		timeout:    cfg.Procurement.DispatchTimeout,
		channel:    cfg.Procurement.NotifyChannel,
		logger:     logger,
	}
}

// Deliver notifies every patient on the order. The returned outcome always
// reflects what happened; errors from the dispatcher count all patients as
// failed and surface only as a warning log.
func (t *Trigger) Deliver(ctx context.Context, order *entity.PurchaseOrder) Outcome {
	ctx, span := notifyTracer.Start(ctx, "Notify.Deliver", trace.WithAttributes(attribute.Int64("order.id", order.ID)))
	defer span.End()

	payload, ok := BuildPayload(order, t.channel)
	if !ok {
		return Outcome{}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	outcome, err := t.dispatcher.DispatchDeliveryNotification(dispatchCtx, payload)
	if err != nil {
		t.logger.Warn("delivery notification dispatch failed",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.Number),
			zap.Error(err),
		)
		span.RecordError(err)
		return Outcome{Failed: len(payload.Patients)}
	}
	if outcome.Failed > 0 {
		t.logger.Warn("delivery notification partially failed",
			zap.Int64("order_id", order.ID),
			zap.Int("succeeded", outcome.Succeeded),
			zap.Int("failed", outcome.Failed),
		)
	}
	return outcome
}

// messagingDispatcher publishes one notification message per patient to
// the notifications topic. A publish failure counts that patient as failed
// and does not abort the remaining patients; when the bus rejects every
// message the dispatcher reports an external service failure instead of a
// zero outcome.
type messagingDispatcher struct {
	client messaging.Client
	topic  string
	logger *zap.Logger
}

// NewMessagingDispatcher builds a Dispatcher backed by the message bus.
func NewMessagingDispatcher(client messaging.Client, cfg config.Config, logger *zap.Logger) Dispatcher {
	return &messagingDispatcher{
		client: client,
		topic:  cfg.Messaging.Kafka.NotificationsTopic,
		logger: logger,
	}
}

func (d *messagingDispatcher) DispatchDeliveryNotification(ctx context.Context, payload Payload) (Outcome, error) {
	var outcome Outcome
	var lastPublishErr error
	for _, patient := range payload.Patients {
		msg := struct {
			OrderID     int64     `json:"order_id"`
			OrderNumber string    `json:"order_number"`
			Patient     Patient   `json:"patient"`
			Medications []string  `json:"medications"`
			Channel     string    `json:"channel"`
			DeliveredAt time.Time `json:"delivered_at"`
		}{
			OrderID:     payload.OrderID,
			OrderNumber: payload.OrderNumber,
			Patient:     patient,
			Medications: payload.Medications,
			Channel:     payload.Channel,
			DeliveredAt: payload.DeliveredAt,
		}
		value, err := json.Marshal(msg)
		if err != nil {
			outcome.Failed++
			continue
		}
		key := []byte(fmt.Sprintf("order-%d-%s", payload.OrderID, patient.Document))
		if err := d.client.Publish(ctx, d.topic, key, value); err != nil {
			d.logger.Warn("notification publish failed",
				zap.Int64("order_id", payload.OrderID),
				zap.String("patient", patient.Document),
				zap.Error(err),
			)
			lastPublishErr = err
			outcome.Failed++
			continue
		}
		outcome.Succeeded++
	}
	if outcome.Succeeded == 0 && lastPublishErr != nil {
		return Outcome{}, errorbank.External("notification bus unavailable", errorbank.WithCause(lastPublishErr))
	}
	return outcome, nil
}
