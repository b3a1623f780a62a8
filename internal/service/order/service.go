package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/config"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/messaging"
	"github.com/medisupply/procura/internal/notify"
	repo "github.com/medisupply/procura/internal/repository/order"
	"github.com/medisupply/procura/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/medisupply/procura/service/order")

// Store is the persistence contract the service needs from the order
// repository.
type Store interface {
	List(ctx context.Context, filter repo.Filter) ([]*entity.PurchaseOrder, error)
	GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error)
	Transition(ctx context.Context, orderID int64, from, to entity.OrderStatus, entry *entity.OrderHistoryEntry) error
	ConfirmDelivery(ctx context.Context, orderID int64, deliveredAt time.Time, receivedBy string, entry *entity.OrderHistoryEntry) error
	RecordNotification(ctx context.Context, orderID int64, succeeded, failed int, at time.Time) error
}

// Notifier fires delivery notifications; satisfied by notify.Trigger.
type Notifier interface {
	Deliver(ctx context.Context, order *entity.PurchaseOrder) notify.Outcome
}

// Service owns the purchase order lifecycle from draft through delivery or
// cancellation.
type Service struct {
	repo      Store
	notifier  Notifier
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	now       func() time.Time
}

type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Notifier   *notify.Trigger
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		notifier:  p.Notifier,
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.EventsTopic,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// List returns orders matching the filter.
func (s *Service) List(ctx context.Context, filter repo.Filter) ([]*entity.PurchaseOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List")
	defer span.End()

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list purchase orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// Get loads a single order with lines, patients, and history.
func (s *Service) Get(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("purchase order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load purchase order", errorbank.WithCause(err))
	}
	return order, nil
}

// SetStatus advances the order along the forward-only transition graph.
// Cancellation has its own operation because it requires a reason.
func (s *Service) SetStatus(ctx context.Context, id int64, to entity.OrderStatus, notes, actor string) (*entity.PurchaseOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.SetStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.to", string(to)),
	))
	defer span.End()

	if !to.Valid() {
		return nil, errorbank.BadRequest("unknown order status", errorbank.WithDetail("status", string(to)))
	}
	if to == entity.OrderStatusCancelled {
		return nil, errorbank.BadRequest("use the cancel operation; cancellation requires a reason")
	}
	if to == entity.OrderStatusDelivered {
		return nil, errorbank.BadRequest("use the delivery confirmation operation")
	}

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entity.CanOrderTransition(order.Status, to) {
		return nil, errorbank.Conflict("disallowed order transition",
			errorbank.WithDetail("from", string(order.Status)),
			errorbank.WithDetail("to", string(to)),
		)
	}

	now := s.now()
	description := fmt.Sprintf("status changed from %s to %s", order.Status, to)
	if notes != "" {
		description = fmt.Sprintf("%s: %s", description, notes)
	}
	entry := &entity.OrderHistoryEntry{
		Status:      to,
		Description: description,
		Actor:       actor,
		CreatedAt:   now,
	}
	if err := s.repo.Transition(ctx, id, order.Status, to, entry); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return nil, errorbank.Conflict("purchase order changed concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to update order status", errorbank.WithCause(err))
	}

	s.publishStatusChanged(ctx, order, to, actor, now)
	return s.Get(ctx, id)
}

// Cancel terminates an order that has not yet shipped. The reason is
// mandatory and lands in the history log.
func (s *Service) Cancel(ctx context.Context, id int64, reason, actor string) (*entity.PurchaseOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, errorbank.BadRequest("cancellation reason is required")
	}

	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, errorbank.Conflict("order can no longer be cancelled",
			errorbank.WithDetail("status", string(order.Status)),
		)
	}

	now := s.now()
	entry := &entity.OrderHistoryEntry{
		Status:      entity.OrderStatusCancelled,
		Description: fmt.Sprintf("order cancelled: %s", reason),
		Actor:       actor,
		CreatedAt:   now,
	}
	if err := s.repo.Transition(ctx, id, order.Status, entity.OrderStatusCancelled, entry); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return nil, errorbank.Conflict("purchase order changed concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to cancel order", errorbank.WithCause(err))
	}

	s.publishStatusChanged(ctx, order, entity.OrderStatusCancelled, actor, now)
	return s.Get(ctx, id)
}

// DeliveryResult reports a confirmed delivery plus the notification
// outcome. Warning is set when some patients could not be notified; the
// delivery itself stands regardless.
type DeliveryResult struct {
	Order    *entity.PurchaseOrder
	Outcome  notify.Outcome
	Notified bool
	Warning  string
}

// ConfirmDelivery transitions a shipped order to DELIVERED exactly once
// and then fires the notification trigger. The two phases are deliberately
// non-atomic: the persisted DELIVERED status is never rolled back because
// notification failed; partial failure surfaces as a warning and is
// compensated by the manual resend.
func (s *Service) ConfirmDelivery(ctx context.Context, id int64, deliveredAt time.Time, receivedBy string) (DeliveryResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ConfirmDelivery", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.Get(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	if order.Status == entity.OrderStatusDelivered {
		return DeliveryResult{}, errorbank.Conflict("order already delivered")
	}
	if order.Status != entity.OrderStatusShipped {
		return DeliveryResult{}, errorbank.Conflict("only shipped orders can be delivered",
			errorbank.WithDetail("status", string(order.Status)),
		)
	}

	if deliveredAt.IsZero() {
		deliveredAt = s.now()
	}
	entry := &entity.OrderHistoryEntry{
		Status:      entity.OrderStatusDelivered,
		Description: fmt.Sprintf("delivery confirmed, received by %s", receivedBy),
		Actor:       receivedBy,
		CreatedAt:   deliveredAt,
	}
	if err := s.repo.ConfirmDelivery(ctx, id, deliveredAt, receivedBy, entry); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return DeliveryResult{}, errorbank.Conflict("purchase order changed concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return DeliveryResult{}, errorbank.Internal("failed to confirm delivery", errorbank.WithCause(err))
	}

	s.publishStatusChanged(ctx, order, entity.OrderStatusDelivered, receivedBy, deliveredAt)
	order.Status = entity.OrderStatusDelivered
	order.DeliveredAt = &deliveredAt
	order.ReceivedBy = receivedBy

	outcome := s.notifyAndRecord(ctx, order)

	result := DeliveryResult{
		Order:    order,
		Outcome:  outcome,
		Notified: outcome.AllDelivered(),
	}
	if outcome.Failed > 0 {
		result.Warning = fmt.Sprintf("%d of %d patient notifications failed; use resend", outcome.Failed, outcome.Succeeded+outcome.Failed)
	}
	return result, nil
}

// ResendNotification re-invokes the dispatcher for a delivered order whose
// patients were not all notified. It is never invoked automatically; only
// an operator triggers it.
func (s *Service) ResendNotification(ctx context.Context, id int64) (DeliveryResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ResendNotification", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.Get(ctx, id)
	if err != nil {
		return DeliveryResult{}, err
	}
	if order.Status != entity.OrderStatusDelivered {
		return DeliveryResult{}, errorbank.Conflict("order is not delivered",
			errorbank.WithDetail("status", string(order.Status)),
		)
	}
	if order.Notified {
		return DeliveryResult{}, errorbank.Conflict("all patients already notified")
	}

	outcome := s.notifyAndRecord(ctx, order)
	result := DeliveryResult{
		Order:    order,
		Outcome:  outcome,
		Notified: outcome.AllDelivered(),
	}
	if outcome.Failed > 0 {
		result.Warning = fmt.Sprintf("%d of %d patient notifications failed", outcome.Failed, outcome.Succeeded+outcome.Failed)
	}
	return result, nil
}

// notifyAndRecord runs phase two: dispatch, then persist the outcome on
// the order. Failures here never propagate to the caller as errors.
func (s *Service) notifyAndRecord(ctx context.Context, order *entity.PurchaseOrder) notify.Outcome {
	outcome := s.notifier.Deliver(ctx, order)
	at := s.now()
	if err := s.repo.RecordNotification(ctx, order.ID, outcome.Succeeded, outcome.Failed, at); err != nil {
		s.logger.Error("failed to record notification outcome",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	order.Notified = outcome.AllDelivered()
	order.NotifySucceeded = outcome.Succeeded
	order.NotifyFailed = outcome.Failed
	order.NotifiedAt = &at
	return outcome
}

// OrderStatusChangedEvent is emitted on every persisted order transition.
type OrderStatusChangedEvent struct {
	Type      string             `json:"type"`
	OrderID   int64              `json:"order_id"`
	Number    string             `json:"number"`
	From      entity.OrderStatus `json:"from"`
	To        entity.OrderStatus `json:"to"`
	Actor     string             `json:"actor"`
	ChangedAt time.Time          `json:"changed_at"`
}

// EventTypeOrderStatusChanged tags OrderStatusChangedEvent on the bus.
const EventTypeOrderStatusChanged = "order.status_changed"

func (s *Service) publishStatusChanged(ctx context.Context, order *entity.PurchaseOrder, to entity.OrderStatus, actor string, at time.Time) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := OrderStatusChangedEvent{
		Type:      EventTypeOrderStatusChanged,
		OrderID:   order.ID,
		Number:    order.Number,
		From:      order.Status,
		To:        to,
		Actor:     actor,
		ChangedAt: at,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order status changed", zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("order-%d", order.ID))
	if err := s.publisher.Publish(ctx, s.messaging.topic, key, payload); err != nil {
		s.logger.Error("publish order status changed", zap.Error(err))
	}
}
