package procurement

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/messaging"
	ordersvc "github.com/medisupply/procura/internal/service/order"
	requestsvc "github.com/medisupply/procura/internal/service/request"
	"github.com/medisupply/procura/internal/worker"
)

var workerTracer = otel.Tracer("github.com/medisupply/procura/worker/procurement")

// Module registers procurement event worker handlers.
var Module = fx.Module("worker_procurement",
	fx.Provide(
		fx.Annotate(
			NewEventsHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewEventsHandler sets up a worker handler for the procurement events
// topic. Events carry a type discriminator; unknown types are logged and
// acknowledged so a newer producer never wedges the consumer.
func NewEventsHandler(logger *zap.Logger, client messaging.Client) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.procurement.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			logger.Error("failed to decode procurement event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		span.SetAttributes(attribute.String("event.type", envelope.Type))

		switch envelope.Type {
		case "request.awarded":
			var event requestsvc.RequestAwardedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "decode error")
				return err
			}
			logger.Info("request awarded event processed",
				zap.Int64("request_id", event.RequestID),
				zap.Int64("supplier_id", event.SupplierID),
				zap.Int("orders_created", event.OrdersCreated),
				zap.String("total_amount", event.TotalAmount.String()),
			)
		case "order.status_changed":
			var event ordersvc.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "decode error")
				return err
			}
			logger.Info("order status change event processed",
				zap.Int64("order_id", event.OrderID),
				zap.String("number", event.Number),
				zap.String("from", string(event.From)),
				zap.String("to", string(event.To)),
				zap.String("actor", event.Actor),
			)
		default:
			logger.Warn("unknown procurement event type", zap.String("type", envelope.Type))
		}

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   client.EventsTopic(),
		Handler: handler,
	}
}
