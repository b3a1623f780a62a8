package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/config"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/messaging"
	"github.com/medisupply/procura/pkg/errorbank"
)

type stubDispatcher struct {
	payload Payload
	outcome Outcome
	err     error
	calls   int
}

func (d *stubDispatcher) DispatchDeliveryNotification(ctx context.Context, payload Payload) (Outcome, error) {
	d.calls++
	d.payload = payload
	return d.outcome, d.err
}

func deliveredOrder() *entity.PurchaseOrder {
	at := time.Date(2025, 3, 5, 16, 30, 0, 0, time.UTC)
	return &entity.PurchaseOrder{
		ID:          7,
		Number:      "OC-AB12CD34EF",
		Status:      entity.OrderStatusDelivered,
		DeliveredAt: &at,
		Patients: []*entity.OrderPatient{
			{Name: "Maria Lopez", Document: "CC-1001", Contact: "+57 300 555 0001"},
			{Name: "Jorge Diaz", Document: "CC-1002", Contact: "+57 300 555 0002"},
		},
		Lines: []*entity.OrderLine{
			{MedicationCode: "ACET-500", MedicationName: "Acetaminofen 500mg"},
			{MedicationCode: "ACET-500", MedicationName: "Acetaminofen 500mg"},
			{MedicationCode: "IBUP-400", MedicationName: "Ibuprofeno 400mg"},
		},
	}
}

func TestBuildPayload(t *testing.T) {
	t.Run("derives patients and deduplicates medications", func(t *testing.T) {
		payload, ok := BuildPayload(deliveredOrder(), "sms")
		require.True(t, ok)
		require.Equal(t, int64(7), payload.OrderID)
		require.Equal(t, "sms", payload.Channel)
		require.Len(t, payload.Patients, 2)
		require.Equal(t, []string{"Acetaminofen 500mg", "Ibuprofeno 400mg"}, payload.Medications)
		require.False(t, payload.DeliveredAt.IsZero())
	})

	t.Run("no patients means nothing to send", func(t *testing.T) {
		_, ok := BuildPayload(&entity.PurchaseOrder{ID: 8}, "sms")
		require.False(t, ok)
		_, ok = BuildPayload(nil, "sms")
		require.False(t, ok)
	})
}

func newTestTrigger(d Dispatcher) *Trigger {
	cfg := config.Config{}
	cfg.Procurement.DispatchTimeout = time.Second
	cfg.Procurement.NotifyChannel = "sms"
	return NewTrigger(d, cfg, zap.NewNop())
}

func TestTriggerDeliver(t *testing.T) {
	t.Run("passes through the dispatcher outcome", func(t *testing.T) {
		dispatcher := &stubDispatcher{outcome: Outcome{Succeeded: 2}}
		trigger := newTestTrigger(dispatcher)

		outcome := trigger.Deliver(context.Background(), deliveredOrder())
		require.Equal(t, Outcome{Succeeded: 2}, outcome)
		require.True(t, outcome.AllDelivered())
		require.Equal(t, 1, dispatcher.calls)
		require.Equal(t, "sms", dispatcher.payload.Channel)
	})

	t.Run("dispatcher error counts every patient as failed", func(t *testing.T) {
		dispatcher := &stubDispatcher{err: errors.New("gateway unavailable")}
		trigger := newTestTrigger(dispatcher)

		outcome := trigger.Deliver(context.Background(), deliveredOrder())
		require.Equal(t, Outcome{Failed: 2}, outcome)
		require.False(t, outcome.AllDelivered())
	})

	t.Run("partial failure is reported as-is", func(t *testing.T) {
		dispatcher := &stubDispatcher{outcome: Outcome{Succeeded: 1, Failed: 1}}
		trigger := newTestTrigger(dispatcher)

		outcome := trigger.Deliver(context.Background(), deliveredOrder())
		require.Equal(t, 1, outcome.Succeeded)
		require.Equal(t, 1, outcome.Failed)
		require.False(t, outcome.AllDelivered())
	})

	t.Run("order without patients skips the dispatcher", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		trigger := newTestTrigger(dispatcher)

		outcome := trigger.Deliver(context.Background(), &entity.PurchaseOrder{ID: 9})
		require.Equal(t, Outcome{}, outcome)
		require.Zero(t, dispatcher.calls)
	})
}

// stubBus fails publishes for the listed patient keys; an empty failFor with
// failAll set rejects everything.
type stubBus struct {
	failAll   bool
	failFor   map[string]bool
	published []string
}

func (b *stubBus) Publish(ctx context.Context, topic string, key, value []byte) error {
	if b.failAll || b.failFor[string(key)] {
		return errors.New("broker unreachable")
	}
	b.published = append(b.published, string(key))
	return nil
}

func (b *stubBus) Consume(ctx context.Context, handler messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *stubBus) EventsTopic() string { return "procurement.events" }

func newBusDispatcher(bus messaging.Client) Dispatcher {
	cfg := config.Config{}
	cfg.Messaging.Kafka.NotificationsTopic = "procurement.notifications"
	return NewMessagingDispatcher(bus, cfg, zap.NewNop())
}

func TestMessagingDispatcher(t *testing.T) {
	ctx := context.Background()
	payload, ok := BuildPayload(deliveredOrder(), "sms")
	require.True(t, ok)

	t.Run("publishes one message per patient", func(t *testing.T) {
		bus := &stubBus{}
		outcome, err := newBusDispatcher(bus).DispatchDeliveryNotification(ctx, payload)
		require.NoError(t, err)
		require.Equal(t, Outcome{Succeeded: 2}, outcome)
		require.Equal(t, []string{"order-7-CC-1001", "order-7-CC-1002"}, bus.published)
	})

	t.Run("single rejected message is a partial outcome", func(t *testing.T) {
		bus := &stubBus{failFor: map[string]bool{"order-7-CC-1001": true}}
		outcome, err := newBusDispatcher(bus).DispatchDeliveryNotification(ctx, payload)
		require.NoError(t, err)
		require.Equal(t, Outcome{Succeeded: 1, Failed: 1}, outcome)
	})

	t.Run("bus down surfaces an external service error", func(t *testing.T) {
		bus := &stubBus{failAll: true}
		_, err := newBusDispatcher(bus).DispatchDeliveryNotification(ctx, payload)
		require.Error(t, err)
		require.Equal(t, errorbank.KindExternal, errorbank.From(err).Kind())
	})
}
