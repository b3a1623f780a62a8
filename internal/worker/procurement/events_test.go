package procurement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/messaging"
)

type stubClient struct {
	eventsTopic string
}

func (s stubClient) Publish(context.Context, string, []byte, []byte) error { return nil }
func (s stubClient) Consume(ctx context.Context, handler messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (s stubClient) EventsTopic() string { return s.eventsTopic }

func TestNewEventsHandler(t *testing.T) {
	ctx := context.Background()
	reg := NewEventsHandler(zap.NewNop(), stubClient{eventsTopic: "procurement.events"})

	t.Run("registers on the client events topic", func(t *testing.T) {
		require.Equal(t, "procurement.events", reg.Topic)
	})

	t.Run("processes awarded events", func(t *testing.T) {
		value := []byte(`{"type":"request.awarded","request_id":1,"supplier_id":100,"orders_created":2,"total_amount":"335.00"}`)
		err := reg.Handler(ctx, messaging.Message{Topic: reg.Topic, Value: value})
		require.NoError(t, err)
	})

	t.Run("processes order status events", func(t *testing.T) {
		value := []byte(`{"type":"order.status_changed","order_id":7,"number":"OC-AB12CD34EF","from":"DRAFT","to":"SENT","actor":"system"}`)
		err := reg.Handler(ctx, messaging.Message{Topic: reg.Topic, Value: value})
		require.NoError(t, err)
	})

	t.Run("unknown event types are acknowledged", func(t *testing.T) {
		err := reg.Handler(ctx, messaging.Message{Topic: reg.Topic, Value: []byte(`{"type":"supplier.enrolled"}`)})
		require.NoError(t, err)
	})

	t.Run("malformed payloads are retried", func(t *testing.T) {
		err := reg.Handler(ctx, messaging.Message{Topic: reg.Topic, Value: []byte(`{not json`)})
		require.Error(t, err)
	})
}
