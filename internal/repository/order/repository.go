package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medisupply/procura/internal/database"
	"github.com/medisupply/procura/internal/entity"
)

var repoTracer = otel.Tracer("github.com/medisupply/procura/repository/order")

// ErrNotFound is returned when a purchase order is missing.
var ErrNotFound = errors.New("purchase order not found")

// ErrStatusConflict is returned when a compare-and-swap on the order
// status matched no row: the order moved concurrently or is not in the
// expected state.
var ErrStatusConflict = errors.New("purchase order status conflict")

// Filter narrows order listings.
type Filter struct {
	Status    entity.OrderStatus
	RequestID int64
}

// Repository encapsulates read/write access for purchase orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// List returns orders matching the filter, newest first, with lines and
// patients loaded.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*entity.PurchaseOrder, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	var orders []*entity.PurchaseOrder
	q := r.reader.NewSelect().Model(&orders).
		Relation("Patients").
		Relation("Lines").
		Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RequestID != 0 {
		q = q.Where("request_id = ?", filter.RequestID)
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// GetByID fetches an order with patients, lines, and its full history in
// chronological order.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.PurchaseOrder)
	err := r.reader.NewSelect().Model(order).
		Relation("Patients").
		Relation("Lines").
		Relation("History", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("created_at ASC").Order("id ASC")
		}).
		Where("po.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Transition moves an order between statuses via compare-and-swap and
// appends the history entry in the same transaction. History rows are only
// ever inserted, never rewritten.
func (r *Repository) Transition(ctx context.Context, orderID int64, from, to entity.OrderStatus, entry *entity.OrderHistoryEntry) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Transition", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.from", string(from)),
		attribute.String("order.to", string(to)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.PurchaseOrder)(nil)).
			Set("status = ?", to).
			Set("updated_at = ?", entry.CreatedAt).
			Where("id = ? AND status = ?", orderID, from).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrStatusConflict
		}
		entry.OrderID = orderID
		_, err = tx.NewInsert().Model(entry).Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition tx failed")
	}
	return err
}

// ConfirmDelivery flips a SHIPPED order to DELIVERED exactly once,
// recording delivery metadata and the history entry atomically.
func (r *Repository) ConfirmDelivery(ctx context.Context, orderID int64, deliveredAt time.Time, receivedBy string, entry *entity.OrderHistoryEntry) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ConfirmDelivery", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.PurchaseOrder)(nil)).
			Set("status = ?", entity.OrderStatusDelivered).
			Set("delivered_at = ?", deliveredAt).
			Set("received_by = ?", receivedBy).
			Set("updated_at = ?", deliveredAt).
			Where("id = ? AND status = ?", orderID, entity.OrderStatusShipped).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrStatusConflict
		}
		entry.OrderID = orderID
		_, err = tx.NewInsert().Model(entry).Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery tx failed")
	}
	return err
}

// RecordNotification persists the outcome of a notification dispatch on
// the owning order. Notified is true only when no patient failed.
func (r *Repository) RecordNotification(ctx context.Context, orderID int64, succeeded, failed int, at time.Time) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.RecordNotification", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int("notify.succeeded", succeeded),
		attribute.Int("notify.failed", failed),
	))
	defer span.End()

	_, err := r.writer.NewUpdate().Model((*entity.PurchaseOrder)(nil)).
		Set("notified = ?", failed == 0).
		Set("notify_succeeded = ?", succeeded).
		Set("notify_failed = ?", failed).
		Set("notified_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", orderID).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}
