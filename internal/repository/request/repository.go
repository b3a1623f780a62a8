package request

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

var repoTracer = otel.Tracer("github.com/medisupply/procura/repository/request")

// ErrNotFound is returned when a budget request is missing.
var ErrNotFound = errors.New("budget request not found")

// ErrStatusConflict is returned when a compare-and-swap on the request
// status matched no row, i.e. the request moved concurrently or was
// already in a disallowed state.
var ErrStatusConflict = errors.New("budget request status conflict")

// ErrAlreadyResponded is returned when a supplier response was already
// recorded for the request.
var ErrAlreadyResponded = errors.New("supplier already responded")

// Filter narrows request listings.
type Filter struct {
	Statuses       []entity.RequestStatus
	ExpiringBefore time.Time
}

// Repository encapsulates read/write access for budget requests and the
// supplier responses hanging off them.
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

// Create persists a request together with its items and the SENT response
// shells for every contacted supplier, atomically.
func (r *Repository) Create(ctx context.Context, req *entity.BudgetRequest) error {
	if req == nil {
		return errors.New("nil request")
	}
	ctx, span := repoTracer.Start(ctx, "RequestRepository.Create", trace.WithAttributes(attribute.String("request.batch", req.BatchNumber)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(req).Exec(ctx); err != nil {
			return err
		}
		for _, item := range req.Items {
			item.RequestID = req.ID
		}
		if len(req.Items) > 0 {
			if _, err := tx.NewInsert().Model(&req.Items).Exec(ctx); err != nil {
				return err
			}
		}
		for _, resp := range req.Responses {
			resp.RequestID = req.ID
		}
		if len(req.Responses) > 0 {
			if _, err := tx.NewInsert().Model(&req.Responses).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// List returns requests matching the filter, soonest to expire first, with
// items and responses loaded so urgency and completeness can be projected.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*entity.BudgetRequest, error) {
	ctx, span := repoTracer.Start(ctx, "RequestRepository.List")
	defer span.End()

	var requests []*entity.BudgetRequest
	q := r.reader.NewSelect().Model(&requests).
		Relation("Items").
		Relation("Responses").
		Relation("Responses.Lines").
		Order("expires_at ASC")
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(filter.Statuses))
	}
	if !filter.ExpiringBefore.IsZero() {
		q = q.Where("expires_at < ?", filter.ExpiringBefore)
	}
	if err := q.Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return requests, nil
}

// GetByID fetches a request with its items, responses, and offer lines.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.BudgetRequest, error) {
	ctx, span := repoTracer.Start(ctx, "RequestRepository.GetByID", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	req := new(entity.BudgetRequest)
	err := r.reader.NewSelect().Model(req).
		Relation("Items").
		Relation("Responses").
		Relation("Responses.Lines").
		Where("br.id = ?", id).
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
	return req, nil
}

// MarkResponded records one supplier's offers: the response row flips from
// SENT to RESPONDED exactly once, its lines are inserted, and the request
// status is re-derived from the persisted response rows, all in one
// transaction. The request row is locked first so concurrent responders
// serialize; each committed response sees every earlier one, and the
// PARTIAL -> COMPLETE progression never reverses. The derived status is
// returned to the caller.
func (r *Repository) MarkResponded(ctx context.Context, requestID, supplierID int64, respondedAt time.Time, lines []*entity.OfferLine) (entity.RequestStatus, error) {
	ctx, span := repoTracer.Start(ctx, "RequestRepository.MarkResponded", trace.WithAttributes(
		attribute.Int64("request.id", requestID),
		attribute.Int64("supplier.id", supplierID),
	))
	defer span.End()

	var newStatus entity.RequestStatus
	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		req := new(entity.BudgetRequest)
		err := tx.NewSelect().Model(req).
			Column("br.id", "br.status").
			Where("br.id = ?", requestID).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return ErrStatusConflict
		}

		resp := new(entity.SupplierResponse)
		err = tx.NewSelect().Model(resp).
			Where("request_id = ? AND supplier_id = ?", requestID, supplierID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		res, err := tx.NewUpdate().Model((*entity.SupplierResponse)(nil)).
			Set("status = ?", entity.ResponseStatusResponded).
			Set("responded_at = ?", respondedAt).
			Where("id = ? AND status = ?", resp.ID, entity.ResponseStatusSent).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrAlreadyResponded
		}

		for _, line := range lines {
			line.ResponseID = resp.ID
		}
		if len(lines) > 0 {
			if _, err := tx.NewInsert().Model(&lines).Exec(ctx); err != nil {
				return err
			}
		}

		total, err := tx.NewSelect().Model((*entity.SupplierResponse)(nil)).
			Where("request_id = ?", requestID).
			Count(ctx)
		if err != nil {
			return err
		}
		responded, err := tx.NewSelect().Model((*entity.SupplierResponse)(nil)).
			Where("request_id = ? AND status = ?", requestID, entity.ResponseStatusResponded).
			Count(ctx)
		if err != nil {
			return err
		}

		newStatus = entity.RequestStatusPartial
		if total > 0 && responded == total {
			newStatus = entity.RequestStatusComplete
		}

		_, err = tx.NewUpdate().Model((*entity.BudgetRequest)(nil)).
			Set("status = ?", newStatus).
			Set("updated_at = ?", respondedAt).
			Where("id = ?", requestID).
			Exec(ctx)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyResponded) && !errors.Is(err, ErrStatusConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tx failed")
		}
		return "", err
	}
	return newStatus, nil
}

// UpdateStatus performs a compare-and-swap of the request status. It
// returns ErrStatusConflict when no row in one of the expected statuses
// matched.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from []entity.RequestStatus, to entity.RequestStatus) error {
	ctx, span := repoTracer.Start(ctx, "RequestRepository.UpdateStatus", trace.WithAttributes(
		attribute.Int64("request.id", id),
		attribute.String("request.status", string(to)),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.BudgetRequest)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ? AND status IN (?)", id, bun.In(from)).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Award commits the adjudication in a single transaction: the request
// status moves to AWARDED via compare-and-swap, and the purchase orders
// derived from the winning supplier's accepted offers are inserted with
// their patients, lines, and seeded history. Either everything commits or
// nothing does; a concurrent award loses the swap and gets
// ErrStatusConflict.
func (r *Repository) Award(ctx context.Context, requestID, supplierID int64, notes string, awardedAt time.Time, orders []*entity.PurchaseOrder) error {
	ctx, span := repoTracer.Start(ctx, "RequestRepository.Award", trace.WithAttributes(
		attribute.Int64("request.id", requestID),
		attribute.Int64("supplier.id", supplierID),
		attribute.Int("orders", len(orders)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().Model((*entity.BudgetRequest)(nil)).
			Set("status = ?", entity.RequestStatusAwarded).
			Set("awarded_supplier_id = ?", supplierID).
			Set("updated_at = ?", awardedAt).
			Where("id = ? AND status IN (?)", requestID, bun.In(entity.AwardableStatuses()))
		if notes != "" {
			q = q.Set("notes = ?", notes)
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrStatusConflict
		}

		for _, order := range orders {
			if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
				return err
			}
			for _, p := range order.Patients {
				p.OrderID = order.ID
			}
			if len(order.Patients) > 0 {
				if _, err := tx.NewInsert().Model(&order.Patients).Exec(ctx); err != nil {
					return err
				}
			}
			for _, l := range order.Lines {
				l.OrderID = order.ID
			}
			if len(order.Lines) > 0 {
				if _, err := tx.NewInsert().Model(&order.Lines).Exec(ctx); err != nil {
					return err
				}
			}
			for _, h := range order.History {
				h.OrderID = order.ID
			}
			if len(order.History) > 0 {
				if _, err := tx.NewInsert().Model(&order.History).Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStatusConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "award tx failed")
	}
	return err
}
