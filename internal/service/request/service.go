package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/cache"
	"github.com/medisupply/procura/internal/comparator"
	"github.com/medisupply/procura/internal/config"
	"github.com/medisupply/procura/internal/deadline"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/messaging"
	repo "github.com/medisupply/procura/internal/repository/request"
	"github.com/medisupply/procura/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/medisupply/procura/service/request")

// Store is the persistence contract the service needs from the request
// repository.
type Store interface {
	Create(ctx context.Context, req *entity.BudgetRequest) error
	List(ctx context.Context, filter repo.Filter) ([]*entity.BudgetRequest, error)
	GetByID(ctx context.Context, id int64) (*entity.BudgetRequest, error)
	MarkResponded(ctx context.Context, requestID, supplierID int64, respondedAt time.Time, lines []*entity.OfferLine) (entity.RequestStatus, error)
	UpdateStatus(ctx context.Context, id int64, from []entity.RequestStatus, to entity.RequestStatus) error
	Award(ctx context.Context, requestID, supplierID int64, notes string, awardedAt time.Time, orders []*entity.PurchaseOrder) error
}

// Service owns the budget request lifecycle: dispatch, supplier response
// ingestion, offer comparison, urgency triage, and adjudication.
type Service struct {
	repo      Store
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	orders    orderNumbering
	now       func() time.Time
}

type messagingConfig struct {
	enabled bool
	topic   string
}

type orderNumbering struct {
	prefix string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.EventsTopic,
		},
		orders: orderNumbering{prefix: p.Config.Procurement.OrderNumberPrefix},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateItemInput is one audited prescription to include in a request.
type CreateItemInput struct {
	AuditID         int64
	MedicationCode  string
	MedicationName  string
	Quantity        int
	PatientName     string
	PatientDocument string
	PatientContact  string
}

// CreateInput dispatches a new budget request.
type CreateInput struct {
	BatchNumber string
	ExpiresAt   time.Time
	SupplierIDs []int64
	Items       []CreateItemInput
	Notes       string
}

// Create dispatches a request to the contacted suppliers, creating the
// SENT response shell for each of them.
func (s *Service) Create(ctx context.Context, input CreateInput) (*entity.BudgetRequest, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.Create", trace.WithAttributes(attribute.String("request.batch", input.BatchNumber)))
	defer span.End()

	if len(input.SupplierIDs) == 0 {
		return nil, errorbank.BadRequest("at least one supplier is required")
	}
	if len(input.Items) == 0 {
		return nil, errorbank.BadRequest("at least one audited prescription is required")
	}
	now := s.now()
	if !input.ExpiresAt.After(now) {
		return nil, errorbank.BadRequest("expiration must be in the future")
	}
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, errorbank.BadRequest("item quantity must be positive", errorbank.WithDetail("index", i))
		}
		if item.MedicationCode == "" || item.PatientDocument == "" {
			return nil, errorbank.BadRequest("item medication and patient document are required", errorbank.WithDetail("index", i))
		}
	}
	seen := make(map[int64]bool, len(input.SupplierIDs))
	for _, id := range input.SupplierIDs {
		if seen[id] {
			return nil, errorbank.BadRequest("duplicate supplier", errorbank.WithDetail("supplier_id", id))
		}
		seen[id] = true
	}

	req := &entity.BudgetRequest{
		BatchNumber: input.BatchNumber,
		Status:      entity.RequestStatusSent,
		SentAt:      now,
		ExpiresAt:   input.ExpiresAt,
		Notes:       input.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, item := range input.Items {
		req.Items = append(req.Items, &entity.RequestItem{
			AuditID:         item.AuditID,
			MedicationCode:  item.MedicationCode,
			MedicationName:  item.MedicationName,
			Quantity:        item.Quantity,
			PatientName:     item.PatientName,
			PatientDocument: item.PatientDocument,
			PatientContact:  item.PatientContact,
		})
	}
	for _, supplierID := range input.SupplierIDs {
		req.Responses = append(req.Responses, &entity.SupplierResponse{
			SupplierID: supplierID,
			Status:     entity.ResponseStatusSent,
			ExpiresAt:  input.ExpiresAt,
		})
	}

	if err := s.repo.Create(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create budget request", errorbank.WithCause(err))
	}

	s.logger.Info("budget request dispatched",
		zap.Int64("request_id", req.ID),
		zap.Int("suppliers", len(req.Responses)),
		zap.Int("items", len(req.Items)),
	)
	return req, nil
}

// Summary annotates one listed request with its read-time projections.
type Summary struct {
	Request   *entity.BudgetRequest
	Status    entity.RequestStatus
	Urgency   deadline.Urgency
	Responded int
	Expected  int
}

// List returns requests ordered soonest-to-expire first, each annotated
// with the projected status and urgency computed against the current
// clock. Awarded and cancelled requests carry no urgency.
func (s *Service) List(ctx context.Context, filter repo.Filter) ([]Summary, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.List")
	defer span.End()

	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list budget requests", errorbank.WithCause(err))
	}

	now := s.now()
	summaries := make([]Summary, 0, len(requests))
	for _, req := range requests {
		responded := 0
		for _, resp := range req.Responses {
			if resp.Responded() {
				responded++
			}
		}
		summaries = append(summaries, Summary{
			Request:   req,
			Status:    deadline.ProjectStatus(req.Status, req.ExpiresAt, now),
			Urgency:   deadline.ForRequest(req.Status, req.ExpiresAt, now),
			Responded: responded,
			Expected:  len(req.Responses),
		})
	}
	return summaries, nil
}

// GetDetail loads one request with items, responses, and offer lines,
// consulting the cache first.
func (s *Service) GetDetail(ctx context.Context, id int64) (*entity.BudgetRequest, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.GetDetail", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	if req, err := s.getFromCache(ctx, id); err == nil {
		return req, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("request cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("budget request not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load budget request", errorbank.WithCause(err))
	}

	if err := s.storeInCache(ctx, req); err != nil {
		s.logger.Warn("request cache write failed", zap.Int64("id", id), zap.Error(err))
	}
	return req, nil
}

// Compare recomputes the per-line best offer comparison from whatever
// responses have arrived so far.
func (s *Service) Compare(ctx context.Context, id int64) (comparator.Result, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.Compare", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	req, err := s.GetDetail(ctx, id)
	if err != nil {
		return comparator.Result{}, err
	}
	return comparator.Compare(req.Items, req.Responses), nil
}

// OfferLineInput is one accept/reject decision of a responding supplier.
type OfferLineInput struct {
	RequestItemID int64
	Accepts       bool
	Price         *decimal.Decimal
	PickupDate    *time.Time
	ValidUntil    *time.Time
	PickupPlace   string
	Comments      string
}

// RecordResponse ingests one supplier's offers. A supplier responds at
// most once; the request status advances SENT -> PARTIAL -> COMPLETE as
// responses arrive.
func (s *Service) RecordResponse(ctx context.Context, requestID, supplierID int64, lines []OfferLineInput) (*entity.BudgetRequest, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.RecordResponse", trace.WithAttributes(
		attribute.Int64("request.id", requestID),
		attribute.Int64("supplier.id", supplierID),
	))
	defer span.End()

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("budget request not found")
		}
		return nil, errorbank.Internal("failed to load budget request", errorbank.WithCause(err))
	}
	if req.Status.Terminal() {
		return nil, errorbank.Conflict("budget request is closed", errorbank.WithDetail("status", string(req.Status)))
	}

	var target *entity.SupplierResponse
	for _, resp := range req.Responses {
		if resp.SupplierID == supplierID {
			target = resp
			break
		}
	}
	if target == nil {
		return nil, errorbank.NotFound("supplier was not contacted for this request")
	}
	if target.Responded() {
		return nil, errorbank.Conflict("supplier already responded")
	}

	items := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		items[item.ID] = true
	}
	if len(lines) == 0 {
		return nil, errorbank.BadRequest("at least one offer line is required")
	}
	offerLines := make([]*entity.OfferLine, 0, len(lines))
	for i, line := range lines {
		if !items[line.RequestItemID] {
			return nil, errorbank.BadRequest("offer references an unknown request item", errorbank.WithDetail("index", i))
		}
		ol := &entity.OfferLine{
			RequestItemID: line.RequestItemID,
			Accepts:       line.Accepts,
			PickupDate:    line.PickupDate,
			ValidUntil:    line.ValidUntil,
			PickupPlace:   line.PickupPlace,
			Comments:      line.Comments,
		}
		if line.Accepts {
			if line.Price == nil || line.Price.Sign() <= 0 {
				return nil, errorbank.BadRequest("accepted offer requires a positive price", errorbank.WithDetail("index", i))
			}
			ol.Price = decimal.NewNullDecimal(*line.Price)
		}
		offerLines = append(offerLines, ol)
	}

	// The repository derives the PARTIAL/COMPLETE progression from the
	// persisted response rows inside the write transaction; the snapshot
	// read above is for validation only and may already be stale.
	now := s.now()
	newStatus, err := s.repo.MarkResponded(ctx, requestID, supplierID, now, offerLines)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrAlreadyResponded):
			return nil, errorbank.Conflict("supplier already responded")
		case errors.Is(err, repo.ErrStatusConflict):
			return nil, errorbank.Conflict("budget request is closed")
		case errors.Is(err, repo.ErrNotFound):
			return nil, errorbank.NotFound("supplier response not found")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "repository error")
			return nil, errorbank.Internal("failed to record supplier response", errorbank.WithCause(err))
		}
	}

	s.invalidateCache(ctx, requestID)
	s.logger.Info("supplier response recorded",
		zap.Int64("request_id", requestID),
		zap.Int64("supplier_id", supplierID),
		zap.String("status", string(newStatus)),
	)
	return s.GetDetail(ctx, requestID)
}

// AwardResult reports what an adjudication created.
type AwardResult struct {
	RequestID     int64
	SupplierID    int64
	OrdersCreated int
	TotalAmount   decimal.Decimal
}

// Award binds the whole request to one winning supplier and creates DRAFT
// purchase orders from that supplier's accepted offer lines, one order per
// patient. The commit is all-or-nothing; a concurrent award observes a
// conflict instead of duplicating orders.
func (s *Service) Award(ctx context.Context, requestID, supplierID int64, notes string) (AwardResult, error) {
	ctx, span := serviceTracer.Start(ctx, "RequestService.Award", trace.WithAttributes(
		attribute.Int64("request.id", requestID),
		attribute.Int64("supplier.id", supplierID),
	))
	defer span.End()

	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AwardResult{}, errorbank.NotFound("budget request not found")
		}
		return AwardResult{}, errorbank.Internal("failed to load budget request", errorbank.WithCause(err))
	}

	if req.Status.Terminal() {
		return AwardResult{}, errorbank.Conflict("budget request already closed", errorbank.WithDetail("status", string(req.Status)))
	}
	awardable := false
	for _, status := range entity.AwardableStatuses() {
		if req.Status == status {
			awardable = true
			break
		}
	}
	if !awardable {
		return AwardResult{}, errorbank.Conflict("budget request has no recorded responses yet", errorbank.WithDetail("status", string(req.Status)))
	}

	accepted := comparator.AcceptedLinesFor(supplierID, req.Responses)
	if len(accepted) == 0 {
		return AwardResult{}, errorbank.BadRequest("supplier has no accepting offers for this request")
	}

	now := s.now()
	orders := s.buildOrders(req, supplierID, accepted, now)

	if err := s.repo.Award(ctx, requestID, supplierID, notes, now, orders); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return AwardResult{}, errorbank.Conflict("budget request was awarded or cancelled concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "award tx failed")
		return AwardResult{}, errorbank.Internal("failed to commit award", errorbank.WithCause(err))
	}

	result := AwardResult{
		RequestID:     requestID,
		SupplierID:    supplierID,
		OrdersCreated: len(orders),
	}
	for _, order := range orders {
		result.TotalAmount = result.TotalAmount.Add(order.Total)
	}

	s.invalidateCache(ctx, requestID)
	s.publishAwarded(ctx, result, now)
	s.logger.Info("budget request awarded",
		zap.Int64("request_id", requestID),
		zap.Int64("supplier_id", supplierID),
		zap.Int("orders_created", result.OrdersCreated),
		zap.String("total_amount", result.TotalAmount.String()),
	)
	return result, nil
}

// buildOrders groups the supplier's accepted lines by owning patient and
// produces one DRAFT order per patient with a seeded history entry.
func (s *Service) buildOrders(req *entity.BudgetRequest, supplierID int64, accepted map[int64]*entity.OfferLine, now time.Time) []*entity.PurchaseOrder {
	itemsByID := make(map[int64]*entity.RequestItem, len(req.Items))
	for _, item := range req.Items {
		itemsByID[item.ID] = item
	}

	byPatient := make(map[string][]*entity.RequestItem)
	for itemID := range accepted {
		item := itemsByID[itemID]
		if item == nil {
			continue
		}
		byPatient[item.PatientDocument] = append(byPatient[item.PatientDocument], item)
	}

	documents := make([]string, 0, len(byPatient))
	for doc := range byPatient {
		documents = append(documents, doc)
	}
	sort.Strings(documents)

	orders := make([]*entity.PurchaseOrder, 0, len(documents))
	for _, doc := range documents {
		items := byPatient[doc]
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

		order := &entity.PurchaseOrder{
			Number:     s.nextOrderNumber(),
			Status:     entity.OrderStatusDraft,
			RequestID:  req.ID,
			SupplierID: supplierID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		order.Patients = append(order.Patients, &entity.OrderPatient{
			Name:     items[0].PatientName,
			Document: items[0].PatientDocument,
			Contact:  items[0].PatientContact,
		})
		for _, item := range items {
			offer := accepted[item.ID]
			lineTotal := offer.Price.Decimal.Mul(decimal.NewFromInt(int64(item.Quantity)))
			order.Lines = append(order.Lines, &entity.OrderLine{
				RequestItemID:   item.ID,
				MedicationCode:  item.MedicationCode,
				MedicationName:  item.MedicationName,
				Quantity:        item.Quantity,
				UnitPrice:       offer.Price.Decimal,
				LineTotal:       lineTotal,
				PatientDocument: item.PatientDocument,
			})
			order.Subtotal = order.Subtotal.Add(lineTotal)
		}
		order.Total = order.Subtotal.Sub(order.Discount)
		order.History = append(order.History, &entity.OrderHistoryEntry{
			Status:      entity.OrderStatusDraft,
			Description: fmt.Sprintf("order created from award of request %s", req.BatchNumber),
			Actor:       "system",
			CreatedAt:   now,
		})
		orders = append(orders, order)
	}
	return orders
}

func (s *Service) nextOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("%s-%s", s.orders.prefix, suffix)
}

// SetStatus is the manual override, e.g. forcing a cancellation. The
// transition table is authoritative; anything it disallows is a conflict.
func (s *Service) SetStatus(ctx context.Context, id int64, to entity.RequestStatus) error {
	ctx, span := serviceTracer.Start(ctx, "RequestService.SetStatus", trace.WithAttributes(
		attribute.Int64("request.id", id),
		attribute.String("request.status", string(to)),
	))
	defer span.End()

	if !to.Valid() {
		return errorbank.BadRequest("unknown request status", errorbank.WithDetail("status", string(to)))
	}

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errorbank.NotFound("budget request not found")
		}
		return errorbank.Internal("failed to load budget request", errorbank.WithCause(err))
	}
	if !entity.CanRequestTransition(req.Status, to) {
		return errorbank.Conflict("disallowed request transition",
			errorbank.WithDetail("from", string(req.Status)),
			errorbank.WithDetail("to", string(to)),
		)
	}

	if err := s.repo.UpdateStatus(ctx, id, []entity.RequestStatus{req.Status}, to); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			return errorbank.Conflict("budget request changed concurrently")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errorbank.Internal("failed to update request status", errorbank.WithCause(err))
	}

	s.invalidateCache(ctx, id)
	return nil
}

// RequestAwardedEvent is emitted when an adjudication commits.
type RequestAwardedEvent struct {
	Type          string          `json:"type"`
	RequestID     int64           `json:"request_id"`
	SupplierID    int64           `json:"supplier_id"`
	OrdersCreated int             `json:"orders_created"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AwardedAt     time.Time       `json:"awarded_at"`
}

// EventTypeRequestAwarded tags RequestAwardedEvent on the bus.
const EventTypeRequestAwarded = "request.awarded"

func (s *Service) publishAwarded(ctx context.Context, result AwardResult, at time.Time) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := RequestAwardedEvent{
		Type:          EventTypeRequestAwarded,
		RequestID:     result.RequestID,
		SupplierID:    result.SupplierID,
		OrdersCreated: result.OrdersCreated,
		TotalAmount:   result.TotalAmount,
		AwardedAt:     at,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal request awarded", zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("request-%d", result.RequestID))
	if err := s.publisher.Publish(ctx, s.messaging.topic, key, payload); err != nil {
		s.logger.Error("publish request awarded", zap.Error(err))
	}
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("requests:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.BudgetRequest, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var req entity.BudgetRequest
	if err := json.Unmarshal(bytes, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Service) storeInCache(ctx context.Context, req *entity.BudgetRequest) error {
	if s.cache == nil || req == nil {
		return nil
	}
	bytes, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(req.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidateCache(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("request cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}
