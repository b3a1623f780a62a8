package request

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medisupply/procura/internal/entity"
	repo "github.com/medisupply/procura/internal/repository/request"
	"github.com/medisupply/procura/pkg/errorbank"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, req *entity.BudgetRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockStore) List(ctx context.Context, filter repo.Filter) ([]*entity.BudgetRequest, error) {
	args := m.Called(ctx, filter)
	if reqs := args.Get(0); reqs != nil {
		return reqs.([]*entity.BudgetRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetByID(ctx context.Context, id int64) (*entity.BudgetRequest, error) {
	args := m.Called(ctx, id)
	if req := args.Get(0); req != nil {
		return req.(*entity.BudgetRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) MarkResponded(ctx context.Context, requestID, supplierID int64, respondedAt time.Time, lines []*entity.OfferLine) (entity.RequestStatus, error) {
	args := m.Called(ctx, requestID, supplierID, respondedAt, lines)
	return args.Get(0).(entity.RequestStatus), args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, id int64, from []entity.RequestStatus, to entity.RequestStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *mockStore) Award(ctx context.Context, requestID, supplierID int64, notes string, awardedAt time.Time, orders []*entity.PurchaseOrder) error {
	args := m.Called(ctx, requestID, supplierID, notes, awardedAt, orders)
	return args.Error(0)
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(store Store) *Service {
	return &Service{
		repo:   store,
		logger: zap.NewNop(),
		orders: orderNumbering{prefix: "OC"},
		now:    func() time.Time { return testNow },
	}
}

func requireKind(t *testing.T, err error, kind errorbank.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, errorbank.From(err).Kind())
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func validCreateInput() CreateInput {
	return CreateInput{
		BatchNumber: "LOTE-2025-031",
		ExpiresAt:   testNow.Add(72 * time.Hour),
		SupplierIDs: []int64{100, 200},
		Items: []CreateItemInput{
			{AuditID: 1, MedicationCode: "ACET-500", MedicationName: "Acetaminofen 500mg", Quantity: 2, PatientName: "Maria Lopez", PatientDocument: "CC-1001"},
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch creates a SENT shell per supplier", func(t *testing.T) {
		store := &mockStore{}
		store.On("Create", mock.Anything, mock.MatchedBy(func(req *entity.BudgetRequest) bool {
			if req.Status != entity.RequestStatusSent || len(req.Responses) != 2 {
				return false
			}
			for _, resp := range req.Responses {
				if resp.Status != entity.ResponseStatusSent || !resp.ExpiresAt.Equal(req.ExpiresAt) {
					return false
				}
			}
			return true
		})).Return(nil)

		svc := newTestService(store)
		req, err := svc.Create(ctx, validCreateInput())
		require.NoError(t, err)
		require.Equal(t, entity.RequestStatusSent, req.Status)
		require.Equal(t, testNow, req.SentAt)
		store.AssertExpectations(t)
	})

	t.Run("validation", func(t *testing.T) {
		svc := newTestService(&mockStore{})

		noSuppliers := validCreateInput()
		noSuppliers.SupplierIDs = nil
		_, err := svc.Create(ctx, noSuppliers)
		requireKind(t, err, errorbank.KindBadRequest)

		noItems := validCreateInput()
		noItems.Items = nil
		_, err = svc.Create(ctx, noItems)
		requireKind(t, err, errorbank.KindBadRequest)

		pastExpiry := validCreateInput()
		pastExpiry.ExpiresAt = testNow.Add(-time.Hour)
		_, err = svc.Create(ctx, pastExpiry)
		requireKind(t, err, errorbank.KindBadRequest)

		badQty := validCreateInput()
		badQty.Items[0].Quantity = 0
		_, err = svc.Create(ctx, badQty)
		requireKind(t, err, errorbank.KindBadRequest)

		dupSupplier := validCreateInput()
		dupSupplier.SupplierIDs = []int64{100, 100}
		_, err = svc.Create(ctx, dupSupplier)
		requireKind(t, err, errorbank.KindBadRequest)
	})
}

func openRequest() *entity.BudgetRequest {
	return &entity.BudgetRequest{
		ID:          1,
		BatchNumber: "LOTE-2025-031",
		Status:      entity.RequestStatusSent,
		SentAt:      testNow.Add(-24 * time.Hour),
		ExpiresAt:   testNow.Add(48 * time.Hour),
		Items: []*entity.RequestItem{
			{ID: 11, AuditID: 1, MedicationCode: "ACET-500", MedicationName: "Acetaminofen 500mg", Quantity: 2, PatientName: "Maria Lopez", PatientDocument: "CC-1001", PatientContact: "+57 300 555 0001"},
			{ID: 12, AuditID: 2, MedicationCode: "IBUP-400", MedicationName: "Ibuprofeno 400mg", Quantity: 3, PatientName: "Jorge Diaz", PatientDocument: "CC-1002", PatientContact: "+57 300 555 0002"},
		},
		Responses: []*entity.SupplierResponse{
			{ID: 21, RequestID: 1, SupplierID: 100, Status: entity.ResponseStatusSent, ExpiresAt: testNow.Add(48 * time.Hour)},
			{ID: 22, RequestID: 1, SupplierID: 200, Status: entity.ResponseStatusSent, ExpiresAt: testNow.Add(48 * time.Hour)},
		},
	}
}

func TestRecordResponse(t *testing.T) {
	ctx := context.Background()
	lines := []OfferLineInput{
		{RequestItemID: 11, Accepts: true, Price: price("95.50")},
		{RequestItemID: 12, Accepts: false},
	}

	t.Run("offer lines are persisted in one store call", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)
		store.On("MarkResponded", mock.Anything, int64(1), int64(100), testNow, mock.MatchedBy(func(ol []*entity.OfferLine) bool {
			return len(ol) == 2 && ol[0].Accepts && !ol[1].Accepts
		})).Return(entity.RequestStatusPartial, nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, lines)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("request status comes from the store, not the read snapshot", func(t *testing.T) {
		// The snapshot shows no prior responses, but another supplier may
		// commit between the read and the write. The store derives the
		// status transactionally and the service must take its word for it.
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)
		store.On("MarkResponded", mock.Anything, int64(1), int64(100), testNow, mock.Anything).Return(entity.RequestStatusComplete, nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, lines)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("request closed concurrently is a conflict", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)
		store.On("MarkResponded", mock.Anything, int64(1), int64(100), testNow, mock.Anything).Return(entity.RequestStatus(""), repo.ErrStatusConflict)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, lines)
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("closed requests reject late responses", func(t *testing.T) {
		req := openRequest()
		req.Status = entity.RequestStatusAwarded

		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, lines)
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("uncontacted supplier is not found", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 999, lines)
		requireKind(t, err, errorbank.KindNotFound)
	})

	t.Run("a supplier responds at most once", func(t *testing.T) {
		req := openRequest()
		at := testNow.Add(-time.Hour)
		req.Responses[0].Status = entity.ResponseStatusResponded
		req.Responses[0].RespondedAt = &at

		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, lines)
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("accepted lines require a positive price", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, []OfferLineInput{{RequestItemID: 11, Accepts: true}})
		requireKind(t, err, errorbank.KindBadRequest)

		_, err = svc.RecordResponse(ctx, 1, 100, []OfferLineInput{{RequestItemID: 11, Accepts: true, Price: price("-5")}})
		requireKind(t, err, errorbank.KindBadRequest)
	})

	t.Run("offer must reference a known item", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)

		svc := newTestService(store)
		_, err := svc.RecordResponse(ctx, 1, 100, []OfferLineInput{{RequestItemID: 999, Accepts: false}})
		requireKind(t, err, errorbank.KindBadRequest)
	})
}

func respondedRequest() *entity.BudgetRequest {
	req := openRequest()
	req.Status = entity.RequestStatusComplete
	at1 := testNow.Add(-2 * time.Hour)
	at2 := testNow.Add(-time.Hour)
	req.Responses[0].Status = entity.ResponseStatusResponded
	req.Responses[0].RespondedAt = &at1
	req.Responses[0].Lines = []*entity.OfferLine{
		{ID: 31, ResponseID: 21, RequestItemID: 11, Accepts: true, Price: decimal.NewNullDecimal(decimal.RequireFromString("95.50"))},
		{ID: 32, ResponseID: 21, RequestItemID: 12, Accepts: true, Price: decimal.NewNullDecimal(decimal.RequireFromString("48.00"))},
	}
	req.Responses[1].Status = entity.ResponseStatusResponded
	req.Responses[1].RespondedAt = &at2
	req.Responses[1].Lines = []*entity.OfferLine{
		{ID: 33, ResponseID: 22, RequestItemID: 11, Accepts: false},
		{ID: 34, ResponseID: 22, RequestItemID: 12, Accepts: true, Price: decimal.NewNullDecimal(decimal.RequireFromString("44.00"))},
	}
	return req
}

func TestAward(t *testing.T) {
	ctx := context.Background()

	t.Run("creates one draft order per patient", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(respondedRequest(), nil)
		store.On("Award", mock.Anything, int64(1), int64(100), "best combined price", testNow,
			mock.MatchedBy(func(orders []*entity.PurchaseOrder) bool {
				if len(orders) != 2 {
					return false
				}
				// patients sorted by document
				first, second := orders[0], orders[1]
				return first.Patients[0].Document == "CC-1001" &&
					second.Patients[0].Document == "CC-1002" &&
					first.Status == entity.OrderStatusDraft &&
					len(first.History) == 1 &&
					first.Total.Equal(decimal.RequireFromString("191.00")) &&
					second.Total.Equal(decimal.RequireFromString("144.00"))
			})).Return(nil)

		svc := newTestService(store)
		result, err := svc.Award(ctx, 1, 100, "best combined price")
		require.NoError(t, err)
		require.Equal(t, 2, result.OrdersCreated)
		require.True(t, result.TotalAmount.Equal(decimal.RequireFromString("335.00")))
		store.AssertExpectations(t)
	})

	t.Run("supplier with only rejections cannot win", func(t *testing.T) {
		req := respondedRequest()
		req.Responses[1].Lines = []*entity.OfferLine{
			{ID: 33, ResponseID: 22, RequestItemID: 11, Accepts: false},
			{ID: 34, ResponseID: 22, RequestItemID: 12, Accepts: false},
		}
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)

		svc := newTestService(store)
		_, err := svc.Award(ctx, 1, 200, "")
		requireKind(t, err, errorbank.KindBadRequest)
	})

	t.Run("award requires at least one response", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(openRequest(), nil)

		svc := newTestService(store)
		_, err := svc.Award(ctx, 1, 100, "")
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("awarding twice conflicts", func(t *testing.T) {
		req := respondedRequest()
		winner := int64(100)
		req.Status = entity.RequestStatusAwarded
		req.AwardedSupplierID = &winner

		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)

		svc := newTestService(store)
		_, err := svc.Award(ctx, 1, 200, "")
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("concurrent award observes a conflict", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(respondedRequest(), nil)
		store.On("Award", mock.Anything, int64(1), int64(100), "", testNow, mock.Anything).Return(repo.ErrStatusConflict)

		svc := newTestService(store)
		_, err := svc.Award(ctx, 1, 100, "")
		requireKind(t, err, errorbank.KindConflict)
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("transition table is authoritative", func(t *testing.T) {
		req := openRequest()
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)

		svc := newTestService(store)
		err := svc.SetStatus(ctx, 1, entity.RequestStatusAwarded)
		requireKind(t, err, errorbank.KindConflict)
	})

	t.Run("manual cancellation", func(t *testing.T) {
		req := openRequest()
		store := &mockStore{}
		store.On("GetByID", mock.Anything, int64(1)).Return(req, nil)
		store.On("UpdateStatus", mock.Anything, int64(1), []entity.RequestStatus{entity.RequestStatusSent}, entity.RequestStatusCancelled).Return(nil)

		svc := newTestService(store)
		require.NoError(t, svc.SetStatus(ctx, 1, entity.RequestStatusCancelled))
		store.AssertExpectations(t)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		svc := newTestService(&mockStore{})
		err := svc.SetStatus(ctx, 1, entity.RequestStatus("BOGUS"))
		requireKind(t, err, errorbank.KindBadRequest)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("annotates urgency and responded counts", func(t *testing.T) {
		urgent := openRequest()
		urgent.ExpiresAt = testNow.Add(6 * time.Hour)
		at := testNow.Add(-time.Hour)
		urgent.Responses[0].Status = entity.ResponseStatusResponded
		urgent.Responses[0].RespondedAt = &at

		awarded := openRequest()
		awarded.ID = 2
		awarded.Status = entity.RequestStatusAwarded
		awarded.ExpiresAt = testNow.Add(-time.Hour)

		store := &mockStore{}
		store.On("List", mock.Anything, repo.Filter{}).Return([]*entity.BudgetRequest{urgent, awarded}, nil)

		svc := newTestService(store)
		summaries, err := svc.List(ctx, repo.Filter{})
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		require.Equal(t, 1, summaries[0].Responded)
		require.Equal(t, 2, summaries[0].Expected)
		require.EqualValues(t, "URGENT", summaries[0].Urgency)

		// awarded requests never read expired or urgent
		require.Equal(t, entity.RequestStatusAwarded, summaries[1].Status)
		require.EqualValues(t, "", summaries[1].Urgency)
	})

	t.Run("expired projection on open requests", func(t *testing.T) {
		stale := openRequest()
		stale.Status = entity.RequestStatusPartial
		stale.ExpiresAt = testNow.Add(-time.Minute)

		store := &mockStore{}
		store.On("List", mock.Anything, repo.Filter{}).Return([]*entity.BudgetRequest{stale}, nil)

		svc := newTestService(store)
		summaries, err := svc.List(ctx, repo.Filter{})
		require.NoError(t, err)
		require.Equal(t, entity.RequestStatusExpired, summaries[0].Status)
	})
}

func TestNextOrderNumber(t *testing.T) {
	svc := newTestService(&mockStore{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		n := svc.nextOrderNumber()
		require.Regexp(t, `^OC-[0-9A-F]{10}$`, n)
		require.False(t, seen[n], "order numbers must not repeat")
		seen[n] = true
	}
}
