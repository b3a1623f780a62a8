package request

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/medisupply/procura/internal/comparator"
	"github.com/medisupply/procura/internal/dto"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/presentation/http/response"
	repo "github.com/medisupply/procura/internal/repository/request"
	service "github.com/medisupply/procura/internal/service/request"
	"github.com/medisupply/procura/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/medisupply/procura/transport/http/request")

// Handler exposes budget request endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a request Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/budget-requests")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.GET("/:id/comparison", h.comparison)
	g.POST("/:id/award", h.award)
	g.PATCH("/:id/status", h.setStatus)
	g.POST("/:id/responses/:supplierID", h.recordResponse)
}

type createItemPayload struct {
	AuditID         int64  `json:"audit_id"`
	MedicationCode  string `json:"medication_code"`
	MedicationName  string `json:"medication_name"`
	Quantity        int    `json:"quantity"`
	PatientName     string `json:"patient_name"`
	PatientDocument string `json:"patient_document"`
	PatientContact  string `json:"patient_contact"`
}

type createPayload struct {
	BatchNumber string              `json:"batch_number"`
	ExpiresAt   time.Time           `json:"expires_at"`
	SupplierIDs []int64             `json:"supplier_ids"`
	Items       []createItemPayload `json:"items"`
	Notes       string              `json:"notes"`
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload createPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.BatchNumber == "" {
		return b.WithError(errorbank.BadRequest("batch_number is required")).Build()
	}

	input := service.CreateInput{
		BatchNumber: payload.BatchNumber,
		ExpiresAt:   payload.ExpiresAt,
		SupplierIDs: payload.SupplierIDs,
		Notes:       payload.Notes,
	}
	for _, item := range payload.Items {
		input.Items = append(input.Items, service.CreateItemInput(item))
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.create", trace.WithAttributes(
		attribute.String("request.batch", payload.BatchNumber),
	))
	defer span.End()

	req, err := h.svc.Create(ctx, input)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(toDetail(req)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	var filter repo.Filter
	if status := c.QueryParam("status"); status != "" {
		s := entity.RequestStatus(status)
		if !s.Valid() {
			return b.WithError(errorbank.BadRequest("unknown status filter")).Build()
		}
		filter.Statuses = []entity.RequestStatus{s}
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.list")
	defer span.End()

	summaries, err := h.svc.List(ctx, filter)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.RequestSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, dto.RequestSummary{
			ID:          s.Request.ID,
			BatchNumber: s.Request.BatchNumber,
			Status:      string(s.Status),
			Urgency:     string(s.Urgency),
			SentAt:      s.Request.SentAt,
			ExpiresAt:   s.Request.ExpiresAt,
			Responded:   s.Responded,
			Expected:    s.Expected,
			Items:       len(s.Request.Items),
		})
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.getByID", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	req, err := h.svc.GetDetail(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDetail(req)).Build()
}

func (h *Handler) comparison(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.comparison", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	result, err := h.svc.Compare(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toComparison(id, result)).Build()
}

func (h *Handler) award(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		SupplierID int64  `json:"supplier_id"`
		Notes      string `json:"notes"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.SupplierID == 0 {
		return b.WithError(errorbank.BadRequest("supplier_id is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.award", trace.WithAttributes(
		attribute.Int64("request.id", id),
		attribute.Int64("supplier.id", payload.SupplierID),
	))
	defer span.End()

	result, err := h.svc.Award(ctx, id, payload.SupplierID, payload.Notes)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.AwardResponse{
		RequestID:     result.RequestID,
		SupplierID:    result.SupplierID,
		OrdersCreated: result.OrdersCreated,
		TotalAmount:   result.TotalAmount,
	}).Build()
}

func (h *Handler) setStatus(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.setStatus", trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	if err := h.svc.SetStatus(ctx, id, entity.RequestStatus(payload.Status)); err != nil {
		return b.WithError(err).Build()
	}
	req, err := h.svc.GetDetail(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDetail(req)).Build()
}

type offerLinePayload struct {
	RequestItemID int64            `json:"request_item_id"`
	Accepts       bool             `json:"accepts"`
	Price         *decimal.Decimal `json:"price"`
	PickupDate    *time.Time       `json:"pickup_date"`
	ValidUntil    *time.Time       `json:"valid_until"`
	PickupPlace   string           `json:"pickup_place"`
	Comments      string           `json:"comments"`
}

func (h *Handler) recordResponse(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}
	supplierID, err := parseID(c.Param("supplierID"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Lines []offerLinePayload `json:"lines"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	lines := make([]service.OfferLineInput, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		lines = append(lines, service.OfferLineInput(line))
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "budgetRequests.recordResponse", trace.WithAttributes(
		attribute.Int64("request.id", id),
		attribute.Int64("supplier.id", supplierID),
	))
	defer span.End()

	req, err := h.svc.RecordResponse(ctx, id, supplierID, lines)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDetail(req)).Build()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid id")
	}
	return id, nil
}

func toDetail(req *entity.BudgetRequest) dto.RequestDetail {
	detail := dto.RequestDetail{
		ID:                req.ID,
		BatchNumber:       req.BatchNumber,
		Status:            string(req.Status),
		SentAt:            req.SentAt,
		ExpiresAt:         req.ExpiresAt,
		AwardedSupplierID: req.AwardedSupplierID,
		Notes:             req.Notes,
		Items:             make([]dto.RequestItem, 0, len(req.Items)),
		Responses:         make([]dto.SupplierResponse, 0, len(req.Responses)),
	}
	for _, item := range req.Items {
		detail.Items = append(detail.Items, dto.RequestItem{
			ID:              item.ID,
			AuditID:         item.AuditID,
			MedicationCode:  item.MedicationCode,
			MedicationName:  item.MedicationName,
			Quantity:        item.Quantity,
			PatientName:     item.PatientName,
			PatientDocument: item.PatientDocument,
		})
	}
	now := time.Now().UTC()
	for _, resp := range req.Responses {
		out := dto.SupplierResponse{
			ID:          resp.ID,
			SupplierID:  resp.SupplierID,
			Status:      string(resp.ProjectedStatus(now)),
			RespondedAt: resp.RespondedAt,
			ExpiresAt:   resp.ExpiresAt,
		}
		for _, line := range resp.Lines {
			ol := dto.OfferLine{
				ID:            line.ID,
				RequestItemID: line.RequestItemID,
				Accepts:       line.Accepts,
				PickupDate:    line.PickupDate,
				ValidUntil:    line.ValidUntil,
				PickupPlace:   line.PickupPlace,
				Comments:      line.Comments,
			}
			if line.Price.Valid {
				price := line.Price.Decimal
				ol.Price = &price
			}
			out.Lines = append(out.Lines, ol)
		}
		detail.Responses = append(detail.Responses, out)
	}
	return detail
}

func toComparison(requestID int64, result comparator.Result) dto.Comparison {
	out := dto.Comparison{
		RequestID: requestID,
		Lines:     make([]dto.ComparisonLine, 0, len(result.Lines)),
		Suppliers: make([]dto.SupplierTotal, 0, len(result.Suppliers)),
	}
	for _, line := range result.Lines {
		cl := dto.ComparisonLine{
			RequestItemID:  line.RequestItemID,
			MedicationCode: line.MedicationCode,
			MedicationName: line.MedicationName,
			Quantity:       line.Quantity,
			OffersReceived: line.OffersReceived,
			OffersAccepted: line.OffersAccepted,
		}
		if line.Best != nil {
			cl.Best = &dto.BestOffer{
				SupplierID:  line.Best.SupplierID,
				Price:       line.Best.Price,
				PickupDate:  line.Best.PickupDate,
				ValidUntil:  line.Best.ValidUntil,
				PickupPlace: line.Best.PickupPlace,
				Comments:    line.Best.Comments,
			}
		}
		out.Lines = append(out.Lines, cl)
	}
	for _, total := range result.Suppliers {
		out.Suppliers = append(out.Suppliers, dto.SupplierTotal{
			SupplierID:    total.SupplierID,
			AcceptedLines: total.AcceptedLines,
			Total:         total.Total,
		})
	}
	return out
}
