package order

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/medisupply/procura/internal/dto"
	"github.com/medisupply/procura/internal/entity"
	"github.com/medisupply/procura/internal/presentation/http/response"
	repo "github.com/medisupply/procura/internal/repository/order"
	service "github.com/medisupply/procura/internal/service/order"
	"github.com/medisupply/procura/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/medisupply/procura/transport/http/order")

// Handler exposes purchase order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/purchase-orders")
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
	g.PATCH("/:id/status", h.setStatus)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/delivery", h.confirmDelivery)
	g.POST("/:id/notifications/resend", h.resendNotification)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	var filter repo.Filter
	if status := c.QueryParam("status"); status != "" {
		s := entity.OrderStatus(status)
		if !s.Valid() {
			return b.WithError(errorbank.BadRequest("unknown status filter")).Build()
		}
		filter.Status = s
	}
	if raw := c.QueryParam("request_id"); raw != "" {
		requestID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return b.WithError(errorbank.BadRequest("invalid request_id filter")).Build()
		}
		filter.RequestID = requestID
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.list")
	defer span.End()

	orders, err := h.svc.List(ctx, filter)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.OrderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toDTO(order))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) setStatus(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
		Notes  string `json:"notes"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.setStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", payload.Status),
	))
	defer span.End()

	order, err := h.svc.SetStatus(ctx, id, entity.OrderStatus(payload.Status), payload.Notes, actorOrDefault(payload.Actor))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.cancel", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Cancel(ctx, id, payload.Reason, actorOrDefault(payload.Actor))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) confirmDelivery(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ReceivedBy  string    `json:"received_by"`
		DeliveredAt time.Time `json:"delivered_at"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if strings.TrimSpace(payload.ReceivedBy) == "" {
		return b.WithError(errorbank.BadRequest("received_by is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.confirmDelivery", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	result, err := h.svc.ConfirmDelivery(ctx, id, payload.DeliveredAt, payload.ReceivedBy)
	if err != nil {
		return b.WithError(err).Build()
	}

	if result.Warning != "" {
		b.WithMeta("warning", result.Warning)
	}
	return b.WithData(dto.DeliveryResponse{
		Order: toDTO(result.Order),
		Notified: dto.NotificationOutcome{
			Succeeded: result.Outcome.Succeeded,
			Failed:    result.Outcome.Failed,
		},
	}).Build()
}

func (h *Handler) resendNotification(c echo.Context) error {
	b := response.New(c)

	id, err := parseID(c.Param("id"))
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "purchaseOrders.resendNotification", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	result, err := h.svc.ResendNotification(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	if result.Warning != "" {
		b.WithMeta("warning", result.Warning)
	}
	return b.WithData(dto.DeliveryResponse{
		Order: toDTO(result.Order),
		Notified: dto.NotificationOutcome{
			Succeeded: result.Outcome.Succeeded,
			Failed:    result.Outcome.Failed,
		},
	}).Build()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid id")
	}
	return id, nil
}

func actorOrDefault(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}

func toDTO(order *entity.PurchaseOrder) dto.OrderResponse {
	out := dto.OrderResponse{
		ID:              order.ID,
		Number:          order.Number,
		Status:          string(order.Status),
		RequestID:       order.RequestID,
		SupplierID:      order.SupplierID,
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		Total:           order.Total,
		Carrier:         order.Carrier,
		TrackingNumber:  order.TrackingNumber,
		CarrierStatus:   order.CarrierStatus,
		DeliveredAt:     order.DeliveredAt,
		ReceivedBy:      order.ReceivedBy,
		Notified:        order.Notified,
		NotifySucceeded: order.NotifySucceeded,
		NotifyFailed:    order.NotifyFailed,
		NotifiedAt:      order.NotifiedAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, patient := range order.Patients {
		out.Patients = append(out.Patients, dto.OrderPatient{
			Name:     patient.Name,
			Document: patient.Document,
			Contact:  patient.Contact,
		})
	}
	for _, line := range order.Lines {
		out.Lines = append(out.Lines, dto.OrderLine{
			MedicationCode:  line.MedicationCode,
			MedicationName:  line.MedicationName,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			LineTotal:       line.LineTotal,
			PatientDocument: line.PatientDocument,
		})
	}
	for _, entry := range order.History {
		out.History = append(out.History, dto.OrderHistoryEntry{
			Status:      string(entry.Status),
			Description: entry.Description,
			Actor:       entry.Actor,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return out
}
