package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestSummary represents one listed budget request with its read-time
// projections.
type RequestSummary struct {
	ID          int64     `json:"id"`
	BatchNumber string    `json:"batch_number"`
	Status      string    `json:"status"`
	Urgency     string    `json:"urgency,omitempty"`
	SentAt      time.Time `json:"sent_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Responded   int       `json:"responded"`
	Expected    int       `json:"expected"`
	Items       int       `json:"items"`
}

// RequestDetail represents a budget request with items and responses.
type RequestDetail struct {
	ID                int64              `json:"id"`
	BatchNumber       string             `json:"batch_number"`
	Status            string             `json:"status"`
	SentAt            time.Time          `json:"sent_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
	AwardedSupplierID *int64             `json:"awarded_supplier_id,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	Items             []RequestItem      `json:"items"`
	Responses         []SupplierResponse `json:"responses"`
}

// RequestItem is one audited prescription line.
type RequestItem struct {
	ID              int64  `json:"id"`
	AuditID         int64  `json:"audit_id"`
	MedicationCode  string `json:"medication_code"`
	MedicationName  string `json:"medication_name"`
	Quantity        int    `json:"quantity"`
	PatientName     string `json:"patient_name"`
	PatientDocument string `json:"patient_document"`
}

// SupplierResponse is one supplier's reply state with its offer lines.
type SupplierResponse struct {
	ID          int64       `json:"id"`
	SupplierID  int64       `json:"supplier_id"`
	Status      string      `json:"status"`
	RespondedAt *time.Time  `json:"responded_at,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Lines       []OfferLine `json:"lines,omitempty"`
}

// OfferLine is one accept/reject decision for a request item.
type OfferLine struct {
	ID            int64            `json:"id"`
	RequestItemID int64            `json:"request_item_id"`
	Accepts       bool             `json:"accepts"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	PickupDate    *time.Time       `json:"pickup_date,omitempty"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	PickupPlace   string           `json:"pickup_place,omitempty"`
	Comments      string           `json:"comments,omitempty"`
}

// AwardResponse reports a committed adjudication.
type AwardResponse struct {
	RequestID     int64           `json:"request_id"`
	SupplierID    int64           `json:"supplier_id"`
	OrdersCreated int             `json:"orders_created"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}
