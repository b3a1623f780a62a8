package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderResponse represents a purchase order as exposed via transport layers.
type OrderResponse struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	RequestID  int64  `json:"request_id"`
	SupplierID int64  `json:"supplier_id"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`

	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	CarrierStatus  string `json:"carrier_status,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReceivedBy  string     `json:"received_by,omitempty"`

	Notified        bool       `json:"notified"`
	NotifySucceeded int        `json:"notify_succeeded"`
	NotifyFailed    int        `json:"notify_failed"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Patients []OrderPatient      `json:"patients,omitempty"`
	Lines    []OrderLine         `json:"lines,omitempty"`
	History  []OrderHistoryEntry `json:"history,omitempty"`
}

// OrderPatient is a notification target on an order.
type OrderPatient struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Contact  string `json:"contact,omitempty"`
}

// OrderLine is one awarded medication line.
type OrderLine struct {
	MedicationCode  string          `json:"medication_code"`
	MedicationName  string          `json:"medication_name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
	PatientDocument string          `json:"patient_document"`
}

// OrderHistoryEntry is one append-only status change record.
type OrderHistoryEntry struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryResponse reports a confirmed delivery and its notification
// outcome.
type DeliveryResponse struct {
	Order    OrderResponse       `json:"order"`
	Notified NotificationOutcome `json:"notified"`
}

// NotificationOutcome counts per-patient dispatch results.
type NotificationOutcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
