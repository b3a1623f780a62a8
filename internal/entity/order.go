package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PurchaseOrder tracks a winning supplier's fulfillment of awarded
// medication lines through delivery. Orders are created only by an award
// and are never deleted.
type PurchaseOrder struct {
	bun.BaseModel `bun:"table:purchase_orders,alias:po"`

	ID         int64       `bun:",pk,autoincrement"`
	Number     string      `bun:"number"`
	Status     OrderStatus `bun:"status"`
	RequestID  int64       `bun:"request_id"`
	SupplierID int64       `bun:"supplier_id"`

	Subtotal decimal.Decimal `bun:"subtotal"`
	Discount decimal.Decimal `bun:"discount"`
	Total    decimal.Decimal `bun:"total"`

	Carrier        string `bun:"carrier"`
	TrackingNumber string `bun:"tracking_number"`
	CarrierStatus  string `bun:"carrier_status"`

	DeliveredAt *time.Time `bun:"delivered_at"`
	ReceivedBy  string     `bun:"received_by"`

	// Notified is true only when every patient on the order was
	// successfully notified on at least one channel.
	Notified        bool       `bun:"notified"`
	NotifySucceeded int        `bun:"notify_succeeded"`
	NotifyFailed    int        `bun:"notify_failed"`
	NotifiedAt      *time.Time `bun:"notified_at"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`

	Patients []*OrderPatient       `bun:"rel:has-many,join:id=order_id"`
	Lines    []*OrderLine          `bun:"rel:has-many,join:id=order_id"`
	History  []*OrderHistoryEntry  `bun:"rel:has-many,join:id=order_id"`
}

// OrderPatient is a patient snapshot carried on a purchase order for
// delivery notification.
type OrderPatient struct {
	bun.BaseModel `bun:"table:order_patients,alias:op"`

	ID       int64  `bun:",pk,autoincrement"`
	OrderID  int64  `bun:"order_id"`
	Name     string `bun:"name"`
	Document string `bun:"document"`
	Contact  string `bun:"contact"`
}

// OrderLine is one awarded medication line on a purchase order.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines,alias:oli"`

	ID              int64           `bun:",pk,autoincrement"`
	OrderID         int64           `bun:"order_id"`
	RequestItemID   int64           `bun:"request_item_id"`
	MedicationCode  string          `bun:"medication_code"`
	MedicationName  string          `bun:"medication_name"`
	Quantity        int             `bun:"quantity"`
	UnitPrice       decimal.Decimal `bun:"unit_price"`
	LineTotal       decimal.Decimal `bun:"line_total"`
	PatientDocument string          `bun:"patient_document"`
}

// OrderHistoryEntry is one append-only record of an order status change.
// History is never rewritten or pruned.
type OrderHistoryEntry struct {
	bun.BaseModel `bun:"table:order_history,alias:oh"`

	ID          int64       `bun:",pk,autoincrement"`
	OrderID     int64       `bun:"order_id"`
	Status      OrderStatus `bun:"status"`
	Description string      `bun:"description"`
	Actor       string      `bun:"actor"`
	CreatedAt   time.Time   `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
