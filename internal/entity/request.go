package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// BudgetRequest is a batch procurement inquiry dispatched to one or more
// suppliers for a set of audited medication prescriptions. Requests are
// never deleted; cancellation is a terminal status, not removal.
type BudgetRequest struct {
	bun.BaseModel `bun:"table:budget_requests,alias:br"`

	ID                int64         `bun:",pk,autoincrement"`
	BatchNumber       string        `bun:"batch_number"`
	Status            RequestStatus `bun:"status"`
	SentAt            time.Time     `bun:"sent_at"`
	ExpiresAt         time.Time     `bun:"expires_at"`
	AwardedSupplierID *int64        `bun:"awarded_supplier_id"`
	Notes             string        `bun:"notes"`
	CreatedAt         time.Time     `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `bun:"updated_at,nullzero"`

	Items     []*RequestItem      `bun:"rel:has-many,join:id=request_id"`
	Responses []*SupplierResponse `bun:"rel:has-many,join:id=request_id"`
}

// RequestItem is one audited prescription line inside a budget request.
// Patient data is snapshotted at dispatch time so awards do not depend on
// the audit store.
type RequestItem struct {
	bun.BaseModel `bun:"table:request_items,alias:ri"`

	ID              int64  `bun:",pk,autoincrement"`
	RequestID       int64  `bun:"request_id"`
	AuditID         int64  `bun:"audit_id"`
	MedicationCode  string `bun:"medication_code"`
	MedicationName  string `bun:"medication_name"`
	Quantity        int    `bun:"quantity"`
	PatientName     string `bun:"patient_name"`
	PatientDocument string `bun:"patient_document"`
	PatientContact  string `bun:"patient_contact"`
}

// SupplierResponse tracks one contacted supplier's reply to a request.
// A shell row with status SENT is created at dispatch; it is mutated once
// when the supplier responds.
type SupplierResponse struct {
	bun.BaseModel `bun:"table:supplier_responses,alias:sr"`

	ID          int64          `bun:",pk,autoincrement"`
	RequestID   int64          `bun:"request_id"`
	SupplierID  int64          `bun:"supplier_id"`
	Status      ResponseStatus `bun:"status"`
	RespondedAt *time.Time     `bun:"responded_at"`
	ExpiresAt   time.Time      `bun:"expires_at"`

	Lines []*OfferLine `bun:"rel:has-many,join:id=response_id"`
}

// Responded reports whether the supplier has sent back offers.
func (r *SupplierResponse) Responded() bool {
	return r.Status == ResponseStatusResponded
}

// ProjectedStatus computes the read-time status of the response: a SENT
// response past its deadline reads as EXPIRED without any persisted write.
func (r *SupplierResponse) ProjectedStatus(now time.Time) ResponseStatus {
	if r.Status == ResponseStatusSent && now.After(r.ExpiresAt) {
		return ResponseStatusExpired
	}
	return r.Status
}

// OfferLine is one supplier's accept/reject decision and terms for a single
// request item. Price and terms only carry meaning when Accepts is true.
type OfferLine struct {
	bun.BaseModel `bun:"table:offer_lines,alias:ol"`

	ID            int64               `bun:",pk,autoincrement"`
	ResponseID    int64               `bun:"response_id"`
	RequestItemID int64               `bun:"request_item_id"`
	Accepts       bool                `bun:"accepts"`
	Price         decimal.NullDecimal `bun:"price"`
	PickupDate    *time.Time          `bun:"pickup_date"`
	ValidUntil    *time.Time          `bun:"valid_until"`
	PickupPlace   string              `bun:"pickup_place"`
	Comments      string              `bun:"comments"`
}

// Supplier is a contacted pharmaceutical provider.
type Supplier struct {
	bun.BaseModel `bun:"table:suppliers,alias:sup"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:"name"`
	Email     string    `bun:"email"`
	Phone     string    `bun:"phone"`
	Active    bool      `bun:"active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
