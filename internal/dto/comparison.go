package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// Comparison is the per-line best offer view of a budget request.
type Comparison struct {
	RequestID int64            `json:"request_id"`
	Lines     []ComparisonLine `json:"lines"`
	Suppliers []SupplierTotal  `json:"suppliers"`
}

// ComparisonLine summarises the offers for one medication line. BestOffer
// is absent when no supplier accepted; offers_received tells "nobody
// accepted" apart from "nobody offered".
type ComparisonLine struct {
	RequestItemID  int64      `json:"request_item_id"`
	MedicationCode string     `json:"medication_code"`
	MedicationName string     `json:"medication_name"`
	Quantity       int        `json:"quantity"`
	OffersReceived int        `json:"offers_received"`
	OffersAccepted int        `json:"offers_accepted"`
	Best           *BestOffer `json:"best_offer,omitempty"`
}

// BestOffer is the winning offer reference for one line.
type BestOffer struct {
	SupplierID  int64           `json:"supplier_id"`
	Price       decimal.Decimal `json:"price"`
	PickupDate  *time.Time      `json:"pickup_date,omitempty"`
	ValidUntil  *time.Time      `json:"valid_until,omitempty"`
	PickupPlace string          `json:"pickup_place,omitempty"`
	Comments    string          `json:"comments,omitempty"`
}

// SupplierTotal aggregates one supplier's accepted lines.
type SupplierTotal struct {
	SupplierID    int64           `json:"supplier_id"`
	AcceptedLines int             `json:"accepted_lines"`
	Total         decimal.Decimal `json:"total"`
}
