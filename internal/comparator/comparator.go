// Package comparator selects the best supplier offer per medication line of
// a budget request. The comparison is pure: it tolerates partial arrival of
// supplier responses and yields the same result regardless of arrival order.
package comparator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medisupply/procura/internal/entity"
)

// BestOffer references the winning offer for one medication line.
type BestOffer struct {
	SupplierID  int64
	ResponseID  int64
	OfferLineID int64
	Price       decimal.Decimal
	PickupDate  *time.Time
	ValidUntil  *time.Time
	PickupPlace string
	Comments    string
	RespondedAt time.Time
}

// LineComparison summarises all offers received for one request item.
// Best is nil when no supplier accepted the line; OffersReceived
// distinguishes "nobody accepted" from "nobody offered".
type LineComparison struct {
	RequestItemID  int64
	MedicationCode string
	MedicationName string
	Quantity       int
	OffersReceived int
	OffersAccepted int
	Best           *BestOffer
}

// SupplierTotal aggregates one supplier's accepted lines so operators can
// see the cost of binding the whole request to a single winner.
type SupplierTotal struct {
	SupplierID    int64
	AcceptedLines int
	Total         decimal.Decimal
}

// Result is the full comparison for a budget request.
type Result struct {
	Lines     []LineComparison
	Suppliers []SupplierTotal
}

// Compare groups offer lines by request item, filters to accepting offers,
// and selects the minimum price per group. Ties on price break on the
// earlier supplier response timestamp, then on the lower supplier ID, so
// the outcome never depends on iteration order.
func Compare(items []*entity.RequestItem, responses []*entity.SupplierResponse) Result {
	byItem := make(map[int64][]candidate, len(items))
	totals := make(map[int64]*SupplierTotal)

	for _, resp := range responses {
		if !resp.Responded() {
			continue
		}
		respondedAt := time.Time{}
		if resp.RespondedAt != nil {
			respondedAt = *resp.RespondedAt
		}
		for _, line := range resp.Lines {
			byItem[line.RequestItemID] = append(byItem[line.RequestItemID], candidate{
				line:        line,
				supplierID:  resp.SupplierID,
				responseID:  resp.ID,
				respondedAt: respondedAt,
			})
		}
	}

	result := Result{Lines: make([]LineComparison, 0, len(items))}
	for _, item := range items {
		cmp := LineComparison{
			RequestItemID:  item.ID,
			MedicationCode: item.MedicationCode,
			MedicationName: item.MedicationName,
			Quantity:       item.Quantity,
		}
		for _, cand := range byItem[item.ID] {
			cmp.OffersReceived++
			if !cand.line.Accepts || !cand.line.Price.Valid {
				continue
			}
			cmp.OffersAccepted++

			total, ok := totals[cand.supplierID]
			if !ok {
				total = &SupplierTotal{SupplierID: cand.supplierID}
				totals[cand.supplierID] = total
			}
			total.AcceptedLines++
			total.Total = total.Total.Add(cand.line.Price.Decimal.Mul(decimal.NewFromInt(int64(item.Quantity))))

			if cmp.Best == nil || cand.beats(cmp.Best) {
				cmp.Best = cand.asBest()
			}
		}
		result.Lines = append(result.Lines, cmp)
	}

	result.Suppliers = make([]SupplierTotal, 0, len(totals))
	for _, total := range totals {
		result.Suppliers = append(result.Suppliers, *total)
	}
	sort.Slice(result.Suppliers, func(i, j int) bool {
		return result.Suppliers[i].SupplierID < result.Suppliers[j].SupplierID
	})

	return result
}

// AcceptedLinesFor returns the accepting offer lines of one supplier,
// keyed by request item. Used by the award to build purchase orders.
func AcceptedLinesFor(supplierID int64, responses []*entity.SupplierResponse) map[int64]*entity.OfferLine {
	accepted := make(map[int64]*entity.OfferLine)
	for _, resp := range responses {
		if resp.SupplierID != supplierID || !resp.Responded() {
			continue
		}
		for _, line := range resp.Lines {
			if line.Accepts && line.Price.Valid {
				accepted[line.RequestItemID] = line
			}
		}
	}
	return accepted
}

type candidate struct {
	line        *entity.OfferLine
	supplierID  int64
	responseID  int64
	respondedAt time.Time
}

// beats reports whether the candidate outranks the current best offer:
// lower price first, then earlier response, then lower supplier ID.
func (c candidate) beats(best *BestOffer) bool {
	switch c.line.Price.Decimal.Cmp(best.Price) {
	case -1:
		return true
	case 1:
		return false
	}
	if !c.respondedAt.Equal(best.RespondedAt) {
		return c.respondedAt.Before(best.RespondedAt)
	}
	return c.supplierID < best.SupplierID
}

func (c candidate) asBest() *BestOffer {
	return &BestOffer{
		SupplierID:  c.supplierID,
		ResponseID:  c.responseID,
		OfferLineID: c.line.ID,
		Price:       c.line.Price.Decimal,
		PickupDate:  c.line.PickupDate,
		ValidUntil:  c.line.ValidUntil,
		PickupPlace: c.line.PickupPlace,
		Comments:    c.line.Comments,
		RespondedAt: c.respondedAt,
	}
}
