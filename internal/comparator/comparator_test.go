package comparator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/medisupply/procura/internal/entity"
)

func item(id int64, code string, qty int) *entity.RequestItem {
	return &entity.RequestItem{ID: id, MedicationCode: code, MedicationName: code, Quantity: qty}
}

func respondedAt(t time.Time) *time.Time { return &t }

func offer(itemID int64, price string) *entity.OfferLine {
	return &entity.OfferLine{
		RequestItemID: itemID,
		Accepts:       true,
		Price:         decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
}

func reject(itemID int64) *entity.OfferLine {
	return &entity.OfferLine{RequestItemID: itemID, Accepts: false}
}

func response(id, supplierID int64, at time.Time, lines ...*entity.OfferLine) *entity.SupplierResponse {
	return &entity.SupplierResponse{
		ID:          id,
		SupplierID:  supplierID,
		Status:      entity.ResponseStatusResponded,
		RespondedAt: respondedAt(at),
		Lines:       lines,
	}
}

func TestCompareSelectsMinimumPricePerLine(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []*entity.RequestItem{item(1, "ACET-500", 2), item(2, "IBUP-400", 3)}
	responses := []*entity.SupplierResponse{
		response(10, 100, t0, offer(1, "120.00"), offer(2, "48.00")),
		response(11, 200, t0.Add(time.Hour), offer(1, "95.50"), offer(2, "52.00")),
	}

	result := Compare(items, responses)
	require.Len(t, result.Lines, 2)

	first := result.Lines[0]
	require.Equal(t, int64(1), first.RequestItemID)
	require.Equal(t, 2, first.OffersReceived)
	require.Equal(t, 2, first.OffersAccepted)
	require.NotNil(t, first.Best)
	require.Equal(t, int64(200), first.Best.SupplierID)
	require.True(t, first.Best.Price.Equal(decimal.RequireFromString("95.50")))

	second := result.Lines[1]
	require.NotNil(t, second.Best)
	require.Equal(t, int64(100), second.Best.SupplierID)
}

func TestComparePriceTieBreaks(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []*entity.RequestItem{item(1, "ACET-500", 1)}

	t.Run("earlier response wins the tie", func(t *testing.T) {
		responses := []*entity.SupplierResponse{
			response(10, 200, t0.Add(time.Hour), offer(1, "80.00")),
			response(11, 100, t0, offer(1, "80.00")),
		}
		result := Compare(items, responses)
		require.Equal(t, int64(100), result.Lines[0].Best.SupplierID)
	})

	t.Run("lower supplier id wins when timestamps match", func(t *testing.T) {
		responses := []*entity.SupplierResponse{
			response(10, 300, t0, offer(1, "80.00")),
			response(11, 100, t0, offer(1, "80.00")),
		}
		result := Compare(items, responses)
		require.Equal(t, int64(100), result.Lines[0].Best.SupplierID)
	})
}

func TestCompareIsArrivalOrderInvariant(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []*entity.RequestItem{item(1, "ACET-500", 1), item(2, "IBUP-400", 2)}
	a := response(10, 100, t0, offer(1, "60.00"), offer(2, "30.00"))
	b := response(11, 200, t0.Add(time.Minute), offer(1, "60.00"), offer(2, "25.00"))

	forward := Compare(items, []*entity.SupplierResponse{a, b})
	reversed := Compare(items, []*entity.SupplierResponse{b, a})
	require.Equal(t, forward, reversed)
}

func TestCompareDistinguishesNoOffersFromNoAcceptance(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []*entity.RequestItem{item(1, "ACET-500", 1), item(2, "IBUP-400", 1)}
	responses := []*entity.SupplierResponse{
		response(10, 100, t0, reject(1)),
	}

	result := Compare(items, responses)

	rejected := result.Lines[0]
	require.Equal(t, 1, rejected.OffersReceived)
	require.Equal(t, 0, rejected.OffersAccepted)
	require.Nil(t, rejected.Best)

	unoffered := result.Lines[1]
	require.Equal(t, 0, unoffered.OffersReceived)
	require.Nil(t, unoffered.Best)
}

func TestComparePendingResponsesAreExcluded(t *testing.T) {
	items := []*entity.RequestItem{item(1, "ACET-500", 1)}
	pending := &entity.SupplierResponse{
		ID:         10,
		SupplierID: 100,
		Status:     entity.ResponseStatusSent,
		Lines:      []*entity.OfferLine{offer(1, "10.00")},
	}

	result := Compare(items, []*entity.SupplierResponse{pending})
	require.Equal(t, 0, result.Lines[0].OffersReceived)
	require.Nil(t, result.Lines[0].Best)
	require.Empty(t, result.Suppliers)
}

func TestCompareSupplierTotals(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []*entity.RequestItem{item(1, "ACET-500", 2), item(2, "IBUP-400", 3)}
	responses := []*entity.SupplierResponse{
		response(10, 200, t0, offer(1, "10.00"), offer(2, "20.00")),
		response(11, 100, t0, offer(1, "12.00"), reject(2)),
	}

	result := Compare(items, responses)
	require.Len(t, result.Suppliers, 2)

	// sorted by supplier id
	require.Equal(t, int64(100), result.Suppliers[0].SupplierID)
	require.Equal(t, 1, result.Suppliers[0].AcceptedLines)
	require.True(t, result.Suppliers[0].Total.Equal(decimal.RequireFromString("24.00")))

	require.Equal(t, int64(200), result.Suppliers[1].SupplierID)
	require.Equal(t, 2, result.Suppliers[1].AcceptedLines)
	require.True(t, result.Suppliers[1].Total.Equal(decimal.RequireFromString("80.00")))
}

func TestAcceptedLinesFor(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	responses := []*entity.SupplierResponse{
		response(10, 100, t0, offer(1, "10.00"), reject(2)),
		response(11, 200, t0, offer(1, "9.00"), offer(2, "5.00")),
		{ID: 12, SupplierID: 300, Status: entity.ResponseStatusSent, Lines: []*entity.OfferLine{offer(1, "1.00")}},
	}

	accepted := AcceptedLinesFor(100, responses)
	require.Len(t, accepted, 1)
	require.Contains(t, accepted, int64(1))

	require.Len(t, AcceptedLinesFor(200, responses), 2)
	require.Empty(t, AcceptedLinesFor(300, responses), "pending responses contribute nothing")
	require.Empty(t, AcceptedLinesFor(999, responses))
}
