package entity

// RequestStatus enumerates the lifecycle of a budget request.
type RequestStatus string

const (
	RequestStatusSent      RequestStatus = "SENT"
	RequestStatusPartial   RequestStatus = "PARTIAL"
	RequestStatusComplete  RequestStatus = "COMPLETE"
	RequestStatusExpired   RequestStatus = "EXPIRED"
	RequestStatusAwarded   RequestStatus = "AWARDED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether the request can no longer change state.
// Terminal statuses also override the expiry clock: an awarded or
// cancelled request is never reported expired.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusAwarded || s == RequestStatusCancelled
}

// Valid reports whether the value is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusSent, RequestStatusPartial, RequestStatusComplete,
		RequestStatusExpired, RequestStatusAwarded, RequestStatusCancelled:
		return true
	}
	return false
}

// requestTransitions is the authoritative transition table for budget
// requests. Transitions are monotonic; AWARDED and CANCELLED are terminal.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusSent:     {RequestStatusPartial, RequestStatusComplete, RequestStatusExpired, RequestStatusCancelled},
	RequestStatusPartial:  {RequestStatusComplete, RequestStatusExpired, RequestStatusAwarded, RequestStatusCancelled},
	RequestStatusComplete: {RequestStatusExpired, RequestStatusAwarded, RequestStatusCancelled},
	RequestStatusExpired:  {RequestStatusCancelled},
}

// CanRequestTransition reports whether a budget request may move between
// the two statuses. Shared by every caller; status checks are never
// inferred from anything else.
func CanRequestTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AwardableStatuses lists the request statuses from which an award is allowed.
func AwardableStatuses() []RequestStatus {
	return []RequestStatus{RequestStatusPartial, RequestStatusComplete}
}

// ResponseStatus enumerates the lifecycle of a supplier response.
type ResponseStatus string

const (
	ResponseStatusSent      ResponseStatus = "SENT"
	ResponseStatusResponded ResponseStatus = "RESPONDED"
	// ResponseStatusExpired is a read-time projection from the response
	// deadline; it is never persisted as a separate write.
	ResponseStatusExpired ResponseStatus = "EXPIRED"
)

// OrderStatus enumerates the lifecycle of a purchase order.
type OrderStatus string

const (
	OrderStatusDraft         OrderStatus = "DRAFT"
	OrderStatusSent          OrderStatus = "SENT"
	OrderStatusConfirmed     OrderStatus = "CONFIRMED"
	OrderStatusInPreparation OrderStatus = "IN_PREPARATION"
	OrderStatusShipped       OrderStatus = "SHIPPED"
	OrderStatusDelivered     OrderStatus = "DELIVERED"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
)

// Valid reports whether the value is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusSent, OrderStatusConfirmed,
		OrderStatusInPreparation, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// orderTransitions is the authoritative forward-only transition table.
// CANCELLED is reachable from DRAFT, SENT, or CONFIRMED only.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:         {OrderStatusSent, OrderStatusCancelled},
	OrderStatusSent:          {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:     {OrderStatusInPreparation, OrderStatusCancelled},
	OrderStatusInPreparation: {OrderStatusShipped},
	OrderStatusShipped:       {OrderStatusDelivered},
}

// CanOrderTransition reports whether a purchase order may move between the
// two statuses.
func CanOrderTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in the given status may still be
// cancelled. Orders already shipped or delivered cannot.
func (s OrderStatus) Cancellable() bool {
	return CanOrderTransition(s, OrderStatusCancelled)
}
