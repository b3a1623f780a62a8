// Package deadline classifies budget requests by proximity to their
// expiration deadline. Classification is pure and recomputed on every read;
// nothing here owns a timer.
package deadline

import (
	"time"

	"github.com/medisupply/procura/internal/entity"
)

// Urgency buckets a request by hours remaining until expiry.
type Urgency string

const (
	// Expired means the expiration timestamp is in the past.
	Expired Urgency = "EXPIRED"
	// Urgent means less than 24 hours remain.
	Urgent Urgency = "URGENT"
	// Upcoming means between 24 and 48 hours remain.
	Upcoming Urgency = "UPCOMING"
	// None means 48 hours or more remain, or urgency is suppressed.
	None Urgency = ""
)

const (
	urgentWindow   = 24 * time.Hour
	upcomingWindow = 48 * time.Hour
)

// Classify buckets an expiration timestamp against the supplied clock.
func Classify(expiresAt, now time.Time) Urgency {
	remaining := expiresAt.Sub(now)
	switch {
	case remaining < 0:
		return Expired
	case remaining < urgentWindow:
		return Urgent
	case remaining < upcomingWindow:
		return Upcoming
	default:
		return None
	}
}

// ForRequest classifies a request, suppressing urgency entirely for
// terminal statuses: an awarded or cancelled request is never reported
// expired or urgent regardless of its timestamp.
func ForRequest(status entity.RequestStatus, expiresAt, now time.Time) Urgency {
	if status.Terminal() {
		return None
	}
	return Classify(expiresAt, now)
}

// ProjectStatus returns the read-time status of a request: a non-terminal
// request past its deadline reads as EXPIRED. The projection is never
// persisted by the classifier.
func ProjectStatus(status entity.RequestStatus, expiresAt, now time.Time) entity.RequestStatus {
	if status.Terminal() {
		return status
	}
	if now.After(expiresAt) {
		return entity.RequestStatusExpired
	}
	return status
}
