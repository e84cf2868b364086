package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventOutcome is the rail's verdict on a payment.
type EventOutcome string

const (
	// OutcomeSucceeded means the payment reached finality on the rail.
	OutcomeSucceeded EventOutcome = "succeeded"
	// OutcomePending means the payment exists but is not yet final.
	OutcomePending EventOutcome = "pending"
	// OutcomeFailed means the rail reports the payment as failed or reverted.
	OutcomeFailed EventOutcome = "failed"
)

// VerifiedEvent is a payment assertion whose authenticity was established
// against the rail's source of truth. Both rails produce the same shape.
type VerifiedEvent struct {
	Rail        Rail
	ExternalRef string
	Outcome     EventOutcome
	ProjectID   string
	DonorID     string
	Amount      decimal.Decimal
	Currency    string
	Payer       string
	Recipient   string
	Reason      string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// Key returns the idempotency key of the payment the event describes.
func (e VerifiedEvent) Key() DonationKey {
	return DonationKey{Rail: e.Rail, ExternalRef: e.ExternalRef}
}

// Final reports whether the event settles the payment one way or the other.
func (e VerifiedEvent) Final() bool {
	return e.Outcome == OutcomeSucceeded || e.Outcome == OutcomeFailed
}
