package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Rail identifies the payment mechanism a donation travelled through.
type Rail string

const (
	RailCard          Rail = "CARD"
	RailChainTransfer Rail = "CHAIN_TRANSFER"
)

// ParseRail normalizes user supplied rail names such as "card" or "chain_transfer".
func ParseRail(v string) (Rail, error) {
	switch Rail(strings.ToUpper(strings.TrimSpace(v))) {
	case RailCard:
		return RailCard, nil
	case RailChainTransfer, "CHAIN":
		return RailChainTransfer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedRail, v)
}

// DonationStatus enumerates donation lifecycle states.
type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationConfirmed DonationStatus = "CONFIRMED"
	DonationFailed    DonationStatus = "FAILED"
	DonationVoided    DonationStatus = "VOIDED"
)

// Void reasons recorded on VOIDED and FAILED records.
const (
	ReasonTimeout           = "timeout"
	ReasonRailFailure       = "rail_failure"
	ReasonExpired           = "checkout_expired"
	ReasonRefunded          = "refunded"
	ReasonManual            = "manual"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonRecipientMismatch = "recipient_mismatch"
)

// DonationKey is the idempotency key of a donation: one record per external payment.
type DonationKey struct {
	Rail        Rail
	ExternalRef string
}

func (k DonationKey) String() string {
	return string(k.Rail) + ":" + k.ExternalRef
}

// DonationRecord is a single ledger entry for a donation attempt.
type DonationRecord struct {
	ID          string
	ProjectID   string
	DonorID     string
	Amount      decimal.Decimal
	Currency    string
	Rail        Rail
	ExternalRef string
	Status      DonationStatus
	Reason      string
	Metadata    map[string]string
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// Key returns the record's idempotency key.
func (d DonationRecord) Key() DonationKey {
	return DonationKey{Rail: d.Rail, ExternalRef: d.ExternalRef}
}

// AggregateDelta describes how a transition moves the project total.
// The magnitude is always the record's own amount.
type AggregateDelta int

const (
	DeltaNone   AggregateDelta = 0
	DeltaCredit AggregateDelta = 1
	DeltaDebit  AggregateDelta = -1
)

// Apply returns the signed amount the delta contributes for the given record amount.
func (d AggregateDelta) Apply(amount decimal.Decimal) decimal.Decimal {
	switch d {
	case DeltaCredit:
		return amount
	case DeltaDebit:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}
