package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"crowdfund/internal/domain"
	"crowdfund/internal/donation"
	"crowdfund/internal/infra"
	"crowdfund/internal/middleware"
	"crowdfund/internal/payment"
)

// PushVerifier authenticates inbound processor webhooks.
type PushVerifier interface {
	VerifyPush(raw []byte, header string, now time.Time) (*domain.VerifiedEvent, error)
}

// ReferenceVerifier re-checks a reference at its rail.
type ReferenceVerifier interface {
	VerifyReference(ctx context.Context, rail domain.Rail, ref string) (*domain.VerifiedEvent, error)
}

// CheckoutCreator opens hosted card checkouts.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

// DonationRecorder is the write side of the ledger used by handlers.
type DonationRecorder interface {
	RecordPending(ctx context.Context, in donation.PendingInput) (*domain.DonationRecord, error)
	Apply(ctx context.Context, ev domain.VerifiedEvent) (*domain.DonationRecord, error)
	SubmitChainTransfer(ctx context.Context, sub donation.ChainSubmission) (*domain.DonationRecord, error)
}

// DonationReader is the read side of the ledger.
type DonationReader interface {
	FindByKey(ctx context.Context, key domain.DonationKey) (*domain.DonationRecord, error)
	ListByDonor(ctx context.Context, donorID string, limit int) ([]domain.DonationRecord, error)
}

type App struct {
	Projects  domain.ProjectRepository
	Donations DonationReader
	Recorder  DonationRecorder
	Push      PushVerifier
	// Recheck, when set, confirms webhook successes against the processor API.
	Recheck  ReferenceVerifier
	Checkout CheckoutCreator

	PublicURL      string
	CheckoutExpiry time.Duration

	// Ready reports whether backing stores are reachable.
	Ready  func(ctx context.Context) error
	Logger *infra.Logger
	Now    func() time.Time
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if a.Logger != nil {
		return a.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// fail maps domain errors onto HTTP responses. Unknown errors are logged and
// reported as internal without leaking details.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedRail):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrRecipientMismatch):
		a.error(w, http.StatusUnprocessableEntity, "recipient_mismatch", "transfer was not sent to this project's wallet")
	case errors.Is(err, domain.ErrPaymentFailed):
		a.error(w, http.StatusUnprocessableEntity, "payment_failed", "the payment failed on its rail")
	case errors.Is(err, domain.ErrDuplicateReference):
		a.error(w, http.StatusConflict, "duplicate_reference", "this payment is already recorded for another donation")
	case errors.Is(err, domain.ErrStaleTransition):
		a.error(w, http.StatusConflict, "conflict", "donation was updated concurrently")
	case errors.Is(err, domain.ErrRailUnavailable):
		a.error(w, http.StatusServiceUnavailable, "rail_unavailable", "payment rail temporarily unavailable")
	default:
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("handlers: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}
