package handlers

import (
	"errors"
	"io"
	"net/http"

	"crowdfund/internal/domain"
	"crowdfund/internal/payment"
)

const maxWebhookBody = 1 << 20

// CardWebhook consumes processor notifications. The body is read raw and
// verified before parsing. Ledger outcomes that only mean "already handled"
// are acknowledged so the processor stops redelivering; anything not yet
// recorded answers 5xx so it retries.
func (a *App) CardWebhook(w http.ResponseWriter, r *http.Request) {
	if a.Push == nil {
		a.fail(w, r, domain.ErrRailUnavailable)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "bad_request", "payload too large")
		return
	}

	ev, err := a.Push.VerifyPush(raw, r.Header.Get(payment.SignatureHeader), a.now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidSignature):
		a.log(r).Warn().Err(err).Msg("handlers: webhook signature rejected")
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	case errors.Is(err, domain.ErrUnsupportedEvent):
		a.json(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	case errors.Is(err, domain.ErrRailUnavailable):
		a.fail(w, r, err)
		return
	default:
		a.log(r).Warn().Err(err).Msg("handlers: webhook payload rejected")
		a.error(w, http.StatusBadRequest, "bad_request", "unprocessable event")
		return
	}

	if ev.Outcome == domain.OutcomeSucceeded && a.Recheck != nil {
		checked, err := a.Recheck.VerifyReference(r.Context(), ev.Rail, ev.ExternalRef)
		switch {
		case err == nil:
			ev.Amount, ev.Currency = checked.Amount, checked.Currency
		case errors.Is(err, domain.ErrNotYetFinal):
			ev.Outcome = domain.OutcomePending
		default:
			// Let the processor redeliver; nothing has been written yet.
			a.log(r).Warn().Err(err).Str("session", ev.ExternalRef).Msg("handlers: webhook recheck failed")
			a.error(w, http.StatusServiceUnavailable, "recheck_failed", "could not confirm payment")
			return
		}
	}

	rec, err := a.Recorder.Apply(r.Context(), *ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleTransition), errors.Is(err, domain.ErrDuplicateReference):
		a.log(r).Warn().Err(err).Str("donation", ev.Key().String()).Msg("handlers: webhook for a settled donation")
		a.json(w, http.StatusOK, map[string]any{"received": true})
		return
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		// A real payment that cannot be recorded is refused so the processor
		// keeps redelivering it until an operator fixes the cause.
		a.log(r).Error().Err(err).Str("donation", ev.Key().String()).Msg("handlers: verified payment cannot be attributed")
		a.error(w, http.StatusServiceUnavailable, "unattributed_payment", "payment could not be recorded")
		return
	default:
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"received": true, "status": rec.Status})
}
