package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/donation"
	"crowdfund/internal/middleware"
	"crowdfund/internal/payment"
)

type donationView struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Rail        domain.Rail     `json:"rail"`
	ExternalRef string          `json:"external_ref"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	// Processing is true while the payment awaits finality. Clients must not
	// show success until it is false and status is CONFIRMED.
	Processing  bool       `json:"processing"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func toDonationView(d domain.DonationRecord) donationView {
	return donationView{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Rail:        d.Rail,
		ExternalRef: d.ExternalRef,
		Status:      string(d.Status),
		Reason:      d.Reason,
		Processing:  d.Status == domain.DonationPending,
		CreatedAt:   d.CreatedAt,
		FinalizedAt: d.FinalizedAt,
	}
}

func requestMetadata(r *http.Request) map[string]string {
	meta := map[string]string{}
	if c := middleware.CountryFromContext(r.Context()); c != "" {
		meta["country"] = c
	}
	if rid := middleware.RequestIDFromContext(r.Context()); rid != "" {
		meta["request_id"] = rid
	}
	return meta
}

type checkoutRequest struct {
	ProjectID string          `json:"project_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// DonationsCheckout opens a card checkout and records it as PENDING so that
// abandoned sessions are reconciled too.
func (a *App) DonationsCheckout(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	if a.Checkout == nil {
		a.fail(w, r, domain.ErrRailUnavailable)
		return
	}
	var req checkoutRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if !req.Amount.IsPositive() {
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	p, err := a.Projects.Get(r.Context(), req.ProjectID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Currency == "" {
		req.Currency = p.Currency
	}

	expiry := a.CheckoutExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	session, err := a.Checkout.CreateCheckoutSession(r.Context(), payment.CheckoutRequest{
		ProjectID:    p.ID,
		ProjectTitle: p.Title,
		DonorID:      userID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		SuccessURL:   a.PublicURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:    a.PublicURL + "/projects/" + url.PathEscape(p.ID),
		ExpiresAt:    a.now().Add(expiry),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	rec, err := a.Recorder.RecordPending(r.Context(), donation.PendingInput{
		ProjectID:   p.ID,
		DonorID:     userID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Rail:        domain.RailCard,
		ExternalRef: session.ID,
		Metadata:    requestMetadata(r),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateReference) {
		// The webhook path records the payment on its own if this write is lost.
		a.log(r).Warn().Err(err).Str("session", session.ID).Msg("handlers: could not pre-record checkout")
	}
	resp := map[string]any{"session_id": session.ID, "url": session.URL}
	if rec != nil {
		resp["donation"] = toDonationView(*rec)
	}
	a.json(w, http.StatusCreated, resp)
}

type chainRequest struct {
	ProjectID string          `json:"project_id"`
	Signature string          `json:"signature"`
	Amount    decimal.Decimal `json:"amount"`
}

// DonationsChain accepts a client-submitted chain transfer signature and the
// amount the client sent. A confirmed transfer answers 201, one still
// awaiting finality 202.
func (a *App) DonationsChain(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	var req chainRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	sig := strings.TrimSpace(req.Signature)
	if sig == "" || strings.TrimSpace(req.ProjectID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "project_id and signature are required")
		return
	}

	rec, err := a.Recorder.SubmitChainTransfer(r.Context(), donation.ChainSubmission{
		ProjectID: req.ProjectID,
		DonorID:   userID,
		Signature: sig,
		Amount:    req.Amount,
		Metadata:  requestMetadata(r),
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotYetFinal) {
			a.json(w, http.StatusAccepted, map[string]any{"status": "PROCESSING", "processing": true, "retry": true})
			return
		}
		a.fail(w, r, err)
		return
	}
	code := http.StatusAccepted
	switch rec.Status {
	case domain.DonationConfirmed:
		code = http.StatusCreated
	case domain.DonationVoided:
		// The transfer settled on terms other than the ones recorded.
		code = http.StatusUnprocessableEntity
	}
	a.json(w, code, toDonationView(*rec))
}

func (a *App) DonationsMine(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	items, err := a.Donations.ListByDonor(r.Context(), userID, 100)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]donationView, 0, len(items))
	for _, d := range items {
		out = append(out, toDonationView(d))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

// DonationStatus serves the post-payment page. Donations belonging to other
// users are reported as missing.
func (a *App) DonationStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	rail, err := domain.ParseRail(chi.URLParam(r, "rail"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rec, err := a.Donations.FindByKey(r.Context(), domain.DonationKey{Rail: rail, ExternalRef: chi.URLParam(r, "ref")})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if rec.DonorID != userID {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, toDonationView(*rec))
}
