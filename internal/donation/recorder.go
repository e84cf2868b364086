package donation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
	"crowdfund/internal/payment"
)

// ProjectLookup resolves the project a donation targets.
type ProjectLookup interface {
	Get(ctx context.Context, id string) (*domain.Project, error)
}

// ReferenceVerifier re-checks a payment reference against its rail.
type ReferenceVerifier interface {
	VerifyReference(ctx context.Context, rail domain.Rail, ref string) (*domain.VerifiedEvent, error)
}

// Recorder applies verified payments to the ledger exactly once. Each
// transition is a conditional update on the record's expected status, so
// concurrent callers touching the same reference are linearized by the store.
type Recorder struct {
	ledger   domain.LedgerStore
	projects ProjectLookup
	verifier ReferenceVerifier
	logger   *infra.Logger
	now      func() time.Time
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(ledger domain.LedgerStore, projects ProjectLookup, verifier ReferenceVerifier, logger *infra.Logger, opts ...Option) *Recorder {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	r := &Recorder{ledger: ledger, projects: projects, verifier: verifier, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PendingInput describes a payment that has been initiated but not settled.
type PendingInput struct {
	ProjectID   string
	DonorID     string
	Amount      decimal.Decimal
	Currency    string
	Rail        domain.Rail
	ExternalRef string
	Metadata    map[string]string
}

// RecordPending inserts a PENDING record. When the reference was already
// recorded it returns the stored record together with
// domain.ErrDuplicateReference, which callers treat as success.
func (r *Recorder) RecordPending(ctx context.Context, in PendingInput) (*domain.DonationRecord, error) {
	rec, err := r.newRecord(ctx, in)
	if err != nil {
		return nil, err
	}
	stored, created, err := r.ledger.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record pending %s: %w", rec.Key(), err)
	}
	if !created {
		return stored, fmt.Errorf("%w: %s", domain.ErrDuplicateReference, rec.Key())
	}
	r.logger.Info().
		Str("donation", stored.Key().String()).
		Str("project", stored.ProjectID).
		Str("amount", stored.Amount.String()).
		Str("currency", stored.Currency).
		Msg("donation: recorded pending")
	return stored, nil
}

func (r *Recorder) newRecord(ctx context.Context, in PendingInput) (*domain.DonationRecord, error) {
	ref := strings.TrimSpace(in.ExternalRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: external reference is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.DonorID) == "" {
		return nil, fmt.Errorf("%w: donor is required", domain.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	cur, err := railCurrency(in.Rail, in.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := r.projects.Get(ctx, in.ProjectID); err != nil {
		return nil, err
	}
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return &domain.DonationRecord{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		DonorID:     strings.TrimSpace(in.DonorID),
		Amount:      in.Amount,
		Currency:    cur,
		Rail:        in.Rail,
		ExternalRef: ref,
		Status:      domain.DonationPending,
		Metadata:    meta,
		CreatedAt:   r.now().UTC(),
	}, nil
}

func railCurrency(rail domain.Rail, code string) (string, error) {
	switch rail {
	case domain.RailCard:
		return payment.NormalizeCurrency(code)
	case domain.RailChainTransfer:
		if c := strings.ToUpper(strings.TrimSpace(code)); c != "" && c != payment.ChainCurrency {
			return "", fmt.Errorf("%w: chain transfers are denominated in %s", domain.ErrInvalidInput, payment.ChainCurrency)
		}
		return payment.ChainCurrency, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedRail, rail)
}

// Confirm moves a PENDING record to CONFIRMED and credits the project total.
// Confirming a record that is already CONFIRMED returns it unchanged.
func (r *Recorder) Confirm(ctx context.Context, key domain.DonationKey) (*domain.DonationRecord, error) {
	rec, err := r.ledger.Transition(ctx, key, domain.DonationPending, domain.DonationConfirmed, domain.DeltaCredit, "")
	if err == nil {
		r.logger.Info().
			Str("donation", key.String()).
			Str("project", rec.ProjectID).
			Str("amount", rec.Amount.String()).
			Str("currency", rec.Currency).
			Msg("donation: confirmed")
		return rec, nil
	}
	return r.settleStale(ctx, key, domain.DonationConfirmed, err)
}

// Void cancels a PENDING or CONFIRMED record. Voiding a CONFIRMED record
// debits the project total by the record's amount. Voiding an already
// VOIDED record returns it unchanged.
func (r *Recorder) Void(ctx context.Context, key domain.DonationKey, reason string) (*domain.DonationRecord, error) {
	current, err := r.ledger.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	delta := domain.DeltaNone
	switch current.Status {
	case domain.DonationVoided:
		return current, nil
	case domain.DonationConfirmed:
		delta = domain.DeltaDebit
	case domain.DonationPending:
	default:
		return current, fmt.Errorf("%w: %s is %s", domain.ErrStaleTransition, key, current.Status)
	}
	if reason == "" {
		reason = domain.ReasonManual
	}
	rec, err := r.ledger.Transition(ctx, key, current.Status, domain.DonationVoided, delta, reason)
	if err == nil {
		r.logger.Info().
			Str("donation", key.String()).
			Str("from", string(current.Status)).
			Str("reason", reason).
			Msg("donation: voided")
		return rec, nil
	}
	return r.settleStale(ctx, key, domain.DonationVoided, err)
}

// Fail marks a PENDING record FAILED. Used when the rail reports that a
// payment never went through; the project total is untouched.
func (r *Recorder) Fail(ctx context.Context, key domain.DonationKey, reason string) (*domain.DonationRecord, error) {
	if reason == "" {
		reason = domain.ReasonRailFailure
	}
	rec, err := r.ledger.Transition(ctx, key, domain.DonationPending, domain.DonationFailed, domain.DeltaNone, reason)
	if err == nil {
		r.logger.Info().Str("donation", key.String()).Str("reason", reason).Msg("donation: failed")
		return rec, nil
	}
	return r.settleStale(ctx, key, domain.DonationFailed, err)
}

// settleStale re-reads a record after a lost transition. Finding it already
// in the target state makes the call an idempotent success.
func (r *Recorder) settleStale(ctx context.Context, key domain.DonationKey, target domain.DonationStatus, err error) (*domain.DonationRecord, error) {
	if !errors.Is(err, domain.ErrStaleTransition) {
		return nil, err
	}
	current, findErr := r.ledger.FindByKey(ctx, key)
	if findErr != nil {
		return nil, findErr
	}
	if current.Status == target {
		return current, nil
	}
	r.logger.Warn().
		Str("donation", key.String()).
		Str("status", string(current.Status)).
		Str("wanted", string(target)).
		Msg("donation: transition lost to a concurrent update")
	return current, fmt.Errorf("%w: %s is %s", domain.ErrStaleTransition, key, current.Status)
}

// Apply commits a verified event. Pending events record the payment,
// successful events record and confirm it, and failed events void a known
// payment or keep an audit record of an unknown one as FAILED.
func (r *Recorder) Apply(ctx context.Context, ev domain.VerifiedEvent) (*domain.DonationRecord, error) {
	rec, err := r.RecordPending(ctx, PendingInput{
		ProjectID:   ev.ProjectID,
		DonorID:     ev.DonorID,
		Amount:      ev.Amount,
		Currency:    ev.Currency,
		Rail:        ev.Rail,
		ExternalRef: ev.ExternalRef,
		Metadata:    eventMetadata(ev),
	})
	created := err == nil
	if err != nil && !errors.Is(err, domain.ErrDuplicateReference) {
		return nil, err
	}

	switch ev.Outcome {
	case domain.OutcomeSucceeded:
		return r.Settle(ctx, ev.Key(), ev)
	case domain.OutcomeFailed:
		if created {
			return r.Fail(ctx, ev.Key(), ev.Reason)
		}
		if rec.Status != domain.DonationPending {
			// A late failure notice never reverses a settled payment; refunds go through Void.
			return rec, nil
		}
		return r.Void(ctx, ev.Key(), ev.Reason)
	}
	return rec, nil
}

// Settle applies a succeeded verdict to a record. A PENDING record whose
// terms disagree with the verified transfer (amount, currency, or for chain
// transfers the receiving wallet) is VOIDED with the mismatch as reason and
// credits nothing; otherwise the record is confirmed.
func (r *Recorder) Settle(ctx context.Context, key domain.DonationKey, ev domain.VerifiedEvent) (*domain.DonationRecord, error) {
	current, err := r.ledger.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.DonationPending {
		return r.Confirm(ctx, key)
	}
	reason, err := r.termsMismatch(ctx, current, ev)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return r.Confirm(ctx, key)
	}
	r.logger.Error().
		Str("donation", key.String()).
		Str("recorded", current.Amount.String()+" "+current.Currency).
		Str("settled", ev.Amount.String()+" "+ev.Currency).
		Str("recipient", ev.Recipient).
		Str("reason", reason).
		Msg("donation: verified transfer does not match the record")
	return r.Void(ctx, key, reason)
}

func (r *Recorder) termsMismatch(ctx context.Context, rec *domain.DonationRecord, ev domain.VerifiedEvent) (string, error) {
	if !ev.Amount.Equal(rec.Amount) || !strings.EqualFold(ev.Currency, rec.Currency) {
		return domain.ReasonAmountMismatch, nil
	}
	if rec.Rail != domain.RailChainTransfer {
		return "", nil
	}
	project, err := r.projects.Get(ctx, rec.ProjectID)
	if err != nil {
		return "", err
	}
	if ev.Recipient != project.WalletAddress {
		return domain.ReasonRecipientMismatch, nil
	}
	return "", nil
}

func eventMetadata(ev domain.VerifiedEvent) map[string]string {
	meta := make(map[string]string, len(ev.Metadata)+2)
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	if ev.Payer != "" {
		meta["payer"] = ev.Payer
	}
	if ev.Recipient != "" {
		meta["recipient"] = ev.Recipient
	}
	return meta
}

// ChainSubmission is a client-submitted chain transfer. Amount is what the
// client says it sent; it is only used while the rail cannot show the
// transfer yet and is checked against the rail before anything is credited.
type ChainSubmission struct {
	ProjectID string
	DonorID   string
	Signature string
	Amount    decimal.Decimal
	Metadata  map[string]string
}

// SubmitChainTransfer verifies a client-submitted signature and records it.
// The returned record is CONFIRMED when the transfer is already final and
// PENDING otherwise; the reconciliation poller settles the rest. A transfer
// the rail knows of but cannot describe yet is recorded PENDING under the
// declared amount.
func (r *Recorder) SubmitChainTransfer(ctx context.Context, sub ChainSubmission) (*domain.DonationRecord, error) {
	project, err := r.projects.Get(ctx, sub.ProjectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(project.WalletAddress) == "" {
		return nil, fmt.Errorf("%w: project %s does not accept chain transfers", domain.ErrInvalidInput, project.ID)
	}
	if r.verifier == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRailUnavailable, domain.RailChainTransfer)
	}
	sig := strings.TrimSpace(sub.Signature)

	ev, err := r.verifier.VerifyReference(ctx, domain.RailChainTransfer, sig)
	final := err == nil
	switch {
	case err == nil, errors.Is(err, domain.ErrNotYetFinal):
	default:
		return nil, err
	}
	if ev == nil {
		ev = &domain.VerifiedEvent{Rail: domain.RailChainTransfer, ExternalRef: sig, Outcome: domain.OutcomePending}
	}

	amount := ev.Amount
	meta := eventMetadata(*ev)
	switch {
	case ev.Recipient == "":
		// Only a not-yet-final transfer can lack details.
		if !sub.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: amount is required while the transfer is not yet visible", domain.ErrInvalidInput)
		}
		amount = sub.Amount
		meta["amount_source"] = "declared"
	case ev.Recipient != project.WalletAddress:
		return nil, fmt.Errorf("%w: sent to %s", domain.ErrRecipientMismatch, ev.Recipient)
	}
	for k, v := range sub.Metadata {
		meta[k] = v
	}

	rec, err := r.RecordPending(ctx, PendingInput{
		ProjectID:   project.ID,
		DonorID:     sub.DonorID,
		Amount:      amount,
		Currency:    payment.ChainCurrency,
		Rail:        domain.RailChainTransfer,
		ExternalRef: sig,
		Metadata:    meta,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateReference) {
			return nil, err
		}
		if rec.ProjectID != project.ID || rec.DonorID != strings.TrimSpace(sub.DonorID) {
			return nil, err
		}
	}
	if !final {
		return rec, nil
	}
	return r.Settle(ctx, rec.Key(), *ev)
}
