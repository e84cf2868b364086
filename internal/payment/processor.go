package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
	"crowdfund/internal/infra"
)

// ProcessorOptions controls how the card processor client is configured.
type ProcessorOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// ProcessorClient talks to the card processor's checkout session API.
type ProcessorClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// CheckoutSession mirrors the processor's checkout session object.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// CheckoutRequest describes a card donation to start.
type CheckoutRequest struct {
	ProjectID    string
	ProjectTitle string
	DonorID      string
	Amount       decimal.Decimal
	Currency     string
	SuccessURL   string
	CancelURL    string
	// ExpiresAt bounds how long the hosted page accepts payment.
	ExpiresAt time.Time
}

type processorErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewProcessorClient(opts ProcessorOptions) (*ProcessorClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("payment: processor api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &ProcessorClient{apiKey: apiKey, baseURL: baseURL, httpClient: client, logger: logger}, nil
}

// CreateCheckoutSession opens a hosted checkout for a single donation line.
// The donor and project travel in session metadata so the webhook can
// attribute the payment.
func (c *ProcessorClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if strings.TrimSpace(req.ProjectID) == "" || strings.TrimSpace(req.DonorID) == "" {
		return nil, fmt.Errorf("%w: project and donor are required", domain.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	minor, cur, err := ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.ProjectTitle)
	if name == "" {
		name = "Project Donation"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(cur))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(minor, 10))
	form.Set("line_items[0][price_data][product_data][name]", name)
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", req.DonorID)
	form.Set("metadata[project_id]", req.ProjectID)
	form.Set("metadata[user_id]", req.DonorID)
	if !req.ExpiresAt.IsZero() {
		form.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}

	var out CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("session", out.ID).
		Str("project", req.ProjectID).
		Int64("amount_minor", minor).
		Str("currency", cur).
		Msg("payment: checkout session created")
	return &out, nil
}

// GetCheckoutSession fetches the processor's current view of a session.
func (c *ProcessorClient) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidInput)
	}
	var out CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ProcessorClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRailUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr processorErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return processorStatusError(resp.StatusCode, apiErr.Error.Message)
		}
		return processorStatusError(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode processor response: %w", err)
	}
	return nil
}

func processorStatusError(status int, msg string) error {
	base := domain.ErrRailUnavailable
	if status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		base = domain.ErrInvalidInput
	}
	if msg == "" {
		return fmt.Errorf("%w: processor status %d", base, status)
	}
	return fmt.Errorf("%w: processor status %d: %s", base, status, msg)
}

// event turns a session into a verified event. The outcome reflects the
// session's own payment status; webhook types may override it.
func (s CheckoutSession) event(occurred time.Time) (*domain.VerifiedEvent, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: session id missing", domain.ErrInvalidInput)
	}
	projectID := firstNonEmpty(s.Metadata["project_id"], s.Metadata["projectId"])
	donorID := firstNonEmpty(s.Metadata["user_id"], s.Metadata["userId"], s.ClientReferenceID)
	if projectID == "" || donorID == "" {
		return nil, fmt.Errorf("%w: session %s lacks project or user metadata", domain.ErrInvalidInput, s.ID)
	}
	amount, cur, err := FromMinorUnits(s.AmountTotal, s.Currency)
	if err != nil {
		return nil, err
	}
	if occurred.IsZero() && s.Created > 0 {
		occurred = time.Unix(s.Created, 0).UTC()
	}

	ev := &domain.VerifiedEvent{
		Rail:        domain.RailCard,
		ExternalRef: s.ID,
		Outcome:     domain.OutcomePending,
		ProjectID:   projectID,
		DonorID:     donorID,
		Amount:      amount,
		Currency:    cur,
		OccurredAt:  occurred,
		Metadata:    map[string]string{},
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		ev.Payer = s.CustomerDetails.Email
	}
	switch {
	case s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required":
		ev.Outcome = domain.OutcomeSucceeded
	case s.Status == "expired":
		ev.Outcome, ev.Reason = domain.OutcomeFailed, domain.ReasonExpired
	}
	return ev, nil
}

// SessionFetcher is the read side of the processor API.
type SessionFetcher interface {
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// CardVerifier re-checks a checkout session against the processor.
type CardVerifier struct {
	sessions SessionFetcher
}

func NewCardVerifier(sessions SessionFetcher) *CardVerifier {
	return &CardVerifier{sessions: sessions}
}

func (v *CardVerifier) VerifyReference(ctx context.Context, ref string) (*domain.VerifiedEvent, error) {
	s, err := v.sessions.GetCheckoutSession(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	ev, err := s.event(time.Time{})
	if err != nil {
		return nil, err
	}
	return settle(ev)
}

// settle maps an event outcome onto the reference-verification contract.
func settle(ev *domain.VerifiedEvent) (*domain.VerifiedEvent, error) {
	switch ev.Outcome {
	case domain.OutcomePending:
		return ev, domain.ErrNotYetFinal
	case domain.OutcomeFailed:
		return ev, domain.ErrPaymentFailed
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
