package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestProcessor(t *testing.T, fn roundTripFunc) *ProcessorClient {
	t.Helper()
	c, err := NewProcessorClient(ProcessorOptions{
		APIKey:     "sk_test",
		BaseURL:    "https://processor.test",
		HTTPClient: &http.Client{Transport: fn},
	})
	if err != nil {
		t.Fatalf("NewProcessorClient: %v", err)
	}
	return c
}

func TestCreateCheckoutSessionEncodesMinorUnits(t *testing.T) {
	var form url.Values
	c := newTestProcessor(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Fatalf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		return jsonResponse(http.StatusOK, `{"id":"cs_new","url":"https://pay.test/cs_new"}`), nil
	})

	s, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ProjectID:  "p1",
		DonorID:    "u1",
		Amount:     decimal.RequireFromString("12.50"),
		Currency:   "usd",
		SuccessURL: "https://app.test/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.test/projects/p1",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if s.ID != "cs_new" || s.URL == "" {
		t.Fatalf("session = %+v", s)
	}
	if got := form.Get("line_items[0][price_data][unit_amount]"); got != "1250" {
		t.Fatalf("unit_amount = %q, want 1250", got)
	}
	if got := form.Get("line_items[0][price_data][currency]"); got != "usd" {
		t.Fatalf("currency = %q, want usd", got)
	}
	if form.Get("metadata[project_id]") != "p1" || form.Get("metadata[user_id]") != "u1" {
		t.Fatalf("metadata not set: %v", form)
	}
}

func TestCreateCheckoutSessionValidates(t *testing.T) {
	c := newTestProcessor(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutRequest{ProjectID: "p1", DonorID: "u1", Amount: decimal.Zero, Currency: "USD"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCardVerifierReference(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
		outcome domain.EventOutcome
	}{
		{"paid", 200, `{"id":"cs_1","status":"complete","payment_status":"paid","amount_total":2500,"currency":"usd","metadata":{"project_id":"p1","user_id":"u1"}}`, nil, domain.OutcomeSucceeded},
		{"open", 200, `{"id":"cs_1","status":"open","payment_status":"unpaid","amount_total":2500,"currency":"usd","metadata":{"project_id":"p1","user_id":"u1"}}`, domain.ErrNotYetFinal, domain.OutcomePending},
		{"expired", 200, `{"id":"cs_1","status":"expired","payment_status":"unpaid","amount_total":2500,"currency":"usd","metadata":{"project_id":"p1","user_id":"u1"}}`, domain.ErrPaymentFailed, domain.OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestProcessor(t, func(r *http.Request) (*http.Response, error) {
				if r.URL.Path != "/v1/checkout/sessions/cs_1" {
					t.Fatalf("path = %s", r.URL.Path)
				}
				return jsonResponse(tc.status, tc.body), nil
			})
			ev, err := NewCardVerifier(c).VerifyReference(context.Background(), "cs_1")
			if !errors.Is(err, tc.wantErr) && !(err == nil && tc.wantErr == nil) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if ev == nil || ev.Outcome != tc.outcome {
				t.Fatalf("event = %+v, want outcome %s", ev, tc.outcome)
			}
			if ev.Amount.String() != "25" {
				t.Fatalf("amount = %s, want 25", ev.Amount)
			}
		})
	}
}

func TestCardVerifierErrors(t *testing.T) {
	c := newTestProcessor(t, func(r *http.Request) (*http.Response, error) {
		switch r.URL.Path {
		case "/v1/checkout/sessions/missing":
			return jsonResponse(http.StatusNotFound, `{"error":{"message":"No such checkout session"}}`), nil
		default:
			return jsonResponse(http.StatusServiceUnavailable, `{"error":{"message":"try later"}}`), nil
		}
	})
	v := NewCardVerifier(c)
	if _, err := v.VerifyReference(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
	_, err := v.VerifyReference(context.Background(), "busy")
	if !errors.Is(err, domain.ErrRailUnavailable) {
		t.Fatalf("outage err = %v, want ErrRailUnavailable", err)
	}
}
