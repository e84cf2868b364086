package payment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"crowdfund/internal/domain"
)

const testSecret = "whsec_test"

func sessionEvent(eventType, paymentStatus, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": %q,
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_test_1",
			"amount_total": 5000,
			"currency": "usd",
			"payment_status": %q,
			"status": %q,
			"metadata": {"project_id": "p1", "user_id": "u1"}
		}}
	}`, eventType, paymentStatus, status))
}

func newTestPushVerifier(t *testing.T, secrets ...string) *PushVerifier {
	t.Helper()
	if len(secrets) == 0 {
		secrets = []string{testSecret}
	}
	v, err := NewPushVerifier(0, secrets...)
	if err != nil {
		t.Fatalf("NewPushVerifier: %v", err)
	}
	return v
}

func TestVerifyPushCompletedPaid(t *testing.T) {
	v := newTestPushVerifier(t)
	now := time.Unix(1700000100, 0)
	raw := sessionEvent(EventSessionCompleted, "paid", "complete")
	header := SignatureHeaderValue(testSecret, now.Unix(), raw)

	ev, err := v.VerifyPush(raw, header, now)
	if err != nil {
		t.Fatalf("VerifyPush: %v", err)
	}
	if ev.Rail != domain.RailCard || ev.ExternalRef != "cs_test_1" {
		t.Fatalf("key = %s, want CARD:cs_test_1", ev.Key())
	}
	if ev.Outcome != domain.OutcomeSucceeded {
		t.Fatalf("outcome = %s, want succeeded", ev.Outcome)
	}
	if ev.Amount.String() != "50" || ev.Currency != "USD" {
		t.Fatalf("amount = %s %s, want 50 USD", ev.Amount, ev.Currency)
	}
	if ev.ProjectID != "p1" || ev.DonorID != "u1" {
		t.Fatalf("attribution = %s/%s", ev.ProjectID, ev.DonorID)
	}
	if ev.Metadata["event_id"] != "evt_1" {
		t.Fatalf("event id not carried: %v", ev.Metadata)
	}
}

func TestVerifyPushOutcomes(t *testing.T) {
	cases := []struct {
		eventType     string
		paymentStatus string
		status        string
		want          domain.EventOutcome
		reason        string
	}{
		{EventSessionCompleted, "unpaid", "complete", domain.OutcomePending, ""},
		{EventAsyncPaymentSucceeded, "paid", "complete", domain.OutcomeSucceeded, ""},
		{EventAsyncPaymentFailed, "unpaid", "complete", domain.OutcomeFailed, domain.ReasonRailFailure},
		{EventSessionExpired, "unpaid", "expired", domain.OutcomeFailed, domain.ReasonExpired},
	}
	v := newTestPushVerifier(t)
	now := time.Unix(1700000000, 0)
	for _, tc := range cases {
		t.Run(tc.eventType+"/"+tc.paymentStatus, func(t *testing.T) {
			raw := sessionEvent(tc.eventType, tc.paymentStatus, tc.status)
			ev, err := v.VerifyPush(raw, SignatureHeaderValue(testSecret, now.Unix(), raw), now)
			if err != nil {
				t.Fatalf("VerifyPush: %v", err)
			}
			if ev.Outcome != tc.want || ev.Reason != tc.reason {
				t.Fatalf("outcome = %s/%q, want %s/%q", ev.Outcome, ev.Reason, tc.want, tc.reason)
			}
		})
	}
}

func TestVerifyPushRejectsTampering(t *testing.T) {
	v := newTestPushVerifier(t)
	now := time.Unix(1700000000, 0)
	raw := sessionEvent(EventSessionCompleted, "paid", "complete")
	header := SignatureHeaderValue(testSecret, now.Unix(), raw)

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-3] = ' '
	if _, err := v.VerifyPush(tampered, header, now); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("tampered body err = %v, want ErrInvalidSignature", err)
	}
	if _, err := v.VerifyPush(raw, SignatureHeaderValue("other", now.Unix(), raw), now); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("wrong secret err = %v, want ErrInvalidSignature", err)
	}
	if _, err := v.VerifyPush(raw, "garbage", now); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("malformed header err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyPushTolerance(t *testing.T) {
	v := newTestPushVerifier(t)
	signedAt := time.Unix(1700000000, 0)
	raw := sessionEvent(EventSessionCompleted, "paid", "complete")
	header := SignatureHeaderValue(testSecret, signedAt.Unix(), raw)

	if _, err := v.VerifyPush(raw, header, signedAt.Add(DefaultTolerance)); err != nil {
		t.Fatalf("at the edge of tolerance: %v", err)
	}
	if _, err := v.VerifyPush(raw, header, signedAt.Add(DefaultTolerance+time.Second)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("replayed header err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyPushRotatedSecrets(t *testing.T) {
	v := newTestPushVerifier(t, "old_secret", "new_secret")
	now := time.Unix(1700000000, 0)
	raw := sessionEvent(EventSessionCompleted, "paid", "complete")
	header := SignatureHeaderValue("unknown", now.Unix(), raw) + ",v1=" + fmt.Sprintf("%x", Sign([]byte("new_secret"), now.Unix(), raw))

	if _, err := v.VerifyPush(raw, header, now); err != nil {
		t.Fatalf("second signature should match rotated secret: %v", err)
	}
}

func TestVerifyPushUnsupportedEvent(t *testing.T) {
	v := newTestPushVerifier(t)
	now := time.Unix(1700000000, 0)
	raw := []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`)
	_, err := v.VerifyPush(raw, SignatureHeaderValue(testSecret, now.Unix(), raw), now)
	if !errors.Is(err, domain.ErrUnsupportedEvent) {
		t.Fatalf("err = %v, want ErrUnsupportedEvent", err)
	}
}

func TestVerifyPushRequiresAttribution(t *testing.T) {
	v := newTestPushVerifier(t)
	now := time.Unix(1700000000, 0)
	raw := []byte(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_2","amount_total":100,"currency":"usd","payment_status":"paid","metadata":{}}}}`)
	_, err := v.VerifyPush(raw, SignatureHeaderValue(testSecret, now.Unix(), raw), now)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestNewPushVerifierRequiresSecret(t *testing.T) {
	if _, err := NewPushVerifier(0, " ", ""); err == nil {
		t.Fatalf("expected error without secrets")
	}
}
