package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crowdfund/internal/domain"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds the age of a signed webhook timestamp.
const DefaultTolerance = 300 * time.Second

const (
	EventSessionCompleted      = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventSessionExpired        = "checkout.session.expired"
)

// PushVerifier authenticates processor webhooks. Several secrets may be
// active at once while one is being rotated out.
type PushVerifier struct {
	secrets   [][]byte
	tolerance time.Duration
}

func NewPushVerifier(tolerance time.Duration, secrets ...string) (*PushVerifier, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	v := &PushVerifier{tolerance: tolerance}
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			v.secrets = append(v.secrets, []byte(s))
		}
	}
	if len(v.secrets) == 0 {
		return nil, fmt.Errorf("payment: webhook secret is required")
	}
	return v, nil
}

// VerifyPush checks the signature over the exact raw body and only then
// parses the event.
func (v *PushVerifier) VerifyPush(raw []byte, header string, now time.Time) (*domain.VerifiedEvent, error) {
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}
	if !v.matches(ts, raw, sigs) {
		return nil, fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
	}
	return parseEvent(raw)
}

func (v *PushVerifier) matches(ts int64, raw []byte, sigs [][]byte) bool {
	for _, secret := range v.secrets {
		expected := Sign(secret, ts, raw)
		for _, sig := range sigs {
			if hmac.Equal(expected, sig) {
				return true
			}
		}
	}
	return false
}

// Sign computes the v1 signature for a payload at the given timestamp.
func Sign(secret []byte, ts int64, raw []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(raw)
	return mac.Sum(nil)
}

// SignatureHeaderValue builds a header value for the given payload.
func SignatureHeaderValue(secret string, ts int64, raw []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(Sign([]byte(secret), ts, raw)))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		ts    int64
		hasTS bool
		sigs  [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
			}
			ts, hasTS = n, true
		case "v1":
			b, err := hex.DecodeString(val)
			if err != nil {
				continue
			}
			sigs = append(sigs, b)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	return ts, sigs, nil
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func parseEvent(raw []byte) (*domain.VerifiedEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: event body: %v", domain.ErrInvalidInput, err)
	}
	switch env.Type {
	case EventSessionCompleted, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed, EventSessionExpired:
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedEvent, env.Type)
	}

	var s CheckoutSession
	if err := json.Unmarshal(env.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: session object: %v", domain.ErrInvalidInput, err)
	}
	occurred := time.Unix(env.Created, 0).UTC()
	ev, err := s.event(occurred)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case EventAsyncPaymentSucceeded:
		ev.Outcome = domain.OutcomeSucceeded
	case EventAsyncPaymentFailed:
		ev.Outcome, ev.Reason = domain.OutcomeFailed, domain.ReasonRailFailure
	case EventSessionExpired:
		ev.Outcome, ev.Reason = domain.OutcomeFailed, domain.ReasonExpired
	}
	if env.ID != "" {
		ev.Metadata["event_id"] = env.ID
	}
	return ev, nil
}
