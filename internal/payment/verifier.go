package payment

import (
	"context"
	"fmt"
	"time"

	"crowdfund/internal/domain"
)

// ReferenceVerifier re-checks one rail's payment reference at the source of
// truth. Implementations return:
//
//	(event, nil)               the payment is final and succeeded
//	(event, ErrNotYetFinal)    the payment exists but is not final
//	(event, ErrPaymentFailed)  the rail reports a failure
//	(nil, ErrNotFound)         the rail does not know the reference
//
// Any other error is transient.
type ReferenceVerifier interface {
	VerifyReference(ctx context.Context, ref string) (*domain.VerifiedEvent, error)
}

// Verifier is the single entry point for authenticating payment evidence
// from every rail.
type Verifier struct {
	push  *PushVerifier
	rails map[domain.Rail]ReferenceVerifier
}

func NewVerifier(push *PushVerifier) *Verifier {
	return &Verifier{push: push, rails: map[domain.Rail]ReferenceVerifier{}}
}

// WithRail registers the reference verifier for a rail.
func (v *Verifier) WithRail(rail domain.Rail, rv ReferenceVerifier) *Verifier {
	if rv != nil {
		v.rails[rail] = rv
	}
	return v
}

func (v *Verifier) VerifyPush(raw []byte, header string, now time.Time) (*domain.VerifiedEvent, error) {
	if v.push == nil {
		return nil, fmt.Errorf("%w: webhook secret not configured", domain.ErrRailUnavailable)
	}
	return v.push.VerifyPush(raw, header, now)
}

func (v *Verifier) VerifyReference(ctx context.Context, rail domain.Rail, ref string) (*domain.VerifiedEvent, error) {
	rv, ok := v.rails[rail]
	if !ok {
		if _, err := domain.ParseRail(string(rail)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrRailUnavailable, rail)
	}
	return rv.VerifyReference(ctx, ref)
}
