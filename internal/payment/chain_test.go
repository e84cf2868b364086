package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"crowdfund/internal/domain"
)

type fakeChainClient struct {
	transfers map[string]*ChainTransfer
	err       error
	calls     int
}

func (f *fakeChainClient) LookupTransfer(ctx context.Context, signature string) (*ChainTransfer, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tr, ok := f.transfers[signature]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tr, nil
}

func confirmations(n uint64) *uint64 { return &n }

func transfer(confs *uint64, finalized bool, errMsg string) *ChainTransfer {
	return &ChainTransfer{
		Signature:     "sig",
		Slot:          42,
		Confirmations: confs,
		Finalized:     finalized,
		Err:           errMsg,
		Payer:         "payer",
		Credits:       map[string]uint64{"wallet": 250_000_000, "dust": 10},
		BlockTime:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestChainVerifierStates(t *testing.T) {
	cases := []struct {
		name    string
		tr      *ChainTransfer
		wantErr error
		outcome domain.EventOutcome
	}{
		{"finalized", transfer(confirmations(3), true, ""), nil, domain.OutcomeSucceeded},
		{"rooted", transfer(nil, false, ""), nil, domain.OutcomeSucceeded},
		{"deep enough", transfer(confirmations(32), false, ""), nil, domain.OutcomeSucceeded},
		{"shallow", transfer(confirmations(5), false, ""), domain.ErrNotYetFinal, domain.OutcomePending},
		{"failed", transfer(confirmations(40), false, "InstructionError"), domain.ErrPaymentFailed, domain.OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewChainVerifier(&fakeChainClient{transfers: map[string]*ChainTransfer{"sig": tc.tr}}, 32)
			ev, err := v.VerifyReference(context.Background(), "sig")
			if tc.wantErr == nil && err != nil {
				t.Fatalf("VerifyReference: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if ev.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s", ev.Outcome, tc.outcome)
			}
			if ev.Recipient != "wallet" || ev.Amount.String() != "0.25" || ev.Currency != ChainCurrency {
				t.Fatalf("transfer = %s %s to %s", ev.Amount, ev.Currency, ev.Recipient)
			}
			if ev.Payer != "payer" {
				t.Fatalf("payer = %q", ev.Payer)
			}
		})
	}
}

func TestChainVerifierNotFoundAndOutage(t *testing.T) {
	v := NewChainVerifier(&fakeChainClient{transfers: map[string]*ChainTransfer{}}, 0)
	if _, err := v.VerifyReference(context.Background(), "unknown"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	v = NewChainVerifier(&fakeChainClient{err: errors.New("connection refused")}, 0)
	_, err := v.VerifyReference(context.Background(), "sig")
	if !errors.Is(err, domain.ErrRailUnavailable) {
		t.Fatalf("err = %v, want ErrRailUnavailable", err)
	}
	if _, err := v.VerifyReference(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("blank signature err = %v, want ErrInvalidInput", err)
	}
}

func TestVerifierDispatch(t *testing.T) {
	chain := &fakeChainClient{transfers: map[string]*ChainTransfer{"sig": transfer(nil, true, "")}}
	v := NewVerifier(nil).WithRail(domain.RailChainTransfer, NewChainVerifier(chain, 0))

	if _, err := v.VerifyReference(context.Background(), domain.RailChainTransfer, "sig"); err != nil {
		t.Fatalf("chain dispatch: %v", err)
	}
	if _, err := v.VerifyReference(context.Background(), domain.RailCard, "cs_1"); !errors.Is(err, domain.ErrRailUnavailable) {
		t.Fatalf("unconfigured rail err = %v, want ErrRailUnavailable", err)
	}
	if _, err := v.VerifyReference(context.Background(), domain.Rail("WIRE"), "x"); !errors.Is(err, domain.ErrUnsupportedRail) {
		t.Fatalf("unknown rail err = %v, want ErrUnsupportedRail", err)
	}
	if _, err := v.VerifyPush(nil, "", time.Now()); !errors.Is(err, domain.ErrRailUnavailable) {
		t.Fatalf("push without secret err = %v", err)
	}
}
