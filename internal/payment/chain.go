package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crowdfund/internal/domain"
)

// DefaultMinConfirmations is the confirmation depth accepted as final when the
// cluster has not yet rooted the transaction.
const DefaultMinConfirmations = 32

// ChainTransfer is what the chain reports about a transaction signature.
type ChainTransfer struct {
	Signature string
	Slot      uint64
	// Confirmations is nil once the cluster has rooted the block.
	Confirmations *uint64
	Finalized     bool
	Err           string
	Payer         string
	// Credits maps each account whose balance rose to the lamports it gained.
	Credits   map[string]uint64
	BlockTime time.Time
}

// ChainClient looks up a transaction by signature. It returns
// domain.ErrNotFound when the cluster does not know the signature.
type ChainClient interface {
	LookupTransfer(ctx context.Context, signature string) (*ChainTransfer, error)
}

// ChainVerifier turns chain lookups into verified events.
type ChainVerifier struct {
	client           ChainClient
	minConfirmations uint64
}

func NewChainVerifier(client ChainClient, minConfirmations int) *ChainVerifier {
	if minConfirmations <= 0 {
		minConfirmations = DefaultMinConfirmations
	}
	return &ChainVerifier{client: client, minConfirmations: uint64(minConfirmations)}
}

func (v *ChainVerifier) VerifyReference(ctx context.Context, ref string) (*domain.VerifiedEvent, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: signature is required", domain.ErrInvalidInput)
	}
	tr, err := v.client.LookupTransfer(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRailUnavailable, err)
	}

	ev := &domain.VerifiedEvent{
		Rail:        domain.RailChainTransfer,
		ExternalRef: ref,
		Outcome:     domain.OutcomePending,
		Currency:    ChainCurrency,
		Payer:       tr.Payer,
		OccurredAt:  tr.BlockTime,
		Metadata:    map[string]string{"slot": fmt.Sprint(tr.Slot)},
	}
	ev.Recipient, ev.Amount = largestCredit(tr)

	switch {
	case tr.Err != "":
		ev.Outcome, ev.Reason = domain.OutcomeFailed, domain.ReasonRailFailure
		ev.Metadata["chain_error"] = tr.Err
	case v.final(tr):
		if ev.Recipient == "" {
			return nil, fmt.Errorf("%w: transaction %s moves no funds", domain.ErrInvalidInput, ref)
		}
		ev.Outcome = domain.OutcomeSucceeded
	}
	return settle(ev)
}

func (v *ChainVerifier) final(tr *ChainTransfer) bool {
	if tr.Finalized || tr.Confirmations == nil {
		return true
	}
	return *tr.Confirmations >= v.minConfirmations
}

// largestCredit picks the account that received the most lamports. For a
// plain system transfer that is the only credited account.
func largestCredit(tr *ChainTransfer) (string, decimal.Decimal) {
	var (
		best     string
		bestLams uint64
	)
	for addr, lamports := range tr.Credits {
		if addr == tr.Payer {
			continue
		}
		if lamports > bestLams || (lamports == bestLams && addr < best) {
			best, bestLams = addr, lamports
		}
	}
	return best, LamportsToSOL(bestLams)
}
