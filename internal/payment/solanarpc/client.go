// Package solanarpc looks up native transfers over Solana JSON-RPC.
package solanarpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"crowdfund/internal/domain"
	"crowdfund/internal/payment"
)

type solanaRPC interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Client implements payment.ChainClient against a JSON-RPC endpoint.
type Client struct {
	rpc solanaRPC
}

func New(endpoint string) *Client {
	return &Client{rpc: rpc.New(endpoint)}
}

func (c *Client) LookupTransfer(ctx context.Context, signature string) (*payment.ChainTransfer, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", domain.ErrInvalidInput, err)
	}

	statuses, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("get signature status: %w", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, domain.ErrNotFound
	}
	status := statuses.Value[0]

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			// Seen by the status cache but not yet at confirmed commitment.
			return &payment.ChainTransfer{
				Signature:     signature,
				Slot:          status.Slot,
				Confirmations: zeroConfirmations(),
				Err:           statusError(status.Err),
			}, nil
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return nil, domain.ErrNotFound
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+len(out.Meta.LoadedAddresses.Writable)+len(out.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, out.Meta.LoadedAddresses.Writable...)
	keys = append(keys, out.Meta.LoadedAddresses.ReadOnly...)

	tr := transferFromMeta(signature, keys, out.Meta)
	tr.Slot = out.Slot
	tr.Confirmations = status.Confirmations
	tr.Finalized = status.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	if tr.Err == "" {
		tr.Err = statusError(status.Err)
	}
	if out.BlockTime != nil {
		tr.BlockTime = out.BlockTime.Time().UTC()
	} else {
		tr.BlockTime = time.Now().UTC()
	}
	return tr, nil
}

// transferFromMeta derives balance credits from pre/post balances. The first
// account key is the fee payer.
func transferFromMeta(signature string, keys []solana.PublicKey, meta *rpc.TransactionMeta) *payment.ChainTransfer {
	tr := &payment.ChainTransfer{Signature: signature, Credits: map[string]uint64{}}
	if len(keys) > 0 {
		tr.Payer = keys[0].String()
	}
	if meta == nil {
		return tr
	}
	tr.Err = statusError(meta.Err)
	n := len(keys)
	if len(meta.PreBalances) < n {
		n = len(meta.PreBalances)
	}
	if len(meta.PostBalances) < n {
		n = len(meta.PostBalances)
	}
	for i := 0; i < n; i++ {
		pre, post := meta.PreBalances[i], meta.PostBalances[i]
		if post > pre {
			tr.Credits[keys[i].String()] += post - pre
		}
	}
	return tr
}

func statusError(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func zeroConfirmations() *uint64 {
	var z uint64
	return &z
}

var _ payment.ChainClient = (*Client)(nil)
