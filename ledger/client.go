package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/observability"
)

var ErrAccountNotFound = errors.New("account not found")

// Checkpoint is a recent blockhash and the slot it was observed at.
type Checkpoint struct {
	Blockhash solana.Hash
	Slot      uint64
}

// KeyedAccount is an account address with its raw data.
type KeyedAccount struct {
	Address solana.PublicKey
	Data    []byte
}

// SendOptions controls transaction submission.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment rpc.CommitmentType
	// MinContextSlot is passed through when non-zero.
	MinContextSlot uint64
}

// SignatureStatus is the cluster's view of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus rpc.ConfirmationStatusType
	// Err is the raw transaction error, nil on success.
	Err interface{}
}

// Client is the RPC capability the relayer needs from a cluster node.
type Client interface {
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, disc Discriminator) ([]KeyedAccount, error)
	GetLatestBlockhash(ctx context.Context) (Checkpoint, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)
	// GetSignatureStatus returns nil when the cluster has not seen sig yet.
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// RPCClient implements Client over a cluster JSON-RPC endpoint.
type RPCClient struct {
	logger     logging.Logger
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCClient dials nothing; requests are made lazily against endpoint.
func NewRPCClient(logger logging.Logger, endpoint string, commitment rpc.CommitmentType) *RPCClient {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &RPCClient{
		logger:     logging.ForComponent(logger, logging.ComponentLedger),
		rpc:        rpc.New(endpoint),
		commitment: commitment,
	}
}

func (c *RPCClient) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	start := time.Now()
	res, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	observeRPC("getAccountInfo", start, err)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", account, err)
	}
	return res.Value.Data.GetBinary(), nil
}

func (c *RPCClient) GetProgramAccounts(ctx context.Context, program solana.PublicKey, disc Discriminator) ([]KeyedAccount, error) {
	start := time.Now()
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])},
		}},
	})
	observeRPC("getProgramAccounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts %s: %w", program, err)
	}

	accounts := make([]KeyedAccount, 0, len(res))
	for _, keyed := range res {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		accounts = append(accounts, KeyedAccount{
			Address: keyed.Pubkey,
			Data:    keyed.Account.Data.GetBinary(),
		})
	}
	return accounts, nil
}

func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (Checkpoint, error) {
	start := time.Now()
	res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	observeRPC("getLatestBlockhash", start, err)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return Checkpoint{}, errors.New("getLatestBlockhash: empty response")
	}
	return Checkpoint{Blockhash: res.Value.Blockhash, Slot: res.Context.Slot}, nil
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	txOpts := rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
	}
	if opts.MinContextSlot > 0 {
		slot := opts.MinContextSlot
		txOpts.MinContextSlot = &slot
	}

	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, txOpts)
	observeRPC("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, NewSendError(err)
	}
	return sig, nil
}

func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	observeRPC("getSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses %s: %w", sig, err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}
	status := res.Value[0]
	return &SignatureStatus{
		Slot:               status.Slot,
		ConfirmationStatus: status.ConfirmationStatus,
		Err:                status.Err,
	}, nil
}

func observeRPC(method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	observability.RPCRequestDurationSeconds.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}
