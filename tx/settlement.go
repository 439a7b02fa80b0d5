package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/tasks"
)

// ErrBuildFailed marks submissions that never reached the network because the
// transaction could not be built. Resending will not help.
var ErrBuildFailed = errors.New("failed to build settlement")

const (
	// DefaultSubmitRate is the default number of settlement submissions per second.
	DefaultSubmitRate = 50
	// DefaultSubmitBurst is the default submission burst.
	DefaultSubmitBurst = 10
)

// SettlementConfig configures a SettlementClient.
type SettlementConfig struct {
	// SubmitRate limits submissions per second. Zero or negative disables the limit.
	SubmitRate  float64
	SubmitBurst int
	Confirm     ledger.ConfirmOptions
}

// SettlementClient signs and submits settlement transactions.
type SettlementClient struct {
	logger   logging.Logger
	ledger   ledger.Client
	accounts Accounts
	limiter  *rate.Limiter
	confirm  ledger.ConfirmOptions
}

// NewSettlementClient creates a client settling requests against accounts.
func NewSettlementClient(
	logger logging.Logger,
	client ledger.Client,
	accounts Accounts,
	config SettlementConfig,
) *SettlementClient {
	limit := rate.Inf
	if config.SubmitRate > 0 {
		limit = rate.Limit(config.SubmitRate)
	}
	if config.SubmitBurst <= 0 {
		config.SubmitBurst = DefaultSubmitBurst
	}
	if config.Confirm.Level == "" {
		config.Confirm.Level = rpc.ConfirmationStatusProcessed
	}

	return &SettlementClient{
		logger:   logging.ForComponent(logger, logging.ComponentSettlement),
		ledger:   client,
		accounts: accounts,
		limiter:  rate.NewLimiter(limit, config.SubmitBurst),
		confirm:  config.Confirm,
	}
}

// Build creates the signed settlement transaction for task.
func (c *SettlementClient) Build(
	task tasks.CompiledTask,
	payer solana.PrivateKey,
	enclaveSigner solana.PrivateKey,
	checkpoint ledger.Checkpoint,
) (*solana.Transaction, error) {
	ix, err := BuildSettleInstruction(task, c.accounts, payer.PublicKey(), enclaveSigner.PublicKey())
	if err != nil {
		if errors.Is(err, ErrInvalidCallback) {
			invalidCallbacksTotal.Inc()
		}
		return nil, err
	}

	return NewSignedTransaction(ix, checkpoint.Blockhash, payer, enclaveSigner)
}

// Submit builds, signs and sends the settlement of task, then waits for it to
// be processed. The minimum context slot is the checkpoint's slot so nodes
// lagging behind the blockhash reject the transaction in preflight.
func (c *SettlementClient) Submit(
	ctx context.Context,
	task tasks.CompiledTask,
	payer solana.PrivateKey,
	enclaveSigner solana.PrivateKey,
	checkpoint ledger.Checkpoint,
) (solana.Signature, error) {
	tx, err := c.Build(task, payer, enclaveSigner, checkpoint)
	if err != nil {
		settlementsTotal.WithLabelValues("build_error").Inc()
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	rateLimitWaitSeconds.Observe(time.Since(waitStart).Seconds())

	start := time.Now()
	sig, err := c.ledger.SendTransaction(ctx, tx, ledger.SendOptions{
		PreflightCommitment: rpc.CommitmentProcessed,
		MinContextSlot:      checkpoint.Slot,
	})
	if err != nil {
		settlementsTotal.WithLabelValues("send_error").Inc()
		settlementLatency.WithLabelValues("send_error").Observe(time.Since(start).Seconds())
		return solana.Signature{}, err
	}

	logger := c.logger.With().
		Str(logging.FieldRequest, task.Request().String()).
		Str(logging.FieldSignature, sig.String()).
		Logger()
	logger.Debug().Uint64(logging.FieldSlot, checkpoint.Slot).Msg("settlement sent")

	status, err := ledger.WaitForConfirmation(ctx, c.ledger, sig, c.confirm)
	if err != nil {
		settlementsTotal.WithLabelValues("confirm_error").Inc()
		settlementLatency.WithLabelValues("confirm_error").Observe(time.Since(start).Seconds())
		return sig, err
	}

	settlementsTotal.WithLabelValues("success").Inc()
	settlementLatency.WithLabelValues("success").Observe(time.Since(start).Seconds())
	logger.Info().
		Uint64(logging.FieldSlot, status.Slot).
		Uint8(logging.FieldNumBytes, task.Input.NumBytes).
		Msg("settlement landed")
	return sig, nil
}

// NewSignedTransaction creates a single-instruction transaction paid by payer
// and signed by payer and signers.
func NewSignedTransaction(
	ix solana.Instruction,
	blockhash solana.Hash,
	payer solana.PrivateKey,
	signers ...solana.PrivateKey,
) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	keys := append([]solana.PrivateKey{payer}, signers...)
	if _, err := tx.Sign(signerLookup(keys...)); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

func signerLookup(keys ...solana.PrivateKey) func(solana.PublicKey) *solana.PrivateKey {
	return func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	}
}
