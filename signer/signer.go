// Package signer holds the attested enclave signer that co-signs every
// settlement and rotates it through the attestation program.
package signer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/publish"
	"github.com/staccDOTsol/rebalanc00r/tx"
)

var (
	ErrSignerNotReady    = errors.New("signer not ready")
	ErrSignerLoadTimeout = errors.New("timed out waiting for a ready signer")

	// ErrRotationTimeout means the chain never recorded the candidate but the
	// previous signer is still valid.
	ErrRotationTimeout = errors.New("enclave signer rotation timed out")

	// ErrRotationFatal means the chain recorded neither the candidate nor the
	// previous signer.
	ErrRotationFatal = errors.New("enclave signer rotation lost the active signer")

	ErrSignalsClosed = errors.New("rotation signal channel closed")
)

// Status is the lifecycle state of the active signer.
type Status int32

const (
	StatusNone Status = iota
	StatusRotating
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusRotating:
		return "rotating"
	case StatusReady:
		return "ready"
	default:
		return "none"
	}
}

// Quoter produces attestation quotes.
type Quoter interface {
	Quote(ctx context.Context, payload [32]byte) ([]byte, error)
}

// ServiceFetcher reads the service account from the chain.
type ServiceFetcher interface {
	FetchServiceData(ctx context.Context) (*ledger.ServiceAccount, error)
}

// Config configures a SecureSigner.
type Config struct {
	AttestationProgram solana.PublicKey
	Service            solana.PublicKey
	Function           solana.PublicKey
	AttestationQueue   solana.PublicKey

	QuoteAttempts       int
	QuoteRetryDelay     time.Duration
	BlockhashAttempts   int
	BlockhashRetryDelay time.Duration

	// PollAttempts × PollInterval bounds the wait for the chain to record a
	// new signer after the verify request lands.
	PollAttempts int
	PollInterval time.Duration

	LoadAttempts     int
	LoadPollInterval time.Duration

	RotateAttempts   int
	RotateRetryDelay time.Duration

	Confirm ledger.ConfirmOptions
}

func (c Config) withDefaults() Config {
	if c.AttestationProgram.IsZero() {
		c.AttestationProgram = ledger.DefaultAttestationProgramID
	}
	if c.QuoteAttempts <= 0 {
		c.QuoteAttempts = 10
	}
	if c.QuoteRetryDelay <= 0 {
		c.QuoteRetryDelay = time.Second
	}
	if c.BlockhashAttempts <= 0 {
		c.BlockhashAttempts = 5
	}
	if c.BlockhashRetryDelay <= 0 {
		c.BlockhashRetryDelay = time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 120
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = 1200
	}
	if c.LoadPollInterval <= 0 {
		c.LoadPollInterval = 100 * time.Millisecond
	}
	if c.RotateAttempts <= 0 {
		c.RotateAttempts = 5
	}
	if c.RotateRetryDelay <= 0 {
		c.RotateRetryDelay = time.Second
	}
	if c.Confirm.Level == "" {
		c.Confirm.Level = rpc.ConfirmationStatusConfirmed
	}
	return c
}

// SecureSigner holds the single active enclave signer. Reads never block;
// rotations are serialized.
type SecureSigner struct {
	logger    logging.Logger
	config    Config
	ledger    ledger.Client
	services  ServiceFetcher
	payer     keys.PayerProvider
	quoter    Quoter
	publisher publish.Publisher

	signer atomic.Pointer[solana.PrivateKey]
	status atomic.Int32

	rotateMu sync.Mutex
}

// NewSecureSigner creates a signer holding an unattested placeholder key with
// StatusNone. Rotate must succeed before GetSigner returns a key.
func NewSecureSigner(
	logger logging.Logger,
	config Config,
	client ledger.Client,
	services ServiceFetcher,
	payer keys.PayerProvider,
	quoter Quoter,
	publisher publish.Publisher,
) *SecureSigner {
	s := &SecureSigner{
		logger:    logging.ForComponent(logger, logging.ComponentSecureSigner),
		config:    config.withDefaults(),
		ledger:    client,
		services:  services,
		payer:     payer,
		quoter:    quoter,
		publisher: publisher,
	}
	placeholder := solana.NewWallet().PrivateKey
	s.signer.Store(&placeholder)
	s.setStatus(StatusNone)
	return s
}

// Status returns the current signer status.
func (s *SecureSigner) Status() Status {
	return Status(s.status.Load())
}

func (s *SecureSigner) setStatus(status Status) {
	s.status.Store(int32(status))
	signerStatus.Set(float64(status))
}

// GetSigner returns the active signer, or ErrSignerNotReady while none is
// attested or a rotation is waiting on the chain.
func (s *SecureSigner) GetSigner() (solana.PrivateKey, error) {
	if s.Status() != StatusReady {
		return nil, ErrSignerNotReady
	}
	return *s.signer.Load(), nil
}

// LoadSigner waits for a ready signer. Running out of attempts returns
// ErrSignerLoadTimeout, which callers treat as fatal.
func (s *SecureSigner) LoadSigner(ctx context.Context) (solana.PrivateKey, error) {
	ticker := time.NewTicker(s.config.LoadPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.config.LoadAttempts; attempt++ {
		if key, err := s.GetSigner(); err == nil {
			return key, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, ErrSignerLoadTimeout
}

// Start consumes rotation signals until ctx is done or signals is closed.
// Each signal runs a rotation with retries; failures are logged. A rotation
// that ends with ErrRotationFatal stops Start, since no attested signer is
// left to settle with.
func (s *SecureSigner) Start(ctx context.Context, signals <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signals:
			if !ok {
				return ErrSignalsClosed
			}
			s.logger.Info().Msg("received signal to rotate signer")
			if err := s.RotateWithRetry(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, ErrRotationFatal) {
					s.logger.Error().Err(err).Msg("signer rotation left no attested signer")
					return fmt.Errorf("failed to rotate signer: %w", err)
				}
				s.logger.Error().Err(err).Msg("failed to rotate signer")
				continue
			}
			s.logger.Info().Msg("successfully rotated signer")
		}
	}
}

// RotateWithRetry runs Rotate up to RotateAttempts times.
func (s *SecureSigner) RotateWithRetry(ctx context.Context) error {
	_, err := retry(ctx, s.logger, "rotate_signer", s.config.RotateAttempts, s.config.RotateRetryDelay,
		func() (struct{}, error) {
			return struct{}{}, s.Rotate(ctx)
		})
	return err
}

// Rotate replaces the active signer with a freshly attested keypair.
func (s *SecureSigner) Rotate(ctx context.Context) error {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	start := time.Now()
	err := s.rotate(ctx)
	switch {
	case err == nil:
		rotationsTotal.WithLabelValues("success").Inc()
		rotationDuration.Observe(time.Since(start).Seconds())
	case errors.Is(err, ErrRotationTimeout):
		rotationsTotal.WithLabelValues("timeout").Inc()
	case errors.Is(err, ErrRotationFatal):
		rotationsTotal.WithLabelValues("fatal").Inc()
	default:
		rotationsTotal.WithLabelValues("error").Inc()
	}
	return err
}

func (s *SecureSigner) rotate(ctx context.Context) error {
	old := *s.signer.Load()
	oldStatus := s.Status()
	candidate := solana.NewWallet().PrivateKey

	logger := s.logger.With().
		Str(logging.FieldSigner, old.PublicKey().String()).
		Str(logging.FieldCandidate, candidate.PublicKey().String()).
		Logger()

	registryKey, err := s.publishQuote(ctx, logger, candidate.PublicKey())
	if err != nil {
		if oldStatus != StatusReady {
			if service, fetchErr := s.services.FetchServiceData(ctx); fetchErr != nil {
				logger.Error().Err(fetchErr).Msg("failed to fetch service data")
			} else if service.Enclave.EnclaveSigner.Equals(old.PublicKey()) {
				s.setStatus(StatusReady)
			}
		}
		return fmt.Errorf("failed to publish quote: %w", err)
	}

	service, err := s.services.FetchServiceData(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch service data: %w", err)
	}

	sig, err := s.requestQuoteVerify(ctx, service, candidate, registryKey)
	if err != nil {
		if oldStatus != StatusReady && service.Enclave.EnclaveSigner.Equals(old.PublicKey()) {
			s.setStatus(StatusReady)
		}
		return fmt.Errorf("failed to send quote verify request: %w", err)
	}
	logger.Info().Str(logging.FieldSignature, sig.String()).Msg("sent transaction to request a new signer")

	// Settlements pause until the chain records the candidate.
	s.setStatus(StatusRotating)

	for attempt := 0; attempt < s.config.PollAttempts; attempt++ {
		if service.Enclave.EnclaveSigner.Equals(candidate.PublicKey()) {
			s.signer.Store(&candidate)
			s.setStatus(StatusReady)
			logger.Info().Int(logging.FieldAttempt, attempt).Msg("enclave signer rotated")
			return nil
		}

		if err := sleepCtx(ctx, s.config.PollInterval); err != nil {
			return err
		}

		latest, err := s.services.FetchServiceData(ctx)
		if err != nil {
			logger.Warn().Err(err).Int(logging.FieldAttempt, attempt).Msg("failed to poll service data")
			continue
		}
		service = latest
	}
	if service.Enclave.EnclaveSigner.Equals(candidate.PublicKey()) {
		s.signer.Store(&candidate)
		s.setStatus(StatusReady)
		return nil
	}

	if service.Enclave.EnclaveSigner.Equals(old.PublicKey()) {
		s.setStatus(StatusReady)
		return ErrRotationTimeout
	}
	logger.Error().
		Str("recorded_signer", service.Enclave.EnclaveSigner.String()).
		Msg("chain records neither the previous nor the candidate signer")
	return ErrRotationFatal
}

// publishQuote quotes pubkey and publishes it, returning the registry key
// the attestation program resolves the quote by.
func (s *SecureSigner) publishQuote(ctx context.Context, logger logging.Logger, pubkey solana.PublicKey) ([publish.RegistryKeySize]byte, error) {
	var payload [32]byte
	copy(payload[:], pubkey[:])

	quote, err := retry(ctx, logger, "generate_quote", s.config.QuoteAttempts, s.config.QuoteRetryDelay,
		func() ([]byte, error) {
			return s.quoter.Quote(ctx, payload)
		})
	if err != nil {
		return [publish.RegistryKeySize]byte{}, err
	}

	cid, err := s.publisher.Publish(ctx, quote)
	if err != nil {
		return [publish.RegistryKeySize]byte{}, err
	}
	logger.Info().Str(logging.FieldCID, cid).Msg("uploaded quote")

	return publish.RegistryKey(cid)
}

func (s *SecureSigner) requestQuoteVerify(
	ctx context.Context,
	service *ledger.ServiceAccount,
	candidate solana.PrivateKey,
	registryKey [publish.RegistryKeySize]byte,
) (solana.Signature, error) {
	payer := s.payer.Payer()
	ix, err := tx.BuildRequestQuoteVerifyInstruction(s.config.AttestationProgram, tx.QuoteVerifyAccounts{
		Service:          s.config.Service,
		ServiceWorker:    service.ServiceWorker,
		Function:         s.config.Function,
		AttestationQueue: s.config.AttestationQueue,
		EscrowWallet:     service.EscrowWallet,
		NewEnclaveSigner: candidate.PublicKey(),
		Authority:        service.Authority,
		Payer:            payer.PublicKey(),
	}, registryKey)
	if err != nil {
		return solana.Signature{}, err
	}

	checkpoint, err := retry(ctx, s.logger, "get_latest_blockhash", s.config.BlockhashAttempts, s.config.BlockhashRetryDelay,
		func() (ledger.Checkpoint, error) {
			return s.ledger.GetLatestBlockhash(ctx)
		})
	if err != nil {
		return solana.Signature{}, err
	}

	txn, err := tx.NewSignedTransaction(ix, checkpoint.Blockhash, payer, candidate)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.ledger.SendTransaction(ctx, txn, ledger.SendOptions{PreflightCommitment: rpc.CommitmentConfirmed})
	if err != nil {
		return solana.Signature{}, err
	}
	if _, err := ledger.WaitForConfirmation(ctx, s.ledger, sig, s.config.Confirm); err != nil {
		return sig, err
	}
	return sig, nil
}
