//go:build test

package signer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/testutil"
)

func testLogger() logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Async = false
	cfg.Level = "error"
	return logging.NewLoggerFromConfig(cfg)
}

type ledgerServices struct {
	ledger  *testutil.FakeLedger
	service solana.PublicKey
}

func (l ledgerServices) FetchServiceData(ctx context.Context) (*ledger.ServiceAccount, error) {
	data, err := l.ledger.GetAccountData(ctx, l.service)
	if err != nil {
		return nil, err
	}
	return ledger.DecodeServiceAccount(data)
}

type harness struct {
	fake      *testutil.FakeLedger
	services  ledgerServices
	enclave   *testutil.FakeEnclave
	publisher *testutil.FakePublisher
	signer    *SecureSigner

	mu       sync.Mutex
	accepted map[solana.PublicKey]bool
	// record controls whether a landed verify request updates the service.
	record bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:      testutil.NewFakeLedger(),
		enclave:   &testutil.FakeEnclave{},
		publisher: &testutil.FakePublisher{},
		accepted:  make(map[solana.PublicKey]bool),
		record:    true,
	}
	service := testutil.DeterministicKey("service")
	h.services = ledgerServices{ledger: h.fake, service: service}
	h.fake.SetEncodedAccount(service, ledger.DefaultAttestationProgramID, ledger.ServiceAccountDiscriminator, &ledger.ServiceAccount{
		Authority:        testutil.DeterministicKey("authority"),
		Function:         testutil.DeterministicKey("function"),
		ServiceWorker:    testutil.DeterministicKey("worker"),
		AttestationQueue: testutil.DeterministicKey("queue"),
		EscrowWallet:     testutil.DeterministicKey("escrow"),
	})

	h.fake.OnSend = func(txn *solana.Transaction) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.record {
			return nil
		}
		ix := txn.Message.Instructions[0]
		candidate := txn.Message.AccountKeys[ix.Accounts[5]]

		acct, err := h.services.FetchServiceData(context.Background())
		if err != nil {
			return err
		}
		acct.Enclave.EnclaveSigner = candidate
		acct.Enclave.VerificationTimestamp = time.Now().Unix()
		h.fake.SetEncodedAccount(service, ledger.DefaultAttestationProgramID, ledger.ServiceAccountDiscriminator, acct)
		h.accepted[candidate] = true
		return nil
	}

	h.signer = NewSecureSigner(testLogger(), Config{
		Service:             service,
		Function:            testutil.DeterministicKey("function"),
		AttestationQueue:    testutil.DeterministicKey("queue"),
		QuoteRetryDelay:     time.Millisecond,
		BlockhashRetryDelay: time.Millisecond,
		PollAttempts:        5,
		PollInterval:        time.Millisecond,
		LoadAttempts:        5,
		LoadPollInterval:    time.Millisecond,
		RotateRetryDelay:    time.Millisecond,
		Confirm:             ledger.ConfirmOptions{PollInterval: time.Millisecond, Timeout: time.Second},
	}, h.fake, h.services, keys.StaticPayer{Key: solana.NewWallet().PrivateKey}, h.enclave, h.publisher)
	return h
}

func (h *harness) setRecord(record bool) {
	h.mu.Lock()
	h.record = record
	h.mu.Unlock()
}

func (h *harness) wasAccepted(key solana.PublicKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted[key]
}

func (h *harness) recorded(t *testing.T) solana.PublicKey {
	t.Helper()
	acct, err := h.services.FetchServiceData(context.Background())
	require.NoError(t, err)
	return acct.Enclave.EnclaveSigner
}

func TestSecureSigner_NotReadyBeforeRotation(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StatusNone, h.signer.Status())

	_, err := h.signer.GetSigner()
	require.ErrorIs(t, err, ErrSignerNotReady)

	_, err = h.signer.LoadSigner(context.Background())
	require.ErrorIs(t, err, ErrSignerLoadTimeout)
}

func TestSecureSigner_Rotate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))

	require.Equal(t, StatusReady, h.signer.Status())
	key, err := h.signer.GetSigner()
	require.NoError(t, err)
	require.Equal(t, h.recorded(t), key.PublicKey())

	published := h.publisher.Published()
	require.Len(t, published, 1)
	require.Equal(t, append([]byte("quote:"), key.PublicKey().Bytes()...), published[0])

	loaded, err := h.signer.LoadSigner(context.Background())
	require.NoError(t, err)
	require.Equal(t, key, loaded)
}

func TestSecureSigner_QuoteRetried(t *testing.T) {
	h := newHarness(t)
	h.enclave.FailQuote.Store(3)

	require.NoError(t, h.signer.Rotate(context.Background()))
	require.Equal(t, int32(4), h.enclave.QuoteCalls.Load())
	require.Equal(t, StatusReady, h.signer.Status())
}

func TestSecureSigner_PublishFailureKeepsActiveSigner(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))
	before, err := h.signer.GetSigner()
	require.NoError(t, err)

	h.publisher.Err = errors.New("ipfs down")
	require.Error(t, h.signer.Rotate(context.Background()))

	after, err := h.signer.GetSigner()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSecureSigner_PollTimeoutKeepsPreviousSigner(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))
	before, err := h.signer.GetSigner()
	require.NoError(t, err)

	h.setRecord(false)
	err = h.signer.Rotate(context.Background())
	require.ErrorIs(t, err, ErrRotationTimeout)

	require.Equal(t, StatusReady, h.signer.Status())
	after, err := h.signer.GetSigner()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSecureSigner_PollTimeoutWithoutRecordedSignerIsFatal(t *testing.T) {
	h := newHarness(t)
	h.setRecord(false)

	err := h.signer.Rotate(context.Background())
	require.ErrorIs(t, err, ErrRotationFatal)
	require.Equal(t, StatusRotating, h.signer.Status())

	_, err = h.signer.GetSigner()
	require.ErrorIs(t, err, ErrSignerNotReady)
}

func TestSecureSigner_SendFailureRestoresReady(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))
	before, err := h.signer.GetSigner()
	require.NoError(t, err)

	h.fake.OnSend = func(*solana.Transaction) error { return errors.New("preflight failed") }
	require.Error(t, h.signer.Rotate(context.Background()))

	require.Equal(t, StatusReady, h.signer.Status())
	after, err := h.signer.GetSigner()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSecureSigner_ConcurrentRotationAndReads(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readers sync.WaitGroup
	var bad sync.Map
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for ctx.Err() == nil {
				key, err := h.signer.GetSigner()
				if err != nil {
					continue
				}
				if !h.wasAccepted(key.PublicKey()) {
					bad.Store(key.PublicKey(), true)
				}
			}
		}()
	}

	var rotators sync.WaitGroup
	for i := 0; i < 4; i++ {
		rotators.Add(1)
		go func() {
			defer rotators.Done()
			for j := 0; j < 3; j++ {
				assert.NoError(t, h.signer.Rotate(context.Background()))
			}
		}()
	}
	rotators.Wait()
	cancel()
	readers.Wait()

	bad.Range(func(key, _ any) bool {
		t.Errorf("reader observed an unaccepted signer %v", key)
		return true
	})

	key, err := h.signer.GetSigner()
	require.NoError(t, err)
	require.Equal(t, h.recorded(t), key.PublicKey())
	require.Len(t, h.publisher.Published(), 13)
}

func TestSecureSigner_StartConsumesSignals(t *testing.T) {
	h := newHarness(t)
	signals := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.signer.Start(context.Background(), signals) }()

	signals <- struct{}{}
	require.Eventually(t, func() bool {
		return h.signer.Status() == StatusReady
	}, 2*time.Second, 5*time.Millisecond)

	close(signals)
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSignalsClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the signal channel closed")
	}
}

func TestSecureSigner_StartStopsOnFatalRotation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.signer.Rotate(context.Background()))

	// The chain records a signer this relayer never generated.
	foreign := solana.NewWallet().PublicKey()
	h.fake.OnSend = func(*solana.Transaction) error {
		acct, err := h.services.FetchServiceData(context.Background())
		if err != nil {
			return err
		}
		acct.Enclave.EnclaveSigner = foreign
		h.fake.SetEncodedAccount(h.services.service, ledger.DefaultAttestationProgramID, ledger.ServiceAccountDiscriminator, acct)
		return nil
	}

	signals := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- h.signer.Start(context.Background(), signals) }()
	signals <- struct{}{}

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRotationFatal)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept running after the active signer was lost")
	}
	_, err := h.signer.GetSigner()
	require.ErrorIs(t, err, ErrSignerNotReady)
}
