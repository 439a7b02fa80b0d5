//go:build test

package testutil

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

// FakeLedger is an in-memory ledger.Client. Accounts are raw bytes keyed by
// address; sent transactions are recorded and can be intercepted with OnSend.
type FakeLedger struct {
	mu        sync.Mutex
	accounts  map[solana.PublicKey][]byte
	owners    map[solana.PublicKey]solana.PublicKey
	sent      []*solana.Transaction
	sendOpts  []ledger.SendOptions
	statuses  map[solana.Signature]*ledger.SignatureStatus
	slot      uint64
	blockhash solana.Hash

	// OnSend, when set, runs for every sent transaction. A non-nil error is
	// returned to the sender and the transaction is not recorded as landed.
	OnSend func(tx *solana.Transaction) error

	BlockhashErrors atomic.Int32
	SendCalls       atomic.Int32
}

// NewFakeLedger creates an empty ledger at slot 100.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{
		accounts:  make(map[solana.PublicKey][]byte),
		owners:    make(map[solana.PublicKey]solana.PublicKey),
		statuses:  make(map[solana.Signature]*ledger.SignatureStatus),
		slot:      100,
		blockhash: solana.Hash{0xb1},
	}
}

// SetAccount stores data at address owned by program.
func (f *FakeLedger) SetAccount(address, program solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = append([]byte(nil), data...)
	f.owners[address] = program
}

// SetEncodedAccount Borsh-encodes v behind disc and stores it.
func (f *FakeLedger) SetEncodedAccount(address, program solana.PublicKey, disc ledger.Discriminator, v interface{}) {
	data, err := ledger.EncodeAccount(disc, v)
	if err != nil {
		panic(err)
	}
	f.SetAccount(address, program, data)
}

// DeleteAccount removes an account.
func (f *FakeLedger) DeleteAccount(address solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, address)
	delete(f.owners, address)
}

// AdvanceSlot moves the slot forward and rolls the blockhash.
func (f *FakeLedger) AdvanceSlot(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot += n
	f.blockhash[1]++
}

// Sent returns the transactions that landed.
func (f *FakeLedger) Sent() []*solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*solana.Transaction(nil), f.sent...)
}

func (f *FakeLedger) GetAccountData(_ context.Context, account solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, account)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeLedger) GetProgramAccounts(_ context.Context, program solana.PublicKey, disc ledger.Discriminator) ([]ledger.KeyedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.KeyedAccount
	for addr, data := range f.accounts {
		if f.owners[addr] != program || len(data) < 8 {
			continue
		}
		if !bytes.Equal(data[:8], disc[:]) {
			continue
		}
		out = append(out, ledger.KeyedAccount{Address: addr, Data: append([]byte(nil), data...)})
	}
	return out, nil
}

func (f *FakeLedger) GetLatestBlockhash(context.Context) (ledger.Checkpoint, error) {
	if f.BlockhashErrors.Load() > 0 {
		f.BlockhashErrors.Add(-1)
		return ledger.Checkpoint{}, errors.New("blockhash unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.Checkpoint{Blockhash: f.blockhash, Slot: f.slot}, nil
}

// SentOptions returns the options of every landed transaction, in order.
func (f *FakeLedger) SentOptions() []ledger.SendOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.SendOptions(nil), f.sendOpts...)
}

func (f *FakeLedger) SendTransaction(_ context.Context, tx *solana.Transaction, opts ledger.SendOptions) (solana.Signature, error) {
	f.SendCalls.Add(1)
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if f.OnSend != nil {
		if err := f.OnSend(tx); err != nil {
			return solana.Signature{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sig := tx.Signatures[0]
	f.sent = append(f.sent, tx)
	f.sendOpts = append(f.sendOpts, opts)
	f.statuses[sig] = &ledger.SignatureStatus{Slot: f.slot, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	return sig, nil
}

func (f *FakeLedger) GetSignatureStatus(_ context.Context, sig solana.Signature) (*ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[sig]
	if !ok {
		return nil, nil
	}
	copied := *status
	return &copied, nil
}

var _ ledger.Client = (*FakeLedger)(nil)

// FakeEnclave quotes and reads random bytes in memory. FailRandom and
// FailQuote make the next N calls fail.
type FakeEnclave struct {
	FailRandom atomic.Int32
	FailQuote  atomic.Int32

	RandomCalls atomic.Int32
	QuoteCalls  atomic.Int32
}

func (e *FakeEnclave) Quote(_ context.Context, payload [32]byte) ([]byte, error) {
	e.QuoteCalls.Add(1)
	if e.FailQuote.Load() > 0 {
		e.FailQuote.Add(-1)
		return nil, errors.New("quote provider unavailable")
	}
	return append([]byte("quote:"), payload[:]...), nil
}

func (e *FakeEnclave) ReadRandom(_ context.Context, n int) ([]byte, error) {
	e.RandomCalls.Add(1)
	if e.FailRandom.Load() > 0 {
		e.FailRandom.Add(-1)
		return nil, errors.New("entropy unavailable")
	}
	out := make([]byte, n)
	_, _ = rand.Read(out)
	return out, nil
}

// FakePublisher returns a fixed CID and records what was published.
type FakePublisher struct {
	CID string
	Err error

	mu        sync.Mutex
	published [][]byte
}

func (p *FakePublisher) Publish(_ context.Context, data []byte) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	p.mu.Lock()
	p.published = append(p.published, append([]byte(nil), data...))
	p.mu.Unlock()
	if p.CID == "" {
		return "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", nil
	}
	return p.CID, nil
}

// Published returns everything published so far.
func (p *FakePublisher) Published() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.published...)
}
