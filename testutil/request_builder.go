//go:build test

package testutil

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

// DeterministicKey derives a stable public key from a label.
func DeterministicKey(label string) solana.PublicKey {
	sum := sha256.Sum256([]byte(label))
	return solana.PublicKeyFromBytes(sum[:])
}

// RequestBuilder builds deterministic randomness requests. The same seed
// always yields the same addresses.
//
//	acct := testutil.NewRequestBuilder(42).WithNumBytes(8).Account()
type RequestBuilder struct {
	seed      int
	numBytes  uint8
	completed bool
	callback  *ledger.Callback
	slot      uint64
}

// NewRequestBuilder creates a builder for seed.
func NewRequestBuilder(seed int) *RequestBuilder {
	return &RequestBuilder{seed: seed, numBytes: 32, slot: uint64(1000 + seed)}
}

// WithNumBytes sets the number of requested bytes.
func (b *RequestBuilder) WithNumBytes(n uint8) *RequestBuilder {
	b.numBytes = n
	return b
}

// WithCallback sets the callback.
func (b *RequestBuilder) WithCallback(cb ledger.Callback) *RequestBuilder {
	b.callback = &cb
	return b
}

// Completed marks the request as settled.
func (b *RequestBuilder) Completed() *RequestBuilder {
	b.completed = true
	return b
}

// Address is the request account address.
func (b *RequestBuilder) Address() solana.PublicKey {
	return DeterministicKey(fmt.Sprintf("request-%d", b.seed))
}

// User is the requesting user.
func (b *RequestBuilder) User() solana.PublicKey {
	return DeterministicKey(fmt.Sprintf("user-%d", b.seed))
}

// CallbackProgram is the default callback program.
func (b *RequestBuilder) CallbackProgram() solana.PublicKey {
	return DeterministicKey(fmt.Sprintf("callback-%d", b.seed))
}

// Account builds the request account.
func (b *RequestBuilder) Account() ledger.RequestAccount {
	cb := ledger.Callback{ProgramID: b.CallbackProgram()}
	if b.callback != nil {
		cb = *b.callback
	}
	var completed uint8
	if b.completed {
		completed = 1
	}
	escrow, _ := ledger.RequestEscrow(b.Address())
	return ledger.RequestAccount{
		IsCompleted: completed,
		NumBytes:    b.numBytes,
		User:        b.User(),
		Escrow:      escrow,
		RequestSlot: b.slot,
		Callback:    cb,
	}
}

// AccountData builds the discriminated account bytes.
func (b *RequestBuilder) AccountData() []byte {
	acct := b.Account()
	data, err := ledger.EncodeAccount(ledger.RequestAccountDiscriminator, &acct)
	if err != nil {
		panic(err)
	}
	return data
}

// Event builds the matching requested event.
func (b *RequestBuilder) Event() ledger.RequestedEvent {
	acct := b.Account()
	return ledger.RequestedEvent{
		CallbackPID: acct.Callback.ProgramID,
		User:        acct.User,
		Request:     b.Address(),
		Callback:    acct.Callback,
		NumBytes:    acct.NumBytes,
	}
}
