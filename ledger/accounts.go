package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrAccountTooShort       = errors.New("account data shorter than discriminator")
)

// CallbackAccount is one account meta of a user callback.
type CallbackAccount struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Callback is the instruction the randomness program invokes on settlement.
type Callback struct {
	ProgramID solana.PublicKey
	Accounts  []CallbackAccount
	IxData    []byte
}

// RequestAccount is a pending or completed randomness request.
type RequestAccount struct {
	IsCompleted uint8
	NumBytes    uint8
	User        solana.PublicKey
	Escrow      solana.PublicKey
	RequestSlot uint64
	Callback    Callback
}

// Completed reports whether the request was already settled.
func (a *RequestAccount) Completed() bool {
	return a.IsCompleted != 0
}

// EnclaveData is the registered enclave signer of a service and its
// verification window.
type EnclaveData struct {
	EnclaveSigner         solana.PublicKey
	VerificationStatus    uint8
	VerificationTimestamp int64
	ValidUntil            int64
}

// ServiceAccount is the attestation program's service record.
type ServiceAccount struct {
	Authority        solana.PublicKey
	Function         solana.PublicKey
	ServiceWorker    solana.PublicKey
	AttestationQueue solana.PublicKey
	EscrowWallet     solana.PublicKey
	Enclave          EnclaveData
}

// ReadyForQuoteRotation reports whether the service's enclave signer must be
// replaced: none is registered, its verification expired, or the rotation
// interval (seconds) elapsed since it was verified.
func (s *ServiceAccount) ReadyForQuoteRotation(interval int64, now time.Time) bool {
	if s.Enclave.EnclaveSigner.IsZero() {
		return true
	}
	ts := now.Unix()
	if s.Enclave.ValidUntil != 0 && ts >= s.Enclave.ValidUntil {
		return true
	}
	return interval > 0 && ts >= s.Enclave.VerificationTimestamp+interval
}

// FunctionAccount is the attestation program's function record.
type FunctionAccount struct {
	Authority                      solana.PublicKey
	AttestationQueue               solana.PublicKey
	ServicesSignerRotationInterval int64
}

// DecodeRequestAccount decodes a discriminated request account.
func DecodeRequestAccount(data []byte) (*RequestAccount, error) {
	var acct RequestAccount
	if err := decodeAccount(data, RequestAccountDiscriminator, &acct); err != nil {
		return nil, fmt.Errorf("request account: %w", err)
	}
	return &acct, nil
}

// DecodeServiceAccount decodes a discriminated service account.
func DecodeServiceAccount(data []byte) (*ServiceAccount, error) {
	var acct ServiceAccount
	if err := decodeAccount(data, ServiceAccountDiscriminator, &acct); err != nil {
		return nil, fmt.Errorf("service account: %w", err)
	}
	return &acct, nil
}

// DecodeFunctionAccount decodes a discriminated function account.
func DecodeFunctionAccount(data []byte) (*FunctionAccount, error) {
	var acct FunctionAccount
	if err := decodeAccount(data, FunctionAccountDiscriminator, &acct); err != nil {
		return nil, fmt.Errorf("function account: %w", err)
	}
	return &acct, nil
}

// EncodeAccount prefixes the Borsh encoding of v with disc.
func EncodeAccount(disc Discriminator, v interface{}) ([]byte, error) {
	body, err := bin.MarshalBorsh(v)
	if err != nil {
		return nil, err
	}
	return append(disc[:], body...), nil
}

func decodeAccount(data []byte, disc Discriminator, out interface{}) error {
	if len(data) < len(disc) {
		return ErrAccountTooShort
	}
	if !bytes.Equal(data[:len(disc)], disc[:]) {
		return ErrDiscriminatorMismatch
	}
	return bin.NewBorshDecoder(data[len(disc):]).Decode(out)
}
