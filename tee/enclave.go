// Package tee provides the trusted execution environment capabilities the
// relayer depends on: attestation quotes over a signer pubkey and secure
// random bytes.
package tee

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Enclave kinds accepted by New.
const (
	KindDCAP   = "dcap"
	KindRemote = "remote"
	KindDummy  = "dummy"
)

var ErrUnsupportedEnclave = errors.New("unsupported enclave kind")

// MaxRandomBytes bounds a single ReadRandom call.
const MaxRandomBytes = 1024

// Enclave is the TEE capability.
type Enclave interface {
	// Quote returns a raw attestation quote binding payload into its report data.
	Quote(ctx context.Context, payload [32]byte) ([]byte, error)
	// ReadRandom returns n secure random bytes.
	ReadRandom(ctx context.Context, n int) ([]byte, error)
}

// Config selects and configures an Enclave.
type Config struct {
	// Kind is dcap, remote or dummy. Default: dcap
	Kind string `yaml:"kind"`

	// RemoteURL is the quote provider base URL for the remote kind.
	RemoteURL string `yaml:"remote_url,omitempty"`
}

// New builds the enclave described by cfg.
func New(cfg Config) (Enclave, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindDCAP:
		return &DCAPEnclave{}, nil
	case KindRemote:
		if cfg.RemoteURL == "" {
			return nil, errors.New("remote enclave requires remote_url")
		}
		return NewRemoteEnclave(cfg.RemoteURL, nil), nil
	case KindDummy:
		return &DummyEnclave{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEnclave, cfg.Kind)
	}
}

// reportData places payload at the start of the 64-byte report data.
func reportData(payload [32]byte) [64]byte {
	var rd [64]byte
	copy(rd[:], payload[:])
	return rd
}

func validateRandomLength(n int) error {
	if n <= 0 || n > MaxRandomBytes {
		return fmt.Errorf("random byte count %d out of range (1..%d)", n, MaxRandomBytes)
	}
	return nil
}
