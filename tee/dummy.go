package tee

import (
	"context"
	"crypto/rand"
	"fmt"
)

// DummyEnclave returns a non-verifiable quote. For local clusters and tests only.
type DummyEnclave struct{}

func (DummyEnclave) Quote(_ context.Context, payload [32]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("Attestation for signer %x", payload)), nil
}

func (DummyEnclave) ReadRandom(_ context.Context, n int) ([]byte, error) {
	if err := validateRandomLength(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
