// Package keys provides the payer keypair that funds and co-signs every
// relayer transaction.
package keys

import "github.com/gagliardetto/solana-go"

// PayerProvider returns the current payer keypair.
type PayerProvider interface {
	Payer() solana.PrivateKey
}

// StaticPayer is a PayerProvider with a fixed key.
type StaticPayer struct {
	Key solana.PrivateKey
}

func (s StaticPayer) Payer() solana.PrivateKey {
	return s.Key
}
