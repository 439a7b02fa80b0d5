package tx

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

// QuoteVerifyAccounts are the accounts of a request-quote-verify instruction.
type QuoteVerifyAccounts struct {
	Service          solana.PublicKey
	ServiceWorker    solana.PublicKey
	Function         solana.PublicKey
	AttestationQueue solana.PublicKey
	EscrowWallet     solana.PublicKey
	NewEnclaveSigner solana.PublicKey
	Authority        solana.PublicKey
	Payer            solana.PublicKey
}

type requestQuoteVerifyParams struct {
	QuoteRegistry *[]byte `bin:"optional"`
	RegistryKey   []byte
}

// BuildRequestQuoteVerifyInstruction asks the attestation program to verify
// the quote published under registryKey and, once verified, record
// NewEnclaveSigner as the service's signer.
func BuildRequestQuoteVerifyInstruction(
	attestationProgram solana.PublicKey,
	accounts QuoteVerifyAccounts,
	registryKey [64]byte,
) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.Service, true, false),
		solana.NewAccountMeta(accounts.ServiceWorker, false, false),
		solana.NewAccountMeta(accounts.Function, false, false),
		solana.NewAccountMeta(accounts.AttestationQueue, false, false),
		solana.NewAccountMeta(accounts.EscrowWallet, true, false),
		solana.NewAccountMeta(accounts.NewEnclaveSigner, false, true),
		solana.NewAccountMeta(accounts.Authority, false, false),
		solana.NewAccountMeta(accounts.Payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}

	body, err := bin.MarshalBorsh(&requestQuoteVerifyParams{RegistryKey: registryKey[:]})
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote verify params: %w", err)
	}
	data := append(ledger.RequestQuoteVerifyInstructionDiscriminator[:], body...)

	return solana.NewInstruction(attestationProgram, metas, data), nil
}
