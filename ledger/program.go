// Package ledger holds the on-chain layouts the relayer reads and writes and
// the RPC capability it uses to talk to the cluster.
package ledger

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// DefaultRandomnessProgramID is the deployed randomness service program.
	DefaultRandomnessProgramID = solana.MustPublicKeyFromBase58("RANDMo5gFnqnXJW5Z52KNmd24sAo95KAd5VbiCtq5Rh")

	// DefaultAttestationProgramID is the attestation program that owns the
	// service and function accounts and verifies enclave quotes.
	DefaultAttestationProgramID = solana.MustPublicKeyFromBase58("sbattyXrzedoNATfc4L31wC9Mhxsi1BmFhTiN8gDshx")
)

// Discriminator is the 8-byte Anchor type tag prefixing accounts, events and instruction data.
type Discriminator [8]byte

// AnchorDiscriminator returns sha256("<namespace>:<name>")[:8].
func AnchorDiscriminator(namespace, name string) Discriminator {
	var d Discriminator
	copy(d[:], bin.Sighash(namespace, name))
	return d
}

var (
	RequestAccountDiscriminator  = AnchorDiscriminator("account", "SimpleRandomnessV1Account")
	ServiceAccountDiscriminator  = AnchorDiscriminator("account", "FunctionServiceAccountData")
	FunctionAccountDiscriminator = AnchorDiscriminator("account", "FunctionAccountData")

	RequestedEventDiscriminator = AnchorDiscriminator("event", "SimpleRandomnessV1RequestedEvent")
	SettledEventDiscriminator   = AnchorDiscriminator("event", "SimpleRandomnessV1SettledEvent")

	SettleInstructionDiscriminator             = AnchorDiscriminator("global", "simple_randomness_v1_settle")
	RequestQuoteVerifyInstructionDiscriminator = AnchorDiscriminator("global", "function_service_request_quote_verify")
)

// StateSeed is the seed of the randomness program's state PDA.
const StateSeed = "STATE"

// ProgramAddresses are the randomness program addresses the relayer derives once.
type ProgramAddresses struct {
	ProgramID   solana.PublicKey
	State       solana.PublicKey
	StateWallet solana.PublicKey
}

// DeriveProgramAddresses derives the state PDA and its wrapped-SOL wallet.
func DeriveProgramAddresses(programID solana.PublicKey) (ProgramAddresses, error) {
	state, _, err := solana.FindProgramAddress([][]byte{[]byte(StateSeed)}, programID)
	if err != nil {
		return ProgramAddresses{}, err
	}
	wallet, _, err := solana.FindAssociatedTokenAddress(state, solana.SolMint)
	if err != nil {
		return ProgramAddresses{}, err
	}
	return ProgramAddresses{ProgramID: programID, State: state, StateWallet: wallet}, nil
}

// RequestEscrow is the wrapped-SOL escrow owned by a request account.
func RequestEscrow(request solana.PublicKey) (solana.PublicKey, error) {
	escrow, _, err := solana.FindAssociatedTokenAddress(request, solana.SolMint)
	return escrow, err
}
