// Package tx builds, signs and submits the relayer's transactions and triages
// their failures.
package tx

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/tasks"
)

var (
	// ErrInvalidCallback is returned when a callback asks for a signer other
	// than the program state. The task is dropped.
	ErrInvalidCallback = errors.New("invalid callback")

	ErrEmptyResult = errors.New("compiled task has no result")
)

// Accounts are the fixed accounts every settlement references.
type Accounts struct {
	Program  ledger.ProgramAddresses
	Service  solana.PublicKey
	Function solana.PublicKey
}

type settleParams struct {
	Randomness []byte
}

// BuildSettleInstruction encodes the settlement of a compiled request.
//
// Account order: user, request, request escrow, state, state wallet, function,
// service, enclave signer, system program, token program, payer, callback
// program, instructions sysvar, then the callback's own accounts minus the ones
// already listed.
func BuildSettleInstruction(
	task tasks.CompiledTask,
	accounts Accounts,
	payer solana.PublicKey,
	enclaveSigner solana.PublicKey,
) (solana.Instruction, error) {
	if task.Input.Kind != tasks.KindSimpleRandomnessV1 {
		return nil, fmt.Errorf("unsupported task kind %s", task.Input.Kind)
	}
	if len(task.Result) == 0 {
		return nil, ErrEmptyResult
	}

	escrow, err := ledger.RequestEscrow(task.Request())
	if err != nil {
		return nil, fmt.Errorf("failed to derive request escrow: %w", err)
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(task.Input.User, true, false),
		solana.NewAccountMeta(task.Request(), true, false),
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(accounts.Program.State, false, false),
		solana.NewAccountMeta(accounts.Program.StateWallet, true, false),
		solana.NewAccountMeta(accounts.Function, false, false),
		solana.NewAccountMeta(accounts.Service, false, false),
		solana.NewAccountMeta(enclaveSigner, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(task.Input.Callback.ProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
	}

	skip := map[solana.PublicKey]struct{}{
		payer:                  {},
		task.Request():         {},
		accounts.Program.State: {},
		enclaveSigner:          {},
		{}:                     {},
	}
	for _, acct := range task.Input.Callback.Accounts {
		if acct.IsSigner && !acct.Pubkey.Equals(accounts.Program.State) {
			return nil, fmt.Errorf("%w: %s requested as signer", ErrInvalidCallback, acct.Pubkey)
		}
		if _, ok := skip[acct.Pubkey]; ok {
			continue
		}
		metas = append(metas, solana.NewAccountMeta(acct.Pubkey, acct.IsWritable, false))
	}

	body, err := bin.MarshalBorsh(&settleParams{Randomness: task.Result})
	if err != nil {
		return nil, fmt.Errorf("failed to encode settle params: %w", err)
	}
	data := append(ledger.SettleInstructionDiscriminator[:], body...)

	return solana.NewInstruction(accounts.Program.ProgramID, metas, data), nil
}
