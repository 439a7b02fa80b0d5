//go:build test

package tx

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/tasks"
	"github.com/staccDOTsol/rebalanc00r/testutil"
)

func testAccounts(t *testing.T) Accounts {
	t.Helper()
	program, err := ledger.DeriveProgramAddresses(ledger.DefaultRandomnessProgramID)
	require.NoError(t, err)
	return Accounts{
		Program:  program,
		Service:  testutil.DeterministicKey("service"),
		Function: testutil.DeterministicKey("function"),
	}
}

func compiled(b *testutil.RequestBuilder, result []byte) tasks.CompiledTask {
	acct := b.Account()
	return tasks.CompiledTask{Input: tasks.FromRequestAccount(b.Address(), &acct), Result: result}
}

func TestBuildSettleInstruction_AccountOrder(t *testing.T) {
	accounts := testAccounts(t)
	payer := testutil.DeterministicKey("payer")
	enclave := testutil.DeterministicKey("enclave")

	extra := testutil.DeterministicKey("extra")
	cbProgram := testutil.DeterministicKey("cb-program")
	b := testutil.NewRequestBuilder(1).WithCallback(ledger.Callback{
		ProgramID: cbProgram,
		Accounts: []ledger.CallbackAccount{
			{Pubkey: accounts.Program.State, IsSigner: true},
			{Pubkey: b1Request()},
			{Pubkey: payer, IsWritable: true},
			{Pubkey: enclave},
			{Pubkey: solana.PublicKey{}},
			{Pubkey: extra, IsWritable: true},
		},
		IxData: []byte{1, 2, 3},
	})
	task := compiled(b, []byte{9, 8, 7, 6, 5, 4, 3, 2})

	ix, err := BuildSettleInstruction(task, accounts, payer, enclave)
	require.NoError(t, err)
	require.Equal(t, ledger.DefaultRandomnessProgramID, ix.ProgramID())

	escrow, err := ledger.RequestEscrow(b.Address())
	require.NoError(t, err)

	type meta struct {
		key              solana.PublicKey
		writable, signer bool
	}
	want := []meta{
		{b.User(), true, false},
		{b.Address(), true, false},
		{escrow, true, false},
		{accounts.Program.State, false, false},
		{accounts.Program.StateWallet, true, false},
		{accounts.Function, false, false},
		{accounts.Service, false, false},
		{enclave, false, true},
		{solana.SystemProgramID, false, false},
		{solana.TokenProgramID, false, false},
		{payer, true, true},
		{cbProgram, false, false},
		{solana.SysVarInstructionsPubkey, false, false},
		{extra, true, false},
	}

	got := ix.Accounts()
	require.Len(t, got, len(want))
	for i, w := range want {
		require.Equal(t, w.key, got[i].PublicKey, "account %d", i)
		require.Equal(t, w.writable, got[i].IsWritable, "account %d writable", i)
		require.Equal(t, w.signer, got[i].IsSigner, "account %d signer", i)
	}

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, ledger.SettleInstructionDiscriminator[:], data[:8])
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(data[8:12]))
	require.Equal(t, task.Result, data[12:])
}

func b1Request() solana.PublicKey {
	return testutil.NewRequestBuilder(1).Address()
}

func TestBuildSettleInstruction_RejectsForeignSigner(t *testing.T) {
	accounts := testAccounts(t)
	b := testutil.NewRequestBuilder(2).WithCallback(ledger.Callback{
		ProgramID: testutil.DeterministicKey("cb"),
		Accounts: []ledger.CallbackAccount{
			{Pubkey: testutil.DeterministicKey("thief"), IsSigner: true, IsWritable: true},
		},
	})

	_, err := BuildSettleInstruction(compiled(b, []byte{1}), accounts, testutil.DeterministicKey("payer"), testutil.DeterministicKey("enclave"))
	require.ErrorIs(t, err, ErrInvalidCallback)
}

func TestBuildSettleInstruction_RequiresResult(t *testing.T) {
	_, err := BuildSettleInstruction(compiled(testutil.NewRequestBuilder(3), nil), testAccounts(t),
		testutil.DeterministicKey("payer"), testutil.DeterministicKey("enclave"))
	require.ErrorIs(t, err, ErrEmptyResult)
}

func TestBuildRequestQuoteVerifyInstruction(t *testing.T) {
	accounts := QuoteVerifyAccounts{
		Service:          testutil.DeterministicKey("service"),
		ServiceWorker:    testutil.DeterministicKey("worker"),
		Function:         testutil.DeterministicKey("function"),
		AttestationQueue: testutil.DeterministicKey("queue"),
		EscrowWallet:     testutil.DeterministicKey("escrow"),
		NewEnclaveSigner: testutil.DeterministicKey("candidate"),
		Authority:        testutil.DeterministicKey("authority"),
		Payer:            testutil.DeterministicKey("payer"),
	}
	var key [64]byte
	copy(key[:], []byte{0x12, 0x20, 0xaa})

	ix, err := BuildRequestQuoteVerifyInstruction(ledger.DefaultAttestationProgramID, accounts, key)
	require.NoError(t, err)
	require.Equal(t, ledger.DefaultAttestationProgramID, ix.ProgramID())

	metas := ix.Accounts()
	require.Len(t, metas, 10)
	require.Equal(t, accounts.NewEnclaveSigner, metas[5].PublicKey)
	require.True(t, metas[5].IsSigner)
	require.Equal(t, accounts.Payer, metas[7].PublicKey)
	require.True(t, metas[7].IsSigner)
	require.True(t, metas[7].IsWritable)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, ledger.RequestQuoteVerifyInstructionDiscriminator[:], data[:8])
	// None for the quote registry, then the length-prefixed registry key.
	require.Equal(t, byte(0), data[8])
	require.Equal(t, uint32(64), binary.LittleEndian.Uint32(data[9:13]))
	require.Equal(t, key[:], data[13:])
}

func TestSettlementClient_Submit(t *testing.T) {
	fake := testutil.NewFakeLedger()
	client := NewSettlementClient(zerolog.Nop(), fake, testAccounts(t), SettlementConfig{})

	payer := solana.NewWallet().PrivateKey
	enclave := solana.NewWallet().PrivateKey
	checkpoint, err := fake.GetLatestBlockhash(context.Background())
	require.NoError(t, err)

	task := compiled(testutil.NewRequestBuilder(4).WithNumBytes(8), make([]byte, 8))
	sig, err := client.Submit(context.Background(), task, payer, enclave, checkpoint)
	require.NoError(t, err)

	sent := fake.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, sig, sent[0].Signatures[0])
	require.Equal(t, checkpoint.Blockhash, sent[0].Message.RecentBlockhash)
	require.Len(t, sent[0].Signatures, 2)

	opts := fake.SentOptions()[0]
	require.Equal(t, checkpoint.Slot, opts.MinContextSlot)
	require.Equal(t, rpc.CommitmentProcessed, opts.PreflightCommitment)
	require.False(t, opts.SkipPreflight)
}

func TestSettlementClient_SubmitBuildFailure(t *testing.T) {
	fake := testutil.NewFakeLedger()
	client := NewSettlementClient(zerolog.Nop(), fake, testAccounts(t), SettlementConfig{})

	b := testutil.NewRequestBuilder(5).WithCallback(ledger.Callback{
		ProgramID: testutil.DeterministicKey("cb"),
		Accounts:  []ledger.CallbackAccount{{Pubkey: testutil.DeterministicKey("x"), IsSigner: true}},
	})
	_, err := client.Submit(context.Background(), compiled(b, []byte{1}), solana.NewWallet().PrivateKey,
		solana.NewWallet().PrivateKey, ledger.Checkpoint{})
	require.ErrorIs(t, err, ErrBuildFailed)
	require.ErrorIs(t, err, ErrInvalidCallback)
	require.Equal(t, int32(0), fake.SendCalls.Load())
}
