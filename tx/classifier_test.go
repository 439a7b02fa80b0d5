package tx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

const simulationFailed = "Transaction simulation failed: Error processing Instruction 0: custom program error: 0xbbf"

func preflight(t *testing.T, data string) error {
	t.Helper()
	return ledger.ParseSendError(-32002, simulationFailed, []byte(data))
}

func TestClassify(t *testing.T) {
	c := NewClassifier(zerolog.Nop())

	closedLogs := `["Program RANDMo5gFnqnXJW5Z52KNmd24sAo95KAd5VbiCtq5Rh invoke [1]",` +
		`"Program log: Instruction: SimpleRandomnessV1Settle",` +
		`"Program log: AnchorError caused by account: request. Error Code: AccountOwnedByWrongProgram. Error Number: 3007. Error Message: The given account is owned by a different program than expected.",` +
		`"Program log: Left:",` +
		`"Program log: 11111111111111111111111111111111",` +
		`"Program log: Right:",` +
		`"Program log: RANDMo5gFnqnXJW5Z52KNmd24sAo95KAd5VbiCtq5Rh"]`

	tests := []struct {
		name           string
		err            error
		retryable      bool
		alreadySettled bool
		reason         string
	}{
		{
			name:           "request already settled",
			err:            preflight(t, `{"err":{"InstructionError":[0,{"Custom":3007}]},"logs":`+closedLogs+`}`),
			alreadySettled: true,
			reason:         ReasonAlreadySettled,
		},
		{
			name:      "3007 without closed request logs",
			err:       preflight(t, `{"err":{"InstructionError":[0,{"Custom":3007}]},"logs":["Program log: AnchorError caused by account: escrow. Error Number: 3007."]}`),
			retryable: true,
			reason:    ReasonSettleCustom,
		},
		{
			name:      "3007 without logs",
			err:       preflight(t, `{"err":{"InstructionError":[0,{"Custom":3007}]}}`),
			retryable: true,
			reason:    ReasonSettleCustom,
		},
		{
			name:      "closed request logs on another instruction",
			err:       preflight(t, `{"err":{"InstructionError":[1,{"Custom":3007}]},"logs":`+closedLogs+`}`),
			retryable: true,
			reason:    ReasonInstruction,
		},
		{
			name:      "other custom error",
			err:       preflight(t, `{"err":{"InstructionError":[0,{"Custom":6000}]}}`),
			retryable: true,
			reason:    ReasonSettleCustom,
		},
		{
			name:      "builtin instruction error",
			err:       preflight(t, `{"err":{"InstructionError":[0,"InvalidAccountData"]}}`),
			retryable: true,
			reason:    ReasonSettleInstruction,
		},
		{
			name:      "blockhash not found",
			err:       preflight(t, `{"err":"BlockhashNotFound","logs":[]}`),
			retryable: true,
			reason:    ReasonTransaction,
		},
		{
			name:      "rpc timeout",
			err:       ledger.NewSendError(fmt.Errorf("rpc call sendTransaction: %w", context.DeadlineExceeded)),
			retryable: true,
			reason:    ReasonContext,
		},
		{
			name:      "rpc error without simulation",
			err:       ledger.ParseSendError(-32005, "Node is behind", nil),
			retryable: true,
			reason:    ReasonRPC,
		},
		{
			name:      "confirmation timeout",
			err:       fmt.Errorf("%w: sig", ledger.ErrConfirmationTimeout),
			retryable: true,
			reason:    ReasonTimeout,
		},
		{
			name:      "landed with error",
			err:       &ledger.TransactionFailedError{Err: map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 3007}}}},
			retryable: true,
			reason:    ReasonLanded,
		},
		{
			name:      "unknown",
			err:       errors.New("boom"),
			retryable: true,
			reason:    ReasonUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Classify(tt.err)
			require.Equal(t, tt.retryable, d.Retryable)
			require.Equal(t, tt.alreadySettled, d.AlreadySettled)
			require.Equal(t, tt.reason, d.Reason)
		})
	}
}
