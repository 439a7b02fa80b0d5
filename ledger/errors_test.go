package ledger

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/require"
)

func TestParseSendError_CustomProgramError(t *testing.T) {
	data := []byte(`{
		"err": {"InstructionError": [0, {"Custom": 3007}]},
		"logs": ["Program log: first", "Program log: second"],
		"unitsConsumed": 1200
	}`)

	e := ParseSendError(-32002, "Transaction simulation failed", data)
	require.Equal(t, -32002, e.Code)
	require.Equal(t, "InstructionError", e.TxError)
	require.Equal(t, 0, e.InstructionIndex)
	require.NotNil(t, e.CustomCode)
	require.Equal(t, uint32(3007), *e.CustomCode)
	require.Equal(t, "Program log: first\nProgram log: second", e.JoinedLogs())
	require.Contains(t, e.Error(), "custom=3007")
}

func TestParseSendError_Shapes(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantTxErr   string
		wantIndex   int
		wantIxError string
	}{
		{name: "named tx error", data: `{"err":"BlockhashNotFound","logs":[]}`, wantTxErr: "BlockhashNotFound", wantIndex: -1},
		{name: "builtin ix error", data: `{"err":{"InstructionError":[2,"InvalidAccountData"]}}`, wantTxErr: "InstructionError", wantIndex: 2, wantIxError: "InvalidAccountData"},
		{name: "ix error object", data: `{"err":{"InstructionError":[1,{"BorshIoError":"x"}]}}`, wantTxErr: "InstructionError", wantIndex: 1, wantIxError: "BorshIoError"},
		{name: "null err", data: `{"err":null}`, wantIndex: -1},
		{name: "no data", data: ``, wantIndex: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ParseSendError(-32002, "failed", []byte(tt.data))
			require.Equal(t, tt.wantTxErr, e.TxError)
			require.Equal(t, tt.wantIndex, e.InstructionIndex)
			require.Equal(t, tt.wantIxError, e.InstructionError)
			require.Nil(t, e.CustomCode)
		})
	}
}

func TestNewSendError(t *testing.T) {
	rpcErr := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: map[string]interface{}{
			"err":  map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6000}}},
			"logs": []interface{}{"Program log: boom"},
		},
	}

	e := NewSendError(rpcErr)
	require.Equal(t, uint32(6000), *e.CustomCode)
	require.Equal(t, []string{"Program log: boom"}, e.Logs)

	var target *jsonrpc.RPCError
	require.True(t, errors.As(e, &target))

	timeout := errors.New("context deadline exceeded")
	e = NewSendError(timeout)
	require.Empty(t, e.TxError)
	require.ErrorIs(t, e, timeout)
}
