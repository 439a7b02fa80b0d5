package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/tidwall/gjson"
)

// SendError is a failed sendTransaction call with the preflight simulation
// details the node attached, if any.
type SendError struct {
	Code    int
	Message string

	// TxError is the transaction error name, e.g. "InstructionError" or
	// "BlockhashNotFound". Empty when the node returned no simulation result.
	TxError string

	// InstructionIndex is the failing instruction, -1 for non-instruction errors.
	InstructionIndex int
	// InstructionError names a builtin instruction error, e.g. "InvalidAccountData".
	InstructionError string
	// CustomCode is set for program errors.
	CustomCode *uint32

	Logs []string

	cause error
}

func (e *SendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "send transaction failed (code %d): %s", e.Code, e.Message)
	if e.TxError != "" {
		fmt.Fprintf(&b, " [%s", e.TxError)
		if e.InstructionIndex >= 0 {
			fmt.Fprintf(&b, " ix=%d", e.InstructionIndex)
		}
		if e.CustomCode != nil {
			fmt.Fprintf(&b, " custom=%d", *e.CustomCode)
		} else if e.InstructionError != "" {
			fmt.Fprintf(&b, " %s", e.InstructionError)
		}
		b.WriteString("]")
	}
	return b.String()
}

func (e *SendError) Unwrap() error {
	return e.cause
}

// JoinedLogs returns the simulation logs joined by newlines.
func (e *SendError) JoinedLogs() string {
	return strings.Join(e.Logs, "\n")
}

// NewSendError wraps err, extracting the simulation result when err is a
// JSON-RPC error. Other errors (timeouts, transport failures) are wrapped as is.
func NewSendError(err error) *SendError {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &SendError{Code: 0, Message: err.Error(), InstructionIndex: -1, cause: err}
	}

	var data []byte
	if rpcErr.Data != nil {
		data, _ = json.Marshal(rpcErr.Data)
	}
	sendErr := ParseSendError(rpcErr.Code, rpcErr.Message, data)
	sendErr.cause = err
	return sendErr
}

// ParseSendError decodes the data member of a sendTransaction JSON-RPC error.
//
//	{"err":{"InstructionError":[0,{"Custom":3007}]},"logs":["Program log: ..."]}
func ParseSendError(code int, message string, data []byte) *SendError {
	e := &SendError{Code: code, Message: message, InstructionIndex: -1}
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return e
	}

	parsed := gjson.ParseBytes(data)
	for _, line := range parsed.Get("logs").Array() {
		e.Logs = append(e.Logs, line.String())
	}

	txErr := parsed.Get("err")
	switch {
	case !txErr.Exists() || txErr.Type == gjson.Null:
	case txErr.Type == gjson.String:
		e.TxError = txErr.String()
	case txErr.IsObject():
		txErr.ForEach(func(key, value gjson.Result) bool {
			e.TxError = key.String()
			if e.TxError == "InstructionError" && value.IsArray() {
				parts := value.Array()
				if len(parts) == 2 {
					e.InstructionIndex = int(parts[0].Int())
					detail := parts[1]
					if custom := detail.Get("Custom"); custom.Exists() {
						c := uint32(custom.Uint())
						e.CustomCode = &c
					} else if detail.Type == gjson.String {
						e.InstructionError = detail.String()
					} else if detail.IsObject() {
						detail.ForEach(func(k, _ gjson.Result) bool {
							e.InstructionError = k.String()
							return false
						})
					}
				}
			}
			return false
		})
	}
	return e
}
