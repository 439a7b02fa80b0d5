package tx

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
)

// requestClosedLogs is what the randomness program logs when the request
// account was already closed by an earlier settlement.
const requestClosedLogs = "Program log: AnchorError caused by account: request. Error Code: AccountOwnedByWrongProgram. Error Number: 3007. Error Message: The given account is owned by a different program than expected.\nProgram log: Left:\nProgram log: 11111111111111111111111111111111"

const accountOwnedByWrongProgram = 3007

// Classification reasons.
const (
	ReasonAlreadySettled    = "already_settled"
	ReasonSettleCustom      = "settle_custom_error"
	ReasonSettleInstruction = "settle_instruction_error"
	ReasonInstruction       = "instruction_error"
	ReasonTransaction       = "transaction_error"
	ReasonLanded            = "landed_with_error"
	ReasonTimeout           = "confirmation_timeout"
	ReasonContext           = "context"
	ReasonNetwork           = "network"
	ReasonRPC               = "rpc_error"
	ReasonUnknown           = "unknown"
)

// Decision is the triage of a failed settlement submission.
type Decision struct {
	Retryable      bool
	AlreadySettled bool
	Reason         string
}

// Classifier decides whether a failed submission is worth resending. It never
// retries anything itself.
type Classifier struct {
	logger logging.Logger
}

func NewClassifier(logger logging.Logger) *Classifier {
	return &Classifier{logger: logging.ForComponent(logger, logging.ComponentClassifier)}
}

// Classify triages err. Only a settle instruction rejected because the request
// account no longer belongs to the program is final; everything else is
// retryable.
func (c *Classifier) Classify(err error) Decision {
	d := classify(err)

	retryable := strconv.FormatBool(d.Retryable)
	classifiedErrorsTotal.WithLabelValues(d.Reason, retryable).Inc()

	event := c.logger.Warn()
	if d.AlreadySettled {
		event = c.logger.Info()
	}
	event = event.Err(err).
		Str(logging.FieldReason, d.Reason).
		Bool("retryable", d.Retryable)

	var sendErr *ledger.SendError
	if errors.As(err, &sendErr) && len(sendErr.Logs) > 0 && !d.AlreadySettled {
		event = event.Str("logs", sendErr.JoinedLogs())
	}
	event.Msg("classified settlement failure")

	return d
}

func classify(err error) Decision {
	if err == nil {
		return Decision{Reason: ReasonUnknown}
	}

	var sendErr *ledger.SendError
	if errors.As(err, &sendErr) && sendErr.TxError != "" {
		return classifySendError(sendErr)
	}

	var failed *ledger.TransactionFailedError
	if errors.As(err, &failed) {
		return Decision{Retryable: true, Reason: ReasonLanded}
	}

	if errors.Is(err, ledger.ErrConfirmationTimeout) {
		return Decision{Retryable: true, Reason: ReasonTimeout}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Decision{Retryable: true, Reason: ReasonContext}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Decision{Retryable: true, Reason: ReasonNetwork}
	}

	if sendErr != nil {
		return Decision{Retryable: true, Reason: ReasonRPC}
	}
	return Decision{Retryable: true, Reason: ReasonUnknown}
}

func classifySendError(e *ledger.SendError) Decision {
	if e.TxError != "InstructionError" {
		return Decision{Retryable: true, Reason: ReasonTransaction}
	}
	// The settle instruction is always first in the transaction.
	if e.InstructionIndex != 0 {
		return Decision{Retryable: true, Reason: ReasonInstruction}
	}
	if e.CustomCode == nil {
		return Decision{Retryable: true, Reason: ReasonSettleInstruction}
	}
	if *e.CustomCode == accountOwnedByWrongProgram && strings.Contains(e.JoinedLogs(), requestClosedLogs) {
		return Decision{AlreadySettled: true, Reason: ReasonAlreadySettled}
	}
	return Decision{Retryable: true, Reason: ReasonSettleCustom}
}
