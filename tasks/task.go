// Package tasks turns discovered randomness requests into compiled results:
// a deduplicating work queue, the compile worker pool, the no-re-roll result
// store and the unbounded outbox feeding the submission batcher.
package tasks

import (
	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/ledger"
)

// Kind is the task variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSimpleRandomnessV1
)

func (k Kind) String() string {
	switch k {
	case KindSimpleRandomnessV1:
		return "simple_randomness_v1"
	default:
		return "unknown"
	}
}

// TaskInput is an uncompiled randomness request.
type TaskInput struct {
	Kind     Kind
	Request  solana.PublicKey
	User     solana.PublicKey
	NumBytes uint8
	Callback ledger.Callback
}

// CompiledTask is a TaskInput with its random bytes. It is never recompiled.
type CompiledTask struct {
	Input  TaskInput
	Result []byte
}

// Request is the request account address the task settles.
func (c CompiledTask) Request() solana.PublicKey {
	return c.Input.Request
}

// FromRequestedEvent builds a task from a request event.
func FromRequestedEvent(ev ledger.RequestedEvent) TaskInput {
	return TaskInput{
		Kind:     KindSimpleRandomnessV1,
		Request:  ev.Request,
		User:     ev.User,
		NumBytes: ev.NumBytes,
		Callback: ev.Callback,
	}
}

// FromRequestAccount builds a task from a scanned request account.
func FromRequestAccount(address solana.PublicKey, acct *ledger.RequestAccount) TaskInput {
	return TaskInput{
		Kind:     KindSimpleRandomnessV1,
		Request:  address,
		User:     acct.User,
		NumBytes: acct.NumBytes,
		Callback: acct.Callback,
	}
}
