package ledger

import (
	"bytes"
	"encoding/base64"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Event is a decoded randomness program event.
type Event interface {
	eventName() string
}

// RequestedEvent is emitted when a user requests randomness.
type RequestedEvent struct {
	CallbackPID solana.PublicKey
	User        solana.PublicKey
	Request     solana.PublicKey
	Callback    Callback
	NumBytes    uint8
}

func (RequestedEvent) eventName() string { return "SimpleRandomnessV1RequestedEvent" }

// SettledEvent is emitted when a request is settled.
type SettledEvent struct {
	CallbackPID solana.PublicKey
	User        solana.PublicKey
	Request     solana.PublicKey
	IsSuccess   bool
	Randomness  []byte
}

func (SettledEvent) eventName() string { return "SimpleRandomnessV1SettledEvent" }

// EventName returns the Anchor name of ev.
func EventName(ev Event) string {
	return ev.eventName()
}

// ParseEvents extracts the randomness program events from transaction logs.
// Every whitespace-separated word is tried as base64; words that do not decode
// or carry an unknown discriminator are skipped.
func ParseEvents(logs []string) []Event {
	var events []Event
	for _, word := range strings.Fields(strings.Join(logs, " ")) {
		raw, err := base64.StdEncoding.DecodeString(word)
		if err != nil || len(raw) < 8 {
			continue
		}

		switch {
		case bytes.Equal(raw[:8], RequestedEventDiscriminator[:]):
			var ev RequestedEvent
			if bin.NewBorshDecoder(raw[8:]).Decode(&ev) == nil {
				events = append(events, ev)
			}
		case bytes.Equal(raw[:8], SettledEventDiscriminator[:]):
			var ev SettledEvent
			if bin.NewBorshDecoder(raw[8:]).Decode(&ev) == nil {
				events = append(events, ev)
			}
		}
	}
	return events
}

// EncodeEventLog renders ev as the "Program data:" log line the program emits.
func EncodeEventLog(ev Event) (string, error) {
	var disc Discriminator
	switch ev.(type) {
	case RequestedEvent:
		disc = RequestedEventDiscriminator
	case SettledEvent:
		disc = SettledEventDiscriminator
	}
	data, err := EncodeAccount(disc, ev)
	if err != nil {
		return "", err
	}
	return "Program data: " + base64.StdEncoding.EncodeToString(data), nil
}
