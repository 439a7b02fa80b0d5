//go:build test

package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/staccDOTsol/rebalanc00r/client"
)

// FakePubsub is an in-memory client.Subscriber. Subscriptions stay open
// until closed or until their context is cancelled.
type FakePubsub struct {
	mu      sync.Mutex
	subs    map[string][]*FakeSubscription
	logsErr error
}

// NewFakePubsub creates an empty pubsub.
func NewFakePubsub() *FakePubsub {
	return &FakePubsub{subs: make(map[string][]*FakeSubscription)}
}

func logsKey(pk solana.PublicKey) string    { return "logs:" + pk.String() }
func accountKey(pk solana.PublicKey) string { return "account:" + pk.String() }

func (p *FakePubsub) LogsSubscribe(_ context.Context, mentions solana.PublicKey) (client.Subscription, error) {
	p.mu.Lock()
	err := p.logsErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.add(logsKey(mentions)), nil
}

// FailLogs makes every later LogsSubscribe fail with err. A nil err restores
// subscriptions.
func (p *FakePubsub) FailLogs(err error) {
	p.mu.Lock()
	p.logsErr = err
	p.mu.Unlock()
}

func (p *FakePubsub) AccountSubscribe(_ context.Context, account solana.PublicKey) (client.Subscription, error) {
	return p.add(accountKey(account)), nil
}

func (p *FakePubsub) add(key string) *FakeSubscription {
	sub := &FakeSubscription{
		ch:     make(chan client.Notification, 64),
		closed: make(chan struct{}),
	}
	p.mu.Lock()
	p.subs[key] = append(p.subs[key], sub)
	p.mu.Unlock()
	return sub
}

// LogSubscribers returns how many log subscriptions mention pk.
func (p *FakePubsub) LogSubscribers(pk solana.PublicKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[logsKey(pk)])
}

// PublishLogs delivers a successful logsNotification to every subscription
// mentioning pk.
func (p *FakePubsub) PublishLogs(pk solana.PublicKey, logs []string) {
	value, _ := json.Marshal(map[string]interface{}{
		"signature": solana.Signature{}.String(),
		"err":       nil,
		"logs":      logs,
	})
	p.publish(logsKey(pk), client.Notification{Value: value})
}

// PublishAccount delivers an accountNotification carrying data.
func (p *FakePubsub) PublishAccount(pk solana.PublicKey, data []byte) {
	value, _ := json.Marshal(map[string]interface{}{
		"data": []string{base64.StdEncoding.EncodeToString(data), "base64"},
	})
	p.publish(accountKey(pk), client.Notification{Value: value})
}

func (p *FakePubsub) publish(key string, n client.Notification) {
	p.mu.Lock()
	subs := append([]*FakeSubscription(nil), p.subs[key]...)
	p.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- n:
		case <-sub.closed:
		}
	}
}

var _ client.Subscriber = (*FakePubsub)(nil)

// FakeSubscription is a subscription fed by FakePubsub.
type FakeSubscription struct {
	ch     chan client.Notification
	closed chan struct{}
	once   sync.Once
}

func (s *FakeSubscription) Recv(ctx context.Context) (client.Notification, error) {
	select {
	case <-ctx.Done():
		return client.Notification{}, ctx.Err()
	case <-s.closed:
		return client.Notification{}, client.ErrSubscriptionClosed
	case n := <-s.ch:
		return n, nil
	}
}

func (s *FakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
