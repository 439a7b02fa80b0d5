// Package client holds the cluster-facing streaming pieces: websocket
// subscriptions, the reconnecting watcher that keeps them alive, and the
// blockhash checkpoint tracker.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

const (
	// pingInterval keeps idle subscriptions from being dropped by RPC providers.
	pingInterval = 30 * time.Second

	// pongWait is how long a subscription may stay silent, pongs included,
	// before the peer is considered gone.
	pongWait = 60 * time.Second

	// subscribeTimeout bounds the subscribe handshake.
	subscribeTimeout = 10 * time.Second

	notificationBuffer = 256
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Notification is one pubsub notification payload.
type Notification struct {
	Slot uint64
	// Value is the raw JSON of params.result.value.
	Value json.RawMessage
}

// Subscription is a live pubsub stream.
type Subscription interface {
	// Recv blocks for the next notification. It returns an error once the
	// stream is broken; the caller should Close and resubscribe.
	Recv(ctx context.Context) (Notification, error)
	Close() error
}

// Subscriber opens pubsub subscriptions.
type Subscriber interface {
	LogsSubscribe(ctx context.Context, mentions solana.PublicKey) (Subscription, error)
	AccountSubscribe(ctx context.Context, account solana.PublicKey) (Subscription, error)
}

// PubsubClient opens one websocket per subscription against a cluster pubsub endpoint.
type PubsubClient struct {
	logger     logging.Logger
	url        string
	commitment string
	dialer     *websocket.Dialer

	pingInterval time.Duration
	pongWait     time.Duration
}

// NewPubsubClient creates a pubsub client for wsURL.
func NewPubsubClient(logger logging.Logger, wsURL, commitment string) *PubsubClient {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &PubsubClient{
		logger:     logging.ForComponent(logger, logging.ComponentPubsub),
		url:        wsURL,
		commitment: commitment,
		dialer: &websocket.Dialer{
			HandshakeTimeout: subscribeTimeout,
		},
		pingInterval: pingInterval,
		pongWait:     pongWait,
	}
}

// LogsSubscribe streams the logs of transactions mentioning an address.
func (c *PubsubClient) LogsSubscribe(ctx context.Context, mentions solana.PublicKey) (Subscription, error) {
	return c.subscribe(ctx, "logsSubscribe", "logsUnsubscribe", []interface{}{
		map[string]interface{}{"mentions": []string{mentions.String()}},
		map[string]interface{}{"commitment": c.commitment},
	})
}

// AccountSubscribe streams the data of one account.
func (c *PubsubClient) AccountSubscribe(ctx context.Context, account solana.PublicKey) (Subscription, error) {
	return c.subscribe(ctx, "accountSubscribe", "accountUnsubscribe", []interface{}{
		account.String(),
		map[string]interface{}{"commitment": c.commitment, "encoding": "base64"},
	})
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func (c *PubsubClient) subscribe(ctx context.Context, method, unsubscribe string, params []interface{}) (Subscription, error) {
	dialCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	if err := conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	// The first reply with our id carries the subscription id.
	_ = conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	var subID int64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		reply := gjson.ParseBytes(msg)
		if reply.Get("id").Uint() != 1 {
			continue
		}
		if rpcErr := reply.Get("error"); rpcErr.Exists() {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %s", method, rpcErr.Get("message").String())
		}
		subID = reply.Get("result").Int()
		break
	}

	sub := &wsSubscription{
		logger:        c.logger.With().Str(logging.FieldOperation, method).Int64("subscription", subID).Logger(),
		conn:          conn,
		id:            subID,
		unsubscribe:   unsubscribe,
		method:        method,
		pingInterval:  c.pingInterval,
		pongWait:      c.pongWait,
		notifications: make(chan Notification, notificationBuffer),
		done:          make(chan struct{}),
	}

	// A half-open connection never errors on read; the deadline turns a peer
	// that stopped answering pings into a read error.
	_ = conn.SetReadDeadline(time.Now().Add(sub.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(sub.pongWait))
	})
	go sub.readLoop()
	go sub.pingLoop()

	c.logger.Debug().Str(logging.FieldOperation, method).Int64("subscription", subID).Msg("subscribed")
	return sub, nil
}

type wsSubscription struct {
	logger      logging.Logger
	conn        *websocket.Conn
	id          int64
	unsubscribe string
	method      string

	pingInterval time.Duration
	pongWait     time.Duration

	writeMu       sync.Mutex
	notifications chan Notification
	done          chan struct{}
	err           atomic.Pointer[error]
	closeOnce     sync.Once
}

func (s *wsSubscription) readLoop() {
	defer s.closeOnce.Do(func() { close(s.done) })

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.err.Store(&err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		parsed := gjson.ParseBytes(msg)
		if !parsed.Get("method").Exists() || parsed.Get("params.subscription").Int() != s.id {
			continue
		}

		n := Notification{
			Slot:  parsed.Get("params.result.context.slot").Uint(),
			Value: json.RawMessage(parsed.Get("params.result.value").Raw),
		}
		select {
		case s.notifications <- n:
		default:
			notificationsDropped.WithLabelValues(s.method).Inc()
			s.logger.Error().Uint64(logging.FieldSlot, n.Slot).Msg("notification buffer full, dropping notification")
		}
	}
}

func (s *wsSubscription) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				// Unblocks readLoop so Recv reports the broken stream.
				s.logger.Warn().Err(err).Msg("failed to ping subscription, closing")
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *wsSubscription) Recv(ctx context.Context) (Notification, error) {
	select {
	case n := <-s.notifications:
		return n, nil
	default:
	}

	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n := <-s.notifications:
		return n, nil
	case <-s.done:
		// Drain what arrived before the stream broke.
		select {
		case n := <-s.notifications:
			return n, nil
		default:
		}
		if errPtr := s.err.Load(); errPtr != nil {
			return Notification{}, fmt.Errorf("%w: %v", ErrSubscriptionClosed, *errPtr)
		}
		return Notification{}, ErrSubscriptionClosed
	}
}

func (s *wsSubscription) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: 2, Method: s.unsubscribe, Params: []interface{}{s.id}})
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// LogsValue is the value of a logsNotification.
type LogsValue struct {
	Signature string
	Failed    bool
	Logs      []string
}

// DecodeLogs decodes a logsNotification value.
func DecodeLogs(n Notification) (LogsValue, error) {
	if !gjson.ValidBytes(n.Value) {
		return LogsValue{}, errors.New("invalid logs notification")
	}
	value := gjson.ParseBytes(n.Value)
	out := LogsValue{
		Signature: value.Get("signature").String(),
		Failed:    value.Get("err").Exists() && value.Get("err").Type != gjson.Null,
	}
	for _, line := range value.Get("logs").Array() {
		out.Logs = append(out.Logs, line.String())
	}
	return out, nil
}

// DecodeAccountData decodes the base64 data of an accountNotification value.
func DecodeAccountData(n Notification) ([]byte, error) {
	if !gjson.ValidBytes(n.Value) {
		return nil, errors.New("invalid account notification")
	}
	data := gjson.GetBytes(n.Value, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("unexpected account data encoding: %s", data.Raw)
	}
	parts := data.Array()
	if len(parts) != 2 || parts[1].String() != "base64" {
		return nil, fmt.Errorf("unexpected account data encoding: %s", data.Raw)
	}
	return base64.StdEncoding.DecodeString(parts[0].String())
}
