//go:build test

package client

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// mockPubsubServer answers subscribe calls and pushes notifications to every
// open subscription.
type mockPubsubServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       []*websocket.Conn
	methods     []string
	failMethod  string
	subscribers chan *websocket.Conn

	// silent stops reading after the subscribe reply, so pings go unanswered.
	silent bool
	quit   chan struct{}
}

func newMockPubsubServer(t *testing.T) *mockPubsubServer {
	m := &mockPubsubServer{t: t, subscribers: make(chan *websocket.Conn, 8), quit: make(chan struct{})}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(func() {
		close(m.quit)
		m.mu.Lock()
		for _, c := range m.conns {
			_ = c.Close()
		}
		m.mu.Unlock()
		m.server.Close()
	})
	return m
}

func (m *mockPubsubServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockPubsubServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()

	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		method, _ := req["method"].(string)
		m.mu.Lock()
		m.methods = append(m.methods, method)
		fail := m.failMethod == method
		silent := m.silent
		m.mu.Unlock()

		if strings.HasSuffix(method, "Unsubscribe") {
			_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": true})
			continue
		}
		if fail {
			_ = conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0", "id": req["id"],
				"error": map[string]interface{}{"code": -32602, "message": "Invalid params"},
			})
			continue
		}
		_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": 42})
		m.subscribers <- conn
		if silent {
			<-m.quit
			return
		}
	}
}

func (m *mockPubsubServer) notify(conn *websocket.Conn, method string, slot uint64, value interface{}) {
	require.NoError(m.t, conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params": map[string]interface{}{
			"subscription": 42,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value":   value,
			},
		},
	}))
}

func (m *mockPubsubServer) nextSubscriber(t *testing.T) *websocket.Conn {
	select {
	case conn := <-m.subscribers:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
		return nil
	}
}

func TestPubsubClient_LogsSubscribe(t *testing.T) {
	server := newMockPubsubServer(t)
	client := NewPubsubClient(testLogger(), server.url(), "confirmed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.LogsSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()

	conn := server.nextSubscriber(t)
	server.notify(conn, "logsNotification", 77, map[string]interface{}{
		"signature": "5h6xBEauJ3PK6SWCZ1PGjBvj8vDdWG3KpwATGy1ARAXFSDwt8GFXM7W5Ncn16wmqokgpiKRLuS83KUxyZyv2sUYv",
		"err":       nil,
		"logs":      []string{"Program log: hello", "Program data: AAAA"},
	})

	n, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(77), n.Slot)

	logs, err := DecodeLogs(n)
	require.NoError(t, err)
	require.False(t, logs.Failed)
	require.Equal(t, []string{"Program log: hello", "Program data: AAAA"}, logs.Logs)
}

func TestPubsubClient_AccountSubscribe(t *testing.T) {
	server := newMockPubsubServer(t)
	client := NewPubsubClient(testLogger(), server.url(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.AccountSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()

	payload := []byte{1, 2, 3, 4}
	conn := server.nextSubscriber(t)
	server.notify(conn, "accountNotification", 5, map[string]interface{}{
		"data":     []string{base64.StdEncoding.EncodeToString(payload), "base64"},
		"lamports": 1,
	})

	n, err := sub.Recv(ctx)
	require.NoError(t, err)
	data, err := DecodeAccountData(n)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestPubsubClient_SubscribeError(t *testing.T) {
	server := newMockPubsubServer(t)
	server.failMethod = "logsSubscribe"
	client := NewPubsubClient(testLogger(), server.url(), "")

	_, err := client.LogsSubscribe(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid params")
}

func TestPubsubClient_RecvAfterServerDrop(t *testing.T) {
	server := newMockPubsubServer(t)
	client := NewPubsubClient(testLogger(), server.url(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.LogsSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()

	conn := server.nextSubscriber(t)
	_ = conn.Close()

	_, err = sub.Recv(ctx)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestPubsubClient_RecvFailsWhenPeerStopsAnswering(t *testing.T) {
	server := newMockPubsubServer(t)
	server.silent = true
	client := NewPubsubClient(testLogger(), server.url(), "")
	client.pingInterval = 20 * time.Millisecond
	client.pongWait = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.LogsSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()
	server.nextSubscriber(t)

	start := time.Now()
	_, err = sub.Recv(ctx)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPubsubClient_PongsKeepSubscriptionAlive(t *testing.T) {
	server := newMockPubsubServer(t)
	client := NewPubsubClient(testLogger(), server.url(), "")
	client.pingInterval = 20 * time.Millisecond
	client.pongWait = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.LogsSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()
	conn := server.nextSubscriber(t)

	// Several pong windows pass without notifications.
	time.Sleep(400 * time.Millisecond)

	server.notify(conn, "logsNotification", 9, map[string]interface{}{"signature": "x", "err": nil, "logs": []string{}})
	n, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n.Slot)
}

func TestPubsubClient_CountsDroppedNotifications(t *testing.T) {
	server := newMockPubsubServer(t)
	client := NewPubsubClient(testLogger(), server.url(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.LogsSubscribe(ctx, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	defer sub.Close()
	conn := server.nextSubscriber(t)

	dropped := notificationsDropped.WithLabelValues("logsSubscribe")
	before := promtestutil.ToFloat64(dropped)

	for i := 0; i < notificationBuffer+3; i++ {
		server.notify(conn, "logsNotification", uint64(i), map[string]interface{}{"signature": "x", "err": nil, "logs": []string{}})
	}

	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(dropped) >= before+3
	}, 2*time.Second, 5*time.Millisecond)

	n, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n.Slot, "buffered notifications are kept in order")
}

func TestDecodeAccountData_RejectsOtherEncodings(t *testing.T) {
	_, err := DecodeAccountData(Notification{Value: []byte(`{"data":"abc"}`)})
	require.Error(t, err)

	_, err = DecodeAccountData(Notification{Value: []byte(`{"data":["abc","jsonParsed"]}`)})
	require.Error(t, err)
}
