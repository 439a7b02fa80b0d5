package tee

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteEnclave calls a quote provider sidecar running inside the TD:
// GET /attest/<hex report data> and GET /random/<n>.
type RemoteEnclave struct {
	address string
	client  *http.Client
}

// NewRemoteEnclave creates a remote enclave. A nil client uses a 10s timeout.
func NewRemoteEnclave(address string, client *http.Client) *RemoteEnclave {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteEnclave{address: strings.TrimRight(address, "/"), client: client}
}

func (r *RemoteEnclave) Quote(ctx context.Context, payload [32]byte) ([]byte, error) {
	rd := reportData(payload)
	quote, err := r.get(ctx, fmt.Sprintf("%s/attest/%s", r.address, hex.EncodeToString(rd[:])))
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	return quote, nil
}

func (r *RemoteEnclave) ReadRandom(ctx context.Context, n int) ([]byte, error) {
	if err := validateRandomLength(n); err != nil {
		return nil, err
	}
	out, err := r.get(ctx, fmt.Sprintf("%s/random/%d", r.address, n))
	if err != nil {
		return nil, fmt.Errorf("calling remote random provider: %w", err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("remote random provider returned %d bytes, expected %d", len(out), n)
	}
	return out, nil
}

func (r *RemoteEnclave) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
