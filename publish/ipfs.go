// Package publish stores attestation quotes in content-addressed storage and
// converts the returned content identifiers into on-chain registry keys.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/mr-tron/base58"

	"github.com/staccDOTsol/rebalanc00r/logging"
)

// RegistryKeySize is the fixed size of the quote registry key.
const RegistryKeySize = 64

var ErrCIDTooLong = errors.New("content id longer than registry key")

// Publisher stores data and returns its content identifier.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// Config configures the IPFS publisher.
type Config struct {
	// URL is the IPFS HTTP API endpoint.
	URL string `yaml:"url"`

	// Username and Password enable HTTP basic auth (e.g. for pinning services).
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// TimeoutSeconds bounds each add call. Default: 30
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// IPFSPublisher adds quotes to an IPFS node.
type IPFSPublisher struct {
	logger logging.Logger
	shell  *shell.Shell
	url    string
}

// NewIPFSPublisher creates a publisher for cfg.URL.
func NewIPFSPublisher(logger logging.Logger, cfg Config) (*IPFSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("ipfs url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &basicAuthTransport{username: cfg.Username, password: cfg.Password, next: http.DefaultTransport},
	}

	return &IPFSPublisher{
		logger: logging.ForComponent(logger, logging.ComponentPublisher),
		shell:  shell.NewShellWithClient(cfg.URL, httpClient),
		url:    cfg.URL,
	}, nil
}

// Publish adds data and returns its CID.
func (p *IPFSPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	start := time.Now()

	type result struct {
		cid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		cid, err := p.shell.Add(bytes.NewReader(data))
		done <- result{cid: cid, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			publishTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("failed to add data to IPFS: %w", r.err)
		}
		publishTotal.WithLabelValues("ok").Inc()
		publishDurationSeconds.Observe(time.Since(start).Seconds())

		p.logger.Debug().
			Str(logging.FieldCID, r.cid).
			Int("size", len(data)).
			Dur(logging.FieldDuration, time.Since(start)).
			Msg("published to IPFS")
		return r.cid, nil
	}
}

// RegistryKey base58-decodes cid into a zero-padded 64-byte key.
func RegistryKey(cid string) ([RegistryKeySize]byte, error) {
	var key [RegistryKeySize]byte
	raw, err := base58.Decode(cid)
	if err != nil {
		return key, fmt.Errorf("invalid content id %q: %w", cid, err)
	}
	if len(raw) > RegistryKeySize {
		return key, fmt.Errorf("%w: %d bytes", ErrCIDTooLong, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username == "" && t.password == "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(clone)
}
