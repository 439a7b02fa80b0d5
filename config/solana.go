package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Cluster names accepted by SolanaConfig.Cluster.
const (
	ClusterDevnet   = "devnet"
	ClusterMainnet  = "mainnet-beta"
	ClusterLocalnet = "localnet"
)

// Default RPC endpoints per cluster.
const (
	DevnetRPCURL   = "https://api.devnet.solana.com"
	MainnetRPCURL  = "https://api.mainnet-beta.solana.com"
	LocalnetRPCURL = "http://127.0.0.1:8899"
)

// SolanaConfig selects the cluster and its endpoints.
type SolanaConfig struct {
	// Cluster is devnet, mainnet-beta (or mainnet), localnet, or a custom RPC URL.
	// Default: devnet
	Cluster string `yaml:"cluster"`

	// RPCURL overrides the cluster default RPC endpoint.
	RPCURL string `yaml:"rpc_url,omitempty"`

	// WSURL overrides the websocket endpoint derived from the RPC URL.
	WSURL string `yaml:"ws_url,omitempty"`

	// Commitment used for reads: processed, confirmed or finalized.
	// Default: confirmed
	Commitment string `yaml:"commitment,omitempty"`
}

// ResolveRPCURL returns the configured RPC URL or the cluster default.
func (c SolanaConfig) ResolveRPCURL() (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	return DefaultRPCURL(c.Cluster)
}

// ResolveWSURL returns the configured websocket URL or derives one from the RPC URL.
func (c SolanaConfig) ResolveWSURL() (string, error) {
	if c.WSURL != "" {
		return c.WSURL, nil
	}
	rpcURL, err := c.ResolveRPCURL()
	if err != nil {
		return "", err
	}
	return WebsocketURL(rpcURL)
}

// DefaultRPCURL maps a cluster name to its public RPC endpoint. Unknown names
// are accepted when they parse as an http(s) URL.
func DefaultRPCURL(cluster string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cluster)) {
	case "", ClusterDevnet:
		return DevnetRPCURL, nil
	case ClusterMainnet, "mainnet":
		return MainnetRPCURL, nil
	case ClusterLocalnet:
		return LocalnetRPCURL, nil
	}

	u, err := url.Parse(cluster)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("unknown cluster %q: expected devnet, mainnet-beta, localnet or an http(s) URL", cluster)
	}
	return cluster, nil
}

// WebsocketURL converts an http(s) RPC URL to its ws(s) pubsub URL. On
// localnet the pubsub port is the RPC port plus one.
func WebsocketURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported rpc url scheme: %s", u.Scheme)
	}

	if u.Port() == "8899" {
		u.Host = u.Hostname() + ":8900"
	}
	return u.String(), nil
}
