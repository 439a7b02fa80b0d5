package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRPCURL(t *testing.T) {
	tests := []struct {
		name    string
		cluster string
		want    string
		wantErr bool
	}{
		{name: "empty defaults to devnet", cluster: "", want: DevnetRPCURL},
		{name: "devnet", cluster: "devnet", want: DevnetRPCURL},
		{name: "mainnet alias", cluster: "mainnet", want: MainnetRPCURL},
		{name: "mainnet-beta", cluster: "mainnet-beta", want: MainnetRPCURL},
		{name: "localnet", cluster: "localnet", want: LocalnetRPCURL},
		{name: "custom url", cluster: "https://rpc.example.com", want: "https://rpc.example.com"},
		{name: "garbage", cluster: "testnet-ish", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultRPCURL(tt.cluster)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	got, err := WebsocketURL("https://api.devnet.solana.com")
	require.NoError(t, err)
	require.Equal(t, "wss://api.devnet.solana.com", got)

	got, err = WebsocketURL(LocalnetRPCURL)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:8900", got)

	_, err = WebsocketURL("ftp://example.com")
	require.Error(t, err)
}

func TestSolanaConfig_Overrides(t *testing.T) {
	cfg := SolanaConfig{Cluster: "devnet", RPCURL: "http://rpc.local:9000", WSURL: "ws://pubsub.local:9001"}

	rpcURL, err := cfg.ResolveRPCURL()
	require.NoError(t, err)
	require.Equal(t, "http://rpc.local:9000", rpcURL)

	wsURL, err := cfg.ResolveWSURL()
	require.NoError(t, err)
	require.Equal(t, "ws://pubsub.local:9001", wsURL)

	cfg.WSURL = ""
	wsURL, err = cfg.ResolveWSURL()
	require.NoError(t, err)
	require.Equal(t, "ws://rpc.local:9000", wsURL)
}
