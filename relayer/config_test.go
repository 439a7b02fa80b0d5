package relayer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staccDOTsol/rebalanc00r/config"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/tee"
)

const testServiceKey = "SysvarRent111111111111111111111111111111111"

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.ServiceKey = testServiceKey
	cfg.PayerKeypair = "/etc/relayer/payer.json"
	cfg.IPFS.URL = "http://127.0.0.1:5001"
	return cfg
}

func TestConfig_DefaultsAreValidOnceRequiredFieldsSet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 10, cfg.Batch.Size)
	require.Equal(t, 100*time.Millisecond, cfg.Batch.Interval)
	require.Equal(t, 3, cfg.Submit.MaxAttempts)
	require.Equal(t, 8, cfg.Pool.Workers)
	require.Equal(t, 3*time.Second, cfg.CheckpointInterval)
	require.Equal(t, 10*time.Second, cfg.ReconcileInterval)
	require.Equal(t, 30*time.Second, cfg.AccountPollInterval)
	require.False(t, cfg.Redis.Enabled())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing service key",
			mutate:  func(c *Config) { c.ServiceKey = "" },
			wantErr: "service_key is required",
		},
		{
			name:    "bad service key",
			mutate:  func(c *Config) { c.ServiceKey = "not-a-key" },
			wantErr: "invalid service_key",
		},
		{
			name:    "bad function key",
			mutate:  func(c *Config) { c.FunctionKey = "0OIl" },
			wantErr: "invalid function_key",
		},
		{
			name:    "missing payer",
			mutate:  func(c *Config) { c.PayerKeypair = "" },
			wantErr: "payer_keypair is required",
		},
		{
			name:    "missing ipfs url",
			mutate:  func(c *Config) { c.IPFS.URL = "" },
			wantErr: "ipfs.url is required",
		},
		{
			name:    "unknown cluster",
			mutate:  func(c *Config) { c.Solana.Cluster = "testnet-ish" },
			wantErr: "invalid solana.cluster",
		},
		{
			name:    "remote enclave without url",
			mutate:  func(c *Config) { c.Enclave = tee.Config{Kind: tee.KindRemote} },
			wantErr: "enclave.remote_url is required",
		},
		{
			name:    "unknown enclave",
			mutate:  func(c *Config) { c.Enclave.Kind = "sgx" },
			wantErr: "invalid enclave.kind",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Batch.Size = 0 },
			wantErr: "batch.size must be positive",
		},
		{
			name:    "zero submit attempts",
			mutate:  func(c *Config) { c.Submit.MaxAttempts = 0 },
			wantErr: "submit.max_attempts must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvCluster:      "mainnet",
		EnvServiceKey:   testServiceKey,
		EnvPayerKeypair: "/keys/payer.json",
		EnvIPFSURL:      "https://ipfs.example.com",
		EnvIPFSUsername: "user",
		EnvIPFSPassword: "secret",
		EnvRedisURL:     "redis://redis:6379",
		EnvFunctionKey:  "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.FunctionKey = "keep-me"
	cfg.ApplyEnv(lookup)

	require.Equal(t, "mainnet", cfg.Solana.Cluster)
	require.Equal(t, testServiceKey, cfg.ServiceKey)
	require.Equal(t, "/keys/payer.json", cfg.PayerKeypair)
	require.Equal(t, "https://ipfs.example.com", cfg.IPFS.URL)
	require.Equal(t, "user", cfg.IPFS.Username)
	require.Equal(t, "secret", cfg.IPFS.Password)
	require.Equal(t, "redis://redis:6379", cfg.Redis.URL)
	require.Equal(t, "keep-me", cfg.FunctionKey, "empty variables do not override")

	rpcURL, err := cfg.Solana.ResolveRPCURL()
	require.NoError(t, err)
	require.Equal(t, config.MainnetRPCURL, rpcURL)
}

func TestLoadConfig_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayer.yaml")
	yamlData := `
solana:
  cluster: localnet
service_key: ` + testServiceKey + `
payer_keypair: /keys/from-file.json
ipfs:
  url: http://ipfs:5001
enclave:
  kind: dummy
batch:
  size: 4
  interval: 250ms
submit:
  max_attempts: 5
reconcile_interval: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))
	t.Setenv(EnvPayerKeypair, "/keys/from-env.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, config.ClusterLocalnet, cfg.Solana.Cluster)
	require.Equal(t, "/keys/from-env.json", cfg.PayerKeypair)
	require.Equal(t, tee.KindDummy, cfg.Enclave.Kind)
	require.Equal(t, 4, cfg.Batch.Size)
	require.Equal(t, 250*time.Millisecond, cfg.Batch.Interval)
	require.Equal(t, 5, cfg.Submit.MaxAttempts)
	require.Equal(t, 20*time.Second, cfg.ReconcileInterval)
	// Untouched fields keep their defaults.
	require.Equal(t, 3*time.Second, cfg.CheckpointInterval)

	ws, err := cfg.Solana.ResolveWSURL()
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:8900", ws)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestConfig_ProgramDefaults(t *testing.T) {
	cfg := validConfig()

	program, err := cfg.RandomnessProgram()
	require.NoError(t, err)
	require.Equal(t, ledger.DefaultRandomnessProgramID, program)

	attestation, err := cfg.AttestationProgram()
	require.NoError(t, err)
	require.Equal(t, ledger.DefaultAttestationProgramID, attestation)

	function, err := cfg.FunctionPubkey()
	require.NoError(t, err)
	require.True(t, function.IsZero())
}
