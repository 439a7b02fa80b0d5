package relayer

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/staccDOTsol/rebalanc00r/client"
	"github.com/staccDOTsol/rebalanc00r/config"
	"github.com/staccDOTsol/rebalanc00r/leader"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/publish"
	"github.com/staccDOTsol/rebalanc00r/signer"
	"github.com/staccDOTsol/rebalanc00r/tasks"
	"github.com/staccDOTsol/rebalanc00r/tee"
	"github.com/staccDOTsol/rebalanc00r/tx"
)

// Environment variables that override the config file. They match the
// variables the relayer container is deployed with.
const (
	EnvCluster      = "CLUSTER"
	EnvRPCURL       = "RPC_URL"
	EnvWSURL        = "WS_URL"
	EnvServiceKey   = "SERVICE_KEY"
	EnvFunctionKey  = "FUNCTION_KEY"
	EnvPayerKeypair = "PAYER_KEYPAIR"
	EnvIPFSURL      = "IPFS_URL"
	EnvIPFSUsername = "IPFS_USERNAME"
	EnvIPFSPassword = "IPFS_PASSWORD"
	EnvRedisURL     = "REDIS_URL"
)

// Config is the relayer configuration.
type Config struct {
	// Solana selects the cluster and its RPC and pubsub endpoints.
	Solana config.SolanaConfig `yaml:"solana"`

	// ProgramID is the randomness program. Default: the deployed program.
	ProgramID string `yaml:"program_id,omitempty"`

	// AttestationProgramID owns the service and function accounts.
	// Default: the deployed attestation program.
	AttestationProgramID string `yaml:"attestation_program_id,omitempty"`

	// ServiceKey is the attestation service account this relayer serves.
	ServiceKey string `yaml:"service_key"`

	// FunctionKey is the function account. Default: the function recorded
	// on the service account.
	FunctionKey string `yaml:"function_key,omitempty"`

	// PayerKeypair is a solana-keygen JSON keypair file.
	PayerKeypair string `yaml:"payer_keypair"`

	Enclave tee.Config     `yaml:"enclave"`
	IPFS    publish.Config `yaml:"ipfs"`

	// Redis is optional. When set, compiled results are shared between
	// replicas and leader election gates rotation and submission.
	Redis  config.RedisConfig `yaml:"redis,omitempty"`
	Leader leader.Config      `yaml:"leader,omitempty"`

	// Pool configures the compile workers.
	Pool tasks.PoolConfig `yaml:"pool"`

	// Batch configures how compiled tasks are grouped for submission.
	Batch BatchConfig `yaml:"batch"`

	// Submit configures settlement submission.
	Submit SubmitConfig `yaml:"submit"`

	// ResultTTL bounds how long a compiled result is kept after compile.
	// Default: 24h
	ResultTTL time.Duration `yaml:"result_ttl"`

	// RotationSchedule is the cron spec of the rotation check. Default: @every 15s
	RotationSchedule string `yaml:"rotation_schedule"`

	// CheckpointInterval is how often the blockhash is refreshed. Default: 3s
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// ReconcileInterval is how often request accounts are scanned. Default: 10s
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// AccountPollInterval is how often the service and function accounts are
	// re-fetched in addition to their subscriptions. Default: 30s
	AccountPollInterval time.Duration `yaml:"account_poll_interval"`

	// Reconnect bounds how the log and account subscriptions reconnect.
	// Exhausting it stops the relayer. Default: 500ms doubling to 5s, 3 retries
	Reconnect client.Backoff `yaml:"reconnect"`

	Metrics config.MetricsConfig `yaml:"metrics"`
	Pprof   config.PprofConfig   `yaml:"pprof,omitempty"`
	Logging logging.Config       `yaml:"logging"`
}

// BatchConfig configures the submission batcher.
type BatchConfig struct {
	// Size flushes a batch once it holds this many tasks. Default: 10
	Size int `yaml:"size"`

	// Interval flushes a non-empty batch this long after the last flush.
	// Default: 100ms
	Interval time.Duration `yaml:"interval"`

	// Concurrency bounds in-flight settlements across batches. Default: 32
	Concurrency int `yaml:"concurrency"`
}

// SubmitConfig configures settlement submission.
type SubmitConfig struct {
	// MaxAttempts is how many times a retryable settlement is sent before
	// the request is left to the reconciliation scan. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the wait before the first resend of a retryable
	// settlement; it doubles on every further resend. It should cover a
	// checkpoint refresh so a resend carries a newer blockhash. Default: 3s
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Rate limits settlements per second across the relayer. Default: 50
	Rate float64 `yaml:"rate"`

	// Burst is the rate limiter burst. Default: 10
	Burst int `yaml:"burst"`

	// ConfirmTimeout bounds the wait for a settlement to be processed.
	// Default: 60s
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Solana: config.SolanaConfig{
			Cluster:    config.ClusterDevnet,
			Commitment: "confirmed",
		},
		Enclave: tee.Config{Kind: tee.KindDCAP},
		IPFS:    publish.Config{TimeoutSeconds: 30},
		Redis: config.RedisConfig{
			Namespace: config.DefaultRedisNamespaceConfig(),
		},
		Leader: leader.Config{
			LeaderTTL:     leader.DefaultLeaderTTL,
			HeartbeatRate: leader.DefaultHeartbeatRate,
		},
		Pool: tasks.DefaultPoolConfig(),
		Batch: BatchConfig{
			Size:        10,
			Interval:    100 * time.Millisecond,
			Concurrency: 32,
		},
		Submit: SubmitConfig{
			MaxAttempts:    3,
			RetryDelay:     3 * time.Second,
			Rate:           tx.DefaultSubmitRate,
			Burst:          tx.DefaultSubmitBurst,
			ConfirmTimeout: 60 * time.Second,
		},
		ResultTTL:           24 * time.Hour,
		RotationSchedule:    signer.DefaultRotationSchedule,
		CheckpointInterval:  3 * time.Second,
		ReconcileInterval:   10 * time.Second,
		AccountPollInterval: 30 * time.Second,
		Reconnect:           client.DefaultBackoff(),
		Metrics: config.MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:9090",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := c.Solana.ResolveRPCURL(); err != nil {
		return fmt.Errorf("invalid solana.cluster: %w", err)
	}
	if _, err := c.Solana.ResolveWSURL(); err != nil {
		return fmt.Errorf("invalid solana.ws_url: %w", err)
	}

	if c.ServiceKey == "" {
		return fmt.Errorf("service_key is required")
	}
	if _, err := solana.PublicKeyFromBase58(c.ServiceKey); err != nil {
		return fmt.Errorf("invalid service_key: %w", err)
	}
	if _, err := parseOptionalKey(c.FunctionKey); err != nil {
		return fmt.Errorf("invalid function_key: %w", err)
	}
	if _, err := parseOptionalKey(c.ProgramID); err != nil {
		return fmt.Errorf("invalid program_id: %w", err)
	}
	if _, err := parseOptionalKey(c.AttestationProgramID); err != nil {
		return fmt.Errorf("invalid attestation_program_id: %w", err)
	}

	if c.PayerKeypair == "" {
		return fmt.Errorf("payer_keypair is required")
	}

	switch c.Enclave.Kind {
	case tee.KindDCAP, tee.KindDummy:
	case tee.KindRemote:
		if c.Enclave.RemoteURL == "" {
			return fmt.Errorf("enclave.remote_url is required for the remote enclave")
		}
	default:
		return fmt.Errorf("invalid enclave.kind: %s", c.Enclave.Kind)
	}

	if c.IPFS.URL == "" {
		return fmt.Errorf("ipfs.url is required")
	}

	if c.Redis.Enabled() {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis.url: %w", err)
		}
	}

	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive")
	}
	if c.Batch.Interval <= 0 {
		return fmt.Errorf("batch.interval must be positive")
	}
	if c.Submit.MaxAttempts <= 0 {
		return fmt.Errorf("submit.max_attempts must be positive")
	}
	if c.CheckpointInterval <= 0 || c.ReconcileInterval <= 0 || c.AccountPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	return nil
}

// ServicePubkey returns the configured service account.
func (c *Config) ServicePubkey() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(c.ServiceKey)
}

// FunctionPubkey returns the configured function account, or the zero key
// when it should be read from the service account.
func (c *Config) FunctionPubkey() (solana.PublicKey, error) {
	return parseOptionalKey(c.FunctionKey)
}

// RandomnessProgram returns the randomness program id.
func (c *Config) RandomnessProgram() (solana.PublicKey, error) {
	pk, err := parseOptionalKey(c.ProgramID)
	if err != nil || !pk.IsZero() {
		return pk, err
	}
	return ledger.DefaultRandomnessProgramID, nil
}

// AttestationProgram returns the attestation program id.
func (c *Config) AttestationProgram() (solana.PublicKey, error) {
	pk, err := parseOptionalKey(c.AttestationProgramID)
	if err != nil || !pk.IsZero() {
		return pk, err
	}
	return ledger.DefaultAttestationProgramID, nil
}

func parseOptionalKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(s)
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvCluster, &c.Solana.Cluster)
	set(EnvRPCURL, &c.Solana.RPCURL)
	set(EnvWSURL, &c.Solana.WSURL)
	set(EnvServiceKey, &c.ServiceKey)
	set(EnvFunctionKey, &c.FunctionKey)
	set(EnvPayerKeypair, &c.PayerKeypair)
	set(EnvIPFSURL, &c.IPFS.URL)
	set(EnvIPFSUsername, &c.IPFS.Username)
	set(EnvIPFSPassword, &c.IPFS.Password)
	set(EnvRedisURL, &c.Redis.URL)
}

// LoadConfig loads the configuration. A .env file in the working directory
// is loaded into the environment first. path may be empty, in which case
// the defaults and the environment alone make up the configuration.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
