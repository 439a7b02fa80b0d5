package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/staccDOTsol/rebalanc00r/client"
	"github.com/staccDOTsol/rebalanc00r/keys"
	"github.com/staccDOTsol/rebalanc00r/leader"
	"github.com/staccDOTsol/rebalanc00r/ledger"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/observability"
	"github.com/staccDOTsol/rebalanc00r/publish"
	"github.com/staccDOTsol/rebalanc00r/relayer"
	"github.com/staccDOTsol/rebalanc00r/tee"
	redistransport "github.com/staccDOTsol/rebalanc00r/transport/redis"
)

const (
	flagRelayerConfig = "config"
	flagInstanceID    = "instance-id"
)

// RelayerCmd returns the command that runs the randomness relayer.
func RelayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayer",
		Short: "Run the randomness relayer",
		Long: `Run the randomness relayer.

The relayer watches the randomness program for requests, compiles random bytes
inside the enclave and settles every request on chain, signing with an enclave
key that is attested and rotated through the attestation program.

Configuration is read from the YAML file given with --config, then from the
environment (CLUSTER, RPC_URL, WS_URL, SERVICE_KEY, FUNCTION_KEY,
PAYER_KEYPAIR, IPFS_URL, IPFS_USERNAME, IPFS_PASSWORD, REDIS_URL). A .env file
in the working directory is loaded first.

With a Redis URL, replicas share compiled results and elect one leader per
service account; only the leader rotates the signer and submits settlements.

Example:
  randomness-relayer relayer --config /etc/relayer/relayer.yaml`,
		RunE: runRelayer,
	}

	cmd.Flags().String(flagRelayerConfig, "", "Path to relayer config file (optional, environment only when empty)")
	cmd.Flags().String(flagInstanceID, "", "Replica instance id for leader election (random when empty)")

	return cmd
}

func runRelayer(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath, _ := cmd.Flags().GetString(flagRelayerConfig)
	config, err := relayer.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	instanceID, _ := cmd.Flags().GetString(flagInstanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := logging.ForInstance(logging.NewLoggerFromConfig(config.Logging), instanceID)

	rpcURL, err := config.Solana.ResolveRPCURL()
	if err != nil {
		return err
	}
	wsURL, err := config.Solana.ResolveWSURL()
	if err != nil {
		return err
	}

	var (
		redisClient *redistransport.Client
		elector     *leader.Elector
	)
	if config.Redis.Enabled() {
		redisClient, err = redistransport.NewClient(ctx, redistransport.ClientConfigFrom(config.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		logger.Info().Str(logging.FieldURL, config.Redis.URL).Msg("connected to Redis")

		health := redistransport.NewHealthMonitor(logger, redisClient, 0)
		if err := health.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis health monitor: %w", err)
		}
		defer func() { _ = health.Close() }()

		elector = leader.NewElector(logger, redisClient, config.ServiceKey, instanceID, config.Leader)
		logger = logging.WithReplicaStatus(logger, elector)
	} else {
		logger.Info().Msg("no Redis configured, running as the only replica")
	}

	obsServer := observability.NewServer(logger, observability.ServerConfig{
		MetricsEnabled: config.Metrics.Enabled,
		MetricsAddr:    config.Metrics.Addr,
		PprofEnabled:   config.Pprof.Enabled,
		PprofAddr:      config.Pprof.Addr,
		Registry:       observability.Gatherer(),
	})
	if err := obsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}
	defer func() { _ = obsServer.Stop() }()

	payer, err := keys.NewFilePayerProvider(logger, config.PayerKeypair)
	if err != nil {
		return fmt.Errorf("failed to load payer keypair: %w", err)
	}
	defer func() { _ = payer.Close() }()
	go logging.RecoverGoRoutine(logger, "payer_watcher", func(ctx context.Context) {
		if err := payer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("payer watcher stopped")
		}
	})(ctx)

	enclave, err := tee.New(config.Enclave)
	if err != nil {
		return fmt.Errorf("failed to create enclave: %w", err)
	}

	publisher, err := publish.NewIPFSPublisher(logger, config.IPFS)
	if err != nil {
		return fmt.Errorf("failed to create IPFS publisher: %w", err)
	}

	deps := relayer.Dependencies{
		Logger:      logger,
		Ledger:      ledger.NewRPCClient(logger, rpcURL, rpc.CommitmentType(config.Solana.Commitment)),
		Pubsub:      client.NewPubsubClient(logger, wsURL, config.Solana.Commitment),
		Payer:       payer,
		Enclave:     enclave,
		Publisher:   publisher,
		RedisClient: redisClient,
	}
	if elector != nil {
		deps.Leader = elector
	}

	service, err := relayer.NewService(config, deps)
	if err != nil {
		return err
	}
	obsServer.SetReadinessCheck(service.Ready)

	if elector != nil {
		if err := elector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start leader election: %w", err)
		}
		defer elector.Close()
	}

	if err := service.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize relay service: %w", err)
	}

	logger.Info().
		Str(logging.FieldURL, rpcURL).
		Str(logging.FieldAccount, config.ServiceKey).
		Str("payer", payer.Payer().PublicKey().String()).
		Msg("randomness relayer started")

	if err := service.Run(ctx); err != nil {
		return fmt.Errorf("relay service stopped: %w", err)
	}

	logger.Info().Msg("randomness relayer stopped")
	return nil
}
