package redis

import (
	"context"
	"fmt"

	"github.com/staccDOTsol/rebalanc00r/config"
	"github.com/staccDOTsol/rebalanc00r/logging"
	"github.com/staccDOTsol/rebalanc00r/relayer"
	transportredis "github.com/staccDOTsol/rebalanc00r/transport/redis"
)

var (
	// Package-level variables set by parent cmd package
	RedisURL    string
	RedisConfig string
)

// CreateRedisClient creates a wrapped Redis client with KeyBuilder support.
// The namespace comes from the relayer config file when one is given.
func CreateRedisClient(ctx context.Context) (*DebugRedisClient, error) {
	logger := logging.NewLoggerFromConfig(logging.Config{
		Level:  "info",
		Format: "text",
		Async:  false,
	})

	var url string
	var namespace config.RedisNamespaceConfig
	var service string

	if RedisConfig != "" {
		cfg, err := relayer.LoadConfig(RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load relayer config: %w", err)
		}
		url = cfg.Redis.URL
		namespace = cfg.Redis.Namespace
		service = cfg.ServiceKey
		logger.Info().
			Str("config_file", RedisConfig).
			Msg("loaded namespace config from relayer config")
	} else {
		namespace = config.DefaultRedisNamespaceConfig()
		logger.Info().Msg("using default namespace config (relayer:*)")
	}

	if RedisURL != "" {
		url = RedisURL
	}
	if url == "" {
		url = "redis://localhost:6379"
	}

	client, err := transportredis.NewClient(ctx, transportredis.ClientConfig{
		URL:        url,
		MaxRetries: 3,
		PoolSize:   5,
		Namespace:  namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", url, err)
	}

	logger.Info().
		Str("redis_url", url).
		Str("base_prefix", client.KB().BasePrefix()).
		Msg("connected to Redis with namespace config")

	return &DebugRedisClient{
		Client:  client,
		Logger:  logger,
		Service: service,
	}, nil
}

// DebugRedisClient wraps the transport Redis client. Service is the service
// account from the relayer config, empty when none was loaded.
type DebugRedisClient struct {
	*transportredis.Client
	Logger  logging.Logger
	Service string
}

// scanKeys collects every key matching pattern.
func scanKeys(ctx context.Context, client *DebugRedisClient, pattern string, limit int) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next

		if cursor == 0 || (limit > 0 && len(keys) >= limit) {
			break
		}
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}
