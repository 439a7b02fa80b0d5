package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/staccDOTsol/rebalanc00r/config"
)

// Client wraps a Redis client with the relayer's KeyBuilder.
type Client struct {
	redis.UniversalClient
	keyBuilder *KeyBuilder
}

// KB returns the KeyBuilder for this client's namespace.
//
//	key := client.KB().ResultKey(request.String())
func (c *Client) KB() *KeyBuilder {
	return c.keyBuilder
}

// ClientConfig contains configuration for creating a Redis client.
type ClientConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss:// (TLS), redis-sentinel://, redis-cluster://
	URL string

	// MaxRetries is the maximum number of retries before giving up. Default: 3
	MaxRetries int

	// PoolSize is the maximum number of socket connections. Default: 20
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// PoolTimeoutSeconds is the wait for a pooled connection. 0 keeps the go-redis default.
	PoolTimeoutSeconds int

	// ConnMaxIdleTimeSeconds closes idle connections. 0 disables.
	ConnMaxIdleTimeSeconds int

	// Namespace configures key prefixes. Empty prefixes use the defaults.
	Namespace config.RedisNamespaceConfig
}

// ClientConfigFrom converts the shared YAML config.
func ClientConfigFrom(cfg config.RedisConfig) ClientConfig {
	return ClientConfig{
		URL:                    cfg.URL,
		PoolSize:               cfg.PoolSize,
		MinIdleConns:           cfg.MinIdleConns,
		PoolTimeoutSeconds:     cfg.PoolTimeoutSeconds,
		ConnMaxIdleTimeSeconds: cfg.ConnMaxIdleTimeSeconds,
		Namespace:              cfg.Namespace,
	}
}

// NewClient connects to Redis (standalone, sentinel or cluster, chosen by URL
// scheme) and pings it before returning.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Set defaults
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	// Connections: the leader lock, result SETNX/GET per submission and the
	// debug commands. None of them block.
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 20
	}

	var client redis.UniversalClient

	switch u.Scheme {
	case "redis", "rediss":
		// Standalone Redis
		opts, parseErr := redis.ParseURL(cfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", parseErr)
		}
		opts.MaxRetries = maxRetries
		opts.PoolSize = poolSize
		opts.MinIdleConns = cfg.MinIdleConns

		// Apply timeout settings
		if cfg.PoolTimeoutSeconds > 0 {
			opts.PoolTimeout = time.Duration(cfg.PoolTimeoutSeconds) * time.Second
		}
		if cfg.ConnMaxIdleTimeSeconds > 0 {
			opts.ConnMaxIdleTime = time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second
		}

		client = redis.NewClient(opts)

	case "redis-sentinel":
		// Redis Sentinel
		client, err = newSentinelClient(u, cfg.poolOptions(maxRetries, poolSize))
		if err != nil {
			return nil, err
		}

	case "redis-cluster":
		// Redis Cluster
		client, err = newClusterClient(u, cfg.poolOptions(maxRetries, poolSize))
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported redis URL scheme: %s", u.Scheme)
	}

	// Test connection
	if err = client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{
		UniversalClient: client,
		keyBuilder:      NewKeyBuilder(cfg.Namespace),
	}, nil
}

// NewClientFromUniversal wraps an existing go-redis client. Tests use it with miniredis.
func NewClientFromUniversal(client redis.UniversalClient, ns config.RedisNamespaceConfig) *Client {
	return &Client{UniversalClient: client, keyBuilder: NewKeyBuilder(ns)}
}

type poolOptions struct {
	maxRetries      int
	poolSize        int
	minIdleConns    int
	poolTimeout     time.Duration
	connMaxIdleTime time.Duration
}

func (cfg ClientConfig) poolOptions(maxRetries, poolSize int) poolOptions {
	return poolOptions{
		maxRetries:      maxRetries,
		poolSize:        poolSize,
		minIdleConns:    cfg.MinIdleConns,
		poolTimeout:     time.Duration(cfg.PoolTimeoutSeconds) * time.Second,
		connMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// hostsAndPassword splits a multi-host URL such as redis-sentinel://:pw@h1:1,h2:2/master.
func hostsAndPassword(u *url.URL) ([]string, string, error) {
	addrs := strings.Split(u.Host, ",")
	if len(addrs) == 0 || addrs[0] == "" {
		return nil, "", fmt.Errorf("redis URL must include at least one node address")
	}
	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}
	return addrs, password, nil
}

// newSentinelClient creates a Redis Sentinel client.
// URL format: redis-sentinel://[:password@]host1:port1,host2:port2/master_name[?db=N]
func newSentinelClient(u *url.URL, po poolOptions) (redis.UniversalClient, error) {
	masterName := strings.TrimPrefix(u.Path, "/")
	if masterName == "" {
		return nil, fmt.Errorf("sentinel URL must include master name in path")
	}

	addrs, password, err := hostsAndPassword(u)
	if err != nil {
		return nil, err
	}

	db := 0
	if dbStr := u.Query().Get("db"); dbStr != "" {
		db, err = strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("invalid db number: %w", err)
		}
	}

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:      masterName,
		SentinelAddrs:   addrs,
		Password:        password,
		DB:              db,
		MaxRetries:      po.maxRetries,
		PoolSize:        po.poolSize,
		MinIdleConns:    po.minIdleConns,
		PoolTimeout:     po.poolTimeout,
		ConnMaxIdleTime: po.connMaxIdleTime,
	}), nil
}

// newClusterClient creates a Redis Cluster client.
// URL format: redis-cluster://[:password@]host1:port1,host2:port2
func newClusterClient(u *url.URL, po poolOptions) (redis.UniversalClient, error) {
	addrs, password, err := hostsAndPassword(u)
	if err != nil {
		return nil, err
	}

	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:           addrs,
		Password:        password,
		MaxRetries:      po.maxRetries,
		PoolSize:        po.poolSize,
		MinIdleConns:    po.minIdleConns,
		PoolTimeout:     po.poolTimeout,
		ConnMaxIdleTime: po.connMaxIdleTime,
	}), nil
}
