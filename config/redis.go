package config

// RedisConfig contains the optional Redis connection shared by relayer replicas.
// When URL is empty the relayer runs single-instance: results are kept in
// memory and leader election is disabled.
type RedisConfig struct {
	// URL is the Redis connection URL.
	// Supports: redis://, rediss://, redis-sentinel://, redis-cluster://
	URL string `yaml:"url"`

	// PoolSize is the maximum number of socket connections.
	// Default: 20
	PoolSize int `yaml:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections kept warm.
	MinIdleConns int `yaml:"min_idle_conns,omitempty"`

	// PoolTimeoutSeconds is how long to wait for a pooled connection.
	// Default: 4
	PoolTimeoutSeconds int `yaml:"pool_timeout_seconds,omitempty"`

	// ConnMaxIdleTimeSeconds closes connections idle for longer than this.
	ConnMaxIdleTimeSeconds int `yaml:"conn_max_idle_time_seconds,omitempty"`

	// Namespace configures Redis key prefixes.
	Namespace RedisNamespaceConfig `yaml:"namespace,omitempty"`
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// RedisNamespaceConfig contains Redis key prefixes.
// Keys are built by transport/redis.KeyBuilder from this config.
type RedisNamespaceConfig struct {
	// BasePrefix is the root prefix for all keys (default: "relayer")
	BasePrefix string `yaml:"base_prefix,omitempty"`

	// ResultsPrefix holds compiled randomness per request (default: "results")
	// Full key: {BasePrefix}:{ResultsPrefix}:{request}
	ResultsPrefix string `yaml:"results_prefix,omitempty"`

	// LeaderPrefix holds the leader lock (default: "leader")
	// Full key: {BasePrefix}:{LeaderPrefix}:{service}
	LeaderPrefix string `yaml:"leader_prefix,omitempty"`
}

// DefaultRedisNamespaceConfig returns the default namespace configuration.
func DefaultRedisNamespaceConfig() RedisNamespaceConfig {
	return RedisNamespaceConfig{
		BasePrefix:    "relayer",
		ResultsPrefix: "results",
		LeaderPrefix:  "leader",
	}
}
