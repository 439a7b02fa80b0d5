package redis

import (
	"fmt"

	"github.com/staccDOTsol/rebalanc00r/config"
)

// KeyBuilder builds Redis keys with the configured prefixes.
type KeyBuilder struct {
	ns config.RedisNamespaceConfig
}

// NewKeyBuilder creates a KeyBuilder, filling empty prefixes with defaults.
func NewKeyBuilder(ns config.RedisNamespaceConfig) *KeyBuilder {
	defaults := config.DefaultRedisNamespaceConfig()
	if ns.BasePrefix == "" {
		ns.BasePrefix = defaults.BasePrefix
	}
	if ns.ResultsPrefix == "" {
		ns.ResultsPrefix = defaults.ResultsPrefix
	}
	if ns.LeaderPrefix == "" {
		ns.LeaderPrefix = defaults.LeaderPrefix
	}
	return &KeyBuilder{ns: ns}
}

// ResultKey is where the compiled randomness for a request lives.
// Format: {base}:{results}:{request}
func (kb *KeyBuilder) ResultKey(request string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.ResultsPrefix, request)
}

// ResultKeyPattern matches every result key, for SCAN.
func (kb *KeyBuilder) ResultKeyPattern() string {
	return fmt.Sprintf("%s:%s:*", kb.ns.BasePrefix, kb.ns.ResultsPrefix)
}

// LeaderKey is the leader lock for the replicas serving one service account.
// Format: {base}:{leader}:{service}
func (kb *KeyBuilder) LeaderKey(service string) string {
	return fmt.Sprintf("%s:%s:%s", kb.ns.BasePrefix, kb.ns.LeaderPrefix, service)
}

// LeaderKeyPattern matches every leader lock, for SCAN.
func (kb *KeyBuilder) LeaderKeyPattern() string {
	return fmt.Sprintf("%s:%s:*", kb.ns.BasePrefix, kb.ns.LeaderPrefix)
}

// BasePrefix returns the root prefix of every key.
func (kb *KeyBuilder) BasePrefix() string {
	return kb.ns.BasePrefix
}
