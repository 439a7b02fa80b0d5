package cmd

import (
	"github.com/spf13/cobra"

	"github.com/staccDOTsol/rebalanc00r/cmd/redis"
)

// RedisCmd returns the redis command for inspecting the shared relayer state.
func RedisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redis",
		Short: "Debug and inspect Redis data structures",
		Long: `Debug tooling for the Redis state shared by relayer replicas.

This command provides operators with tools to:
- Inspect compiled randomness results
- Verify leader election status
- Flush data with safety confirmations

Configuration:
  --config: Use the relayer config file (inherits namespace and service)
  --redis:  Override Redis URL (optional if using --config)

Examples:
  randomness-relayer redis results --config config/relayer.yaml
  randomness-relayer redis leader --redis redis://localhost:6379`,
	}

	cmd.PersistentFlags().StringVar(&redis.RedisURL, "redis", "", "Redis connection URL (optional if using --config)")
	cmd.PersistentFlags().StringVar(&redis.RedisConfig, "config", "", "Path to relayer config file (inherits namespace settings)")

	cmd.AddCommand(redis.ResultsCmd())
	cmd.AddCommand(redis.LeaderCmd())
	cmd.AddCommand(redis.FlushCmd())

	return cmd
}
