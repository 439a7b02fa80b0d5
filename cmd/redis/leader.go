package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/staccDOTsol/rebalanc00r/leader"
)

func LeaderCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "leader",
		Short: "Check leader election status",
		Long: `Check which relayer replica holds the leader lock.

Leader election uses one lock per service account:
  - Key: relayer:leader:<service>
  - Value: Instance ID of the current leader
  - TTL: 30 seconds, renewed every 10 seconds

Without --service (and without a config file) every leader lock is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client, err := CreateRedisClient(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if service == "" {
				service = client.Service
			}
			if service == "" {
				keys, err := scanKeys(ctx, client, client.KB().LeaderKeyPattern(), 0)
				if err != nil {
					return err
				}
				if len(keys) == 0 {
					fmt.Printf("No leader locks found\n")
					return nil
				}
				for _, key := range keys {
					if err := checkLeader(ctx, client, key); err != nil {
						return err
					}
				}
				return nil
			}
			return checkLeader(ctx, client, client.KB().LeaderKey(service))
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service account whose leader lock to inspect")

	return cmd
}

func checkLeader(ctx context.Context, client *DebugRedisClient, key string) error {
	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check leader existence: %w", err)
	}

	if exists == 0 {
		fmt.Printf("No active leader\n")
		fmt.Printf("Leader key: %s\n", key)
		return nil
	}

	instanceID, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get leader instance: %w", err)
	}

	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get leader TTL: %w", err)
	}

	fmt.Printf("Leader Election Status\n")
	fmt.Printf("======================\n\n")
	fmt.Printf("Current Leader: %s\n", instanceID)
	fmt.Printf("TTL Remaining: %v\n", ttl)
	fmt.Printf("Leader Key: %s\n", key)
	fmt.Printf("Status: %s\n\n", leaderHealth(ttl))

	return nil
}

func leaderHealth(ttl time.Duration) string {
	switch {
	case ttl > leader.DefaultLeaderTTL-leader.DefaultHeartbeatRate:
		return "Healthy (recently renewed)"
	case ttl > leader.DefaultHeartbeatRate:
		return "OK"
	case ttl > 0:
		return "WARNING - TTL low, leader may be struggling"
	default:
		return "CRITICAL - Negative TTL"
	}
}
