package redis

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	transportredis "github.com/staccDOTsol/rebalanc00r/transport/redis"
)

func ResultsCmd() *cobra.Command {
	var (
		request string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect compiled randomness results",
		Long: `List the compiled results shared between replicas.

Each pending request has one key holding the random bytes that every
settlement attempt for it reuses:
  relayer:results:<request>

A key disappears once the settled event is observed or its TTL expires.

Examples:
  randomness-relayer redis results --config relayer.yaml
  randomness-relayer redis results --request 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client, err := CreateRedisClient(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if request != "" {
				if _, err := solana.PublicKeyFromBase58(request); err != nil {
					return fmt.Errorf("invalid request address: %w", err)
				}
				return showResult(ctx, client, request)
			}
			return listResults(ctx, client, limit)
		},
	}

	cmd.Flags().StringVar(&request, "request", "", "Request account address")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of results to list")

	return cmd
}

func showResult(ctx context.Context, client *DebugRedisClient, request string) error {
	key := client.KB().ResultKey(request)
	value, err := client.Get(ctx, key).Bytes()
	if transportredis.IsNil(err) {
		fmt.Printf("No result stored for %s\n", request)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read result TTL: %w", err)
	}

	fmt.Printf("Request: %s\n", request)
	fmt.Printf("Key:     %s\n", key)
	fmt.Printf("Bytes:   %d\n", len(value))
	fmt.Printf("Value:   %s\n", hex.EncodeToString(value))
	fmt.Printf("TTL:     %v\n", ttl)
	return nil
}

func listResults(ctx context.Context, client *DebugRedisClient, limit int) error {
	pattern := client.KB().ResultKeyPattern()
	keys, err := scanKeys(ctx, client, pattern, limit)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Printf("No results found matching: %s\n", pattern)
		return nil
	}

	prefix := strings.TrimSuffix(pattern, "*")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REQUEST\tBYTES\tTTL")
	for _, key := range keys {
		size, err := client.StrLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		ttl, err := client.TTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read TTL of %s: %w", key, err)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%v\n", strings.TrimPrefix(key, prefix), size, ttl)
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d results\n", len(keys))
	return nil
}
