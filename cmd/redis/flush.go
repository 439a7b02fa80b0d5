package redis

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func FlushCmd() *cobra.Command {
	var (
		pattern  string
		results  bool
		flushAll bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Flush Redis data (dangerous)",
		Long: `Flush (delete) Redis data with safety confirmations.

WARNING: This is a destructive operation!

Options:
  --pattern  Delete keys matching pattern (e.g., "relayer:results:*")
  --results  Delete every compiled result
  --all      Delete ALL relayer data (relayer:*)
  --force    Skip confirmation prompts (use with caution)

Deleting a result lets a replica compile fresh bytes for a request that was
already attempted. Only flush results when no settlement is in flight.

Safety:
  - Without --force, you will be prompted to confirm
  - Shows count of keys that will be deleted
  - Requires typing "DELETE" to confirm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client, err := CreateRedisClient(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			switch {
			case flushAll:
				pattern = client.KB().BasePrefix() + ":*"
			case results:
				pattern = client.KB().ResultKeyPattern()
			}

			if pattern == "" {
				return fmt.Errorf("specify --pattern, --results or --all")
			}

			return flushKeys(ctx, client, pattern, force)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Key pattern to delete")
	cmd.Flags().BoolVar(&results, "results", false, "Delete every compiled result")
	cmd.Flags().BoolVar(&flushAll, "all", false, "Delete ALL relayer data")
	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompts")

	return cmd
}

func flushKeys(ctx context.Context, client *DebugRedisClient, pattern string, force bool) error {
	fmt.Printf("Scanning for keys matching: %s\n", pattern)

	keys, err := scanKeys(ctx, client, pattern, 0)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Printf("No keys found matching pattern: %s\n", pattern)
		return nil
	}

	fmt.Printf("\nFound %d keys matching pattern '%s'\n\n", len(keys), pattern)

	sampleSize := 20
	if len(keys) < sampleSize {
		sampleSize = len(keys)
	}

	fmt.Printf("Sample keys (showing first %d):\n", sampleSize)
	for i := 0; i < sampleSize; i++ {
		fmt.Printf("  - %s\n", keys[i])
	}

	if len(keys) > sampleSize {
		fmt.Printf("  ... and %d more\n", len(keys)-sampleSize)
	}

	fmt.Printf("\n")

	if !force {
		fmt.Printf("WARNING: This will DELETE %d keys!\n", len(keys))
		fmt.Printf("This operation is IRREVERSIBLE!\n\n")

		base := client.KB().BasePrefix()
		switch {
		case pattern == base+":*" || pattern == "*":
			fmt.Printf("CRITICAL: You are about to delete ALL relayer data!\n")
			fmt.Printf("This drops every compiled result and the leader lock.\n\n")
		case pattern == client.KB().ResultKeyPattern():
			fmt.Printf("This deletes compiled results; pending requests will be recompiled.\n\n")
		case strings.HasPrefix(pattern, base+":"):
			fmt.Printf("This deletes relayer state used by running replicas.\n\n")
		}

		fmt.Printf("To confirm, type 'DELETE' (all caps): ")
		reader := bufio.NewReader(os.Stdin)
		confirmation, _ := reader.ReadString('\n')
		confirmation = strings.TrimSpace(confirmation)

		if confirmation != "DELETE" {
			fmt.Printf("\nAborted. No keys were deleted.\n")
			return nil
		}
	}

	// Perform deletion in batches
	fmt.Printf("\nDeleting %d keys...\n", len(keys))

	batchSize := 100
	deleted := 0

	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		batch := keys[i:end]
		err := client.Del(ctx, batch...).Err()
		if err != nil {
			return fmt.Errorf("failed to delete batch: %w", err)
		}

		deleted += len(batch)
		fmt.Printf("  Deleted %d / %d keys\n", deleted, len(keys))
	}

	fmt.Printf("\nDeleted %d keys\n", deleted)

	return nil
}
