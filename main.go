package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/staccDOTsol/rebalanc00r/cmd"
	"github.com/staccDOTsol/rebalanc00r/observability"
)

func main() {
	observability.ProcessInfo.WithLabelValues(Version, Commit).Set(1)

	rootCmd := &cobra.Command{
		Use:     "randomness-relayer",
		Short:   "Enclave-backed randomness relayer for Solana",
		Version: ShortVersion(),
		Long: `Randomness relayer for the Solana randomness service.

The relayer fulfils on-chain randomness requests with bytes generated inside a
trusted execution environment:

- Discovers requests from program logs and periodic account scans
- Compiles each request once and never re-rolls it
- Attests and rotates the enclave signing key through the attestation program
- Optional Redis-backed leader election across replicas`,
	}

	rootCmd.AddCommand(cmd.RelayerCmd())
	rootCmd.AddCommand(cmd.RedisCmd())
	rootCmd.AddCommand(cmd.VersionCmd(VersionInfo()))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
