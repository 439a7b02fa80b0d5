package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionCmd returns the version command. info is the build information
// stamped into the main package via ldflags.
func VersionCmd(info string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print detailed version information including git commit and build date.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(info)
		},
	}
}
