package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand prints build information.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dsign %s\n", info)
		},
	}
}
