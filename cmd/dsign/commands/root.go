package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/dsign/internal/config"
	"github.com/systmms/dsign/internal/exitcode"
	"github.com/systmms/dsign/internal/logging"
)

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", b.Version, b.Commit, b.Date)
}

// NewRootCommand builds the dsign command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	return newRootCommand(info, defaultDeps())
}

func newRootCommand(info BuildInfo, deps signingDeps) *cobra.Command {
	// Global flags
	var (
		configFile  string
		noColor     bool
		debug       bool
		metricsFile string
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "dsign",
		Short: "Sign files with certificates held in a cloud key store",
		Long: `dsign signs build artifacts with a code signing certificate that never
leaves the key store. Files are hashed locally and only digests are sent
for signing, so large batches can be signed concurrently from CI.`,
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), debug, noColor)

			// Update config with parsed values
			cfg.Path = configFile
			cfg.Logger = logger
			cfg.Optional = !cmd.Flags().Changed("config")
			cfg.MetricsFile = metricsFile
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in node_exporter textfile format to this path")

	// Bad flags are invalid options, not unexpected errors
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return exitcode.NewStatusError(exitcode.InvalidOptions, err)
	})

	rootCmd.AddCommand(
		newCodeCommand(cfg, deps),
		NewCompletionCommand(),
		NewVersionCommand(info),
	)

	return rootCmd
}
