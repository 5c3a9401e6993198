package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/dsign/internal/signers/keyvault"
)

// NewCompletionCommand creates the completion command for generating shell completions.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for dsign.

Besides commands and flags, the scripts complete --file-digest values and
directories for --base-directory on signing commands.

Load for the current session:
  $ source <(dsign completion bash)
  $ source <(dsign completion zsh)
  $ dsign completion fish | source
  PS> dsign completion powershell | Out-String | Invoke-Expression

Install for every session (bash on Linux, zsh, fish):
  $ dsign completion bash > /etc/bash_completion.d/dsign
  $ dsign completion zsh > "${fpath[1]}/_dsign"
  $ dsign completion fish > ~/.config/fish/completions/dsign.fish
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}

// registerSigningCompletions wires value completion for a signing command's flags.
// Vault, certificate and identity flags take free-form values, so the shell
// should not offer file names for them.
func registerSigningCompletions(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("file-digest", cobra.FixedCompletions([]string{
		string(keyvault.SHA256) + "\tdefault",
		string(keyvault.SHA384),
		string(keyvault.SHA512),
	}, cobra.ShellCompDirectiveNoFileComp))

	_ = cmd.MarkFlagDirname("base-directory")

	for _, name := range []string{
		"azure-key-vault-url",
		"azure-key-vault-certificate",
		"azure-key-vault-managed-identity-client-id",
		"azure-key-vault-tenant-id",
		"azure-key-vault-client-id",
		"azure-key-vault-client-secret",
		"description",
		"description-url",
		"timeout",
		"max-concurrency",
	} {
		if cmd.Flags().Lookup(name) == nil {
			continue
		}
		_ = cmd.RegisterFlagCompletionFunc(name, cobra.NoFileCompletions)
	}
}
