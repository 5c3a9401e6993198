package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/dsign/internal/config"
	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/signers/keyvault"
)

// signingDeps are the cloud-facing collaborators; tests replace them with fakes.
type signingDeps struct {
	// credentials builds Azure credentials; nil uses azidentity
	credentials credential.Backend
	// clients builds Key Vault clients; nil uses the Azure SDK
	clients keyvault.ClientFactory
	keyring credential.KeyringReader
}

func defaultDeps() signingDeps {
	return signingDeps{keyring: credential.OSKeyring{}}
}

// newCodeCommand creates the code signing command group.
func newCodeCommand(cfg *config.Config, deps signingDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Sign code artifacts",
		Long: `Sign executables, libraries and installers.

Each subcommand selects a signing backend. Every file argument may be a path
or a glob pattern (*, ?, ** and {a,b}); a pattern that matches nothing is an
error.`,
	}

	cmd.AddCommand(newAzureKeyVaultCommand(cfg, deps))
	return cmd
}
