package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/systmms/dsign/internal/config"
	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/dispatch"
	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/exitcode"
	"github.com/systmms/dsign/internal/fileset"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/internal/metrics"
	"github.com/systmms/dsign/internal/pipeline"
	pol "github.com/systmms/dsign/internal/policy"
	"github.com/systmms/dsign/internal/secure"
	"github.com/systmms/dsign/internal/signers/keyvault"
)

// keyVaultFlags holds the raw flag values of the azure-key-vault command
type keyVaultFlags struct {
	vaultURL                string
	certificate             string
	managedIdentity         bool
	managedIdentityClientID string
	tenantID                string
	clientID                string
	clientSecret            string
	interactive             bool

	// set records which credential flags were passed, even with empty values
	tenantIDSet                bool
	clientIDSet                bool
	clientSecretSet            bool
	managedIdentityClientIDSet bool

	baseDirectory  string
	maxConcurrency int
	timeout        time.Duration
	fileDigest     string
	description    string
	descriptionURL string
}

func newAzureKeyVaultCommand(cfg *config.Config, deps signingDeps) *cobra.Command {
	var flags keyVaultFlags

	cmd := &cobra.Command{
		Use:   "azure-key-vault [flags] <file(s)>...",
		Short: "Sign files with a certificate in Azure Key Vault",
		Long: `Sign files with a certificate stored in Azure Key Vault.

Exactly one authentication method is used:
  --azure-key-vault-managed-identity       managed identity (system or user assigned)
  --azure-key-vault-tenant-id/-client-id/-client-secret
                                           service principal; all three are required
  --azure-key-vault-interactive            browser login
  (none)                                   the default Azure credential chain

The client secret may be a keyring reference, keyring:<service>/<account>.

A detached signature envelope is written next to each file as <file>.sig.json.

Exit codes:
  0  all files signed
  1  unexpected error
  2  invalid options (bad flags, no files, rejected file types)
  3  no inputs found (incomplete credentials, no matching files)
  4  one or more files failed to sign

Examples:
  # Sign with a managed identity
  dsign code azure-key-vault -u https://my-vault.vault.azure.net -c codesign \
    --azure-key-vault-managed-identity 'dist/**/*.exe'

  # Sign with a service principal, secret from the OS keyring
  dsign code azure-key-vault -u https://my-vault.vault.azure.net -c codesign \
    --azure-key-vault-tenant-id $TENANT --azure-key-vault-client-id $CLIENT \
    --azure-key-vault-client-secret keyring:dsign/ci app.exe setup.msi`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cfg.Logger
			if logger == nil {
				logger = logging.NewWithWriter(cmd.ErrOrStderr(), false, true)
			}

			if err := cfg.Load(); err != nil {
				return invalidOptions(logger, err)
			}
			def := cfg.Definition

			flags.recordSet(cmd.Flags())
			req, err := flags.credentialRequest()
			if err != nil {
				return invalidOptions(logger, err)
			}

			retry, err := retryOptions(def.Signing.Retry)
			if err != nil {
				return invalidOptions(logger, err)
			}

			settings, err := flags.settings(cmd, def.Signing)
			if err != nil {
				return invalidOptions(logger, err)
			}

			backend := deps.credentials
			if backend == nil {
				backend = credential.NewAzureBackend(azcore.ClientOptions{Retry: retry})
			}

			signerOpts := []keyvault.Option{keyvault.WithLogger(logger)}
			if deps.clients != nil {
				signerOpts = append(signerOpts, keyvault.WithClientFactory(deps.clients))
			}
			signer, err := keyvault.NewSigner(keyvault.Config{
				VaultURL:          flags.vaultURL,
				Certificate:       flags.certificate,
				Digest:            settings.digest,
				Description:       flags.description,
				DescriptionURL:    flags.descriptionURL,
				RequestsPerSecond: def.Signing.RequestsPerSecond,
				Retry:             retry,
			}, signerOpts...)
			if err != nil {
				return invalidOptions(logger, err)
			}

			expander, err := fileset.NewExpander(flags.baseDirectory, logger)
			if err != nil {
				return invalidOptions(logger, dserrors.UserError{
					Message:    "Invalid base directory",
					Details:    err.Error(),
					Suggestion: "Pass an existing directory with --base-directory",
					Err:        err,
				})
			}

			keyring := deps.keyring
			if keyring == nil {
				keyring = credential.OSKeyring{}
			}

			runMetrics := metrics.NewRunMetrics()
			p := &pipeline.Pipeline{
				Resolver: credential.NewResolver(backend,
					credential.WithLogger(logger),
					credential.WithKeyring(keyring),
				),
				Expander: expander,
				Policy:   pol.NewPolicyEnforcer(def.Policy, logger),
				Dispatcher: dispatch.New(dispatch.Options{
					Concurrency: settings.concurrency,
					Timeout:     settings.timeout,
					Logger:      logger,
					Recorder:    runMetrics,
				}),
				Provider: signer,
				Metrics:  runMetrics,
				Logger:   logger,
			}

			result := p.Run(cmd.Context(), pipeline.Request{Credential: req, Files: args})

			// A literal secret must not leak through backend error text.
			secrets := flags.literalSecrets()

			if result.Report.Len() > 0 {
				printReport(cmd.OutOrStdout(), result.Report, logger.DebugEnabled(), secrets)
			}

			status := exitcode.Aggregate(result)
			summary := exitcode.Summarize(result)
			for i := range summary {
				summary[i] = logging.Redact(summary[i], secrets)
			}
			for _, line := range summary {
				switch {
				case strings.HasPrefix(line, "  "):
					logger.Plain("%s", line)
				case status == exitcode.Success:
					logger.Info("%s", line)
				default:
					logger.Error("%s", line)
				}
			}

			if path := cfg.MetricsTextfile(); path != "" {
				if err := runMetrics.WriteTextfile(path); err != nil {
					logger.Warn("Failed to write metrics to %s: %v", path, err)
				}
			}

			return exitcode.NewStatusError(status, errors.New(summary[0]))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.vaultURL, "azure-key-vault-url", "u", "", "Key Vault URL, e.g. https://my-vault.vault.azure.net (required)")
	f.StringVarP(&flags.certificate, "azure-key-vault-certificate", "c", "", "Name of the signing certificate in the vault (required)")
	f.BoolVar(&flags.managedIdentity, "azure-key-vault-managed-identity", false, "Authenticate with a managed identity")
	f.StringVar(&flags.managedIdentityClientID, "azure-key-vault-managed-identity-client-id", "", "Client ID of a user-assigned managed identity")
	f.StringVar(&flags.tenantID, "azure-key-vault-tenant-id", "", "Tenant ID for service principal authentication")
	f.StringVar(&flags.clientID, "azure-key-vault-client-id", "", "Client ID for service principal authentication")
	f.StringVar(&flags.clientSecret, "azure-key-vault-client-secret", "", "Client secret, or keyring:<service>/<account>")
	f.BoolVar(&flags.interactive, "azure-key-vault-interactive", false, "Authenticate interactively in a browser")

	f.StringVarP(&flags.baseDirectory, "base-directory", "b", "", "Directory relative file arguments are resolved against (default: current directory)")
	f.IntVarP(&flags.maxConcurrency, "max-concurrency", "m", 0, "Maximum files signed in parallel (default: number of CPUs)")
	f.DurationVar(&flags.timeout, "timeout", dispatch.DefaultTimeout, "Timeout for signing a single file")
	f.StringVar(&flags.fileDigest, "file-digest", string(keyvault.SHA256), "Digest algorithm: sha256, sha384 or sha512")
	f.StringVarP(&flags.description, "description", "d", "", "Description recorded in the signature")
	f.StringVar(&flags.descriptionURL, "description-url", "", "Description URL recorded in the signature")
	registerSigningCompletions(cmd)

	return cmd
}

// recordSet notes which credential flags appeared on the command line. An
// empty value from an unset CI variable still selects its strategy.
func (f *keyVaultFlags) recordSet(flags *pflag.FlagSet) {
	f.tenantIDSet = flags.Changed("azure-key-vault-tenant-id")
	f.clientIDSet = flags.Changed("azure-key-vault-client-id")
	f.clientSecretSet = flags.Changed("azure-key-vault-client-secret")
	f.managedIdentityClientIDSet = flags.Changed("azure-key-vault-managed-identity-client-id")
}

// credentialRequest selects exactly one authentication strategy
func (f *keyVaultFlags) credentialRequest() (credential.Request, error) {
	secretGiven := f.clientSecretSet || f.clientSecret != ""
	servicePrincipal := f.tenantIDSet || f.clientIDSet || secretGiven ||
		f.tenantID != "" || f.clientID != ""
	managed := f.managedIdentity || f.managedIdentityClientIDSet || f.managedIdentityClientID != ""

	if f.managedIdentityClientIDSet && f.managedIdentityClientID == "" {
		return credential.Request{}, dserrors.UserError{
			Message:    "Empty managed identity client ID",
			Suggestion: "Pass the client ID of the user-assigned identity, or use --azure-key-vault-managed-identity alone for the system-assigned identity",
		}
	}

	var selected []string
	if managed {
		selected = append(selected, "--azure-key-vault-managed-identity")
	}
	if f.interactive {
		selected = append(selected, "--azure-key-vault-interactive")
	}
	if secretGiven || (servicePrincipal && !f.interactive) {
		selected = append(selected, "--azure-key-vault-client-secret")
	}
	if len(selected) > 1 {
		return credential.Request{}, dserrors.UserError{
			Message:    "Conflicting authentication options",
			Details:    strings.Join(selected, ", "),
			Suggestion: "Choose one of managed identity, client secret or interactive authentication",
		}
	}

	switch {
	case managed:
		return credential.Request{
			Strategy:                credential.StrategyManagedIdentity,
			ManagedIdentityClientID: f.managedIdentityClientID,
		}, nil
	case f.interactive:
		return credential.Request{
			Strategy: credential.StrategyInteractive,
			TenantID: f.tenantID,
			ClientID: f.clientID,
		}, nil
	case servicePrincipal:
		req := credential.Request{
			Strategy: credential.StrategyClientSecret,
			TenantID: f.tenantID,
			ClientID: f.clientID,
		}
		if ref, ok := strings.CutPrefix(f.clientSecret, credential.KeyringPrefix); ok {
			req.SecretKeyring = ref
		} else if f.clientSecret != "" {
			req.Secret = secure.FromString(f.clientSecret)
		}
		return req, nil
	default:
		return credential.Request{Strategy: credential.StrategyDefaultChain}, nil
	}
}

// literalSecrets returns secret values given directly on the command line
func (f *keyVaultFlags) literalSecrets() []string {
	if f.clientSecret == "" || strings.HasPrefix(f.clientSecret, credential.KeyringPrefix) {
		return nil
	}
	return []string{f.clientSecret}
}

type dispatchSettings struct {
	concurrency int
	timeout     time.Duration
	digest      keyvault.Digest
}

// settings merges config values with flags; flags win when set
func (f *keyVaultFlags) settings(cmd *cobra.Command, signing config.SigningConfig) (dispatchSettings, error) {
	var s dispatchSettings

	s.concurrency = signing.MaxConcurrency
	if cmd.Flags().Changed("max-concurrency") {
		if f.maxConcurrency < 1 {
			return s, dserrors.ConfigError{
				Field:      "max-concurrency",
				Value:      f.maxConcurrency,
				Message:    "must be at least 1",
				Suggestion: "Pass a positive number or omit the flag to use the number of CPUs",
			}
		}
		s.concurrency = f.maxConcurrency
	}

	timeout, err := signing.TimeoutDuration()
	if err != nil {
		return s, err
	}
	s.timeout = timeout
	if cmd.Flags().Changed("timeout") || s.timeout == 0 {
		if f.timeout <= 0 {
			return s, dserrors.ConfigError{
				Field:      "timeout",
				Value:      f.timeout,
				Message:    "must be positive",
				Suggestion: "Use a duration such as 30s or 5m",
			}
		}
		s.timeout = f.timeout
	}

	digest := signing.FileDigest
	if cmd.Flags().Changed("file-digest") || digest == "" {
		digest = f.fileDigest
	}
	parsed, err := keyvault.ParseDigest(digest)
	if err != nil {
		return s, dserrors.ConfigError{
			Field:      "file-digest",
			Value:      digest,
			Message:    err.Error(),
			Suggestion: "Use sha256, sha384 or sha512",
		}
	}
	s.digest = parsed

	return s, nil
}

func retryOptions(r config.RetryConfig) (policy.RetryOptions, error) {
	delay, maxDelay, err := r.Delays()
	if err != nil {
		return policy.RetryOptions{}, err
	}
	return policy.RetryOptions{
		MaxRetries:    int32(r.MaxRetries),
		RetryDelay:    delay,
		MaxRetryDelay: maxDelay,
	}, nil
}

func invalidOptions(logger *logging.Logger, err error) error {
	logger.Error("%v", err)
	return exitcode.NewStatusError(exitcode.InvalidOptions, err)
}

// printReport writes the per-file outcome table in input order. Without
// verbose only the first line of each failure is shown.
func printReport(w io.Writer, report *dispatch.Report, verbose bool, secrets []string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tRESULT\tDURATION\tDETAIL")
	for _, e := range report.Entries {
		result, detail := "signed", ""
		if e.Outcome.Failed() {
			result = "failed:" + e.Outcome.Err.Kind.String()
			detail = e.Outcome.Err.Detail
			if detail == "" && e.Outcome.Err.Err != nil {
				detail = e.Outcome.Err.Err.Error()
			}
			if !verbose {
				detail = firstLine(detail)
			}
			detail = logging.Redact(detail, secrets)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Path, result, e.Duration.Round(time.Millisecond), detail)
	}
	_ = tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
