package commands

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/exitcode"
	"github.com/systmms/dsign/internal/signers/keyvault"
	"github.com/systmms/dsign/tests/fakes"
	"github.com/systmms/dsign/tests/testutil"
)

const testVaultURL = "https://test-vault.vault.azure.net"

type cliHarness struct {
	dir     string
	backend *fakes.FakeCredentialBackend
	vault   *fakes.FakeKeyVault
	keyring *fakes.FakeKeyring
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newCLIHarness(t *testing.T, files ...string) *cliHarness {
	t.Helper()
	return &cliHarness{
		dir:     testutil.NewArtifactTree(t, files...),
		backend: fakes.NewFakeCredentialBackend(),
		vault:   fakes.NewFakeKeyVault("codesign"),
		keyring: &fakes.FakeKeyring{Items: map[string]string{}},
	}
}

func (h *cliHarness) execute(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()

	root := newRootCommand(BuildInfo{Version: "1.2.3", Commit: "abc123", Date: "2026-01-01"}, signingDeps{
		credentials: h.backend,
		clients:     h.vault,
		keyring:     h.keyring,
	})
	root.SetArgs(args)
	root.SetOut(&h.stdout)
	root.SetErr(&h.stderr)

	return exitcode.FromError(root.ExecuteContext(context.Background()))
}

// sign runs the azure-key-vault command against the harness directory
func (h *cliHarness) sign(extra ...string) int {
	args := []string{
		"--no-color",
		"code", "azure-key-vault",
		"-u", testVaultURL,
		"-c", "codesign",
		"-b", h.dir,
	}
	return h.execute(append(args, extra...)...)
}

func TestAzureKeyVaultCommand_SignsFiles(t *testing.T) {
	h := newCLIHarness(t, "app.exe", "lib/core.dll")

	code := h.sign("--azure-key-vault-managed-identity", "app.exe", "lib/*.dll")

	require.Equal(t, 0, code, h.stderr.String())
	for _, name := range []string{"app.exe", "lib/core.dll"} {
		env := testutil.AssertEnvelope(t, filepath.Join(h.dir, name))
		assert.Equal(t, keyvault.SHA256, env.DigestAlgorithm)
		assert.Equal(t, h.vault.KeyID(), env.KeyID)
		assert.NotEmpty(t, env.RunID)
	}

	testutil.AssertLinesContain(t, h.stdout.String(), []string{"FILE", "app.exe", "core.dll"})
	assert.Contains(t, h.stderr.String(), "signed 2 file(s)")

	req, ok := h.backend.LastRequest()
	require.True(t, ok)
	assert.Equal(t, credential.StrategyManagedIdentity, req.Strategy)
}

func TestAzureKeyVaultCommand_DescriptionRecorded(t *testing.T) {
	h := newCLIHarness(t, "app.exe")

	code := h.sign("-d", "Contoso App", "--description-url", "https://contoso.example", "app.exe")

	require.Equal(t, 0, code, h.stderr.String())
	env := testutil.AssertEnvelope(t, filepath.Join(h.dir, "app.exe"))
	assert.Equal(t, "Contoso App", env.Description)
	assert.Equal(t, "https://contoso.example", env.DescriptionURL)
}

func TestAzureKeyVaultCommand_ExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		files  []string
		setup  func(h *cliHarness)
		args   []string
		want   exitcode.Status
		stderr string
	}{
		{
			name:   "no files",
			want:   exitcode.InvalidOptions,
			stderr: "no files to sign were specified",
		},
		{
			name:   "clickonce rejected",
			files:  []string{"app.exe", "app.clickonce"},
			args:   []string{"*.{exe,clickonce}"},
			want:   exitcode.InvalidOptions,
			stderr: ".clickonce",
		},
		{
			name:   "conflicting authentication",
			files:  []string{"app.exe"},
			args:   []string{"--azure-key-vault-managed-identity", "--azure-key-vault-interactive", "app.exe"},
			want:   exitcode.InvalidOptions,
			stderr: "Conflicting authentication options",
		},
		{
			name:   "bad digest",
			files:  []string{"app.exe"},
			args:   []string{"--file-digest", "md5", "app.exe"},
			want:   exitcode.InvalidOptions,
			stderr: "file-digest",
		},
		{
			name:   "bad concurrency",
			files:  []string{"app.exe"},
			args:   []string{"-m", "0", "app.exe"},
			want:   exitcode.InvalidOptions,
			stderr: "max-concurrency",
		},
		{
			name:   "incomplete client secret",
			files:  []string{"app.exe"},
			args:   []string{"--azure-key-vault-tenant-id", "tenant", "--azure-key-vault-client-id", "client", "app.exe"},
			want:   exitcode.NoInputsFound,
			stderr: credential.OptionClientSecret,
		},
		{
			name:  "client secret flags expanded from unset variables",
			files: []string{"app.exe"},
			args: []string{
				"--azure-key-vault-tenant-id", "",
				"--azure-key-vault-client-id", "",
				"--azure-key-vault-client-secret", "",
				"app.exe",
			},
			want:   exitcode.NoInputsFound,
			stderr: credential.OptionTenantID,
		},
		{
			name:   "empty managed identity client id",
			files:  []string{"app.exe"},
			args:   []string{"--azure-key-vault-managed-identity-client-id", "", "app.exe"},
			want:   exitcode.InvalidOptions,
			stderr: "Empty managed identity client ID",
		},
		{
			name:   "no matching files",
			files:  []string{"app.exe"},
			args:   []string{"dist/*.msi"},
			want:   exitcode.NoInputsFound,
			stderr: "no inputs found",
		},
		{
			name:  "backend rejects signing",
			files: []string{"app.exe"},
			setup: func(h *cliHarness) {
				h.vault.SignErr = fakes.AzureForbiddenError()
			},
			args:   []string{"app.exe"},
			want:   exitcode.SigningFailed,
			stderr: "1 of 1 file(s) failed to sign",
		},
		{
			name:  "certificate missing",
			files: []string{"app.exe", "setup.msi"},
			setup: func(h *cliHarness) {
				h.vault.CertificateName = "other"
			},
			args:   []string{"app.exe", "setup.msi"},
			want:   exitcode.SigningFailed,
			stderr: "2 of 2 file(s) failed to sign",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCLIHarness(t, tt.files...)
			if tt.setup != nil {
				tt.setup(h)
			}

			code := h.sign(tt.args...)

			assert.Equal(t, int(tt.want), code, h.stderr.String())
			assert.Contains(t, h.stderr.String(), tt.stderr)
		})
	}
}

func TestAzureKeyVaultCommand_EmptyClientSecretFlagsNeverFallBack(t *testing.T) {
	h := newCLIHarness(t, "app.exe")

	code := h.sign(
		"--azure-key-vault-tenant-id", "",
		"--azure-key-vault-client-id", "",
		"--azure-key-vault-client-secret", "",
		"app.exe",
	)

	assert.Equal(t, int(exitcode.NoInputsFound), code)
	assert.Zero(t, h.backend.Calls(), "the default chain must not be tried")
	for _, option := range credential.ClientSecretOptions {
		assert.Contains(t, h.stderr.String(), option)
	}
	testutil.AssertNoEnvelope(t, filepath.Join(h.dir, "app.exe"))
}

func TestAzureKeyVaultCommand_MissingVault(t *testing.T) {
	h := newCLIHarness(t, "app.exe")

	code := h.execute("--no-color", "code", "azure-key-vault", "-c", "codesign", "-b", h.dir, "app.exe")

	assert.Equal(t, int(exitcode.InvalidOptions), code)
	assert.Contains(t, h.stderr.String(), "Key Vault URL")
	assert.Zero(t, h.backend.Calls())
}

func TestAzureKeyVaultCommand_UnknownFlag(t *testing.T) {
	h := newCLIHarness(t, "app.exe")

	code := h.sign("--no-such-flag", "app.exe")

	assert.Equal(t, int(exitcode.InvalidOptions), code)
	assert.Contains(t, h.stderr.String(), "no-such-flag")
}

func TestAzureKeyVaultCommand_KeyringSecret(t *testing.T) {
	h := newCLIHarness(t, "app.exe")
	h.keyring.Items["dsign/ci"] = "s3cret"

	code := h.sign(
		"--azure-key-vault-tenant-id", "tenant",
		"--azure-key-vault-client-id", "client",
		"--azure-key-vault-client-secret", "keyring:dsign/ci",
		"app.exe",
	)

	require.Equal(t, 0, code, h.stderr.String())
	assert.Equal(t, "s3cret", h.backend.LastSecret())
	testutil.AssertNoSecretLeak(t, h.stderr.String()+h.stdout.String(), []string{"s3cret"})
}

func TestAzureKeyVaultCommand_RedactsLiteralSecret(t *testing.T) {
	h := newCLIHarness(t, "app.exe")
	h.backend.Err = errors.New("AADSTS7000215: invalid client secret provided: literal-s3cret")

	code := h.sign(
		"--azure-key-vault-tenant-id", "tenant",
		"--azure-key-vault-client-id", "client",
		"--azure-key-vault-client-secret", "literal-s3cret",
		"app.exe",
	)

	assert.Equal(t, int(exitcode.NoInputsFound), code)
	assert.Contains(t, h.stderr.String(), "[REDACTED]")
	assert.Contains(t, h.stderr.String(), "client secret is correct")
	testutil.AssertNoSecretLeak(t, h.stderr.String()+h.stdout.String(), []string{"literal-s3cret"})
}

func TestAzureKeyVaultCommand_ConfigFile(t *testing.T) {
	h := newCLIHarness(t, "app.exe", "setup.msi")
	h.vault = fakes.NewFakeRSAKeyVault("codesign")

	configPath := testutil.NewTestConfig(t).
		WithMaxConcurrency(2).
		WithFileDigest("sha384").
		WithRejectedExtension(".ps1", "scripts are signed by the release pipeline").
		Write()

	t.Run("digest from config", func(t *testing.T) {
		code := h.sign("--config", configPath, "app.exe")

		require.Equal(t, 0, code, h.stderr.String())
		env := testutil.AssertEnvelope(t, filepath.Join(h.dir, "app.exe"))
		assert.Equal(t, keyvault.SHA384, env.DigestAlgorithm)
		assert.Equal(t, "RS384", env.SignatureAlgorithm)
	})

	t.Run("flag overrides config", func(t *testing.T) {
		code := h.sign("--config", configPath, "--file-digest", "sha512", "setup.msi")

		require.Equal(t, 0, code, h.stderr.String())
		env := testutil.AssertEnvelope(t, filepath.Join(h.dir, "setup.msi"))
		assert.Equal(t, keyvault.SHA512, env.DigestAlgorithm)
	})

	t.Run("policy from config", func(t *testing.T) {
		code := h.sign("--config", configPath, "deploy.ps1")

		assert.Equal(t, int(exitcode.InvalidOptions), code)
		assert.Contains(t, h.stderr.String(), "scripts are signed by the release pipeline")
		testutil.AssertNoEnvelope(t, filepath.Join(h.dir, "deploy.ps1"))
	})

	t.Run("missing explicit config", func(t *testing.T) {
		code := h.sign("--config", filepath.Join(h.dir, "absent.yaml"), "app.exe")

		assert.Equal(t, int(exitcode.InvalidOptions), code)
		assert.Contains(t, h.stderr.String(), "configuration file not found")
	})
}

func TestAzureKeyVaultCommand_MetricsFile(t *testing.T) {
	h := newCLIHarness(t, "a.exe", "b.exe")
	metricsPath := filepath.Join(t.TempDir(), "dsign.prom")

	code := h.sign("--metrics-file", metricsPath, "*.exe")

	require.Equal(t, 0, code, h.stderr.String())
	testutil.AssertFileContainsAll(t, metricsPath, []string{"dsign_files_signed_total 2", "dsign_run_info"})
}

func TestCredentialRequest(t *testing.T) {
	tests := []struct {
		name    string
		flags   keyVaultFlags
		want    credential.Strategy
		wantErr bool
	}{
		{name: "default chain", want: credential.StrategyDefaultChain},
		{name: "managed identity", flags: keyVaultFlags{managedIdentity: true}, want: credential.StrategyManagedIdentity},
		{name: "user assigned identity", flags: keyVaultFlags{managedIdentityClientID: "mi"}, want: credential.StrategyManagedIdentity},
		{name: "client secret", flags: keyVaultFlags{tenantID: "t", clientID: "c", clientSecret: "s"}, want: credential.StrategyClientSecret},
		{name: "partial client secret", flags: keyVaultFlags{tenantID: "t"}, want: credential.StrategyClientSecret},
		{name: "interactive with hints", flags: keyVaultFlags{interactive: true, tenantID: "t", clientID: "c"}, want: credential.StrategyInteractive},
		{name: "interactive with secret", flags: keyVaultFlags{interactive: true, clientSecret: "s"}, wantErr: true},
		{name: "managed identity with tenant", flags: keyVaultFlags{managedIdentity: true, tenantID: "t"}, wantErr: true},
		{name: "managed identity and interactive", flags: keyVaultFlags{managedIdentity: true, interactive: true}, wantErr: true},
		{name: "client secret flags with empty values", flags: keyVaultFlags{tenantIDSet: true, clientIDSet: true, clientSecretSet: true}, want: credential.StrategyClientSecret},
		{name: "empty secret flag alone", flags: keyVaultFlags{clientSecretSet: true}, want: credential.StrategyClientSecret},
		{name: "interactive with empty secret flag", flags: keyVaultFlags{interactive: true, clientSecretSet: true}, wantErr: true},
		{name: "empty managed identity client id", flags: keyVaultFlags{managedIdentityClientIDSet: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.flags.credentialRequest()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer req.Destroy()
			assert.Equal(t, tt.want, req.Strategy)
		})
	}
}

func TestCredentialRequest_SecretSources(t *testing.T) {
	t.Run("literal secret is protected", func(t *testing.T) {
		f := keyVaultFlags{tenantID: "t", clientID: "c", clientSecret: "literal"}
		req, err := f.credentialRequest()
		require.NoError(t, err)
		defer req.Destroy()

		revealed, err := req.Secret.Reveal()
		require.NoError(t, err)
		assert.Equal(t, "literal", revealed)
		assert.Empty(t, req.SecretKeyring)
	})

	t.Run("keyring reference", func(t *testing.T) {
		f := keyVaultFlags{tenantID: "t", clientID: "c", clientSecret: "keyring:svc/acct"}
		req, err := f.credentialRequest()
		require.NoError(t, err)

		assert.Nil(t, req.Secret)
		assert.Equal(t, "svc/acct", req.SecretKeyring)
	})
}
