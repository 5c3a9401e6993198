package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsign/internal/signers/keyvault"
)

// AssertNoSecretLeak verifies that none of the secret values appear in output.
//
// Example usage:
//
//	AssertNoSecretLeak(t, stderr.String(), []string{"client-secret"})
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		assert.NotContains(t, output, secret,
			"Secret %q should not appear in output", secret)
	}
}

// AssertEnvelope verifies that a signature envelope exists next to path and
// that its signature verifies against the embedded certificate.
//
// Returns the envelope for further assertions.
func AssertEnvelope(t *testing.T, path string) *keyvault.Envelope {
	t.Helper()

	env, err := keyvault.ReadEnvelope(keyvault.EnvelopePath(path))
	require.NoError(t, err, "Envelope should exist for %s", path)
	assert.NoError(t, env.Verify(), "Envelope for %s should verify", path)

	return env
}

// AssertNoEnvelope verifies that path was not signed.
func AssertNoEnvelope(t *testing.T, path string) {
	t.Helper()

	_, err := os.Stat(keyvault.EnvelopePath(path))
	assert.True(t, os.IsNotExist(err), "No envelope expected for %s", path)
}

// AssertFileContainsAll verifies that a file contains all specified substrings.
func AssertFileContainsAll(t *testing.T, path string, substrings []string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "Failed to read file %s", path)

	actual := string(data)
	for _, substr := range substrings {
		assert.Contains(t, actual, substr,
			"File %s should contain %q", path, substr)
	}
}

// AssertLinesContain verifies that specific lines are present in multi-line output.
//
// Example usage:
//
//	AssertLinesContain(t, stdout, []string{"app.exe", "setup.msi"})
func AssertLinesContain(t *testing.T, output string, expectedLines []string) {
	t.Helper()

	lines := strings.Split(output, "\n")

	for _, expected := range expectedLines {
		found := false
		for _, line := range lines {
			if strings.Contains(line, expected) {
				found = true
				break
			}
		}

		assert.True(t, found,
			"Expected to find line containing %q in output", expected)
	}
}
