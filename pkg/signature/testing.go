package signature

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// ContractTest defines the behaviour every Provider must show
type ContractTest struct {
	// CreateProvider creates a new instance of the provider to test
	CreateProvider func(t *testing.T) Provider

	// Credential is passed to every Sign call
	Credential azcore.TokenCredential

	// SetupFile creates a signable file and returns its path.
	// Defaults to a small file under t.TempDir().
	SetupFile func(t *testing.T) string
}

// RunContractTests runs the standard provider contract test suite
func RunContractTests(t *testing.T, contract ContractTest) {
	if contract.SetupFile == nil {
		contract.SetupFile = defaultSetupFile
	}

	t.Run("Contract", func(t *testing.T) {
		t.Run("Name", func(t *testing.T) {
			testProviderName(t, contract)
		})

		t.Run("Sign", func(t *testing.T) {
			testProviderSign(t, contract)
		})

		t.Run("MissingFile", func(t *testing.T) {
			testProviderMissingFile(t, contract)
		})

		t.Run("ContextCancellation", func(t *testing.T) {
			testProviderContextCancellation(t, contract)
		})
	})
}

func defaultSetupFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte("contract test payload"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func testProviderName(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)

	name := p.Name()
	if name == "" {
		t.Error("Provider.Name() returned empty string")
	}
	if name2 := p.Name(); name != name2 {
		t.Errorf("Provider.Name() not consistent: %q != %q", name, name2)
	}
}

func testProviderSign(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	path := contract.SetupFile(t)

	if err := p.Sign(context.Background(), path, contract.Credential); err != nil {
		t.Fatalf("Provider.Sign() failed: %v", err)
	}
}

func testProviderMissingFile(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	path := filepath.Join(t.TempDir(), "does-not-exist.bin")

	if err := p.Sign(context.Background(), path, contract.Credential); err == nil {
		t.Error("Provider.Sign() should fail for a missing file")
	}
}

func testProviderContextCancellation(t *testing.T, contract ContractTest) {
	p := contract.CreateProvider(t)
	path := contract.SetupFile(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Sign(ctx, path, contract.Credential)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Provider.Sign() should fail with a cancelled context")
		}
	case <-time.After(5 * time.Second):
		t.Error("Provider.Sign() ignored cancellation for 5 seconds")
	}
}
