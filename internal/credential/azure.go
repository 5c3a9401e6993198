package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureBackend builds credentials with azidentity.
// Construction does not contact Azure; the Resolver's probe does.
type AzureBackend struct {
	ClientOptions azcore.ClientOptions
}

// NewAzureBackend creates a backend using the given pipeline options
func NewAzureBackend(opts azcore.ClientOptions) *AzureBackend {
	return &AzureBackend{ClientOptions: opts}
}

// Obtain creates the azidentity credential for req.Strategy
func (b *AzureBackend) Obtain(_ context.Context, req Request) (azcore.TokenCredential, error) {
	switch req.Strategy {
	case StrategyManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{ClientOptions: b.ClientOptions}
		if req.ManagedIdentityClientID != "" {
			// User-assigned managed identity
			opts.ID = azidentity.ClientID(req.ManagedIdentityClientID)
		}
		return azidentity.NewManagedIdentityCredential(opts)

	case StrategyClientSecret:
		secret, err := req.Secret.Reveal()
		if err != nil {
			return nil, fmt.Errorf("failed to open client secret: %w", err)
		}
		return azidentity.NewClientSecretCredential(req.TenantID, req.ClientID, secret,
			&azidentity.ClientSecretCredentialOptions{ClientOptions: b.ClientOptions})

	case StrategyInteractive:
		return azidentity.NewInteractiveBrowserCredential(&azidentity.InteractiveBrowserCredentialOptions{
			ClientOptions: b.ClientOptions,
			TenantID:      req.TenantID,
			ClientID:      req.ClientID,
		})

	default:
		return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			ClientOptions: b.ClientOptions,
			TenantID:      req.TenantID,
		})
	}
}
