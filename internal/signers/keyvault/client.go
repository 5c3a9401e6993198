package keyvault

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
)

// CertificatesAPI is the subset of the certificates client the signer uses.
// This allows for fakes in tests
type CertificatesAPI interface {
	GetCertificate(ctx context.Context, name string, version string, options *azcertificates.GetCertificateOptions) (azcertificates.GetCertificateResponse, error)
}

// KeysAPI is the subset of the keys client the signer uses.
type KeysAPI interface {
	Sign(ctx context.Context, name string, version string, parameters azkeys.SignParameters, options *azkeys.SignOptions) (azkeys.SignResponse, error)
}

// ClientFactory builds vault clients bound to a credential.
type ClientFactory interface {
	Certificates(vaultURL string, cred azcore.TokenCredential) (CertificatesAPI, error)
	Keys(vaultURL string, cred azcore.TokenCredential) (KeysAPI, error)
}

// AzureClientFactory creates real SDK clients. ClientOptions carries the retry
// policy, so backoff on throttling happens inside the azcore pipeline.
type AzureClientFactory struct {
	ClientOptions azcore.ClientOptions
}

// Certificates creates an azcertificates client.
func (f AzureClientFactory) Certificates(vaultURL string, cred azcore.TokenCredential) (CertificatesAPI, error) {
	client, err := azcertificates.NewClient(vaultURL, cred, &azcertificates.ClientOptions{ClientOptions: f.ClientOptions})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Keys creates an azkeys client.
func (f AzureClientFactory) Keys(vaultURL string, cred azcore.TokenCredential) (KeysAPI, error) {
	client, err := azkeys.NewClient(vaultURL, cred, &azkeys.ClientOptions{ClientOptions: f.ClientOptions})
	if err != nil {
		return nil, err
	}
	return client, nil
}
