package fakes

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/systmms/dsign/internal/signers/keyvault"
)

// FakeKeyVault is an in-memory Key Vault holding one signing certificate.
//
// It implements keyvault.ClientFactory, keyvault.CertificatesAPI and
// keyvault.KeysAPI, and produces real signatures with a generated key so
// envelopes verify.
type FakeKeyVault struct {
	// CertificateName is the only certificate the vault knows
	CertificateName string
	// KeyVersion is the version segment of the key identifier
	KeyVersion string

	// CertificateErr is returned by GetCertificate when set
	CertificateErr error
	// SignErr is returned by Sign when set
	SignErr error
	// FactoryErr is returned by the factory methods when set
	FactoryErr error
	// SignFunc allows custom behavior for Sign
	SignFunc func(ctx context.Context, params azkeys.SignParameters) (azkeys.SignResponse, error)
	// CorruptSignatures flips a byte in every returned signature
	CorruptSignatures bool
	// CertificateGate, when set, holds GetCertificate until it is closed or ctx ends
	CertificateGate chan struct{}

	signer crypto.Signer
	der    []byte

	mu         sync.Mutex
	certCalls  int
	signCalls  int
	algorithms []azkeys.SignatureAlgorithm
	creds      []azcore.TokenCredential
}

// NewFakeKeyVault creates a vault with an EC P-256 certificate.
func NewFakeKeyVault(certName string) *FakeKeyVault {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return newFakeKeyVault(certName, key, time.Now().Add(365*24*time.Hour))
}

// NewFakeECKeyVault creates a vault with an EC certificate on curve.
func NewFakeECKeyVault(certName string, curve elliptic.Curve) *FakeKeyVault {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		panic(err)
	}
	return newFakeKeyVault(certName, key, time.Now().Add(365*24*time.Hour))
}

// NewFakeRSAKeyVault creates a vault with an RSA 2048 certificate.
func NewFakeRSAKeyVault(certName string) *FakeKeyVault {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return newFakeKeyVault(certName, key, time.Now().Add(365*24*time.Hour))
}

// NewFakeExpiredKeyVault creates a vault whose EC certificate has expired.
func NewFakeExpiredKeyVault(certName string) *FakeKeyVault {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return newFakeKeyVault(certName, key, time.Now().Add(-time.Hour))
}

func newFakeKeyVault(certName string, key crypto.Signer, notAfter time.Time) *FakeKeyVault {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "dsign test " + certName},
		NotBefore:    notAfter.Add(-2 * 365 * 24 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		panic(err)
	}
	return &FakeKeyVault{
		CertificateName: certName,
		KeyVersion:      "0123456789abcdef",
		signer:          key,
		der:             der,
	}
}

// KeyID returns the key identifier the vault reports.
func (f *FakeKeyVault) KeyID() string {
	return fmt.Sprintf("https://test-vault.vault.azure.net/keys/%s/%s", f.CertificateName, f.KeyVersion)
}

// CertificateDER returns the public certificate.
func (f *FakeKeyVault) CertificateDER() []byte {
	return f.der
}

// Certificates implements keyvault.ClientFactory.
func (f *FakeKeyVault) Certificates(_ string, cred azcore.TokenCredential) (keyvault.CertificatesAPI, error) {
	if f.FactoryErr != nil {
		return nil, f.FactoryErr
	}
	f.mu.Lock()
	f.creds = append(f.creds, cred)
	f.mu.Unlock()
	return f, nil
}

// Keys implements keyvault.ClientFactory.
func (f *FakeKeyVault) Keys(_ string, _ azcore.TokenCredential) (keyvault.KeysAPI, error) {
	if f.FactoryErr != nil {
		return nil, f.FactoryErr
	}
	return f, nil
}

// GetCertificate mocks the GetCertificate operation
func (f *FakeKeyVault) GetCertificate(ctx context.Context, name string, _ string, _ *azcertificates.GetCertificateOptions) (azcertificates.GetCertificateResponse, error) {
	f.mu.Lock()
	f.certCalls++
	f.mu.Unlock()

	if f.CertificateGate != nil {
		select {
		case <-f.CertificateGate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return azcertificates.GetCertificateResponse{}, err
	}
	if f.CertificateErr != nil {
		return azcertificates.GetCertificateResponse{}, f.CertificateErr
	}
	if name != f.CertificateName {
		return azcertificates.GetCertificateResponse{}, AzureCertificateNotFoundError(name)
	}

	return azcertificates.GetCertificateResponse{
		Certificate: azcertificates.Certificate{
			ID:  to.Ptr(azcertificates.ID(fmt.Sprintf("https://test-vault.vault.azure.net/certificates/%s/%s", f.CertificateName, f.KeyVersion))),
			KID: to.Ptr(azcertificates.ID(f.KeyID())),
			CER: f.der,
		},
	}, nil
}

// Sign mocks the Sign operation with a real signature over params.Value
func (f *FakeKeyVault) Sign(ctx context.Context, name string, version string, params azkeys.SignParameters, _ *azkeys.SignOptions) (azkeys.SignResponse, error) {
	f.mu.Lock()
	f.signCalls++
	if params.Algorithm != nil {
		f.algorithms = append(f.algorithms, *params.Algorithm)
	}
	f.mu.Unlock()

	if f.SignFunc != nil {
		return f.SignFunc(ctx, params)
	}
	if err := ctx.Err(); err != nil {
		return azkeys.SignResponse{}, err
	}
	if f.SignErr != nil {
		return azkeys.SignResponse{}, f.SignErr
	}
	if name != f.CertificateName || version != f.KeyVersion {
		return azkeys.SignResponse{}, &azcore.ResponseError{StatusCode: 404, ErrorCode: "KeyNotFound"}
	}

	sig, err := f.sign(params.Value)
	if err != nil {
		return azkeys.SignResponse{}, &azcore.ResponseError{StatusCode: 400, ErrorCode: "BadParameter"}
	}
	if f.CorruptSignatures {
		sig[0] ^= 0xff
	}

	return azkeys.SignResponse{
		KeyOperationResult: azkeys.KeyOperationResult{
			KID:    to.Ptr(azkeys.ID(f.KeyID())),
			Result: sig,
		},
	}, nil
}

func (f *FakeKeyVault) sign(digest []byte) ([]byte, error) {
	switch key := f.signer.(type) {
	case *rsa.PrivateKey:
		hash := map[int]crypto.Hash{32: crypto.SHA256, 48: crypto.SHA384, 64: crypto.SHA512}[len(digest)]
		if hash == 0 {
			return nil, fmt.Errorf("unexpected digest length %d", len(digest))
		}
		return rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		size := (key.Curve.Params().BitSize + 7) / 8
		out := make([]byte, 2*size)
		r.FillBytes(out[:size])
		s.FillBytes(out[size:])
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported key %T", key)
	}
}

// CertificateCalls returns how many times GetCertificate was called
func (f *FakeKeyVault) CertificateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.certCalls
}

// SignCalls returns how many times Sign was called
func (f *FakeKeyVault) SignCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signCalls
}

// Algorithms returns the algorithms requested from Sign
func (f *FakeKeyVault) Algorithms() []azkeys.SignatureAlgorithm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]azkeys.SignatureAlgorithm(nil), f.algorithms...)
}

// Credentials returns the credentials clients were built with
func (f *FakeKeyVault) Credentials() []azcore.TokenCredential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]azcore.TokenCredential(nil), f.creds...)
}

// AzureCertificateNotFoundError creates a mock Azure not found error
func AzureCertificateNotFoundError(name string) error {
	return &azcore.ResponseError{
		StatusCode:  404,
		ErrorCode:   "CertificateNotFound",
		RawResponse: nil,
	}
}

// AzureForbiddenError creates a mock Azure forbidden error
func AzureForbiddenError() error {
	return &azcore.ResponseError{
		StatusCode:  403,
		ErrorCode:   "Forbidden",
		RawResponse: nil,
	}
}

// AzureThrottledError creates a mock Azure throttled error
func AzureThrottledError() error {
	return &azcore.ResponseError{
		StatusCode:  429,
		ErrorCode:   "Throttled",
		RawResponse: nil,
	}
}

// compile-time interface checks
var (
	_ keyvault.ClientFactory   = (*FakeKeyVault)(nil)
	_ keyvault.CertificatesAPI = (*FakeKeyVault)(nil)
	_ keyvault.KeysAPI         = (*FakeKeyVault)(nil)
)
