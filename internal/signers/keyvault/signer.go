// Package keyvault signs files with a certificate held in Azure Key Vault.
//
// The file is hashed locally and only the digest is sent to the vault. The
// signature is written as a detached JSON envelope next to the file.
package keyvault

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azcertificates"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"golang.org/x/time/rate"

	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/pkg/signature"
)

// ProviderName identifies this backend in logs, metrics and suggestions.
const ProviderName = "azure-key-vault"

// Config holds Key Vault signing settings
type Config struct {
	VaultURL       string
	Certificate    string
	Digest         Digest
	Description    string
	DescriptionURL string
	// RequestsPerSecond caps Sign calls; 0 disables the limiter.
	RequestsPerSecond float64
	Retry             policy.RetryOptions
}

// Option is a functional option for configuring the signer
type Option func(*Signer)

// WithClientFactory sets a custom client factory (for testing)
func WithClientFactory(f ClientFactory) Option {
	return func(s *Signer) {
		s.factory = f
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Signer) {
		s.logger = l
	}
}

// WithClock overrides the envelope timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

type keyFamily int

const (
	familyUnknown keyFamily = iota
	familyRSA
	familyEC
)

type keyInfo struct {
	family     keyFamily
	curve      string
	kid        string
	keyName    string
	keyVersion string
	der        []byte
	cert       *x509.Certificate
	thumbprint string
}

type session struct {
	keys      KeysAPI
	key       keyInfo
	algorithm azkeys.SignatureAlgorithm
}

// Signer implements signature.Provider for Azure Key Vault
type Signer struct {
	cfg     Config
	factory ClientFactory
	limiter *rate.Limiter
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *session
	loadErr error
	loading chan struct{}
}

// NewSigner validates cfg and creates a signer
func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	if cfg.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "azure-key-vault-url",
			Message:    "a Key Vault URL is required",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	u, err := url.Parse(cfg.VaultURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      "azure-key-vault-url",
			Value:      cfg.VaultURL,
			Message:    "invalid Key Vault URL",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}
	if strings.TrimSpace(cfg.Certificate) == "" {
		return nil, dserrors.ConfigError{
			Field:      "azure-key-vault-certificate",
			Message:    "a certificate name is required",
			Suggestion: "Pass the name of the certificate in the vault with --azure-key-vault-certificate",
		}
	}
	digest, err := ParseDigest(string(cfg.Digest))
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      "file-digest",
			Value:      cfg.Digest,
			Message:    err.Error(),
			Suggestion: "Use sha256, sha384 or sha512",
		}
	}
	cfg.Digest = digest

	s := &Signer{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(false, true)
	}
	if s.factory == nil {
		s.factory = AzureClientFactory{ClientOptions: azcore.ClientOptions{Retry: cfg.Retry}}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return s, nil
}

// Name returns the provider name
func (s *Signer) Name() string {
	return ProviderName
}

// Sign hashes path, signs the digest in Key Vault and writes the envelope.
func (s *Signer) Sign(ctx context.Context, path string, cred azcore.TokenCredential) error {
	sess, err := s.session(ctx, cred)
	if err != nil {
		return err
	}

	digest, err := hashFile(ctx, path, s.cfg.Digest)
	if err != nil {
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return signature.Errorf(signature.KindTimeout, err, "throttled past the per-file timeout")
		}
	}

	alg := sess.algorithm
	resp, err := sess.keys.Sign(ctx, sess.key.keyName, sess.key.keyVersion, azkeys.SignParameters{
		Algorithm: &alg,
		Value:     digest,
	}, nil)
	if err != nil {
		return fmt.Errorf("key vault sign %s: %w", filepath.Base(path), err)
	}

	if err := verifySignature(sess.key.cert, s.cfg.Digest, digest, resp.Result); err != nil {
		return signature.Errorf(signature.KindBackendRejected, err, "signature does not verify against certificate %s", s.cfg.Certificate)
	}

	env := Envelope{
		Version:               1,
		RunID:                 signature.RunID(ctx),
		File:                  filepath.Base(path),
		DigestAlgorithm:       s.cfg.Digest,
		Digest:                hex.EncodeToString(digest),
		SignatureAlgorithm:    string(alg),
		Signature:             base64.StdEncoding.EncodeToString(resp.Result),
		KeyID:                 sess.key.kid,
		Certificate:           base64.StdEncoding.EncodeToString(sess.key.der),
		CertificateThumbprint: sess.key.thumbprint,
		Description:           s.cfg.Description,
		DescriptionURL:        s.cfg.DescriptionURL,
		SignedAt:              s.now().UTC(),
	}
	if err := writeEnvelope(EnvelopePath(path), env); err != nil {
		return err
	}

	s.logger.Debug("Wrote %s (%s)", EnvelopePath(path), alg)
	return nil
}

// session fetches the certificate once and binds the keys client. Permanent
// failures are cached so a bad certificate name fails every file quickly.
// Callers waiting on another file's fetch give up when their own ctx ends.
func (s *Signer) session(ctx context.Context, cred azcore.TokenCredential) (*session, error) {
	for {
		s.mu.Lock()
		if sess, err := s.current, s.loadErr; sess != nil || err != nil {
			s.mu.Unlock()
			return sess, err
		}
		if s.loading == nil {
			loading := make(chan struct{})
			s.loading = loading
			s.mu.Unlock()

			sess, permanent, err := s.load(ctx, cred)

			s.mu.Lock()
			switch {
			case err == nil:
				s.current = sess
			case permanent:
				s.loadErr = err
			}
			s.loading = nil
			close(loading)
			s.mu.Unlock()
			return sess, err
		}
		loading := s.loading
		s.mu.Unlock()

		select {
		case <-loading:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// load performs the certificate fetch. permanent reports whether the error
// should be cached for the rest of the run.
func (s *Signer) load(ctx context.Context, cred azcore.TokenCredential) (_ *session, permanent bool, _ error) {
	certs, err := s.factory.Certificates(s.cfg.VaultURL, cred)
	if err != nil {
		return nil, true, fmt.Errorf("failed to create certificates client: %w", err)
	}
	keys, err := s.factory.Keys(s.cfg.VaultURL, cred)
	if err != nil {
		return nil, true, fmt.Errorf("failed to create keys client: %w", err)
	}

	s.logger.Debug("Fetching certificate %s from %s", s.cfg.Certificate, s.cfg.VaultURL)
	resp, err := certs.GetCertificate(ctx, s.cfg.Certificate, "", nil)
	if err != nil {
		return nil, isPermanent(err), fmt.Errorf("failed to get certificate %q: %w", s.cfg.Certificate, err)
	}

	key, err := parseCertificate(resp.Certificate)
	if err != nil {
		return nil, true, fmt.Errorf("certificate %q: %w", s.cfg.Certificate, err)
	}
	alg, err := s.cfg.Digest.algorithm(key)
	if err != nil {
		return nil, true, fmt.Errorf("certificate %q: %w", s.cfg.Certificate, err)
	}

	if now := s.now(); now.After(key.cert.NotAfter) {
		s.logger.Warn("Certificate %s expired on %s", s.cfg.Certificate, key.cert.NotAfter.Format(time.RFC3339))
	}
	s.logger.Debug("Using key %s (%s) for %s", key.kid, alg, key.cert.Subject)

	return &session{keys: keys, key: key, algorithm: alg}, false, nil
}

// isPermanent reports whether retrying the certificate fetch cannot help.
func isPermanent(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode >= 400 && respErr.StatusCode < 500 &&
		respErr.StatusCode != http.StatusTooManyRequests &&
		respErr.StatusCode != http.StatusRequestTimeout
}

func parseCertificate(cert azcertificates.Certificate) (keyInfo, error) {
	if cert.KID == nil || *cert.KID == "" {
		return keyInfo{}, errors.New("certificate has no key identifier")
	}
	if len(cert.CER) == 0 {
		return keyInfo{}, errors.New("certificate has no public certificate")
	}

	x509Cert, err := x509.ParseCertificate(cert.CER)
	if err != nil {
		return keyInfo{}, fmt.Errorf("invalid public certificate: %w", err)
	}

	kid := azkeys.ID(*cert.KID)
	info := keyInfo{
		kid:        string(kid),
		keyName:    kid.Name(),
		keyVersion: kid.Version(),
		der:        cert.CER,
		cert:       x509Cert,
	}
	if info.keyName == "" {
		return keyInfo{}, fmt.Errorf("cannot parse key identifier %q", info.kid)
	}

	switch pub := x509Cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.family = familyRSA
	case *ecdsa.PublicKey:
		info.family = familyEC
		info.curve = pub.Curve.Params().Name
	default:
		return keyInfo{}, fmt.Errorf("unsupported public key type %T", pub)
	}

	sum := sha256.Sum256(cert.CER)
	info.thumbprint = hex.EncodeToString(sum[:])
	return info, nil
}
