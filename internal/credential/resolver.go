package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/internal/secure"
)

// KeyVaultScope is the token scope used to probe a freshly built credential.
const KeyVaultScope = "https://vault.azure.net/.default"

// Backend builds a token credential for a complete request.
type Backend interface {
	Obtain(ctx context.Context, req Request) (azcore.TokenCredential, error)
}

// Resolver validates a Request and obtains its credential from a Backend.
// It makes a single attempt; retries belong to the signing backend.
type Resolver struct {
	backend Backend
	keyring KeyringReader
	logger  *logging.Logger
	probe   bool
	scope   string
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithKeyring sets the keyring used for keyring: secret references
func WithKeyring(k KeyringReader) ResolverOption {
	return func(r *Resolver) {
		r.keyring = k
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithoutProbe skips the token probe after the credential is built
func WithoutProbe() ResolverOption {
	return func(r *Resolver) {
		r.probe = false
	}
}

// WithScope changes the scope used by the token probe
func WithScope(scope string) ResolverOption {
	return func(r *Resolver) {
		r.scope = scope
	}
}

// NewResolver creates a resolver around backend
func NewResolver(backend Backend, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		backend: backend,
		keyring: OSKeyring{},
		logger:  logging.New(false, true),
		probe:   true,
		scope:   KeyVaultScope,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks req for completeness and produces a Credential.
// An incomplete client secret request never reaches the backend.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Credential, error) {
	r.logger.Debug("Resolving Azure credential using %s", req.Strategy)

	if req.Strategy == StrategyClientSecret {
		var cleanup func()
		var err error
		req, cleanup, err = r.completeClientSecret(req)
		if err != nil {
			return nil, err
		}
		defer cleanup()
	}

	token, err := r.backend.Obtain(ctx, req)
	if err != nil {
		return nil, &ResolutionError{Kind: BackendUnavailable, Strategy: req.Strategy, Err: err}
	}

	if r.probe {
		if _, err := token.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{r.scope}}); err != nil {
			return nil, &ResolutionError{Kind: BackendUnavailable, Strategy: req.Strategy, Err: err}
		}
		r.logger.Debug("Acquired token for %s", r.scope)
	}

	return NewCredential(req.Strategy, token), nil
}

// completeClientSecret validates client secret inputs, reading the secret from
// the keyring when requested. The returned cleanup wipes any secret it loaded.
func (r *Resolver) completeClientSecret(req Request) (Request, func(), error) {
	noop := func() {}

	var missing []string
	if strings.TrimSpace(req.TenantID) == "" {
		missing = append(missing, OptionTenantID)
	}
	if strings.TrimSpace(req.ClientID) == "" {
		missing = append(missing, OptionClientID)
	}

	var keyringErr error
	cleanup := noop
	if req.Secret.Len() == 0 {
		if req.SecretKeyring == "" {
			missing = append(missing, OptionClientSecret)
		} else {
			value, err := r.readKeyring(req.SecretKeyring)
			if err != nil || value == "" {
				missing = append(missing, OptionClientSecret)
				keyringErr = err
			} else {
				buf := secure.FromString(value)
				req.Secret = buf
				cleanup = buf.Destroy
				r.logger.Debug("Loaded client secret %s from keyring", logging.Secret(value))
			}
		}
	}

	if len(missing) > 0 {
		cleanup()
		return req, noop, &ResolutionError{
			Kind:     IncompleteClientSecret,
			Strategy: StrategyClientSecret,
			Missing:  missing,
			Err:      keyringErr,
		}
	}

	return req, cleanup, nil
}

func (r *Resolver) readKeyring(ref string) (string, error) {
	service, account, ok := strings.Cut(ref, "/")
	if !ok || service == "" || account == "" {
		return "", fmt.Errorf("keyring reference %q must be %s<service>/<account>", ref, KeyringPrefix)
	}
	r.logger.Debug("Reading client secret from keyring service %s", service)
	return r.keyring.Get(service, account)
}
