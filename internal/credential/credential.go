// Package credential turns Azure authentication inputs into one token credential.
//
// Exactly one Strategy is active per invocation. The CLI enforces that the
// strategy flags are mutually exclusive; the Resolver only checks that the
// chosen strategy is complete and asks a Backend to build the credential.
package credential

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/systmms/dsign/internal/secure"
)

// Strategy selects how the signing identity authenticates to Azure.
type Strategy int

const (
	// StrategyDefaultChain walks the azidentity default chain
	// (environment, workload identity, managed identity, Azure CLI, azd).
	StrategyDefaultChain Strategy = iota
	StrategyManagedIdentity
	StrategyClientSecret
	StrategyInteractive
)

func (s Strategy) String() string {
	switch s {
	case StrategyManagedIdentity:
		return "managed-identity"
	case StrategyClientSecret:
		return "client-secret"
	case StrategyInteractive:
		return "interactive"
	default:
		return "default-chain"
	}
}

// Option names reported back to the user when client secret input is incomplete.
const (
	OptionTenantID     = "--azure-key-vault-tenant-id"
	OptionClientID     = "--azure-key-vault-client-id"
	OptionClientSecret = "--azure-key-vault-client-secret"
)

// ClientSecretOptions lists the options required for client secret authentication.
var ClientSecretOptions = []string{OptionTenantID, OptionClientID, OptionClientSecret}

// KeyringPrefix marks a client secret that should be read from the OS keyring,
// as keyring:<service>/<account>.
const KeyringPrefix = "keyring:"

// Request holds the raw authentication inputs for one invocation.
type Request struct {
	Strategy Strategy

	// TenantID and ClientID identify the service principal for
	// StrategyClientSecret. StrategyInteractive and StrategyDefaultChain use
	// them as optional hints.
	TenantID string
	ClientID string

	// Secret is the client secret, kept in protected memory.
	Secret *secure.SecureBuffer

	// SecretKeyring names a keyring item ("service/account") holding the
	// client secret when Secret is empty.
	SecretKeyring string

	// ManagedIdentityClientID selects a user-assigned managed identity.
	// Empty means the system-assigned identity.
	ManagedIdentityClientID string
}

// Destroy wipes the protected secret.
func (r Request) Destroy() {
	r.Secret.Destroy()
}

// Credential is the resolved, read-only signing identity.
// It never exposes secret material through formatting.
type Credential struct {
	strategy Strategy
	token    azcore.TokenCredential
}

// NewCredential wraps an already-built token credential.
func NewCredential(strategy Strategy, token azcore.TokenCredential) *Credential {
	return &Credential{strategy: strategy, token: token}
}

// Strategy returns the strategy that produced the credential.
func (c *Credential) Strategy() Strategy {
	return c.strategy
}

// TokenCredential returns the Azure credential passed to signature providers.
func (c *Credential) TokenCredential() azcore.TokenCredential {
	return c.token
}

func (c *Credential) String() string {
	return fmt.Sprintf("azure credential (%s)", c.strategy)
}

// GoString keeps %#v from walking into the wrapped credential.
func (c *Credential) GoString() string {
	return c.String()
}

// ResolutionErrorKind classifies why no credential could be produced.
type ResolutionErrorKind int

const (
	IncompleteClientSecret ResolutionErrorKind = iota
	BackendUnavailable
)

func (k ResolutionErrorKind) String() string {
	if k == BackendUnavailable {
		return "backend-unavailable"
	}
	return "incomplete-client-secret"
}

// ResolutionError reports a failed credential resolution.
type ResolutionError struct {
	Kind     ResolutionErrorKind
	Strategy Strategy
	// Missing lists the options that were empty (IncompleteClientSecret).
	Missing []string
	Err     error
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case IncompleteClientSecret:
		msg := fmt.Sprintf("client secret authentication requires all of %s", strings.Join(ClientSecretOptions, ", "))
		if len(e.Missing) > 0 {
			msg += fmt.Sprintf("; missing: %s", strings.Join(e.Missing, ", "))
		}
		if e.Err != nil {
			msg += fmt.Sprintf(" (%v)", e.Err)
		}
		return msg
	default:
		return fmt.Sprintf("azure credential (%s) unavailable: %v", e.Strategy, e.Err)
	}
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
