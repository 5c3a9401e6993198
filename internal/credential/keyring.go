package credential

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringReader reads secrets from an OS credential store.
type KeyringReader interface {
	Get(service, account string) (string, error)
}

// OSKeyring reads from the platform keyring (Keychain, Secret Service, Windows Credential Manager).
type OSKeyring struct{}

// Get returns the secret stored for service/account.
func (OSKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("no keyring item for %s/%s", service, account)
		}
		return "", fmt.Errorf("keyring unavailable: %w", err)
	}
	return secret, nil
}
