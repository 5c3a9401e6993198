package fakes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/systmms/dsign/internal/credential"
)

// FakeTokenCredential is an azcore.TokenCredential returning a fixed token
type FakeTokenCredential struct {
	// Token is returned by GetToken; defaults to "fake-token"
	Token string
	// Err is returned by GetToken when set
	Err error

	calls  atomic.Int32
	mu     sync.Mutex
	scopes [][]string
}

// NewFakeTokenCredential creates a credential that always succeeds
func NewFakeTokenCredential() *FakeTokenCredential {
	return &FakeTokenCredential{Token: "fake-token"}
}

// GetToken implements azcore.TokenCredential
func (f *FakeTokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.scopes = append(f.scopes, opts.Scopes)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return azcore.AccessToken{}, err
	}
	if f.Err != nil {
		return azcore.AccessToken{}, f.Err
	}
	return azcore.AccessToken{Token: f.Token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// Calls returns how many times GetToken was called
func (f *FakeTokenCredential) Calls() int {
	return int(f.calls.Load())
}

// Scopes returns the scopes requested so far
func (f *FakeTokenCredential) Scopes() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.scopes...)
}

// FakeCredentialBackend records Obtain calls and returns a configured credential
type FakeCredentialBackend struct {
	// Credential is returned by Obtain; defaults to a FakeTokenCredential
	Credential azcore.TokenCredential
	// Err is returned by Obtain when set
	Err error

	mu       sync.Mutex
	requests []credential.Request
	secrets  []string
}

// NewFakeCredentialBackend creates a backend that succeeds
func NewFakeCredentialBackend() *FakeCredentialBackend {
	return &FakeCredentialBackend{Credential: NewFakeTokenCredential()}
}

// Obtain implements credential.Backend
func (f *FakeCredentialBackend) Obtain(_ context.Context, req credential.Request) (azcore.TokenCredential, error) {
	secret, _ := req.Secret.Reveal()

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.secrets = append(f.secrets, secret)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return f.Credential, nil
}

// Calls returns how many times Obtain was called
func (f *FakeCredentialBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// LastRequest returns the most recent request
func (f *FakeCredentialBackend) LastRequest() (credential.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return credential.Request{}, false
	}
	return f.requests[len(f.requests)-1], true
}

// LastSecret returns the plaintext secret seen by the most recent Obtain call
func (f *FakeCredentialBackend) LastSecret() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.secrets) == 0 {
		return ""
	}
	return f.secrets[len(f.secrets)-1]
}

// FakeKeyring is an in-memory credential.KeyringReader
type FakeKeyring struct {
	// Items maps "service/account" to secret values
	Items map[string]string
	// Err is returned for every lookup when set
	Err error
}

// Get implements credential.KeyringReader
func (f *FakeKeyring) Get(service, account string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	value, ok := f.Items[service+"/"+account]
	if !ok {
		return "", fmt.Errorf("no keyring item for %s/%s", service, account)
	}
	return value, nil
}
