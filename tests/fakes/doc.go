// Package fakes provides test doubles for dsign's external collaborators.
//
// This package contains fake implementations of the Azure credential
// backend, token credentials, the OS keyring, signature providers and the
// Key Vault key/certificate clients, so the pipeline can be unit tested
// without Azure. Fakes are manually implemented (not generated) to provide
// precise control over test behavior.
//
// Usage:
//
//	backend := fakes.NewFakeCredentialBackend()
//	resolver := credential.NewResolver(backend)
//
//	provider := fakes.NewFakeSignatureProvider().
//	    WithError("/work/b.exe", errors.New("rejected"))
//	report := dispatcher.Dispatch(ctx, cred, set, provider)
package fakes
