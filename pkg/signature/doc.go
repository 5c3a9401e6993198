// Package signature defines the capability dsign uses to sign a single file.
//
// dsign does not know how a signature is embedded into a file. Everything it
// needs from a signing backend is the Provider interface: given a path and an
// Azure token credential, sign the file or return an error. The per-file
// timeout arrives as the context deadline, and cancellation of the run
// arrives as context cancellation.
//
// # Implementing a Provider
//
//	type detachedProvider struct{}
//
//	func (detachedProvider) Name() string { return "detached" }
//
//	func (detachedProvider) Sign(ctx context.Context, path string, cred azcore.TokenCredential) error {
//	    token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: scopes})
//	    if err != nil {
//	        return signature.Errorf(signature.KindBackendRejected, err, "token for %s", path)
//	    }
//	    // ... sign using token
//	    return nil
//	}
//
// # Errors
//
// Providers should return *Error values with one of the Kinds below. Plain
// errors are still accepted: Classify maps context errors to KindTimeout or
// KindCancelled, *azcore.ResponseError to KindBackendRejected and anything
// else to KindUnknown.
//
// # Retries
//
// The dispatcher never retries. A provider that talks to a throttled backend
// owns its retry policy (for Azure SDK clients, azcore's retry pipeline).
//
// # Concurrency
//
// Sign is called from several goroutines at once with the same credential.
// Implementations must be safe for concurrent use.
package signature
