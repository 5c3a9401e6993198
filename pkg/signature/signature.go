package signature

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Provider signs one file at a time.
type Provider interface {
	// Name identifies the backend in logs and metrics, e.g. "azure-key-vault".
	Name() string

	// Sign signs the file at path using cred. The ctx deadline is the
	// per-file timeout; implementations should stop work when ctx is done.
	Sign(ctx context.Context, path string, cred azcore.TokenCredential) error
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, path string, cred azcore.TokenCredential) error

// Name returns "func".
func (f ProviderFunc) Name() string { return "func" }

// Sign calls f.
func (f ProviderFunc) Sign(ctx context.Context, path string, cred azcore.TokenCredential) error {
	return f(ctx, path, cred)
}

// Kind classifies a per-file signing failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindBackendRejected
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindBackendRejected:
		return "backend-rejected"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a typed per-file signing failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted detail message.
func Errorf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Classify turns any error returned from a signing call into an *Error.
// ctx is the per-file context; parent is the run context. A per-file deadline
// is a timeout, a cancelled run is a cancellation.
func Classify(parent, ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}

	// Context state wins over whatever the provider reported: a provider
	// that wraps ctx.Err() in KindUnknown still timed out.
	if parent != nil && parent.Err() != nil {
		return &Error{Kind: KindCancelled, Detail: "run cancelled", Err: err}
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Detail: "signing exceeded the per-file timeout", Err: err}
	}

	var sigErr *Error
	if errors.As(err, &sigErr) {
		return sigErr
	}

	var respErr *azcore.ResponseError
	switch {
	case errors.As(err, &respErr):
		detail := fmt.Sprintf("HTTP %d", respErr.StatusCode)
		if respErr.ErrorCode != "" {
			detail += " " + respErr.ErrorCode
		}
		return &Error{Kind: KindBackendRejected, Detail: detail, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}

type runIDKey struct{}

// WithRunID attaches the dispatch run ID to ctx so providers can record it.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run ID attached by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
