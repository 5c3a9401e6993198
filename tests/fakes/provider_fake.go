package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// FakeSignatureProvider is a manual fake implementation of signature.Provider.
//
// Every file signs successfully unless configured otherwise. Behaviour is set
// per base path:
//
//	fake := fakes.NewFakeSignatureProvider().
//	    WithError("/work/a.exe", errors.New("backend down")).
//	    WithPanic("/work/b.exe").
//	    WithDelay("/work/c.exe", time.Minute)
type FakeSignatureProvider struct {
	name string

	failOn    map[string]error
	panicOn   map[string]bool
	delays    map[string]time.Duration
	ignoreCtx bool

	signed   []string
	calls    map[string]int
	tokens   []azcore.TokenCredential
	inFlight int
	maxSeen  int

	mu sync.Mutex
}

// NewFakeSignatureProvider creates a fake that signs every file.
func NewFakeSignatureProvider() *FakeSignatureProvider {
	return &FakeSignatureProvider{
		name:    "fake",
		failOn:  make(map[string]error),
		panicOn: make(map[string]bool),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

// WithName sets the provider name.
func (f *FakeSignatureProvider) WithName(name string) *FakeSignatureProvider {
	f.name = name
	return f
}

// WithError makes signing path return err.
func (f *FakeSignatureProvider) WithError(path string, err error) *FakeSignatureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[path] = err
	return f
}

// WithPanic makes signing path panic.
func (f *FakeSignatureProvider) WithPanic(path string) *FakeSignatureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicOn[path] = true
	return f
}

// WithDelay makes signing path take d.
func (f *FakeSignatureProvider) WithDelay(path string, d time.Duration) *FakeSignatureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays[path] = d
	return f
}

// IgnoringCancellation makes delayed calls sleep through ctx cancellation,
// like a provider that does not support it.
func (f *FakeSignatureProvider) IgnoringCancellation() *FakeSignatureProvider {
	f.ignoreCtx = true
	return f
}

// Name implements signature.Provider.
func (f *FakeSignatureProvider) Name() string {
	return f.name
}

// Sign implements signature.Provider.
func (f *FakeSignatureProvider) Sign(ctx context.Context, path string, cred azcore.TokenCredential) error {
	f.mu.Lock()
	f.calls[path]++
	f.tokens = append(f.tokens, cred)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	delay := f.delays[path]
	failErr := f.failOn[path]
	shouldPanic := f.panicOn[path]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if shouldPanic {
		panic("fake provider panic for " + path)
	}

	if delay > 0 {
		if f.ignoreCtx {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if failErr != nil {
		return failErr
	}

	f.mu.Lock()
	f.signed = append(f.signed, path)
	f.mu.Unlock()
	return nil
}

// Signed returns the paths signed successfully, in completion order.
func (f *FakeSignatureProvider) Signed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signed...)
}

// CallCount returns how many times path was passed to Sign.
func (f *FakeSignatureProvider) CallCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

// TotalCalls returns the number of Sign calls.
func (f *FakeSignatureProvider) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Credentials returns the credentials passed to Sign.
func (f *FakeSignatureProvider) Credentials() []azcore.TokenCredential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]azcore.TokenCredential(nil), f.tokens...)
}

// MaxConcurrent returns the highest number of overlapping Sign calls seen.
func (f *FakeSignatureProvider) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}
