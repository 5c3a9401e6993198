package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/dispatch"
	"github.com/systmms/dsign/internal/fileset"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/pkg/signature"
	"github.com/systmms/dsign/tests/fakes"
)

func testCredential() (*credential.Credential, *fakes.FakeTokenCredential) {
	token := fakes.NewFakeTokenCredential()
	return credential.NewCredential(credential.StrategyManagedIdentity, token), token
}

func paths(report *dispatch.Report) []string {
	var out []string
	for _, e := range report.Entries {
		out = append(out, e.Path)
	}
	return out
}

type countingRecorder struct {
	mu     sync.Mutex
	signed int
	failed map[string]int
}

func (r *countingRecorder) RecordSigned(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signed++
}

func (r *countingRecorder) RecordFailed(kind string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = make(map[string]int)
	}
	r.failed[kind]++
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	d := dispatch.New(dispatch.Options{})
	assert.Equal(t, runtime.NumCPU(), d.Concurrency())
	assert.Equal(t, dispatch.DefaultTimeout, d.Timeout())

	d = dispatch.New(dispatch.Options{Concurrency: 3, Timeout: time.Second})
	assert.Equal(t, 3, d.Concurrency())
	assert.Equal(t, time.Second, d.Timeout())
}

func TestDispatchAllSigned(t *testing.T) {
	t.Parallel()

	cred, token := testCredential()
	provider := fakes.NewFakeSignatureProvider().WithName("fake-kv")

	report := dispatch.New(dispatch.Options{Concurrency: 2}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe", "/w/b.exe"), provider)

	require.Equal(t, 2, report.Len())
	assert.Equal(t, []string{"/w/a.exe", "/w/b.exe"}, paths(report))
	for _, e := range report.Entries {
		assert.False(t, e.Outcome.Failed(), e.Path)
		assert.Equal(t, "signed", e.Outcome.String())
	}
	assert.Equal(t, 2, report.Signed())
	assert.Equal(t, 0, report.Failed())
	assert.Equal(t, "fake-kv", report.Provider)

	for _, c := range provider.Credentials() {
		assert.Same(t, token, c, "the resolved credential is shared read-only")
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(*fakes.FakeSignatureProvider)
	}{
		{"error", func(f *fakes.FakeSignatureProvider) { f.WithError("/w/a.exe", errors.New("boom")) }},
		{"panic", func(f *fakes.FakeSignatureProvider) { f.WithPanic("/w/a.exe") }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cred, _ := testCredential()
			provider := fakes.NewFakeSignatureProvider()
			tt.configure(provider)

			report := dispatch.New(dispatch.Options{Concurrency: 2}).
				Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe", "/w/b.exe"), provider)

			require.Equal(t, 2, report.Len())
			assert.True(t, report.Entries[0].Outcome.Failed())
			assert.Equal(t, signature.KindUnknown, report.Entries[0].Outcome.Err.Kind)
			assert.False(t, report.Entries[1].Outcome.Failed(), "independent success is never downgraded")
			assert.Equal(t, []string{"/w/b.exe"}, provider.Signed())
		})
	}
}

func TestDispatchPreservesInputOrder(t *testing.T) {
	t.Parallel()

	cred, _ := testCredential()
	provider := fakes.NewFakeSignatureProvider().
		WithDelay("/w/1.exe", 60*time.Millisecond).
		WithDelay("/w/2.exe", 30*time.Millisecond)

	input := []string{"/w/1.exe", "/w/2.exe", "/w/3.exe"}
	report := dispatch.New(dispatch.Options{Concurrency: 3}).
		Dispatch(context.Background(), cred, fileset.NewSet(input...), provider)

	assert.Equal(t, input, paths(report))
	assert.Equal(t, []string{"/w/3.exe", "/w/2.exe", "/w/1.exe"}, provider.Signed(), "completion order differs")
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	cred, _ := testCredential()
	provider := fakes.NewFakeSignatureProvider()
	var input []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		path := "/w/" + name + ".dll"
		input = append(input, path)
		provider.WithDelay(path, 20*time.Millisecond)
	}

	report := dispatch.New(dispatch.Options{Concurrency: 2}).
		Dispatch(context.Background(), cred, fileset.NewSet(input...), provider)

	assert.Equal(t, 6, report.Signed())
	assert.LessOrEqual(t, provider.MaxConcurrent(), 2)
	assert.Equal(t, 6, provider.TotalCalls(), "no retries")
}

func TestDispatchTimeout(t *testing.T) {
	t.Parallel()

	t.Run("cooperative_provider", func(t *testing.T) {
		t.Parallel()

		cred, _ := testCredential()
		provider := fakes.NewFakeSignatureProvider().WithDelay("/w/slow.exe", 5*time.Second)

		report := dispatch.New(dispatch.Options{Concurrency: 2, Timeout: 30 * time.Millisecond}).
			Dispatch(context.Background(), cred, fileset.NewSet("/w/slow.exe", "/w/fast.exe"), provider)

		require.True(t, report.Entries[0].Outcome.Failed())
		assert.Equal(t, signature.KindTimeout, report.Entries[0].Outcome.Err.Kind)
		assert.False(t, report.Entries[1].Outcome.Failed())
	})

	t.Run("provider_ignoring_cancellation_is_detached", func(t *testing.T) {
		t.Parallel()

		cred, _ := testCredential()
		provider := fakes.NewFakeSignatureProvider().
			WithDelay("/w/hung.exe", 2*time.Second).
			IgnoringCancellation()

		start := time.Now()
		report := dispatch.New(dispatch.Options{Concurrency: 1, Timeout: 30 * time.Millisecond}).
			Dispatch(context.Background(), cred, fileset.NewSet("/w/hung.exe"), provider)

		assert.Less(t, time.Since(start), time.Second)
		require.True(t, report.Entries[0].Outcome.Failed())
		assert.Equal(t, signature.KindTimeout, report.Entries[0].Outcome.Err.Kind)
	})
}

func TestDispatchCancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancelled_before_start", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cred, _ := testCredential()
		provider := fakes.NewFakeSignatureProvider()
		report := dispatch.New(dispatch.Options{}).
			Dispatch(ctx, cred, fileset.NewSet("/w/a.exe", "/w/b.exe"), provider)

		require.Equal(t, 2, report.Len())
		assert.Equal(t, 2, report.Failed())
		assert.Equal(t, 2, report.FailuresByKind()[signature.KindCancelled])
		assert.Equal(t, 0, provider.TotalCalls())
	})

	t.Run("cancelled_mid_run_returns_partial_report", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cred, _ := testCredential()
		provider := fakes.NewFakeSignatureProvider().WithDelay("/w/b.exe", 5*time.Second)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		report := dispatch.New(dispatch.Options{Concurrency: 1}).
			Dispatch(ctx, cred, fileset.NewSet("/w/a.exe", "/w/b.exe", "/w/c.exe"), provider)

		require.Equal(t, 3, report.Len())
		assert.False(t, report.Entries[0].Outcome.Failed(), "completed work is kept")
		for _, e := range report.Entries[1:] {
			require.True(t, e.Outcome.Failed(), e.Path)
			assert.Equal(t, signature.KindCancelled, e.Outcome.Err.Kind, e.Path)
		}
		assert.Equal(t, 0, provider.CallCount("/w/c.exe"))
	})
}

func TestDispatchBackendRejected(t *testing.T) {
	t.Parallel()

	cred, _ := testCredential()
	provider := fakes.NewFakeSignatureProvider().
		WithError("/w/a.exe", &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"})

	report := dispatch.New(dispatch.Options{}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe"), provider)

	entry := report.Entries[0]
	require.True(t, entry.Outcome.Failed())
	assert.Equal(t, signature.KindBackendRejected, entry.Outcome.Err.Kind)
	assert.Contains(t, entry.Outcome.String(), "HTTP 403 Forbidden")
}

func TestDispatchRecordsMetrics(t *testing.T) {
	t.Parallel()

	cred, _ := testCredential()
	recorder := &countingRecorder{}
	provider := fakes.NewFakeSignatureProvider().WithError("/w/b.exe", errors.New("nope"))

	dispatch.New(dispatch.Options{Recorder: recorder}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe", "/w/b.exe", "/w/c.exe"), provider)

	assert.Equal(t, 2, recorder.signed)
	assert.Equal(t, map[string]int{"unknown": 1}, recorder.failed)
}

func TestDispatchRunID(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	provider := signature.ProviderFunc(func(ctx context.Context, _ string, _ azcore.TokenCredential) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, signature.RunID(ctx))
		return nil
	})

	cred, _ := testCredential()
	report := dispatch.New(dispatch.Options{}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe"), provider)

	_, err := uuid.Parse(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{report.RunID}, seen)

	fixed := dispatch.New(dispatch.Options{RunID: "fixed-run"}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe"), provider)
	assert.Equal(t, "fixed-run", fixed.RunID)
}

func TestDispatchEmptySet(t *testing.T) {
	t.Parallel()

	cred, _ := testCredential()
	provider := fakes.NewFakeSignatureProvider()
	report := dispatch.New(dispatch.Options{}).
		Dispatch(context.Background(), cred, fileset.NewSet(), provider)

	assert.Equal(t, 0, report.Len())
	assert.Equal(t, 0, report.Signed())
	assert.Equal(t, 0, provider.TotalCalls())
}

func TestDispatchLogsOutcomes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, true, true)

	cred, _ := testCredential()
	provider := fakes.NewFakeSignatureProvider().WithError("/w/b.exe", errors.New("denied"))
	dispatch.New(dispatch.Options{Concurrency: 1, Logger: logger}).
		Dispatch(context.Background(), cred, fileset.NewSet("/w/a.exe", "/w/b.exe"), provider)

	out := buf.String()
	assert.Contains(t, out, "Signed /w/a.exe")
	assert.Contains(t, out, "Failed to sign /w/b.exe")
	assert.Contains(t, out, "denied")
	assert.Contains(t, out, "[DEBUG] Dispatching 2 file(s)")
}
