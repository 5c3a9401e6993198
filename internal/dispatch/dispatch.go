// Package dispatch fans signing out over a resolved file set with bounded
// concurrency and collects a per-file report in input order.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/fileset"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/pkg/signature"
)

// DefaultTimeout bounds a single signing call when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Recorder receives per-file metrics. *metrics.RunMetrics implements it.
type Recorder interface {
	RecordSigned(d time.Duration)
	RecordFailed(kind string, d time.Duration)
}

// Options configures a Dispatcher.
type Options struct {
	// Concurrency is the worker count; <= 0 means runtime.NumCPU().
	Concurrency int
	// Timeout bounds each signing call; <= 0 means DefaultTimeout.
	Timeout time.Duration
	// RunID identifies the report; empty generates a new UUID per dispatch.
	RunID string

	Logger   *logging.Logger
	Recorder Recorder
}

// Dispatcher signs files concurrently. It never retries.
type Dispatcher struct {
	concurrency int
	timeout     time.Duration
	runID       string
	logger      *logging.Logger
	recorder    Recorder
}

// New creates a Dispatcher, applying defaults for zero options.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		runID:       opts.RunID,
		logger:      opts.Logger,
		recorder:    opts.Recorder,
	}
	if d.concurrency <= 0 {
		d.concurrency = runtime.NumCPU()
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.logger == nil {
		d.logger = logging.NewWithWriter(nil, false, true)
	}
	return d
}

// Concurrency returns the effective worker count.
func (d *Dispatcher) Concurrency() int { return d.concurrency }

// Timeout returns the effective per-file timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch signs every file in set with provider and returns the report.
// A failing, panicking or hung file never affects its siblings. When ctx is
// cancelled the partial report is returned and files that never started are
// marked cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, cred *credential.Credential, set *fileset.Set, provider signature.Provider) *Report {
	paths := set.Paths()

	report := &Report{
		RunID:    d.runID,
		Provider: provider.Name(),
		Entries:  make([]Entry, len(paths)),
	}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	for i, path := range paths {
		report.Entries[i] = Entry{Path: path, Outcome: Failed(&signature.Error{
			Kind:   signature.KindCancelled,
			Detail: "run cancelled before signing started",
		})}
	}

	var token azcore.TokenCredential
	if cred != nil {
		token = cred.TokenCredential()
	}

	ctx = signature.WithRunID(ctx, report.RunID)
	d.logger.Debug("Dispatching %d file(s) to %s (run %s, concurrency %d, timeout %s)",
		len(paths), report.Provider, report.RunID, d.concurrency, d.timeout)

	started := time.Now()

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		i, path := i, path
		g.Go(func() error {
			// Each worker owns its slot; no error is returned so siblings keep running.
			report.Entries[i] = d.signOne(ctx, path, token, provider)
			return nil
		})
	}
	_ = g.Wait()

	report.Elapsed = time.Since(started)
	return report
}

func (d *Dispatcher) signOne(parent context.Context, path string, token azcore.TokenCredential, provider signature.Provider) Entry {
	start := time.Now()

	if err := parent.Err(); err != nil {
		entry := Entry{Path: path, Outcome: Failed(&signature.Error{
			Kind:   signature.KindCancelled,
			Detail: "run cancelled before signing started",
			Err:    err,
		})}
		d.record(entry)
		return entry
	}

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	d.logger.Debug("Signing %s", path)

	// Buffered so a provider that ignores ctx can finish later without blocking.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &signature.Error{
					Kind:   signature.KindUnknown,
					Detail: "provider panicked",
					Err:    fmt.Errorf("%v", r),
				}
			}
		}()
		done <- provider.Sign(ctx, path, token)
	}()

	err := awaitSign(ctx, done)

	entry := Entry{Path: path, Duration: time.Since(start), Outcome: Signed()}
	if sigErr := signature.Classify(parent, ctx, err); sigErr != nil {
		entry.Outcome = Failed(sigErr)
	}

	if entry.Outcome.Failed() {
		d.logger.Error("Failed to sign %s: %s", path, entry.Outcome.Err)
	} else {
		d.logger.Info("Signed %s (%s)", path, entry.Duration.Round(time.Millisecond))
	}
	d.record(entry)
	return entry
}

// awaitSign returns the provider's result, or ctx.Err() once ctx is done.
// A result that is already waiting when ctx expires still counts.
func awaitSign(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) record(entry Entry) {
	if d.recorder == nil {
		return
	}
	if entry.Outcome.Failed() {
		d.recorder.RecordFailed(entry.Outcome.Err.Kind.String(), entry.Duration)
		return
	}
	d.recorder.RecordSigned(entry.Duration)
}
