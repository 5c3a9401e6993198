// Package pipeline runs one signing invocation: resolve the credential,
// expand and validate the inputs, dispatch signing and aggregate the result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/dsign/internal/credential"
	"github.com/systmms/dsign/internal/dispatch"
	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/exitcode"
	"github.com/systmms/dsign/internal/fileset"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/internal/metrics"
	"github.com/systmms/dsign/internal/policy"
	"github.com/systmms/dsign/pkg/signature"
)

// Pipeline holds the collaborators for one invocation. Every field except
// Metrics and Logger is required.
type Pipeline struct {
	Resolver   *credential.Resolver
	Expander   *fileset.Expander
	Policy     *policy.PolicyEnforcer
	Dispatcher *dispatch.Dispatcher
	Provider   signature.Provider
	Metrics    *metrics.RunMetrics
	Logger     *logging.Logger
}

// Request is the raw input of one invocation.
type Request struct {
	Credential credential.Request
	Files      []string
}

// Run executes the stages in order and stops at the first fatal error.
// The returned Result always reflects every stage that ran.
func (p *Pipeline) Run(ctx context.Context, req Request) exitcode.Result {
	logger := p.Logger
	if logger == nil {
		logger = logging.New(false, true)
	}
	defer req.Credential.Destroy()

	if len(req.Files) == 0 {
		return exitcode.Result{MissingFiles: true}
	}

	// Patterns such as *.clickonce are refused before any credential work,
	// even when they match nothing.
	if err := p.Policy.CheckSpecs(req.Files); err != nil {
		return exitcode.Result{Validation: err}
	}

	started := time.Now()
	cred, err := p.Resolver.Resolve(ctx, req.Credential)
	p.Metrics.RecordResolution(req.Credential.Strategy.String(), time.Since(started))
	if err != nil {
		hintResolution(logger, err)
		return exitcode.Result{Resolution: err}
	}
	logger.Debug("Resolved %s", cred)

	set, err := p.Expander.Expand(req.Files)
	if err != nil {
		return exitcode.Result{Expansion: err}
	}
	logger.Debug("Expanded %d argument(s) to %d file(s)", len(req.Files), set.Len())

	set, err = p.Policy.Validate(set)
	if err != nil {
		return exitcode.Result{Validation: err}
	}
	if set.Empty() {
		return exitcode.Result{Report: &dispatch.Report{}}
	}

	report := p.Dispatcher.Dispatch(ctx, cred, set, p.Provider)
	p.Metrics.RecordRun(report.RunID)
	hintFailures(logger, p.Provider.Name(), report)

	return exitcode.Result{Report: report}
}

func hintResolution(logger *logging.Logger, err error) {
	var resErr *credential.ResolutionError
	if errors.As(err, &resErr) && resErr.Kind == credential.BackendUnavailable && resErr.Err != nil {
		logger.Warn("💡 Try: %s", dserrors.AzureIdentitySuggestion(resErr.Err))
	}
}

// hintFailures prints one suggestion per distinct backend failure kind.
func hintFailures(logger *logging.Logger, backend string, report *dispatch.Report) {
	seen := make(map[string]bool)
	for _, entry := range report.Failures() {
		sigErr := entry.Outcome.Err
		if sigErr.Kind != signature.KindBackendRejected && sigErr.Kind != signature.KindTimeout {
			continue
		}
		userErr, ok := dserrors.BackendError(backend, "signing", sigErr).(dserrors.UserError)
		if !ok || userErr.Suggestion == "" || seen[userErr.Suggestion] {
			continue
		}
		seen[userErr.Suggestion] = true
		logger.Warn("💡 Try: %s", userErr.Suggestion)
	}
}
