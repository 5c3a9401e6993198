// Package policy holds the preflight rules applied to the expanded file set
// before any signing starts.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/fileset"
	"github.com/systmms/dsign/internal/logging"
)

// ClickOnceGuidance explains why .clickonce inputs are refused.
const ClickOnceGuidance = "signing .clickonce files is no longer supported; " +
	"sign the ClickOnce deployment manifest (.application or .vsto) and its application files instead"

// PolicyConfig defines which files may be signed
type PolicyConfig struct {
	// RejectedExtensions are added to the built-in rejections
	RejectedExtensions []ExtensionRule `yaml:"rejected_extensions,omitempty"`
	// AllowedExtensions, when set, is a whitelist; anything else is rejected
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty"`
}

// ExtensionRule rejects files with a given extension
type ExtensionRule struct {
	Extension string `yaml:"extension" json:"extension"`
	Reason    string `yaml:"reason" json:"reason"`
}

// DefaultRules are always enforced
var DefaultRules = []ExtensionRule{
	{Extension: ".clickonce", Reason: ClickOnceGuidance},
}

// Verdict is the outcome of checking one file
type Verdict struct {
	Accepted bool
	Reason   string
}

// ValidationError reports the first rejected file of a batch
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Path, e.Reason)
}

// UserError renders the rejection with a suggestion for the CLI
func (e *ValidationError) UserError() dserrors.UserError {
	return dserrors.UserError{
		Message:    fmt.Sprintf("Refusing to sign %s", e.Path),
		Details:    e.Reason,
		Suggestion: "Remove the file from the arguments or adjust policy.rejected_extensions in the config file",
		Err:        e,
	}
}

// PolicyEnforcer validates files against configured policies
type PolicyEnforcer struct {
	rejected map[string]string
	order    []string
	allowed  map[string]struct{}
	logger   *logging.Logger
}

// NewPolicyEnforcer creates a new policy enforcer. A nil config applies
// only the default rules.
func NewPolicyEnforcer(config *PolicyConfig, logger *logging.Logger) *PolicyEnforcer {
	if config == nil {
		config = &PolicyConfig{}
	}
	if logger == nil {
		logger = logging.New(false, true)
	}

	pe := &PolicyEnforcer{
		rejected: make(map[string]string),
		logger:   logger,
	}

	rules := append(append([]ExtensionRule(nil), DefaultRules...), config.RejectedExtensions...)
	for _, rule := range rules {
		ext := normalizeExtension(rule.Extension)
		if ext == "" {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s files are blocked by policy", ext)
		}
		if _, exists := pe.rejected[ext]; !exists {
			pe.order = append(pe.order, ext)
		}
		pe.rejected[ext] = reason
	}

	if len(config.AllowedExtensions) > 0 {
		pe.allowed = make(map[string]struct{}, len(config.AllowedExtensions))
		for _, ext := range config.AllowedExtensions {
			if ext = normalizeExtension(ext); ext != "" {
				pe.allowed[ext] = struct{}{}
			}
		}
	}

	return pe
}

// RejectedExtensions returns the rejected extensions in rule order
func (pe *PolicyEnforcer) RejectedExtensions() []string {
	return append([]string(nil), pe.order...)
}

// Check applies every rule to one path
func (pe *PolicyEnforcer) Check(path string) Verdict {
	lower := strings.ToLower(path)
	for _, ext := range pe.order {
		if strings.HasSuffix(lower, ext) {
			return Verdict{Accepted: false, Reason: pe.rejected[ext]}
		}
	}

	if pe.allowed != nil {
		ext := normalizeExtension(filepath.Ext(path))
		if _, ok := pe.allowed[ext]; !ok {
			return Verdict{
				Accepted: false,
				Reason:   fmt.Sprintf("extension %q is not in policy.allowed_extensions", filepath.Ext(path)),
			}
		}
	}

	return Verdict{Accepted: true}
}

// CheckSpecs rejects raw file arguments that name a rejected extension,
// so a pattern such as *.clickonce fails even when it matches nothing.
// The allow list only applies to concrete files.
func (pe *PolicyEnforcer) CheckSpecs(specs []string) error {
	for _, spec := range specs {
		lower := strings.ToLower(spec)
		for _, ext := range pe.order {
			if strings.HasSuffix(lower, ext) {
				return &ValidationError{Path: spec, Reason: pe.rejected[ext]}
			}
		}
	}
	return nil
}

// Validate fails the whole batch on the first rejected file.
// On success the same set is returned unchanged.
func (pe *PolicyEnforcer) Validate(set *fileset.Set) (*fileset.Set, error) {
	for _, path := range set.Paths() {
		verdict := pe.Check(path)
		if !verdict.Accepted {
			pe.logger.Debug("Preflight rejected %s", path)
			return nil, &ValidationError{Path: path, Reason: verdict.Reason}
		}
	}
	pe.logger.Debug("Preflight accepted %d file(s)", set.Len())
	return set, nil
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
