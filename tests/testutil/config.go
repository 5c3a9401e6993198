// Package testutil provides test utilities and helpers for dsign tests.
//
// This package contains shared test infrastructure including configuration
// builders, artifact fixtures, and assertions on signature envelopes.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsign/internal/config"
	"github.com/systmms/dsign/internal/policy"
)

// TestConfigBuilder provides a fluent API for building test configurations.
//
// This builder allows programmatic creation of dsign.yaml configurations
// for testing without manually writing YAML strings.
//
// Example usage:
//
//	path := NewTestConfig(t).
//	    WithFileDigest("sha384").
//	    WithRejectedExtension(".ps1", "scripts are signed elsewhere").
//	    Write()
type TestConfigBuilder struct {
	config  *config.Definition
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a new TestConfigBuilder.
//
// The builder starts from config.Default().
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		config:  config.Default(),
		tempDir: t.TempDir(), // Auto-cleanup by testing framework
		t:       t,
	}
}

// WithMaxConcurrency sets signing.max_concurrency.
func (b *TestConfigBuilder) WithMaxConcurrency(n int) *TestConfigBuilder {
	b.config.Signing.MaxConcurrency = n
	return b
}

// WithTimeout sets signing.timeout, e.g. "30s".
func (b *TestConfigBuilder) WithTimeout(d string) *TestConfigBuilder {
	b.config.Signing.Timeout = d
	return b
}

// WithFileDigest sets signing.file_digest.
func (b *TestConfigBuilder) WithFileDigest(digest string) *TestConfigBuilder {
	b.config.Signing.FileDigest = digest
	return b
}

// WithRequestsPerSecond sets signing.requests_per_second.
func (b *TestConfigBuilder) WithRequestsPerSecond(rps float64) *TestConfigBuilder {
	b.config.Signing.RequestsPerSecond = rps
	return b
}

// WithRejectedExtension adds a policy rule rejecting ext.
func (b *TestConfigBuilder) WithRejectedExtension(ext, reason string) *TestConfigBuilder {
	b.policy().RejectedExtensions = append(b.policy().RejectedExtensions, policy.ExtensionRule{
		Extension: ext,
		Reason:    reason,
	})
	return b
}

// WithAllowedExtensions restricts signing to the given extensions.
func (b *TestConfigBuilder) WithAllowedExtensions(exts ...string) *TestConfigBuilder {
	b.policy().AllowedExtensions = append(b.policy().AllowedExtensions, exts...)
	return b
}

// WithMetricsTextfile sets metrics.textfile.
func (b *TestConfigBuilder) WithMetricsTextfile(path string) *TestConfigBuilder {
	b.config.Metrics.Textfile = path
	return b
}

func (b *TestConfigBuilder) policy() *policy.PolicyConfig {
	if b.config.Policy == nil {
		b.config.Policy = &policy.PolicyConfig{}
	}
	return b.config.Policy
}

// Build returns the configuration definition.
func (b *TestConfigBuilder) Build() *config.Definition {
	return b.config
}

// Write writes the configuration to a temporary file and returns the path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	path := filepath.Join(b.tempDir, config.DefaultPath)
	if err := b.WriteYAML(path); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}

	return path
}

// WriteYAML writes the configuration to a specific path.
func (b *TestConfigBuilder) WriteYAML(path string) error {
	b.t.Helper()

	data, err := yaml.Marshal(b.config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// WriteTestConfig is a convenience function for writing a YAML string to a file.
//
// Example:
//
//	path := WriteTestConfig(t, `
//	version: 0
//	signing:
//	  file_digest: sha512
//	`)
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultPath)
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	return path
}

// LoadTestConfig loads and validates a configuration file, failing the test on error.
func LoadTestConfig(t *testing.T, path string) *config.Definition {
	t.Helper()

	cfg := &config.Config{Path: path}
	if err := cfg.Load(); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	return cfg.Definition
}
