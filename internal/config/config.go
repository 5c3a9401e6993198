package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/logging"
	"github.com/systmms/dsign/internal/policy"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "dsign.yaml"

//go:embed schema.json
var schema string

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger
	// Optional makes a missing file load the defaults instead of failing.
	Optional bool
	// MetricsFile overrides metrics.textfile when set from the command line.
	MetricsFile string
	Definition  *Definition
}

// MetricsTextfile returns where run metrics should be written, or "".
func (c *Config) MetricsTextfile() string {
	if c.MetricsFile != "" {
		return c.MetricsFile
	}
	if c.Definition != nil {
		return c.Definition.Metrics.Textfile
	}
	return ""
}

// Definition represents the dsign.yaml structure
type Definition struct {
	Version int                  `yaml:"version"`
	Signing SigningConfig        `yaml:"signing"`
	Policy  *policy.PolicyConfig `yaml:"policy,omitempty"`
	Metrics MetricsConfig        `yaml:"metrics"`
}

// SigningConfig tunes the dispatcher and the Key Vault client
type SigningConfig struct {
	MaxConcurrency    int         `yaml:"max_concurrency,omitempty"`
	Timeout           string      `yaml:"timeout,omitempty"`
	RequestsPerSecond float64     `yaml:"requests_per_second,omitempty"`
	FileDigest        string      `yaml:"file_digest,omitempty"`
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig controls backend retries with exponential backoff
type RetryConfig struct {
	MaxRetries    int    `yaml:"max_retries,omitempty"`
	RetryDelay    string `yaml:"retry_delay,omitempty"`
	MaxRetryDelay string `yaml:"max_retry_delay,omitempty"`
}

// MetricsConfig controls the metrics textfile
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Default returns the configuration used when no file exists
func Default() *Definition {
	return &Definition{
		Signing: SigningConfig{FileDigest: "sha256"},
	}
}

// TimeoutDuration parses signing.timeout; zero when unset
func (s SigningConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("signing.timeout", s.Timeout)
}

// Delays parses the retry delays; zero when unset
func (r RetryConfig) Delays() (time.Duration, time.Duration, error) {
	delay, err := parseDuration("signing.retry.retry_delay", r.RetryDelay)
	if err != nil {
		return 0, 0, err
	}
	maxDelay, err := parseDuration("signing.retry.max_retry_delay", r.MaxRetryDelay)
	if err != nil {
		return 0, 0, err
	}
	return delay, maxDelay, nil
}

// Load reads, validates and parses the config file
func (c *Config) Load() error {
	if c.Logger == nil {
		c.Logger = logging.New(false, true)
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if c.Optional {
				c.Logger.Debug("No config file at %s, using defaults", c.Path)
				c.Definition = Default()
				return nil
			}
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or remove the flag to use defaults",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validateWithSchema(raw); err != nil {
		return dserrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Compare your dsign.yaml with the documented keys",
		}
	}

	def := Default()
	if err := yaml.Unmarshal(data, def); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid configuration values",
			Suggestion: err.Error(),
		}
	}

	if def.Version != 0 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your dsign.yaml file",
		}
	}

	if _, err := def.Signing.TimeoutDuration(); err != nil {
		return err
	}
	if _, _, err := def.Signing.Retry.Delays(); err != nil {
		return err
	}

	c.Logger.Debug("Loaded config from %s", c.Path)
	c.Definition = def
	return nil
}

// validateWithSchema validates the decoded document against the embedded schema
func validateWithSchema(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}

	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, dserrors.ConfigError{
			Field:      field,
			Value:      value,
			Message:    "invalid duration",
			Suggestion: "Use a Go duration such as 30s, 5m or 1h",
		}
	}
	return d, nil
}
