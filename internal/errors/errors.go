package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// BackendError enhances signing backend errors with context
func BackendError(backend string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s error during %s", backend, operation),
		Details:    err.Error(),
		Suggestion: getBackendSuggestion(backend, err),
		Err:        err,
	}
}

// getBackendSuggestion returns helpful suggestions based on backend and error
func getBackendSuggestion(backend string, err error) string {
	errStr := err.Error()

	switch backend {
	case "azure-key-vault":
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "403") {
			return "Grant the identity the 'Key Vault Crypto User' and 'Key Vault Certificate User' roles (or equivalent access policies: keys/sign, certificates/get)"
		}
		if strings.Contains(errStr, "CertificateNotFound") || strings.Contains(errStr, "KeyNotFound") || strings.Contains(errStr, "404") {
			return "Verify the certificate name and vault URL. List certificates with: 'az keyvault certificate list --vault-name <vault>'"
		}
		if strings.Contains(errStr, "Throttled") || strings.Contains(errStr, "429") {
			return "Key Vault is throttling requests. Lower signing.requests_per_second or --max-concurrency"
		}
		if strings.Contains(errStr, "Unauthorized") || strings.Contains(errStr, "401") {
			return AzureIdentitySuggestion(err)
		}

	case "azure-identity":
		return AzureIdentitySuggestion(err)
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection or raise --timeout"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and the vault URL"
	}

	return ""
}

// AzureIdentitySuggestion provides helpful suggestions based on Azure Identity errors
func AzureIdentitySuggestion(err error) string {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "managed identity"):
		return "Check that Managed Identity is enabled and assigned appropriate roles"
	case strings.Contains(errStr, "invalid_client_secret") || strings.Contains(errStr, "aadsts7000215"):
		return "Check that the client secret is correct and not expired"
	case strings.Contains(errStr, "invalid_client") || strings.Contains(errStr, "unauthorized_client"):
		return "Check service principal client ID and ensure it's registered in the correct tenant"
	case strings.Contains(errStr, "invalid_scope"):
		return "Check that the requested scope is valid (e.g., https://vault.azure.net/.default)"
	case strings.Contains(errStr, "tenant"):
		return "Check that the tenant ID is correct"
	case strings.Contains(errStr, "login"):
		return "Try running 'az login' to authenticate with Azure CLI"
	case strings.Contains(errStr, "timeout"):
		return "Network timeout - check connectivity to Azure endpoints"
	default:
		return "Check Azure credentials and network connectivity. Try 'az login' or verify managed identity configuration"
	}
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	// Simplify common technical errors
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
