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

// Explain wraps taxonomy errors in a UserError with a suggestion for the CLI.
func Explain(err error) error {
	if err == nil {
		return nil
	}

	var (
		notFound    NotFoundError
		duplicate   DuplicateNameError
		inUse       InUseError
		providerErr ProviderOperationError
		authErr     AuthorizationError
	)

	switch {
	case errors.As(err, &notFound):
		return UserError{Err: err, Suggestion: "List existing entries to check the id and tenant"}
	case errors.As(err, &duplicate):
		return UserError{Err: err, Suggestion: "Choose another name or update the existing entry"}
	case errors.As(err, &inUse):
		return UserError{Err: err, Suggestion: "Remove the references listed above first"}
	case errors.As(err, &authErr):
		return UserError{Err: err, Suggestion: "Check the usage restrictions granted to your principal"}
	case errors.As(err, &providerErr):
		return UserError{Err: err, Suggestion: getProviderSuggestion(providerErr.ProviderType, err)}
	}

	return SimplifyError(err)
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(providerType string, err error) string {
	errStr := err.Error()

	switch providerType {
	case "KMS", "CLOUD_SECRETS_MANAGER":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check the IAM permissions of the configured access key or assumed role"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") || strings.Contains(errStr, "NotFoundException") {
			return "Verify the key or secret name and the configured region"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "VAULT":
		if strings.Contains(errStr, "permission denied") {
			return "Check the Vault token or AppRole policies for the secret engine path"
		}
		if strings.Contains(errStr, "sealed") {
			return "Unseal the Vault server"
		}

	case "CLOUD_KEY_VAULT":
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "403") {
			return "Grant the service principal get/set/delete secret permissions on the vault"
		}

	case "CLOUD_KMS", "GCP_SECRET_MANAGER":
		if strings.Contains(errStr, "PermissionDenied") || strings.Contains(errStr, "403") {
			return "Grant the service account the required Cloud KMS or Secret Manager role"
		}

	case "ENTERPRISE_VAULT":
		if strings.Contains(errStr, "unauthorized") {
			return "Verify the access id and access key of the enterprise vault config"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and provider configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transient TransientError
	if errors.As(err, &transient) {
		return true
	}
	if IsTerminal(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"service unavailable",
		"internal server error",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
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

	return err
}
