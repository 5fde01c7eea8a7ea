package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed name, path or setting. Never retried.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing record, config, file or blob.
type NotFoundError struct {
	Resource string
	ID       string
	Name     string
}

func (e NotFoundError) Error() string {
	switch {
	case e.Name != "" && e.ID != "":
		return fmt.Sprintf("%s %q (%s) not found", e.Resource, e.Name, e.ID)
	case e.Name != "":
		return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
	default:
		return fmt.Sprintf("could not find %s with id %s", e.Resource, e.ID)
	}
}

// DuplicateNameError reports a name already taken within a tenant.
type DuplicateNameError struct {
	Resource string
	Name     string
	TenantID string
}

func (e DuplicateNameError) Error() string {
	resource := "Variable"
	if e.Resource != "" {
		resource = strings.ToUpper(e.Resource[:1]) + e.Resource[1:]
	}
	return fmt.Sprintf("%s %s already exists", resource, e.Name)
}

// InUseError reports a delete blocked by live references.
type InUseError struct {
	Resource   string
	ID         string
	Name       string
	References []string
}

func (e InUseError) Error() string {
	label := e.Name
	if label == "" {
		label = e.ID
	}
	if len(e.References) == 0 {
		return fmt.Sprintf("can not delete %s %s: still in use", e.Resource, label)
	}
	return fmt.Sprintf("can not delete %s %s: still used by %s", e.Resource, label, strings.Join(e.References, ", "))
}

// Attempt records the outcome of one try of a provider operation.
type Attempt struct {
	Number    int
	Retryable bool
	Err       string
}

// ProviderOperationError is surfaced once a provider call has failed for good,
// either terminally or after the retry budget ran out.
type ProviderOperationError struct {
	ProviderType  string
	Operation     string
	Target        string
	CorrelationID string
	Attempts      []Attempt
	Err           error
}

func (e ProviderOperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.ProviderType, e.Operation)
	if e.Target != "" {
		fmt.Fprintf(&b, " for %s", e.Target)
	}
	if n := len(e.Attempts); n > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", n)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " [correlation %s]", e.CorrelationID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e ProviderOperationError) Unwrap() error {
	return e.Err
}

// Exhausted reports whether every attempt failed with a retryable error.
func (e ProviderOperationError) Exhausted() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !a.Retryable {
			return false
		}
	}
	return true
}

// MigrationVerificationError reports a plaintext mismatch after re-encryption.
type MigrationVerificationError struct {
	SecretID string
	From     string
	To       string
}

func (e MigrationVerificationError) Error() string {
	return fmt.Sprintf("migration of secret %s from %s to %s failed verification: decrypted value does not match", e.SecretID, e.From, e.To)
}

// AuthorizationError reports a denied usage-restriction check.
type AuthorizationError struct {
	TenantID  string
	Operation string
	Resource  string
}

func (e AuthorizationError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("not authorized to %s in tenant %s", e.Operation, e.TenantID)
	}
	return fmt.Sprintf("not authorized to %s %s in tenant %s", e.Operation, e.Resource, e.TenantID)
}

// UnsupportedOperationError reports a capability a provider does not offer.
type UnsupportedOperationError struct {
	ProviderType string
	Operation    string
	Reason       string
}

func (e UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s does not support %s", e.ProviderType, e.Operation)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// TransientError marks a cause as safe to retry.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string {
	return e.Err.Error()
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so that IsRetryable reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return TransientError{Err: err}
}

// IsTerminal reports whether err belongs to a taxonomy class that is never
// retried.
func IsTerminal(err error) bool {
	var (
		validation  ValidationError
		notFound    NotFoundError
		duplicate   DuplicateNameError
		inUse       InUseError
		auth        AuthorizationError
		unsupported UnsupportedOperationError
		mismatch    MigrationVerificationError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &notFound) ||
		errors.As(err, &duplicate) ||
		errors.As(err, &inUse) ||
		errors.As(err, &auth) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &mismatch)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsInUse reports whether err is or wraps an InUseError.
func IsInUse(err error) bool {
	var target InUseError
	return errors.As(err, &target)
}

// IsDuplicate reports whether err is or wraps a DuplicateNameError.
func IsDuplicate(err error) bool {
	var target DuplicateNameError
	return errors.As(err, &target)
}
