package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Operation names a provider operation.
type Operation string

const (
	OpEncrypt  Operation = "encrypt"
	OpDecrypt  Operation = "decrypt"
	OpDelete   Operation = "delete"
	OpProbe    Operation = "probe"
	OpValidate Operation = "validate"
)

// Default per-attempt deadlines. Decrypt sits on the runtime hot path and gets
// the shorter one.
const (
	DefaultEncryptTimeout = 30 * time.Second
	DefaultDecryptTimeout = 10 * time.Second
)

// Timeouts maps operations to per-attempt deadlines.
type Timeouts struct {
	Encrypt time.Duration
	Decrypt time.Duration
}

// DefaultTimeouts returns the default deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{Encrypt: DefaultEncryptTimeout, Decrypt: DefaultDecryptTimeout}
}

// For returns the deadline for op. Reads use the decrypt deadline, everything
// else the encrypt one.
func (t Timeouts) For(op Operation) time.Duration {
	switch op {
	case OpDecrypt, OpProbe:
		if t.Decrypt > 0 {
			return t.Decrypt
		}
		return DefaultDecryptTimeout
	default:
		if t.Encrypt > 0 {
			return t.Encrypt
		}
		return DefaultEncryptTimeout
	}
}

// Call is one provider operation.
type Call struct {
	Operation     Operation
	Provider      string
	Target        string
	Timeout       time.Duration
	CorrelationID string
	Fn            func(ctx context.Context) error
}

// NewCorrelationID returns a fresh correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
