package logging_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/secretops/internal/logging"
)

func newBufferLogger(debug bool) (*logging.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return logging.NewWithWriter(buf, debug, true), buf
}

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "secret is redacted", input: "my-secret-password"},
		{name: "empty secret is still redacted", input: ""},
		{name: "complex secret is redacted", input: "password123!@#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, "[REDACTED]", logging.Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", logging.Secret(tt.input)))
		})
	}
}

func TestSecretRedactionAcrossLogLevels(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger(true)
	secretValue := "super-secret-password-12345"

	logger.Info("Retrieved secret: %s", logging.Secret(secretValue))
	logger.Warn("Retrying with %v", logging.Secret(secretValue))
	logger.Error("Failed for %s", logging.Secret(secretValue))
	logger.Debug("Debug %+v", logging.Secret(secretValue))

	output := buf.String()
	assert.Equal(t, 4, strings.Count(output, "[REDACTED]"))
	assert.NotContains(t, output, secretValue)
}

func TestLoggerDebugMode(t *testing.T) {
	t.Parallel()

	quiet, quietBuf := newBufferLogger(false)
	quiet.Debug("hidden %d", 1)
	assert.Empty(t, quietBuf.String())
	assert.False(t, quiet.DebugEnabled())

	loud, loudBuf := newBufferLogger(true)
	loud.Debug("shown %d", 2)
	assert.Contains(t, loudBuf.String(), "[DEBUG] shown 2")
}

func TestLoggerLevelsAndColor(t *testing.T) {
	t.Parallel()

	plain, plainBuf := newBufferLogger(false)
	plain.Info("info")
	plain.Warn("warn")
	plain.Error("error")
	assert.Equal(t, "✓ info\n⚠ warn\n✗ error\n", plainBuf.String())

	colored := &bytes.Buffer{}
	logging.NewWithWriter(colored, false, false).Info("info")
	assert.Contains(t, colored.String(), "\033[32m")
}

func TestNamedLogger(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger(false)
	logger.Named("registry").Named("save").Info("config %s saved", "c1")
	logger.Info("root")

	assert.Contains(t, buf.String(), "[registry.save] config c1 saved")
	assert.Contains(t, buf.String(), "✓ root\n")
}

func TestLoggerConcurrentWrites(t *testing.T) {
	t.Parallel()

	logger, buf := newBufferLogger(false)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Named(fmt.Sprintf("w%d", n)).Info("line")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		logging.Nop().Error("nothing %s", "here")
	})
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret",
			input:    "password is hunter22",
			secrets:  []string{"hunter22"},
			expected: "password is [REDACTED]",
		},
		{
			name:     "multiple secrets",
			input:    "user=admin-key token=tok-999",
			secrets:  []string{"admin-key", "tok-999"},
			expected: "user=[REDACTED] token=[REDACTED]",
		},
		{
			name:     "short secrets are ignored",
			input:    "abc value",
			secrets:  []string{"abc"},
			expected: "abc value",
		},
		{
			name:     "empty secret list",
			input:    "nothing to hide",
			secrets:  nil,
			expected: "nothing to hide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, logging.Redact(tt.input, tt.secrets))
		})
	}
}
