package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/secretops/internal/logging"
)

// TestLogger is a logging.Logger writing to an in-memory buffer, so tests
// can check what was logged and that secrets were not.
//
//	logger := testutil.NewTestLogger(t)
//	store := secretstore.New(secretstore.Options{Logger: logger.Logger, ...})
//	...
//	logger.AssertNotContains(t, "S3cr3t!")
type TestLogger struct {
	*logging.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestLogger creates a TestLogger with debug output enabled.
func NewTestLogger(t testing.TB) *TestLogger {
	t.Helper()

	l := &TestLogger{}
	l.Logger = logging.NewWithWriter(lockedWriter{l}, true, true)
	return l
}

type lockedWriter struct{ l *TestLogger }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.buf.Write(p)
}

// Output returns everything logged so far.
func (l *TestLogger) Output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Lines returns the non-empty logged lines.
func (l *TestLogger) Lines() []string {
	var lines []string
	for _, line := range strings.Split(l.Output(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// AssertContains fails unless substr was logged.
func (l *TestLogger) AssertContains(t testing.TB, substr string) {
	t.Helper()
	assert.Contains(t, l.Output(), substr, "expected log output to contain %q", substr)
}

// AssertNotContains fails if substr was logged.
func (l *TestLogger) AssertNotContains(t testing.TB, substr string) {
	t.Helper()
	assert.NotContains(t, l.Output(), substr, "log output must not contain %q", substr)
}

// AssertNoSecretLeak fails for every secret that appears in output.
func AssertNoSecretLeak(t testing.TB, output string, secrets ...string) {
	t.Helper()
	for _, s := range secrets {
		if s == "" {
			continue
		}
		assert.NotContains(t, output, s, "secret value leaked into output")
	}
}
