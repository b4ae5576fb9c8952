// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/dsvault/internal/logging"
)

// LogCapture collects the lines written by a logging.Logger so tests can
// verify that secrets and configuration never reach the logs.
//
// Example usage:
//
//	logger, logs := testutil.NewTestLogger(t, true)
//	logger.Info("token %s", logging.Secret("hvs.abc"))
//	logs.AssertRedacted(t, "hvs.abc")
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestLogger returns a colorless logger writing into a fresh capture.
// Debug lines are captured when debug is true.
func NewTestLogger(t *testing.T, debug bool) (*logging.Logger, *LogCapture) {
	t.Helper()

	capture := &LogCapture{}
	return logging.New(debug, true, logging.WithOutput(capture)), capture
}

// Write implements io.Writer.
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Output returns everything captured since creation or the last Clear.
func (c *LogCapture) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Clear drops the captured output.
func (c *LogCapture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
}

// Lines returns the captured output split into lines.
func (c *LogCapture) Lines() []string {
	out := strings.TrimRight(c.Output(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// AssertContains asserts that the log output contains substr.
func (c *LogCapture) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, c.Output(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that none of values appear in the log output.
func (c *LogCapture) AssertNotContains(t *testing.T, values ...string) {
	t.Helper()

	output := c.Output()
	for _, v := range values {
		assert.NotContains(t, output, v, "Expected log output to NOT contain %q", v)
	}
}

// AssertRedacted asserts that secretValue is absent and the [REDACTED]
// marker is present.
func (c *LogCapture) AssertRedacted(t *testing.T, secretValue string) {
	t.Helper()

	output := c.Output()
	assert.NotContains(t, output, secretValue,
		"Secret value %q should be redacted, but appears in logs", secretValue)
	assert.Contains(t, output, "[REDACTED]",
		"Expected [REDACTED] marker in logs when secret is used")
}
