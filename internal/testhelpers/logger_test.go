package testhelpers

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCapturingLogger_MasksSecretsAtDebug(t *testing.T) {
	log, buf := NewCapturingLogger()

	log.Debug("Selected credential", "key_id", "k1", "secret", "AIzaSyVerySecretValue1234")

	out := buf.String()
	assert.Contains(t, out, "Selected credential")
	assert.Contains(t, out, "key_id=k1")
	assert.NotContains(t, out, "AIzaSyVerySecretValue1234")
}

func TestNewTestLogger_EnablesDebug(t *testing.T) {
	log := NewTestLogger()
	assert.True(t, log.Handler().Enabled(t.Context(), slog.LevelDebug))
}
