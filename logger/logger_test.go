package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLoggerBeforeInitialize(t *testing.T) {
	// Must not panic before Initialize is called
	assert.NotPanics(t, func() {
		Infow("pre-init message", "key", "value")
		Errorf("pre-init %s", "error")
	})
}

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false))
	assert.False(t, JSONOutput)
	assert.NotNil(t, Logger)
	assert.NotPanics(t, func() {
		Infow("console message", "source", "csv")
	})
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, Initialize(true))
	assert.True(t, JSONOutput)
	assert.NotNil(t, Logger)
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("CONFLUX_LOG_LEVEL", "debug")
	assert.Equal(t, "debug", levelFromEnv().String())

	t.Setenv("CONFLUX_LOG_LEVEL", "warn")
	assert.Equal(t, "warn", levelFromEnv().String())

	t.Setenv("CONFLUX_LOG_LEVEL", "")
	assert.Equal(t, "info", levelFromEnv().String())
}
