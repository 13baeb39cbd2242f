package logger

import (
	"testing"

	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Level(t *testing.T) {
	app := &config.AppConfig{Name: "marketplace-api", Environment: "development"}

	log, err := NewLogger(&config.LoggingConfig{Level: "warn", Format: "console"}, app)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = NewLogger(&config.LoggingConfig{Level: "nonsense", Format: "json"}, app)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestScopedLoggers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	WithJob(WithActor(base, "u-1", "client"), "j-1", "open").Info("advanced")
	WithRequest(base, "GET", "/api/v1/jobs", "req-1").Info("served")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "u-1", fields["user_id"])
	assert.Equal(t, "client", fields["role"])
	assert.Equal(t, "j-1", fields["job_id"])
	assert.Equal(t, "open", fields["job_status"])

	assert.Equal(t, "req-1", entries[1].ContextMap()["request_id"])
}
