package agentdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/config"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/internal/testutil"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/storage"
	"github.com/hupe1980/agentdispatch/telemetry"
)

func newTestApp(t *testing.T, cfg *config.Config, sender core.ActivitySender) *App {
	t.Helper()
	app, err := New(context.Background(), cfg, func(o *Options) {
		o.Sender = sender
		o.Storage = storage.NewMemoryStorage()
		o.Sink = telemetry.Discard
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func postActivity(t *testing.T, h http.Handler, a core.Activity) int {
	t.Helper()
	body, err := json.Marshal(a)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)))
	return rec.Code
}

func TestApp_ChatThroughServer(t *testing.T) {
	sender := &testutil.RecordingSender{}
	app := newTestApp(t, config.Default(), sender)

	code := postActivity(t, app.Server.Handler(), testutil.NewActivityBuilder().Text("hello").Build())
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []string{"Mock response to: hello"}, sender.Messages())
}

func TestApp_DispatchWithoutAuthFails(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = []registry.Agent{{
		Alias:       "wb",
		DisplayName: "Weather Bot",
		Connection:  registry.ConnectionSettings{EnvironmentID: "env-1", SchemaName: "cr_weather"},
	}}
	sender := &testutil.RecordingSender{}
	app := newTestApp(t, cfg, sender)
	assert.Equal(t, 1, app.Registry.Len())

	err := app.Handler.OnTurn(context.Background(), testutil.NewActivityBuilder().Text("@wb weather").Turn(sender))
	assert.ErrorIs(t, err, ErrAuthNotConfigured)
	assert.Equal(t, []core.ActivityType{core.ActivityTypeTyping}, sender.Types())
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrMissingDependency)
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg        config.StorageConfig
		wantCloser bool
	}{
		{config.StorageConfig{Driver: config.StorageMemory}, false},
		{config.StorageConfig{Driver: config.StorageSQLite, Path: filepath.Join(dir, "state.db")}, true},
		{config.StorageConfig{Driver: config.StorageBolt, Path: filepath.Join(dir, "state.bolt")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Driver, func(t *testing.T) {
			st, closer, err := OpenStorage(tt.cfg, nil)
			require.NoError(t, err)
			require.NotNil(t, st)
			if tt.wantCloser {
				require.NotNil(t, closer)
				assert.NoError(t, closer.Close())
				return
			}
			assert.Nil(t, closer)
		})
	}

	_, _, err := OpenStorage(config.StorageConfig{Driver: "redis"}, nil)
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	for _, provider := range []string{config.ProviderMock, config.ProviderOpenAI, config.ProviderAnthropic} {
		m, err := NewModel(config.ModelConfig{Provider: provider, APIKey: "test"})
		require.NoError(t, err, provider)
		assert.NotNil(t, m, provider)
	}
	m, err := NewModel(config.ModelConfig{Provider: config.ProviderMock})
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Info().Provider)

	_, err = NewModel(config.ModelConfig{Provider: "llama"})
	assert.Error(t, err)
}

func TestNewSink(t *testing.T) {
	sink, closer := NewSink(config.TelemetryConfig{}, nil)
	assert.NotNil(t, sink)
	assert.Nil(t, closer)

	sink, closer = NewSink(config.TelemetryConfig{Console: true, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"}, nil)
	assert.Len(t, sink, 3)
	assert.NotNil(t, closer)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	l.Debug("app.test", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"app.test"`)

	_, err = NewLogger(config.LoggingConfig{Level: "loud"}, nil)
	assert.Error(t, err)
}
