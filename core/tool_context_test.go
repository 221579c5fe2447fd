package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/logging"
)

type logLine struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct{ lines []logLine }

func (l *recordingLogger) add(level, msg string, args []any) {
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func TestToolContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	turn := NewTurn(NewMessageActivity("hi"), nil)
	logger := &recordingLogger{}

	tc := NewToolContext(ctx, turn, "call_1", logger)
	assert.Same(t, turn, tc.Turn())
	assert.Equal(t, "call_1", tc.FunctionCallID())
	assert.Same(t, logger, tc.Logger())

	cancel()
	assert.ErrorIs(t, tc.Context().Err(), context.Canceled)
}

func TestToolContext_StampsCallID(t *testing.T) {
	logger := &recordingLogger{}
	tc := NewToolContext(context.Background(), nil, "call_7", logger)

	tc.LogDebug("tool.call.start", "tool", "get_weather")
	tc.LogWarn("tool.call.validation_failed")

	require.Len(t, logger.lines, 2)
	assert.Equal(t, []any{"fc_id", "call_7", "tool", "get_weather"}, logger.lines[0].args)
	assert.Equal(t, "warn", logger.lines[1].level)
	assert.Equal(t, []any{"fc_id", "call_7"}, logger.lines[1].args)
}

func TestToolContext_NoCallIDLeavesArgs(t *testing.T) {
	logger := &recordingLogger{}
	tc := NewToolContext(context.Background(), nil, "", logger)
	tc.LogInfo("x", "k", "v")
	require.Len(t, logger.lines, 1)
	assert.Equal(t, []any{"k", "v"}, logger.lines[0].args)
}

func TestToolContext_LogToolCall(t *testing.T) {
	logger := &recordingLogger{}
	tc := NewToolContext(context.Background(), nil, "call_1", logger)

	tc.LogToolCall("handle_cas", 3*time.Millisecond, nil)
	tc.LogToolCall("handle_cas", time.Millisecond, errors.New("down"))

	require.Len(t, logger.lines, 2)
	assert.Equal(t, "tool.execution.completed", logger.lines[0].msg)
	assert.Equal(t, "info", logger.lines[0].level)
	assert.Equal(t, "tool.execution.failed", logger.lines[1].msg)
	assert.Equal(t, "error", logger.lines[1].level)
	assert.Contains(t, logger.lines[1].args, "down")
}

func TestToolContext_LogToolCallUsesDispatchLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = &buf
	tc := NewToolContext(context.Background(), nil, "call_1", logging.NewLogger(cfg))

	tc.LogToolCall("handle_weatherrequest", 20*time.Millisecond, nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tool.execution.completed", line["msg"])
	assert.Equal(t, "handle_weatherrequest", line["tool_name"])
	assert.Equal(t, true, line["success"])
}

func TestToolContext_NilLogger(t *testing.T) {
	tc := NewToolContext(context.Background(), nil, "", nil)
	assert.IsType(t, logging.NoOpLogger{}, tc.Logger())
	assert.Nil(t, tc.Turn())
	assert.NotPanics(t, func() { tc.LogToolCall("t", 0, errors.New("x")) })
}
