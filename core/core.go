package core

import (
	"time"

	"github.com/hupe1980/agentdispatch/logging"
)

// callLogger stamps every line with the function call it was created for.
type callLogger struct {
	logger logging.Logger
	callID string
}

func newCallLogger(l logging.Logger, callID string) callLogger {
	return callLogger{logger: logging.OrNoOp(l), callID: callID}
}

// Logger returns the unscoped logger.
func (l callLogger) Logger() logging.Logger { return l.logger }

func (l callLogger) with(args []any) []any {
	if l.callID == "" {
		return args
	}
	return append([]any{"fc_id", l.callID}, args...)
}

// LogDebug logs msg at debug level with the call id attached.
func (l callLogger) LogDebug(msg string, args ...any) { l.logger.Debug(msg, l.with(args)...) }

// LogInfo logs msg at info level with the call id attached.
func (l callLogger) LogInfo(msg string, args ...any) { l.logger.Info(msg, l.with(args)...) }

// LogWarn logs msg at warn level with the call id attached.
func (l callLogger) LogWarn(msg string, args ...any) { l.logger.Warn(msg, l.with(args)...) }

// LogError logs msg at error level with the call id attached.
func (l callLogger) LogError(msg string, args ...any) { l.logger.Error(msg, l.with(args)...) }

// LogToolCall records the outcome of one tool execution. A DispatchLogger
// writes its own tool record; other loggers get tool.execution.* lines.
func (l callLogger) LogToolCall(tool string, dur time.Duration, err error) {
	if dl, ok := l.logger.(*logging.DispatchLogger); ok {
		dl.LogToolCall(tool, dur, err == nil, err)
		return
	}
	args := []any{"tool_name", tool, "duration_ms", dur.Milliseconds()}
	if err != nil {
		l.LogError("tool.execution.failed", append(args, "error", err.Error())...)
		return
	}
	l.LogInfo("tool.execution.completed", args...)
}
