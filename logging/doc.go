// Package logging provides the minimal logging interface used across the
// dispatcher and its adapters.
//
//   - Logger is the Debug/Info/Warn/Error contract every component accepts.
//   - DispatchLogger wraps log/slog and scopes entries by component,
//     conversation and target alias.
//   - NoOpLogger discards everything; OrNoOp substitutes it for nil.
//   - LinkTracer prints the colored conversation-link trace used while
//     developing against remote agents.
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false).WithComponent("dispatch")
//	d, err := dispatch.New(reg, tokens, links, factory, func(o *dispatch.Options) { o.Logger = logger })
package logging
