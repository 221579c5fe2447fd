// Package server exposes the dispatcher to Bot Framework channels over HTTP.
//
// The messages endpoint accepts one activity per request, runs it through a
// TurnHandler and answers the replies through the configured sender. Invoke
// activities are answered with a synchronous invoke response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

// DefaultMessagesPath is the conventional Bot Framework messaging endpoint.
const DefaultMessagesPath = "/api/messages"

// TurnHandler processes one inbound turn.
type TurnHandler interface {
	OnTurn(ctx context.Context, turn *core.Turn) error
}

// TurnHandlerFunc adapts a function to TurnHandler.
type TurnHandlerFunc func(ctx context.Context, turn *core.Turn) error

// OnTurn implements TurnHandler.
func (f TurnHandlerFunc) OnTurn(ctx context.Context, turn *core.Turn) error { return f(ctx, turn) }

// Options configures a Server.
type Options struct {
	MessagesPath string
	// Verifier guards the messages endpoint; nil leaves it open.
	Verifier     TokenVerifier
	MaxBodyBytes int64
	Logger       logging.Logger
}

// Server routes HTTP requests to a TurnHandler.
type Server struct {
	handler TurnHandler
	sender  core.ActivitySender
	opts    Options
}

// New creates a Server delivering replies through sender.
func New(handler TurnHandler, sender core.ActivitySender, optFns ...func(o *Options)) (*Server, error) {
	switch {
	case handler == nil:
		return nil, core.MissingDependency("turn handler")
	case sender == nil:
		return nil, core.MissingDependency("activity sender")
	}
	opts := Options{MessagesPath: DefaultMessagesPath, MaxBodyBytes: 1 << 20}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Server{handler: handler, sender: sender, opts: opts}, nil
}

// Handler returns the HTTP routes: the messages endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	var messages http.Handler = http.HandlerFunc(s.handleMessages)
	if s.opts.Verifier != nil {
		messages = RequireBearer(s.opts.Verifier)(messages)
	}
	mux := http.NewServeMux()
	mux.Handle("POST "+s.opts.MessagesPath, messages)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// InvokeResponse is the synchronous answer to an invoke activity.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var act core.Activity
	dec := json.NewDecoder(io.LimitReader(r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(&act); err != nil {
		writeError(w, http.StatusBadRequest, "malformed activity")
		return
	}
	if act.Type == "" {
		writeError(w, http.StatusBadRequest, "activity type is required")
		return
	}

	s.opts.Logger.Debug("server.activity.received",
		"type", string(act.Type),
		"channel_id", act.ChannelID,
		"conversation_id", act.ConversationID(),
		"subject", SubjectFromContext(r.Context()),
	)

	turn := core.NewTurn(act, s.sender)
	if err := s.handler.OnTurn(r.Context(), turn); err != nil {
		s.logTurnError(err, act)
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrInvalidActivity) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "turn failed")
		return
	}

	if act.Type == core.ActivityTypeInvoke {
		writeJSON(w, http.StatusOK, InvokeResponse{Status: http.StatusOK})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) logTurnError(err error, act core.Activity) {
	args := []any{"type", string(act.Type), "conversation_id", act.ConversationID()}
	if dl, ok := s.opts.Logger.(*logging.DispatchLogger); ok {
		dl.ErrorWithStack(err, "server.turn.failed", args...)
		return
	}
	s.opts.Logger.Error("server.turn.failed", append(args, "error", err.Error())...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type subjectKey struct{}

func withSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFromContext returns the verified token subject, or "".
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}
