// Package auth implements the delegated sign-in flow: a per-conversation
// state machine driving an interactive sign-in challenge, followed by an
// on-behalf-of exchange that turns the user's token into one scoped for a
// downstream agent.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

// User-visible replies of the sign-in flow.
const (
	MsgLoggedIn     = "You are now logged in."
	MsgLoginFailed  = "Login was not successful please try again."
	MsgTimedOut     = "You did not respond in time.  Please try again."
	MsgSignedOut    = "You have been signed out."
	logoutCommand   = "logout"
	flowStateName   = "flowState"
	defaultTimeout  = 30 * time.Second
	defaultLifetime = 15 * time.Minute
)

// Token is a user token issued by the identity provider after sign-in.
type Token struct {
	Value          string    `json:"token"`
	ConnectionName string    `json:"connectionName,omitempty"`
	Expiration     time.Time `json:"expiration,omitempty"`
}

// Identity is the interactive sign-in collaborator.
type Identity interface {
	// BeginChallenge returns a cached token when the user is already signed
	// in. Otherwise it sends a sign-in challenge to the turn and returns nil.
	BeginChallenge(ctx context.Context, turn *core.Turn) (*Token, error)

	// ContinueChallenge tries to complete a pending challenge from the
	// current turn. It fails with core.ErrAuthTimeout once expires passed
	// and returns nil when the turn does not complete the challenge.
	ContinueChallenge(ctx context.Context, turn *core.Turn, expires time.Time) (*Token, error)

	// SignOut discards the user's cached token.
	SignOut(ctx context.Context, turn *core.Turn) error
}

// FlowState is the persisted state of a conversation's sign-in flow.
type FlowState struct {
	FlowStarted bool      `json:"flowStarted"`
	FlowExpires time.Time `json:"flowExpires"`
}

// RecordKind implements core.Record.
func (FlowState) RecordKind() string { return "auth.flowstate" }

// FlowOptions configures a Flow.
type FlowOptions struct {
	// ChallengeTimeout bounds how long a single challenge stays answerable.
	// Zero falls back to MaxFlowLifetime.
	ChallengeTimeout time.Duration
	// MaxFlowLifetime is the ceiling for any started flow.
	MaxFlowLifetime time.Duration
	Now             func() time.Time
	Logger          logging.Logger
	Tracer          *logging.LinkTracer
}

// Flow is the sign-in state machine:
//
//	NotStarted -> Started -> {Completed, TimedOut, Failed} -> NotStarted
//
// Expiry is detected only when the next turn arrives; no timer runs.
type Flow struct {
	storage  core.Storage
	identity Identity
	opts     FlowOptions
}

// NewFlow creates a Flow persisting its state in storage.
func NewFlow(storage core.Storage, identity Identity, optFns ...func(o *FlowOptions)) (*Flow, error) {
	if storage == nil {
		return nil, core.MissingDependency("storage")
	}
	if identity == nil {
		return nil, core.MissingDependency("identity")
	}
	opts := FlowOptions{
		ChallengeTimeout: defaultTimeout,
		MaxFlowLifetime:  defaultLifetime,
		Now:              time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Flow{storage: storage, identity: identity, opts: opts}, nil
}

// StateKey returns the storage key of the turn's flow state.
func StateKey(a core.Activity) (string, error) {
	return core.StateKey(a, "", flowStateName)
}

// State loads the turn's flow state; a missing record is NotStarted.
func (f *Flow) State(ctx context.Context, turn *core.Turn) (FlowState, error) {
	key, err := StateKey(turn.Activity)
	if err != nil {
		return FlowState{}, err
	}
	f.opts.Tracer.StorageAccess("READ %s", key)
	st, _, err := core.ReadRecord[FlowState](ctx, f.storage, key)
	return st, err
}

func (f *Flow) saveState(ctx context.Context, turn *core.Turn, st FlowState) error {
	key, err := StateKey(turn.Activity)
	if err != nil {
		return err
	}
	f.opts.Tracer.StorageAccess("WRITE %s", key)
	return core.WriteRecord(ctx, f.storage, key, st)
}

// AcquireUserToken drives the flow for one turn. It returns the user token
// when available and nil when the turn ends waiting for the user. A
// "logout" message signs the user out instead.
func (f *Flow) AcquireUserToken(ctx context.Context, turn *core.Turn) (*Token, error) {
	if strings.EqualFold(strings.TrimSpace(turn.Activity.Text), logoutCommand) {
		return nil, f.SignOut(ctx, turn)
	}
	st, err := f.State(ctx, turn)
	if err != nil {
		return nil, err
	}
	if !st.FlowStarted {
		return f.BeginFlow(ctx, turn)
	}
	return f.ContinueFlow(ctx, turn)
}

// BeginFlow issues a sign-in challenge. A cached token is returned without
// touching the flow state; otherwise the flow is marked started with an
// expiry and nil is returned.
func (f *Flow) BeginFlow(ctx context.Context, turn *core.Turn) (*Token, error) {
	tok, err := f.identity.BeginChallenge(ctx, turn)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		f.opts.Logger.Debug("auth.flow.cached_token", "conversation_id", turn.Activity.ConversationID())
		return tok, nil
	}
	st := FlowState{FlowStarted: true, FlowExpires: f.opts.Now().UTC().Add(f.timeout())}
	if err := f.saveState(ctx, turn, st); err != nil {
		return nil, err
	}
	f.opts.Logger.Info("auth.flow.begin", "conversation_id", turn.Activity.ConversationID(), "expires", st.FlowExpires)
	return nil, nil
}

// ContinueFlow attempts to complete a started flow. Whatever the outcome
// the flow is reset to NotStarted, so it never stays started past one
// continuation. Outcomes the user can act on are replied to the turn.
func (f *Flow) ContinueFlow(ctx context.Context, turn *core.Turn) (*Token, error) {
	st, err := f.State(ctx, turn)
	if err != nil {
		return nil, err
	}

	var tok *Token
	if f.opts.Now().After(st.FlowExpires) {
		err = core.ErrAuthTimeout
	} else {
		tok, err = f.identity.ContinueChallenge(ctx, turn, st.FlowExpires)
	}

	var msg string
	switch {
	case err == nil && tok != nil:
		msg = MsgLoggedIn
	case err == nil:
		msg = MsgLoginFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		if !errors.Is(err, core.ErrAuthTimeout) {
			f.opts.Logger.Warn("auth.flow.continue_failed", "error", err.Error())
		}
		msg = MsgTimedOut
		tok = nil
	}

	if err := f.saveState(ctx, turn, FlowState{}); err != nil {
		return nil, err
	}
	f.opts.Logger.Info("auth.flow.end", "conversation_id", turn.Activity.ConversationID(), "success", tok != nil)
	if err := turn.SendText(ctx, msg); err != nil {
		return nil, err
	}
	return tok, nil
}

// SignOut signs the user out, resets the flow and confirms to the user.
func (f *Flow) SignOut(ctx context.Context, turn *core.Turn) error {
	if err := f.identity.SignOut(ctx, turn); err != nil {
		return err
	}
	if err := f.saveState(ctx, turn, FlowState{}); err != nil {
		return err
	}
	f.opts.Logger.Info("auth.flow.signed_out", "conversation_id", turn.Activity.ConversationID())
	return turn.SendText(ctx, MsgSignedOut)
}

func (f *Flow) timeout() time.Duration {
	t := f.opts.ChallengeTimeout
	if t <= 0 || (f.opts.MaxFlowLifetime > 0 && t > f.opts.MaxFlowLifetime) {
		t = f.opts.MaxFlowLifetime
	}
	if t <= 0 {
		t = defaultLifetime
	}
	return t
}
