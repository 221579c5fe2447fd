// Package dispatch relays one user turn to a remote agent and streams the
// agent's response activities back to the originating conversation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentdispatch/auth"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/correlation"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/telemetry"
	"github.com/hupe1980/agentdispatch/transport"
)

// User-visible replies when a turn cannot be dispatched.
const (
	MsgUnknownAgent = "No Copilot Studio Agent found for this alias."
	MsgNoScope      = "No Scope found for this Copilot Studio Agent."
)

// TokenSource supplies the delegated access token for a turn. A nil token
// with a nil error means the turn ended waiting for the user to sign in.
type TokenSource interface {
	DelegatedToken(ctx context.Context, turn *core.Turn, scope string) (*auth.AccessToken, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, turn *core.Turn, scope string) (*auth.AccessToken, error)

// DelegatedToken implements TokenSource.
func (f TokenSourceFunc) DelegatedToken(ctx context.Context, turn *core.Turn, scope string) (*auth.AccessToken, error) {
	return f(ctx, turn, scope)
}

// Options configures a Dispatcher.
type Options struct {
	Retry RetryPolicy
	// Sink receives the telemetry of every dispatched turn.
	Sink   telemetry.Sink
	Logger logging.Logger
	Tracer *logging.LinkTracer
	// Sleep waits between attempts; it must return early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher forwards turns addressed with an @alias mention to the
// registered remote agent.
type Dispatcher struct {
	registry *registry.Registry
	tokens   TokenSource
	links    *correlation.Store
	factory  transport.Factory
	opts     Options
}

// New creates a Dispatcher. All collaborators are required.
func New(reg *registry.Registry, tokens TokenSource, links *correlation.Store, factory transport.Factory, optFns ...func(o *Options)) (*Dispatcher, error) {
	switch {
	case reg == nil:
		return nil, core.MissingDependency("agent registry")
	case tokens == nil:
		return nil, core.MissingDependency("token source")
	case links == nil:
		return nil, core.MissingDependency("correlation store")
	case factory == nil:
		return nil, core.MissingDependency("transport factory")
	}
	opts := Options{
		Retry:  DefaultRetryPolicy(),
		Sink:   telemetry.Discard,
		Logger: logging.NoOpLogger{},
		Sleep:  sleep,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Dispatcher{registry: reg, tokens: tokens, links: links, factory: factory, opts: opts}, nil
}

// Registry returns the agent registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Dispatch relays the turn to the agent named by its leading @alias.
//
// handled is false when the turn was not dispatched because the alias is
// unknown or the agent has no auth scope; the user has been told why. It is
// true once the turn reached the sign-in flow, including when it ended
// waiting for the user to sign in. Remote faults are reported to the user
// and swallowed; errors are returned only for broken collaborators and
// cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, turn *core.Turn) (handled bool, err error) {
	tracker := telemetry.NewTracker(d.opts.Sink)
	ctx = telemetry.WithTracker(ctx, tracker)
	run := tracker.Start(telemetry.AreaDispatchToAgent)
	defer func() {
		run.End("Completed of Function run")
		if ferr := tracker.Flush(context.WithoutCancel(ctx)); ferr != nil {
			d.opts.Logger.Warn("dispatch.telemetry.flush_failed", "error", ferr.Error())
		}
	}()

	alias, _ := registry.ResolveAlias(turn.Activity.Text)
	agent, ok := d.registry.Lookup(alias)
	if !ok {
		d.opts.Logger.Info("dispatch.agent.unknown", "alias", alias)
		return false, turn.SendText(ctx, MsgUnknownAgent)
	}
	logger := d.logger(turn, agent.Alias)

	turn.Activity.Text = registry.StripMention(turn.Activity.Text, alias)
	if err := turn.SendTyping(ctx); err != nil {
		logger.Debug("dispatch.typing.failed", "error", err.Error())
	}

	scope := agent.Connection.ResolveScope()
	if scope == "" {
		cerr := &core.ConfigurationError{Alias: agent.Alias, Message: "no auth scope configured"}
		logger.Warn("dispatch.agent.no_scope", "error", cerr.Error())
		return false, turn.SendText(ctx, MsgNoScope)
	}

	run.Mark("Before Get Token")
	tok, err := d.tokens.DelegatedToken(ctx, turn, scope)
	if err != nil {
		return true, fmt.Errorf("acquire delegated token: %w", err)
	}
	run.Mark("After Get Token")
	if tok == nil {
		logger.Debug("dispatch.auth.pending")
		return true, nil
	}

	client, err := d.factory.NewClient(agent, transport.StaticToken(tok.Token))
	if err != nil {
		return true, d.reportFault(ctx, turn, logger, err)
	}
	run.Mark("After Create Client")

	destID, err := d.links.GetOrCreate(ctx, turn.Activity, agent.Alias, client)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if errors.Is(err, core.ErrInvalidActivity) || errors.Is(err, core.ErrMissingDependency) {
			return true, err
		}
		return true, d.reportFault(ctx, turn, logger, err)
	}
	run.Mark("GetOrCreateLinkedConversationId")
	d.opts.Tracer.Remote("Using Copilot Studio conversation ID: %s", destID)

	relay := &relayer{ctx: ctx, turn: turn, displayName: d.registry.DisplayName(agent.Alias), span: run, logger: logger}
	err = d.ask(ctx, client, destID, relay)
	if err != nil {
		run.Markf("Fault In %d", relay.count)
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return true, d.reportFault(ctx, turn, logger, err)
	}
	run.Markf("Completed Message Loop %d", relay.count)
	logger.Info("dispatch.completed", "activities", relay.count, "destination_conversation_id", destID)
	return true, nil
}

// ask runs the attempt loop. A transient fault is retried only while
// nothing has been relayed to the user yet.
func (d *Dispatcher) ask(ctx context.Context, client transport.Client, destID string, relay *relayer) error {
	policy := d.opts.Retry.normalized()
	var err error
	for attempt := 1; ; attempt++ {
		acts, errs := client.AskQuestion(ctx, destID, relay.turn.Activity)
		err = transport.Each(ctx, acts, errs, relay.relay)
		if err == nil || attempt >= policy.MaxAttempts || relay.count > 0 || !transport.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		wait := policy.Backoff(attempt)
		relay.logger.Warn("dispatch.ask.retry", "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err.Error())
		if serr := d.opts.Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

// reportFault converts a remote or unclassified fault into one chat
// message. Only a failure to deliver that message is returned.
func (d *Dispatcher) reportFault(ctx context.Context, turn *core.Turn, logger logging.Logger, err error) error {
	logger.Error("dispatch.fault", "error", err.Error())
	return turn.SendText(ctx, FaultMessage(err))
}

func (d *Dispatcher) logger(turn *core.Turn, alias string) logging.Logger {
	if dl, ok := d.opts.Logger.(*logging.DispatchLogger); ok {
		return dl.WithConversation(turn.Activity.ConversationID(), alias)
	}
	return d.opts.Logger
}

// FaultMessage renders the user-visible text for a dispatch fault. Remote
// errors carry their response body on a second line.
func FaultMessage(err error) string {
	var rde *core.RemoteDispatchError
	if errors.As(err, &rde) {
		return fmt.Sprintf("Error: %s\n%s", rde.Message, rde.Body)
	}
	return fmt.Sprintf("Error: %s", err.Error())
}

// relayer forwards remote activities to the source conversation.
type relayer struct {
	ctx         context.Context
	turn        *core.Turn
	displayName string
	span        *telemetry.Span
	logger      logging.Logger
	count       int
}

func (r *relayer) relay(act core.Activity) error {
	out, ok := Rewrite(act, r.displayName)
	if ok {
		if err := r.turn.Send(r.ctx, addressToSource(out)); err != nil {
			return err
		}
	}
	r.count++
	r.span.Markf("CallLoop Turn %d - %s", r.count, act.Type)
	r.logger.Debug("dispatch.relay.activity", "type", string(act.Type), "relayed", ok)
	return nil
}

// addressToSource drops the remote conversation's addressing so the sender
// completes it from the inbound activity.
func addressToSource(a core.Activity) core.Activity {
	a.ChannelID = ""
	a.ServiceURL = ""
	a.Conversation = nil
	a.From = nil
	a.Recipient = nil
	a.ReplyToID = ""
	return a
}

// Rewrite prepares a remote activity for the source conversation. Messages
// with text get the display-name prefix and every message loses its
// channel data. Event activities are suppressed (ok is false); anything else
// passes unchanged.
func Rewrite(act core.Activity, displayName string) (out core.Activity, ok bool) {
	switch act.Type {
	case core.ActivityTypeMessage:
		out = act.Clone()
		if out.Text != "" {
			out.Text = registry.FormatDisplayPrefix(displayName, out.Text)
		}
		out.ChannelData = nil
		return out, true
	case core.ActivityTypeEvent:
		return core.Activity{}, false
	default:
		return act, true
	}
}
