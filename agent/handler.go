package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hupe1980/agentdispatch/auth"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/flow"
	"github.com/hupe1980/agentdispatch/history"
	"github.com/hupe1980/agentdispatch/internal/util"
	"github.com/hupe1980/agentdispatch/logging"
	"github.com/hupe1980/agentdispatch/model"
	"github.com/hupe1980/agentdispatch/registry"
	"github.com/hupe1980/agentdispatch/tool"
)

// Replies to the flush-history command.
const (
	MsgFlushed      = "..Poof.."
	MsgNothingFlush = "..Blink.."
)

const welcomeTemplate = "**Agents SDK Multi-Agent Dispatcher Example.**\n" +
	"- HostName={{.HostName}}.\n" +
	"- Environment={{.Environment}}.\n" +
	"- SDK Version={{.Version}}.\n"

// Dispatcher is the part of *dispatch.Dispatcher the handler uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, turn *core.Turn) (handled bool, err error)
	Registry() *registry.Registry
}

// Options configures a Handler.
type Options struct {
	// Flow continues sign-in on signin/verifyState; verify invokes are
	// ignored when nil.
	Flow *auth.Flow

	// MaxToolIterations caps tool-calling model requests per turn.
	MaxToolIterations int
	// Tools are offered to the model in addition to the dispatch tools.
	Tools []tool.Tool

	HostName    string
	Environment string
	Version     string

	Logger logging.Logger
	Tracer *logging.LinkTracer
}

// Handler routes one turn to the flush command, direct dispatch or the
// general chat path.
type Handler struct {
	dispatcher Dispatcher
	history    *history.Store
	loop       *flow.ChatLoop
	opts       Options
}

// New creates a Handler.
func New(d Dispatcher, store *history.Store, m model.Model, optFns ...func(o *Options)) (*Handler, error) {
	switch {
	case d == nil:
		return nil, core.MissingDependency("dispatcher")
	case store == nil:
		return nil, core.MissingDependency("history store")
	case m == nil:
		return nil, core.MissingDependency("model")
	}

	opts := Options{MaxToolIterations: 5, Environment: "Production", Version: "dev"}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.HostName == "" {
		opts.HostName, _ = os.Hostname()
	}

	tools := append(DispatchTools(d), opts.Tools...)
	loop, err := flow.NewChatLoop(m, tool.NewSet(tools...), func(o *flow.ChatLoopOptions) {
		o.MaxIterations = opts.MaxToolIterations
		o.Filters = []flow.FunctionFilter{flow.NewDispatchGate(func(g *flow.DispatchGateOptions) { g.Logger = opts.Logger })}
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	return &Handler{dispatcher: d, history: store, loop: loop, opts: opts}, nil
}

// IsFlushCommand reports whether text asks to clear the chat history.
func IsFlushCommand(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "flush history") || strings.Contains(lower, "obliviate")
}

// OnTurn handles one inbound activity.
func (h *Handler) OnTurn(ctx context.Context, turn *core.Turn) error {
	switch turn.Activity.Type {
	case core.ActivityTypeMessage:
		return h.onMessage(ctx, turn)
	case core.ActivityTypeConversationUpdate:
		return h.onMembersAdded(ctx, turn)
	case core.ActivityTypeInvoke:
		if turn.Activity.Name == auth.VerifyStateInvoke {
			return h.onVerifyState(ctx, turn)
		}
	}
	h.opts.Logger.Debug("agent.activity.ignored", "type", string(turn.Activity.Type), "name", turn.Activity.Name)
	return nil
}

func (h *Handler) onMessage(ctx context.Context, turn *core.Turn) error {
	convID := turn.Activity.ConversationID()
	if convID != "" {
		h.opts.Tracer.Conversation(">> RECV CONVO ID: %s", convID)
	}
	defer h.opts.Tracer.Conversation("<< RESP TO CONVO ID: %s", convID)

	text := turn.Activity.Text
	if IsFlushCommand(text) {
		return h.flush(ctx, turn)
	}

	if alias, ok := registry.ResolveAlias(text); ok && h.dispatcher.Registry().IsKnown(alias) {
		handled, err := h.dispatcher.Dispatch(ctx, turn)
		if err != nil {
			return fmt.Errorf("dispatch to %s: %w", alias, err)
		}
		if handled {
			return nil
		}
	}

	return h.chat(ctx, turn)
}

func (h *Handler) flush(ctx context.Context, turn *core.Turn) error {
	flushed, err := h.history.Flush(ctx, turn.Activity)
	if err != nil {
		return err
	}
	if !flushed {
		return turn.SendText(ctx, MsgNothingFlush)
	}
	h.opts.Logger.Info("agent.history.flushed", "conversation_id", turn.Activity.ConversationID())
	return turn.SendText(ctx, MsgFlushed)
}

func (h *Handler) chat(ctx context.Context, turn *core.Turn) error {
	conv, err := h.history.GetOrCreate(ctx, turn.Activity)
	if err != nil {
		return err
	}
	if turn.Activity.Text != "" {
		conv.AddUserMessage(turn.Activity.Text)
	}

	res, err := h.loop.Run(ctx, turn, conv.Messages())
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}

	// Tool results were already delivered by dispatch; empty answers carry nothing.
	if answer := res.Content.Text(); answer != "" && conv.Append(res.Content) {
		if err := turn.SendText(ctx, answer); err != nil {
			return err
		}
	}

	if err := h.history.Save(ctx, conv); err != nil {
		return err
	}
	h.opts.Logger.Info("agent.history.depth",
		"conversation_id", turn.Activity.ConversationID(),
		"depth", conv.Len(),
		"terminated", res.Terminated,
		"iterations", res.Iterations,
	)
	return nil
}

// onMembersAdded greets when anyone other than the bot joins.
func (h *Handler) onMembersAdded(ctx context.Context, turn *core.Turn) error {
	botID := ""
	if turn.Activity.Recipient != nil {
		botID = turn.Activity.Recipient.ID
	}
	var joined bool
	for _, m := range turn.Activity.MembersAdded {
		if m.ID != botID {
			joined = true
			break
		}
	}
	if !joined {
		return nil
	}

	info, err := util.RenderTemplate(welcomeTemplate, map[string]any{
		"HostName":    h.opts.HostName,
		"Environment": h.opts.Environment,
		"Version":     h.opts.Version,
	})
	if err != nil {
		return fmt.Errorf("render welcome: %w", err)
	}
	return turn.SendText(ctx, info)
}

// onVerifyState continues a started sign-in flow. The flow replies with the
// outcome and resets itself.
func (h *Handler) onVerifyState(ctx context.Context, turn *core.Turn) error {
	if h.opts.Flow == nil || len(turn.Activity.Value) == 0 {
		return nil
	}
	st, err := h.opts.Flow.State(ctx, turn)
	if err != nil {
		return err
	}
	if !st.FlowStarted {
		return nil
	}
	_, err = h.opts.Flow.ContinueFlow(ctx, turn)
	return err
}
