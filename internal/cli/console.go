package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentdispatch"
	"github.com/hupe1980/agentdispatch/connector"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

var consoleTyping bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the dispatcher in the terminal",
	Long:  "Runs turns through the dispatcher without a channel. Type @alias to reach a remote agent, \"flush history\" to reset, \"exit\" to quit.",
	RunE:  runConsole,
}

func init() {
	consoleCmd.Flags().BoolVar(&consoleTyping, "typing", false, "show typing indicators")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	sender := connector.NewConsole(out)
	sender.ShowTyping = consoleTyping

	logger, err := agentdispatch.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg, func(o *agentdispatch.Options) {
		o.Sender = sender
		o.Logger = logger
		o.TraceOutput = out
	})
	if err != nil {
		return err
	}
	defer app.Close()

	return (&consoleSession{
		handler: app.Handler,
		sender:  sender,
		logger:  logger,
		out:     out,
		convID:  "console-" + uuid.NewString(),
	}).run(cmd.Context(), cmd.InOrStdin())
}

type turnHandler interface {
	OnTurn(ctx context.Context, turn *core.Turn) error
}

type consoleSession struct {
	handler turnHandler
	sender  core.ActivitySender
	logger  logging.Logger
	out     io.Writer
	convID  string
}

func (s *consoleSession) activity(t core.ActivityType) core.Activity {
	return core.Activity{
		Type:         t,
		ID:           uuid.NewString(),
		ChannelID:    "console",
		From:         &core.ChannelAccount{ID: "console-user", Name: "You", Role: "user"},
		Recipient:    &core.ChannelAccount{ID: "dispatcher", Name: "Dispatcher", Role: "bot"},
		Conversation: &core.ConversationAccount{ID: s.convID},
	}
}

func (s *consoleSession) run(ctx context.Context, in io.Reader) error {
	welcome := s.activity(core.ActivityTypeConversationUpdate)
	welcome.MembersAdded = []core.ChannelAccount{*welcome.From}
	if err := s.handler.OnTurn(ctx, core.NewTurn(welcome, s.sender)); err != nil {
		return err
	}

	prompt := color.New(color.FgCyan, color.Bold)
	scanner := bufio.NewScanner(in)
	for {
		prompt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		msg := s.activity(core.ActivityTypeMessage)
		msg.Text = text
		if err := s.handler.OnTurn(ctx, core.NewTurn(msg, s.sender)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("console.turn.failed", "error", err.Error())
			color.New(color.FgRed).Fprintf(s.out, "error: %v\n", err)
		}
	}
}
