package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/hupe1980/agentdispatch/core"
)

// Console prints outgoing activities to a terminal. Messages are written as
// "<name>> text"; typing indicators as a dimmed ellipsis when ShowTyping is
// set. Other activity types are dropped.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	name       *color.Color
	dim        *color.Color
	ShowTyping bool
}

var _ core.ActivitySender = (*Console)(nil)

// NewConsole creates a console sender writing to out (stdout when nil).
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:  out,
		name: color.New(color.FgGreen, color.Bold),
		dim:  color.New(color.Faint),
	}
}

// SendActivity implements core.ActivitySender.
func (c *Console) SendActivity(_ context.Context, inbound core.Activity, out core.Activity) error {
	reply := out.ReplyFrom(inbound)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch reply.Type {
	case core.ActivityTypeMessage:
		if reply.Text == "" {
			return nil
		}
		_, err := fmt.Fprintf(c.out, "%s %s\n", c.name.Sprintf("%s>", speaker(reply)), reply.Text)
		return err
	case core.ActivityTypeTyping:
		if !c.ShowTyping {
			return nil
		}
		_, err := fmt.Fprintln(c.out, c.dim.Sprint("..."))
		return err
	default:
		return nil
	}
}

func speaker(a core.Activity) string {
	if a.From != nil && a.From.Name != "" {
		return a.From.Name
	}
	return "bot"
}
