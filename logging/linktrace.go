package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// LinkTracer prints a colored, human oriented trace of conversation
// correlation activity to a terminal: inbound and outbound conversation ids,
// storage key access and remote conversation ids. A nil or disabled tracer
// prints nothing.
type LinkTracer struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	conv    *color.Color
	store   *color.Color
	remote  *color.Color
}

// NewLinkTracer creates a tracer writing to out (stdout when nil).
func NewLinkTracer(out io.Writer, enabled bool) *LinkTracer {
	if out == nil {
		out = os.Stdout
	}
	return &LinkTracer{
		out:     out,
		enabled: enabled,
		conv:    color.New(color.BgWhite, color.FgBlack),
		store:   color.New(color.FgYellow),
		remote:  color.New(color.FgGreen),
	}
}

// Conversation traces an inbound or answered conversation id.
func (t *LinkTracer) Conversation(format string, args ...any) {
	if !t.on() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conv.Fprintln(t.out, fmt.Sprintf(format, args...))
}

// StorageAccess traces a read or write against a storage key.
func (t *LinkTracer) StorageAccess(format string, args ...any) {
	if !t.on() {
		return
	}
	t.tagged(t.store, "(STOREACC)", format, args...)
}

// Remote traces an interaction with a remote agent.
func (t *LinkTracer) Remote(format string, args ...any) {
	if !t.on() {
		return
	}
	t.tagged(t.remote, "(MCS)", format, args...)
}

func (t *LinkTracer) tagged(c *color.Color, tag, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c.Fprint(t.out, tag)
	fmt.Fprintf(t.out, "%s\n", fmt.Sprintf(format, args...))
}

func (t *LinkTracer) on() bool { return t != nil && t.enabled }
