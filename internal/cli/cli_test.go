package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdispatch/connector"
	"github.com/hupe1980/agentdispatch/core"
	"github.com/hupe1980/agentdispatch/logging"
)

type recordingHandler struct {
	turns []core.Activity
}

func (h *recordingHandler) OnTurn(ctx context.Context, turn *core.Turn) error {
	h.turns = append(h.turns, turn.Activity)
	if turn.Activity.IsMessage() {
		return turn.SendText(ctx, "echo "+turn.Activity.Text)
	}
	return nil
}

func TestConsoleSession_Run(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	h := &recordingHandler{}
	s := &consoleSession{
		handler: h,
		sender:  connector.NewConsole(&out),
		logger:  logging.NoOpLogger{},
		out:     &out,
		convID:  "console-1",
	}

	require.NoError(t, s.run(context.Background(), strings.NewReader("hello\n\n  @wb weather \nexit\nignored\n")))

	require.Len(t, h.turns, 3)
	assert.Equal(t, core.ActivityTypeConversationUpdate, h.turns[0].Type)
	require.Len(t, h.turns[0].MembersAdded, 1)
	assert.Equal(t, "hello", h.turns[1].Text)
	assert.Equal(t, "@wb weather", h.turns[2].Text)
	assert.Equal(t, "console-1", h.turns[2].ConversationID())
	assert.Contains(t, out.String(), "Dispatcher> echo hello")
	assert.NotContains(t, out.String(), "ignored")
}

func TestConsoleSession_EOF(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer
	s := &consoleSession{handler: h, sender: connector.NewConsole(&out), logger: logging.NoOpLogger{}, out: &out, convID: "c"}
	require.NoError(t, s.run(context.Background(), strings.NewReader("hi")))
	assert.Len(t, h.turns, 2)
}

func TestAgentsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - alias: wb
    display_name: Weather Bot
    connection:
      environment_id: 0f1e2d3c-aaaa-bbbb-cccc-1234567890ab
      schema_name: cr_weather
  - alias: cas
    display_name: Case Bot
    connection:
      endpoint: https://example.com/cas/
      scope: api://cas/.default
`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"agents", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		configPath = ""
	})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ALIAS"))
	assert.Contains(t, lines[1], "@wb")
	assert.Contains(t, lines[1], "https://api.powerplatform.com/.default")
	assert.Contains(t, lines[2], "https://example.com/cas")
	assert.Contains(t, lines[2], "api://cas/.default")
}
