package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/frend/agent"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/llm"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/preset"
	"github.com/m4xw311/frend/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoClient replies with the persona prompt, or fails for "broken".
type echoClient struct{}

func (echoClient) Chat(ctx context.Context, req llm.Request) (string, error) {
	if req.System == "broken" {
		return "", errors.New("unreachable")
	}
	return "reply from " + req.System, nil
}

type presetClient struct{ reply string }

func (p presetClient) Chat(ctx context.Context, req llm.Request) (string, error) {
	return p.reply, nil
}

func createTestTerminal(input string, client llm.LLMClient) (*Terminal, *bytes.Buffer) {
	roster := persona.Roster{
		User: &persona.Persona{Name: "Mina", Active: true},
		Agents: []persona.Persona{
			{Name: "Agent 1", Prompt: "p1", Active: true},
			{Name: "Agent 2", Prompt: "p2", Active: true},
			{Name: "Agent 3", Prompt: "p3", Active: false},
		},
	}
	a := agent.New(session.New(roster), client, agent.Settings{}, zerolog.Nop())
	out := &bytes.Buffer{}
	return New(a, &preset.Generator{LLMClient: client}, strings.NewReader(input), out, zerolog.Nop()), out
}

func TestTerminalRunSendsLines(t *testing.T) {
	term, out := createTestTerminal("hello\n\n/quit\nnever sent\n", echoClient{})
	require.NoError(t, term.Run(context.Background(), ""))

	assert.Contains(t, out.String(), "Agent 1: reply from p1\n")
	assert.Contains(t, out.String(), "Agent 2: reply from p2\n")
	assert.NotContains(t, out.String(), "reply from p3")

	msgs := term.agent.Session.Transcript().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestTerminalInitialPrompt(t *testing.T) {
	term, out := createTestTerminal("", echoClient{})
	require.NoError(t, term.Run(context.Background(), "from args"))
	assert.Contains(t, out.String(), "Agent 1: reply from p1")
	assert.Equal(t, "from args", term.agent.Session.Transcript().Messages()[0].Text)
}

func TestTerminalFailedAgentIsSilent(t *testing.T) {
	term, out := createTestTerminal("/prompt 1 broken\nhello\n", echoClient{})
	require.NoError(t, term.Run(context.Background(), ""))

	assert.NotContains(t, out.String(), "Agent 1:")
	assert.NotContains(t, out.String(), "Error")
	assert.Contains(t, out.String(), "Agent 2: reply from p2")
}

func TestTerminalRosterCommands(t *testing.T) {
	input := strings.Join([]string{
		"/toggle 3",
		"/toggle 1",
		"/name 3 Pirate",
		"/prompt 3 arr",
		"/add Critic",
		"/name user Jun",
		"/roster",
		"/toggle 9",
		"/bogus",
	}, "\n") + "\n"
	term, out := createTestTerminal(input, echoClient{})
	require.NoError(t, term.Run(context.Background(), ""))

	r := term.agent.Session.Roster()
	assert.False(t, r.Agents[0].Active)
	assert.Equal(t, persona.Persona{Name: "Pirate", Prompt: "arr", Active: true}, r.Agents[2])
	require.Len(t, r.Agents, 4)
	assert.Equal(t, "Critic", r.Agents[3].Name)
	assert.Equal(t, "Jun", r.User.Name)

	assert.Contains(t, out.String(), "user. Jun [on]")
	assert.Contains(t, out.String(), "3. Pirate [on] arr")
	assert.Contains(t, out.String(), "Error: ")
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestTerminalTranscript(t *testing.T) {
	term, out := createTestTerminal("hi\n/transcript\n", echoClient{})
	require.NoError(t, term.Run(context.Background(), ""))
	assert.Contains(t, out.String(), "Mina: hi\nAgent 1: reply from p1\nAgent 2: reply from p2\n")
}

func TestTerminalPreset(t *testing.T) {
	client := presetClient{reply: `{"user":{"name":"Captain","prompt":"bold"},"agents":[{"name":"Parrot","prompt":"squawks","active":true}]}`}
	term, out := createTestTerminal("/preset pirates\n", client)
	require.NoError(t, term.Run(context.Background(), ""))

	r := term.agent.Session.Roster()
	assert.Equal(t, "Captain", r.User.Name)
	require.Len(t, r.Agents, 1)
	assert.Equal(t, "Parrot", r.Agents[0].Name)
	assert.Contains(t, out.String(), "1. Parrot [on] squawks")
}

func TestTerminalPresetFailureKeepsRoster(t *testing.T) {
	term, _ := createTestTerminal("/preset pirates\n", presetClient{reply: "no idea"})
	require.NoError(t, term.Run(context.Background(), ""))
	assert.Len(t, term.agent.Session.Roster().Agents, 3)
}

func TestTerminalStopsOnCancelledContext(t *testing.T) {
	// The pipe is never written, so Run is blocked waiting for a line.
	in, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	roster := persona.Roster{Agents: []persona.Persona{{Name: "Agent 1", Prompt: "p1", Active: true}}}
	a := agent.New(session.New(roster), echoClient{}, agent.Settings{}, zerolog.Nop())
	term := New(a, nil, in, &bytes.Buffer{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx, "") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the context was cancelled")
	}
	assert.Zero(t, a.Session.Transcript().Len())
}

func TestTerminalIgnoresLinesAfterCancel(t *testing.T) {
	term, out := createTestTerminal("hi\nhello\n", echoClient{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, term.Run(ctx, ""))
	assert.Zero(t, term.agent.Session.Transcript().Len())
	assert.NotContains(t, out.String(), "Agent 1:")
}
