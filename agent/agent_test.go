package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/llm"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient answers by system prompt and records every request.
type scriptedClient struct {
	mu       sync.Mutex
	replies  map[string]string
	failures map[string]error
	requests []llm.Request
	block    chan struct{}
}

func (s *scriptedClient) Chat(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := s.failures[req.System]; err != nil {
		return "", err
	}
	return s.replies[req.System], nil
}

func (s *scriptedClient) calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func newTestAgent(roster persona.Roster, client llm.LLMClient) *Agent {
	return New(session.New(roster), client, Settings{}, zerolog.Nop())
}

func rosterOf(agents ...persona.Persona) persona.Roster {
	return persona.Roster{User: &persona.Persona{Name: "Me"}, Agents: agents}
}

type entry struct {
	speaker string
	text    string
}

func entries(msgs []session.Message) []entry {
	var out []entry
	for _, m := range msgs {
		out = append(out, entry{m.Speaker.String(), m.Text})
	}
	return out
}

func TestSubmitOrdering(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "r1", "p2": "r2", "p3": "r3"}}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
		persona.Persona{Name: "A3", Prompt: "p3", Active: true},
	), client)

	turn, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Len(t, turn.Replies, 3)
	assert.Empty(t, turn.Skipped)

	assert.Equal(t, []entry{
		{"user", "U"},
		{"agent:A1", "r1"},
		{"agent:A2", "r2"},
		{"agent:A3", "r3"},
	}, entries(a.Session.Transcript().Messages()))
}

func TestSubmitPartialFailure(t *testing.T) {
	client := &scriptedClient{
		replies:  map[string]string{"p2": "r2"},
		failures: map[string]error{"p1": errors.New("connection refused")},
	}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	var skipped []string
	turn, err := a.Submit(context.Background(), "U", ProcessCallbacks{
		OnAgentSkipped: func(p persona.Persona, err error) { skipped = append(skipped, p.Name) },
	})
	require.NoError(t, err)

	assert.Equal(t, []entry{{"user", "U"}, {"agent:A2", "r2"}}, entries(a.Session.Transcript().Messages()))
	assert.Equal(t, []string{"A1"}, skipped)
	require.Len(t, turn.Skipped, 1)
	assert.ErrorContains(t, turn.Skipped[0].Err, "connection refused")
	assert.Len(t, client.calls(), 2, "A2 still runs after A1 fails")
}

func TestSubmitEmptyReplyIsSkipped(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "   ", "p2": "r2"}}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	turn, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)
	require.Len(t, turn.Skipped, 1)
	assert.ErrorIs(t, turn.Skipped[0].Err, llm.ErrEmptyReply)
	assert.Equal(t, []entry{{"user", "U"}, {"agent:A2", "r2"}}, entries(a.Session.Transcript().Messages()))
}

func TestSubmitWhitespaceIsNoop(t *testing.T) {
	client := &scriptedClient{}
	a := newTestAgent(persona.DefaultRoster(), client)

	for _, text := range []string{"", "   ", "\n\t "} {
		turn, err := a.Submit(context.Background(), text, ProcessCallbacks{})
		assert.NoError(t, err)
		assert.Nil(t, turn)
	}
	assert.Zero(t, a.Session.Transcript().Len())
	assert.Empty(t, client.calls())
}

func TestSubmitSkipsInactiveAgents(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "r1", "p2": "r2", "p3": "r3"}}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: false},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
		persona.Persona{Name: "A3", Prompt: "p3", Active: false},
	), client)

	_, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "p2", calls[0].System)
	assert.Equal(t, []entry{{"user", "U"}, {"agent:A2", "r2"}}, entries(a.Session.Transcript().Messages()))
}

func TestLaterAgentsSeeEarlierReplies(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "r1", "p2": "r2"}}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	_, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "U"}}, calls[0].Messages)
	assert.Equal(t, []llm.Message{
		{Role: "user", Content: "U"},
		{Role: "assistant", Content: "[A1] r1"},
	}, calls[1].Messages)
}

func TestDefaultRosterScenario(t *testing.T) {
	roster := persona.DefaultRoster()
	roster.User.Active = false
	roster.Agents[0].Prompt = "first"
	roster.Agents[1].Prompt = "second"
	roster.Agents[2].Prompt = "third"

	client := &scriptedClient{replies: map[string]string{"first": "one", "second": "two", "third": "three"}}
	a := newTestAgent(roster, client)

	_, err := a.Submit(context.Background(), "hello", ProcessCallbacks{})
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].System)
	assert.Equal(t, "second", calls[1].System)
	assert.Contains(t, calls[1].Messages, llm.Message{Role: "assistant", Content: "[Agent 1] one"})
	assert.Equal(t, DefaultTemperature, calls[0].Temperature)
	assert.Equal(t, DefaultMaxTokens, calls[0].MaxTokens)

	assert.Equal(t, []entry{
		{"user", "hello"},
		{"agent:Agent 1", "one"},
		{"agent:Agent 2", "two"},
	}, entries(a.Session.Transcript().Messages()))
}

func TestTranscriptIsAppendOnlyAcrossTurns(t *testing.T) {
	client := &scriptedClient{
		replies:  map[string]string{"p1": "r1"},
		failures: map[string]error{"p2": errors.New("boom")},
	}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	var previous []session.Message
	for _, text := range []string{"one", "  ", "two", "three"} {
		_, err := a.Submit(context.Background(), text, ProcessCallbacks{})
		require.NoError(t, err)
		current := a.Session.Transcript().Messages()
		require.GreaterOrEqual(t, len(current), len(previous))
		assert.Equal(t, previous, current[:len(previous)])
		previous = current
	}
	assert.Len(t, previous, 6)
}

func TestRosterEditsDuringTurnDoNotAffectIt(t *testing.T) {
	client := &scriptedClient{
		replies: map[string]string{"p1": "r1", "p2": "r2"},
		block:   make(chan struct{}),
	}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Submit(context.Background(), "U", ProcessCallbacks{})
	}()

	require.Eventually(t, func() bool { return len(client.calls()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, a.Session.UpdateRoster(func(r *persona.Roster) error {
		r.Agents[1].Active = false
		return nil
	}))
	close(client.block)
	<-done

	assert.Len(t, client.calls(), 2, "the snapshot taken at submit still includes A2")
}

func TestTrySubmitWhileBusy(t *testing.T) {
	client := &scriptedClient{
		replies: map[string]string{"p1": "r1"},
		block:   make(chan struct{}),
	}
	a := newTestAgent(rosterOf(persona.Persona{Name: "A1", Prompt: "p1", Active: true}), client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Submit(context.Background(), "first", ProcessCallbacks{})
	}()
	require.Eventually(t, a.Busy, time.Second, time.Millisecond)

	_, err := a.TrySubmit(context.Background(), "second", ProcessCallbacks{})
	assert.ErrorIs(t, err, ErrBusy)

	close(client.block)
	<-done
	assert.False(t, a.Busy())
	assert.Equal(t, []entry{{"user", "first"}, {"agent:A1", "r1"}}, entries(a.Session.Transcript().Messages()))
}

func TestSubmitWaitsForRunningTurn(t *testing.T) {
	client := &scriptedClient{
		replies: map[string]string{"p1": "r1"},
		block:   make(chan struct{}),
	}
	a := newTestAgent(rosterOf(persona.Persona{Name: "A1", Prompt: "p1", Active: true}), client)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = a.Submit(context.Background(), "first", ProcessCallbacks{})
	}()
	require.Eventually(t, a.Busy, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = a.Submit(context.Background(), "second", ProcessCallbacks{})
	}()

	// The second submission must not append while the first is in flight.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, a.Session.Transcript().Len())

	close(client.block)
	wg.Wait()
	assert.Equal(t, []entry{
		{"user", "first"},
		{"agent:A1", "r1"},
		{"user", "second"},
		{"agent:A1", "r1"},
	}, entries(a.Session.Transcript().Messages()))
}

func TestSubmitContextCancelledWhileWaiting(t *testing.T) {
	client := &scriptedClient{block: make(chan struct{})}
	a := newTestAgent(rosterOf(persona.Persona{Name: "A1", Prompt: "p1", Active: true}), client)

	go func() { _, _ = a.Submit(context.Background(), "first", ProcessCallbacks{}) }()
	require.Eventually(t, a.Busy, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	turn, err := a.Submit(ctx, "second", ProcessCallbacks{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, turn)
	close(client.block)
}

func TestSubmitWithCancelledContextAppendsNothing(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "r1"}}
	a := newTestAgent(rosterOf(persona.Persona{Name: "A1", Prompt: "p1", Active: true}), client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The turn lock is free, so both select cases would be ready; repeat to
	// rule out a lucky pick.
	for i := 0; i < 50; i++ {
		turn, err := a.Submit(ctx, "hi", ProcessCallbacks{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, turn)

		turn, err = a.TrySubmit(ctx, "hi", ProcessCallbacks{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, turn)
	}
	assert.Zero(t, a.Session.Transcript().Len())
	assert.Empty(t, client.calls())
}

type panickyClient struct{}

func (panickyClient) Chat(ctx context.Context, req llm.Request) (string, error) {
	if req.System == "bad" {
		panic("nil map")
	}
	return "fine", nil
}

func TestPanickingClientIsContained(t *testing.T) {
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "bad", Active: true},
		persona.Persona{Name: "A2", Prompt: "good", Active: true},
	), panickyClient{})

	turn, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)
	require.Len(t, turn.Skipped, 1)
	assert.ErrorContains(t, turn.Skipped[0].Err, "panicked")
	assert.Equal(t, []entry{{"user", "U"}, {"agent:A2", "fine"}}, entries(a.Session.Transcript().Messages()))
}

func TestTimeoutSkipsHungAgent(t *testing.T) {
	client := &scriptedClient{block: make(chan struct{})}
	a := New(session.New(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
	)), client, Settings{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	turn, err := a.Submit(context.Background(), "U", ProcessCallbacks{})
	require.NoError(t, err)
	require.Len(t, turn.Skipped, 1)
	assert.ErrorIs(t, turn.Skipped[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 1, a.Session.Transcript().Len())
}

func TestCallbacksFireInOrder(t *testing.T) {
	client := &scriptedClient{replies: map[string]string{"p1": "r1", "p2": "r2"}}
	a := newTestAgent(rosterOf(
		persona.Persona{Name: "A1", Prompt: "p1", Active: true},
		persona.Persona{Name: "A2", Prompt: "p2", Active: true},
	), client)

	var events []string
	_, err := a.Submit(context.Background(), "U", ProcessCallbacks{
		OnUserMessage: func(m session.Message) { events = append(events, "user:"+m.Text) },
		OnAgentReply:  func(m session.Message) { events = append(events, m.Speaker.Name+":"+m.Text) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"user:U", "A1:r1", "A2:r2"}, events)
}

func TestTranscriptRendering(t *testing.T) {
	msgs := []session.Message{
		session.NewMessage(session.User(), "hi"),
		session.NewMessage(session.Agent("Agent 1"), "hello"),
	}
	assert.Equal(t, "You: hi\nAgent 1: hello\n", Transcript(msgs, "You"))
}
