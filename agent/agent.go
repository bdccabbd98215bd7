package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/llm"
	"github.com/m4xw311/frend/metrics"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/session"
	"github.com/rs/zerolog"
)

// Sampling constants for agent replies.
const (
	DefaultTemperature = 0.9
	DefaultMaxTokens   = 600
)

// ErrBusy is returned by TrySubmit while another turn is running.
var ErrBusy = errors.Sentinel("a turn is already in progress")

// Settings tune the provider calls made during a turn. Zero values select
// the defaults; a zero Timeout means calls are never cut short.
type Settings struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ProcessCallbacks let a front end follow a turn as it happens. Every field
// is optional. Callbacks run on the submitting goroutine.
type ProcessCallbacks struct {
	OnUserMessage  func(msg session.Message)
	OnAgentReply   func(msg session.Message)
	OnAgentSkipped func(agent persona.Persona, err error)
}

// Skip records an agent whose turn produced nothing.
type Skip struct {
	Agent persona.Persona
	Err   error
}

// Turn is what one submission added to the transcript.
type Turn struct {
	User    session.Message
	Replies []session.Message
	Skipped []Skip
}

// Agent runs conversations for one session: it appends the operator's
// message and asks each active agent persona, in order, for a reply.
type Agent struct {
	Session   *session.Session
	LLMClient llm.LLMClient
	Settings  Settings

	log  zerolog.Logger
	turn chan struct{}
}

func New(sess *session.Session, client llm.LLMClient, settings Settings, log zerolog.Logger) *Agent {
	if settings.Temperature == 0 {
		settings.Temperature = DefaultTemperature
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	return &Agent{
		Session:   sess,
		LLMClient: client,
		Settings:  settings,
		log:       log.With().Str("session", sess.ID).Logger(),
		turn:      make(chan struct{}, 1),
	}
}

// Submit sends text to every active agent. Whitespace-only text is ignored:
// Submit returns a nil Turn and a nil error without calling any provider.
// If another turn is running, Submit waits for it to finish first, so turns
// never interleave in the transcript. The only error is ctx ending before
// the turn starts, in which case nothing is appended; agent failures are
// never returned.
func (a *Agent) Submit(ctx context.Context, text string, cb ProcessCallbacks) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	// A ready lock must not win over an already cancelled ctx.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case a.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.turn }()
	return a.process(ctx, text, cb), nil
}

// TrySubmit is Submit for front ends that reject input while a turn is in
// flight: it returns ErrBusy instead of waiting.
func (a *Agent) TrySubmit(ctx context.Context, text string, cb ProcessCallbacks) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case a.turn <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-a.turn }()
	return a.process(ctx, text, cb), nil
}

// Busy reports whether a turn is in flight.
func (a *Agent) Busy() bool {
	return a.Session.Busy()
}

func (a *Agent) process(ctx context.Context, text string, cb ProcessCallbacks) *Turn {
	roster := a.Session.Roster()
	transcript := a.Session.Transcript()

	userMsg := session.NewMessage(session.User(), text)
	transcript.Append(userMsg)
	metrics.TurnsTotal.Inc()
	if cb.OnUserMessage != nil {
		cb.OnUserMessage(userMsg)
	}

	a.Session.SetBusy(true)
	defer a.Session.SetBusy(false)

	start := time.Now()
	turn := &Turn{User: userMsg}
	for _, p := range roster.ActiveAgents() {
		out := a.invoke(ctx, p, transcript.Messages())
		if out.err != nil {
			metrics.AgentTurnsTotal.WithLabelValues("skipped").Inc()
			a.log.Warn().Err(out.err).Str("agent", p.Name).Msg("agent turn skipped")
			turn.Skipped = append(turn.Skipped, Skip{Agent: p, Err: out.err})
			if cb.OnAgentSkipped != nil {
				cb.OnAgentSkipped(p, out.err)
			}
			continue
		}

		reply := session.NewMessage(session.Agent(p.Name), out.text)
		transcript.Append(reply)
		metrics.AgentTurnsTotal.WithLabelValues("replied").Inc()
		turn.Replies = append(turn.Replies, reply)
		if cb.OnAgentReply != nil {
			cb.OnAgentReply(reply)
		}
	}
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	a.log.Debug().
		Int("replies", len(turn.Replies)).
		Int("skipped", len(turn.Skipped)).
		Dur("took", time.Since(start)).
		Msg("turn complete")
	return turn
}

// outcome is the result of one agent call: either text or an error, never
// both.
type outcome struct {
	text string
	err  error
}

// invoke asks one agent for a reply. Every failure, including a panicking
// client, ends up in the outcome.
func (a *Agent) invoke(ctx context.Context, p persona.Persona, history []session.Message) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: errors.New("llm client panicked: %v", r)}
		}
	}()

	if a.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Settings.Timeout)
		defer cancel()
	}

	text, err := a.LLMClient.Chat(ctx, BuildRequest(p, history, a.Settings))
	if err != nil {
		return outcome{err: errors.Wrapf(err, "agent %q", p.Name)}
	}
	if strings.TrimSpace(text) == "" {
		return outcome{err: errors.Wrapf(llm.ErrEmptyReply, "agent %q", p.Name)}
	}
	return outcome{text: text}
}

// BuildRequest turns a persona and the transcript into a provider request.
func BuildRequest(p persona.Persona, history []session.Message, s Settings) llm.Request {
	msgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role(), Content: m.Content()})
	}
	return llm.Request{
		System:      p.Prompt,
		Messages:    msgs,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	}
}

// Transcript renders the conversation as plain text, one message per line.
func Transcript(msgs []session.Message, userName string) string {
	var b strings.Builder
	for _, m := range msgs {
		name := userName
		if !m.Speaker.IsUser() {
			name = m.Speaker.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", name, m.Text)
	}
	return b.String()
}
