package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/frend/agent"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/preset"
	"github.com/m4xw311/frend/session"
	"github.com/rs/zerolog"
)

const help = `Commands:
  /roster                  show the user persona and agents
  /toggle <n|user>         switch a persona on or off
  /prompt <n|user> <text>  set a persona prompt
  /name <n|user> <text>    rename a persona
  /add [name]              add an active agent
  /preset <topic>          generate a cast for a scenario topic
  /transcript              print the conversation so far
  /quit, /exit             leave
Anything else is sent to every active agent.`

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent   *agent.Agent
	presets *preset.Generator
	in      io.Reader
	out     io.Writer
	log     zerolog.Logger
}

// New creates a new Terminal instance reading commands from in and writing
// the conversation to out.
func New(a *agent.Agent, presets *preset.Generator, in io.Reader, out io.Writer, log zerolog.Logger) *Terminal {
	return &Terminal{
		agent:   a,
		presets: presets,
		in:      in,
		out:     out,
		log:     log,
	}
}

// Run starts the interactive terminal session. It returns when input ends,
// the operator quits, or ctx is cancelled; a cancelled ctx is a clean exit.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if strings.TrimSpace(initialPrompt) != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines, readErr := t.readLines(readCtx)
	for {
		fmt.Fprint(t.out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				// EOF or read error ends the session
				fmt.Fprintln(t.out)
				return <-readErr
			}
			line = l
		}
		// A line and the cancellation can arrive together.
		if ctx.Err() != nil {
			fmt.Fprintln(t.out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Exit commands
		if line == "/quit" || line == "/exit" {
			return nil
		}

		if strings.HasPrefix(line, "/") {
			if err := t.command(ctx, line); err != nil {
				fmt.Fprintf(t.out, "Error: %v\n", err)
			}
			continue
		}

		if err := t.processTurn(ctx, line); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}
}

// readLines scans input on its own goroutine so Run can stop on ctx while a
// read is blocked. The reader goroutine stays parked in Scan until the input
// yields a line or closes.
func (t *Terminal) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()
	return lines, readErr
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	callbacks := agent.ProcessCallbacks{
		OnAgentReply: func(msg session.Message) {
			fmt.Fprintf(t.out, "%s: %s\n", msg.Speaker.Name, msg.Text)
		},
	}
	_, err := t.agent.Submit(ctx, userInput, callbacks)
	return err
}

func (t *Terminal) command(ctx context.Context, line string) error {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	sess := t.agent.Session

	switch name {
	case "/help":
		fmt.Fprintln(t.out, help)
	case "/roster":
		t.printRoster(sess.Roster())
	case "/transcript":
		fmt.Fprint(t.out, agent.Transcript(sess.Transcript().Messages(), t.userName()))
	case "/toggle":
		return sess.UpdateRoster(func(r *persona.Roster) error {
			p, err := r.Lookup(rest)
			if err != nil {
				return err
			}
			p.Active = !p.Active
			fmt.Fprintf(t.out, "%s is now %s\n", p.DisplayName(rest), onOff(p.Active))
			return nil
		})
	case "/prompt", "/name":
		ref, text, _ := strings.Cut(rest, " ")
		if ref == "" {
			return errors.New("usage: %s <n|user> <text>", name)
		}
		return sess.UpdateRoster(func(r *persona.Roster) error {
			p, err := r.Lookup(ref)
			if err != nil {
				return err
			}
			if name == "/prompt" {
				p.Prompt = strings.TrimSpace(text)
			} else {
				p.Name = strings.TrimSpace(text)
			}
			return nil
		})
	case "/add":
		return sess.UpdateRoster(func(r *persona.Roster) error {
			p := r.Add(rest)
			fmt.Fprintf(t.out, "Added %s\n", p.Name)
			return nil
		})
	case "/preset":
		t.applyPreset(ctx, rest)
	default:
		return errors.New("unknown command %s, try /help", name)
	}
	return nil
}

// applyPreset regenerates the cast. Failures only reach the diagnostic log;
// the roster is simply left as it was.
func (t *Terminal) applyPreset(ctx context.Context, topic string) {
	if t.presets == nil {
		return
	}
	sess := t.agent.Session
	p, err := t.presets.Generate(ctx, topic, sess.Roster())
	if err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("preset generation failed")
		return
	}
	if err := sess.UpdateRoster(p.Apply); err != nil {
		t.log.Warn().Err(err).Msg("preset could not be applied")
		return
	}
	t.printRoster(sess.Roster())
}

func (t *Terminal) printRoster(r persona.Roster) {
	if r.User != nil {
		fmt.Fprintf(t.out, "user. %s [%s] %s\n", r.User.DisplayName("You"), onOff(r.User.Active), r.User.Prompt)
	}
	for i, a := range r.Agents {
		fmt.Fprintf(t.out, "%d. %s [%s] %s\n", i+1, a.DisplayName(fmt.Sprintf("Agent %d", i+1)), onOff(a.Active), a.Prompt)
	}
}

func (t *Terminal) userName() string {
	r := t.agent.Session.Roster()
	if r.User == nil {
		return "You"
	}
	return r.User.DisplayName("You")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
