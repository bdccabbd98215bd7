package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SpeakerKind tells who wrote a message.
type SpeakerKind int

const (
	SpeakerUser SpeakerKind = iota
	SpeakerAgent
)

// Speaker identifies the author of a message. Agent speakers carry the
// persona name so replies stay attributable.
type Speaker struct {
	Kind SpeakerKind
	Name string
}

// User is the speaker of operator messages.
func User() Speaker { return Speaker{Kind: SpeakerUser} }

// Agent is the speaker of replies produced for the named persona.
func Agent(name string) Speaker { return Speaker{Kind: SpeakerAgent, Name: name} }

func (s Speaker) IsUser() bool { return s.Kind == SpeakerUser }

func (s Speaker) String() string {
	if s.IsUser() {
		return "user"
	}
	return "agent:" + s.Name
}

// Message is one transcript entry. Messages are values; once appended to a
// transcript they are never changed.
type Message struct {
	ID      string
	Speaker Speaker
	Text    string
	At      time.Time
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(speaker Speaker, text string) Message {
	return Message{
		ID:      uuid.NewString(),
		Speaker: speaker,
		Text:    text,
		At:      time.Now(),
	}
}

// Role maps the speaker onto a chat-completion role.
func (m Message) Role() string {
	if m.Speaker.IsUser() {
		return "user"
	}
	return "assistant"
}

// Content is the text sent to a provider: agent replies are prefixed with
// the agent name so every agent can tell the others apart.
func (m Message) Content() string {
	if m.Speaker.IsUser() {
		return m.Text
	}
	return fmt.Sprintf("[%s] %s", m.Speaker.Name, m.Text)
}
