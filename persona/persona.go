// Package persona models the characters taking part in a conversation: any
// number of agents answered by a completion provider, plus at most one
// persona describing the human operator.
package persona

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m4xw311/frend/errors"
)

// Persona is a named character with the instruction that shapes its voice.
// Only active personas take part in a turn.
type Persona struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
	Active bool   `yaml:"active" json:"active"`
}

// Roster is the ordered list of agents plus the optional user persona.
// Agent order is display order and the order agents are queried in.
type Roster struct {
	User   *Persona  `yaml:"user,omitempty" json:"user,omitempty"`
	Agents []Persona `yaml:"agents" json:"agents"`
}

// DefaultRoster is the roster a new session starts with.
func DefaultRoster() Roster {
	return Roster{
		User: &Persona{Active: true},
		Agents: []Persona{
			{Name: "Agent 1", Active: true},
			{Name: "Agent 2", Active: true},
			{Name: "Agent 3", Active: false},
		},
	}
}

// Clone returns a deep copy so later edits to r never reach the copy.
func (r Roster) Clone() Roster {
	out := Roster{}
	if r.User != nil {
		u := *r.User
		out.User = &u
	}
	if r.Agents != nil {
		out.Agents = make([]Persona, len(r.Agents))
		copy(out.Agents, r.Agents)
	}
	return out
}

// ActiveAgents returns the active agents in roster order.
func (r Roster) ActiveAgents() []Persona {
	var active []Persona
	for _, a := range r.Agents {
		if a.Active {
			active = append(active, a)
		}
	}
	return active
}

// UserActive reports whether a user persona exists and is active.
func (r Roster) UserActive() bool {
	return r.User != nil && r.User.Active
}

// CharacterCount is the number of active agents, plus one when the user
// persona is active.
func (r Roster) CharacterCount() int {
	n := len(r.ActiveAgents())
	if r.UserActive() {
		n++
	}
	return n
}

// Lookup resolves an operator reference to a persona: "user" or a 1-based
// agent index. The returned pointer aliases r.
func (r *Roster) Lookup(ref string) (*Persona, error) {
	ref = strings.TrimSpace(ref)
	if strings.EqualFold(ref, "user") {
		if r.User == nil {
			r.User = &Persona{}
		}
		return r.User, nil
	}
	i, err := strconv.Atoi(ref)
	if err != nil {
		return nil, errors.New("unknown persona %q, expected 'user' or an agent number", ref)
	}
	if i < 1 || i > len(r.Agents) {
		return nil, errors.New("agent %d out of range (1-%d)", i, len(r.Agents))
	}
	return &r.Agents[i-1], nil
}

// Add appends a new active agent. An empty name gets a numbered default.
func (r *Roster) Add(name string) Persona {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Agent %d", len(r.Agents)+1)
	}
	p := Persona{Name: name, Active: true}
	r.Agents = append(r.Agents, p)
	return p
}

// DisplayName is the persona's name, or fallback when it has none.
func (p Persona) DisplayName(fallback string) string {
	if strings.TrimSpace(p.Name) == "" {
		return fallback
	}
	return p.Name
}
