// Package preset asks a completion provider to invent a cast of personas for
// a scenario topic.
package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/llm"
	"github.com/m4xw311/frend/persona"
)

// Sampling constants for preset generation.
const (
	Temperature = 1.0
	MaxTokens   = 800
)

const systemPrompt = "You are an expert writer of role-play scenarios."

// ErrNothingToGenerate is returned when the topic is blank or no character
// is active.
var ErrNothingToGenerate = errors.Sentinel("a topic and at least one active character are required")

// Preset is a generated cast. A nil User or nil Agents means the reply did
// not include that part.
type Preset struct {
	User   *persona.Persona
	Agents []persona.Persona
}

// Generator produces presets with one provider call each.
type Generator struct {
	LLMClient llm.LLMClient
}

// Generate asks for as many characters as roster has active, around topic.
func (g *Generator) Generate(ctx context.Context, topic string, roster persona.Roster) (*Preset, error) {
	topic = strings.TrimSpace(topic)
	count := roster.CharacterCount()
	if topic == "" || count == 0 {
		return nil, ErrNothingToGenerate
	}

	text, err := g.LLMClient.Chat(ctx, llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildPrompt(topic, count, roster.UserActive())},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "preset request failed")
	}
	return Parse(text)
}

func buildPrompt(topic string, count int, withUser bool) string {
	return fmt.Sprintf(`Create the following role-play:
- Topic: %s
- Total characters: %d (user included: %t)

Write each character in this format:
{
  "user": { "name": "Name", "prompt": "personality and way of speaking" },
  "agents": [
    { "name": "Name1", "prompt": "way of speaking", "active": true },
    ...
  ]
}`, topic, count, withUser)
}

type presetJSON struct {
	User *struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
	} `json:"user"`
	Agents []struct {
		Name   string `json:"name"`
		Prompt string `json:"prompt"`
		Active *bool  `json:"active"`
	} `json:"agents"`
}

// Parse reads a preset out of a model reply. Markdown fences and chatter
// around the JSON object are ignored, and malformed JSON is repaired before
// giving up.
func Parse(text string) (*Preset, error) {
	raw := extractObject(text)
	if raw == "" {
		return nil, errors.New("no JSON object in preset reply")
	}

	var parsed presetJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, errors.Wrapf(err, "could not parse preset reply")
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, errors.Wrapf(err, "could not parse repaired preset reply")
		}
	}

	p := &Preset{}
	if parsed.User != nil {
		p.User = &persona.Persona{Name: parsed.User.Name, Prompt: parsed.User.Prompt}
	}
	if parsed.Agents != nil {
		p.Agents = make([]persona.Persona, 0, len(parsed.Agents))
		for _, a := range parsed.Agents {
			active := true
			if a.Active != nil {
				active = *a.Active
			}
			p.Agents = append(p.Agents, persona.Persona{Name: a.Name, Prompt: a.Prompt, Active: active})
		}
	}
	return p, nil
}

// Apply writes the preset into r. The user persona is only rewritten while
// it is active; agents are replaced wholesale.
func (p *Preset) Apply(r *persona.Roster) error {
	if p.User != nil && r.UserActive() {
		r.User.Name = p.User.Name
		r.User.Prompt = p.User.Prompt
	}
	if p.Agents != nil {
		r.Agents = append([]persona.Persona(nil), p.Agents...)
	}
	return nil
}

func extractObject(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		// Truncated reply; let the repair pass close it.
		return text[start:]
	}
	return text[start : end+1]
}
