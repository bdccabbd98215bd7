// Package mcp exposes a frend conversation as a Model Context Protocol
// server. Each connected client drives the same session: submitting a
// message runs one full turn and returns every reply.
package mcp

import (
	"context"
	"strings"

	"github.com/m4xw311/frend/agent"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/preset"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SubmitInput is the argument of the submit_message tool.
type SubmitInput struct {
	Text string `json:"text" jsonschema:"the message to send as the user"`
}

// PersonaInput is the argument of the set_persona tool. Omitted fields are
// left unchanged.
type PersonaInput struct {
	Ref    string  `json:"ref" jsonschema:"user or the 1-based agent number"`
	Name   *string `json:"name,omitempty" jsonschema:"new display name"`
	Prompt *string `json:"prompt,omitempty" jsonschema:"new persona prompt"`
	Active *bool   `json:"active,omitempty" jsonschema:"whether the persona takes part"`
}

// PresetInput is the argument of the apply_preset tool.
type PresetInput struct {
	Topic string `json:"topic" jsonschema:"scenario to generate a cast for"`
}

// Server serves one agent over MCP.
type Server struct {
	agent   *agent.Agent
	presets *preset.Generator
	log     zerolog.Logger
	server  *mcp.Server
}

// NewServer registers the frend tools on a fresh MCP server. presets may be
// nil, in which case apply_preset is not offered.
func NewServer(a *agent.Agent, presets *preset.Generator, version string, log zerolog.Logger) *Server {
	s := &Server{
		agent:   a,
		presets: presets,
		log:     log,
		server:  mcp.NewServer(&mcp.Implementation{Name: "frend", Version: version}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "submit_message",
		Description: "Send a user message; every active agent answers in order. Returns the replies.",
	}, s.submitMessage)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_transcript",
		Description: "Return the whole conversation, one 'Name: text' line per message.",
	}, s.getTranscript)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_roster",
		Description: "Return the user persona and the agents as YAML.",
	}, s.getRoster)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_persona",
		Description: "Change the name, prompt or active flag of the user persona or an agent.",
	}, s.setPersona)
	if presets != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "apply_preset",
			Description: "Generate a cast of personas for a scenario topic and apply it to the roster.",
		}, s.applyPreset)
	}
	return s
}

// Run serves requests on t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.log.Debug().Str("session", s.agent.Session.ID).Msg("starting MCP server")
	return s.server.Run(ctx, t)
}

func (s *Server) submitMessage(ctx context.Context, _ *mcp.CallToolRequest, in SubmitInput) (*mcp.CallToolResult, any, error) {
	turn, err := s.agent.Submit(ctx, in.Text, agent.ProcessCallbacks{})
	if err != nil {
		return toolError(err), nil, nil
	}
	if turn == nil {
		return toolError(errors.New("message is empty")), nil, nil
	}
	if len(turn.Replies) == 0 {
		return textResult("(no replies)"), nil, nil
	}
	return textResult(agent.Transcript(turn.Replies, "")), nil, nil
}

func (s *Server) getTranscript(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	r := s.agent.Session.Roster()
	userName := "You"
	if r.User != nil {
		userName = r.User.DisplayName(userName)
	}
	return textResult(agent.Transcript(s.agent.Session.Transcript().Messages(), userName)), nil, nil
}

func (s *Server) getRoster(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	return s.rosterResult(), nil, nil
}

func (s *Server) setPersona(_ context.Context, _ *mcp.CallToolRequest, in PersonaInput) (*mcp.CallToolResult, any, error) {
	err := s.agent.Session.UpdateRoster(func(r *persona.Roster) error {
		p, err := r.Lookup(in.Ref)
		if err != nil {
			return err
		}
		if in.Name != nil {
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Prompt != nil {
			p.Prompt = *in.Prompt
		}
		if in.Active != nil {
			p.Active = *in.Active
		}
		return nil
	})
	if err != nil {
		return toolError(err), nil, nil
	}
	return s.rosterResult(), nil, nil
}

func (s *Server) applyPreset(ctx context.Context, _ *mcp.CallToolRequest, in PresetInput) (*mcp.CallToolResult, any, error) {
	sess := s.agent.Session
	p, err := s.presets.Generate(ctx, in.Topic, sess.Roster())
	if err == nil {
		err = sess.UpdateRoster(p.Apply)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("topic", in.Topic).Msg("preset generation failed")
		return toolError(err), nil, nil
	}
	return s.rosterResult(), nil, nil
}

func (s *Server) rosterResult() *mcp.CallToolResult {
	out, err := yaml.Marshal(s.agent.Session.Roster())
	if err != nil {
		return toolError(err)
	}
	return textResult(string(out))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

