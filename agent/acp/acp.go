package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/frend/agent"
	"github.com/m4xw311/frend/errors"
	"github.com/m4xw311/frend/persona"
	"github.com/m4xw311/frend/session"
	"github.com/rs/zerolog"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeSessionBusy    = -32000
)

// Factory creates the agent backing a new ACP session.
type Factory func() *agent.Agent

// Run starts the Agent Client Protocol server over stdio using JSON-RPC.
// It implements a minimal subset of ACP:
// - initialize
// - session/new
// - session/prompt (emits session/update notifications with one agent_message_chunk per reply)
// - _frend/roster (reads or replaces a session roster)
// Notes:
// - Nothing but JSON-RPC messages is written to out; diagnostics go to log.
// - Messages are newline-delimited JSON objects rather than using Content-Length framing.
// - Prompts run in their own goroutine so one session's turn does not block the others.
func Run(ctx context.Context, newAgent Factory, in *bufio.Reader, out *bufio.Writer, log zerolog.Logger) error {
	log.Debug().Msg("starting ACP server")
	server := &acpServer{
		ctx:          ctx,
		newAgent:     newAgent,
		sessions:     make(map[string]*agent.Agent),
		StdinReader:  in,
		StdoutWriter: out,
		log:          log,
	}
	defer server.inflight.Wait()

	// Main read loop
	for {
		payload, err := server.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				log.Debug().Msg("EOF received, exiting")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Debug().Err(err).Msg("JSON parse error")
			_ = server.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("dispatching")
		switch req.Method {
		case "initialize":
			server.handleInitialize(&req)
		case "session/new":
			server.handleSessionNew(&req)
		case "session/prompt":
			server.inflight.Add(1)
			go func(req jsonrpcRequest) {
				defer server.inflight.Done()
				server.handleSessionPrompt(&req)
			}(req)
		case "_frend/roster":
			server.handleRoster(&req)
		default:
			if req.ID == nil {
				// Unknown notifications are ignored.
				continue
			}
			_ = server.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

// ---- Minimal ACP handling types ----

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ---- acpServer ----

// acpServer manages sessions, handles requests, and communicates with the
// client over stdio.
type acpServer struct {
	ctx      context.Context
	newAgent Factory

	sessions     map[string]*agent.Agent
	sessionsLock sync.Mutex
	inflight     sync.WaitGroup

	StdinReader  *bufio.Reader
	StdoutWriter *bufio.Writer
	writeLock    sync.Mutex
	log          zerolog.Logger
}

// readFramedMessage reads a single newline-delimited JSON-RPC payload.
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.StdinReader.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

// writeFramedJSON serializes obj and writes it followed by a newline.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.log.Trace().RawJSON("message", data).Msg("writing")

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.StdoutWriter.Write(data); err != nil {
		return err
	}
	// Write newline to stdout to inform client that message is complete
	if err := s.StdoutWriter.WriteByte('\n'); err != nil {
		return err
	}
	return s.StdoutWriter.Flush()
}

// writeResponseOK sends a successful JSON-RPC response with the given result
func (s *acpServer) writeResponseOK(id any, result any) error {
	if result == nil {
		result = json.RawMessage("null")
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// writeResponseError sends a JSON-RPC error response with the specified error code and message
func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.log.Debug().Int("code", code).Str("msg", msg).Interface("data", data).Msg("error response")
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a JSON-RPC notification (request without an ID)
func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decodeParams unmarshals request params into v, answering with an
// invalid-params error on failure.
func (s *acpServer) decodeParams(req *jsonrpcRequest, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

func (s *acpServer) lookup(req *jsonrpcRequest, sessionID string) (*agent.Agent, bool) {
	s.sessionsLock.Lock()
	a, ok := s.sessions[sessionID]
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
	}
	return a, ok
}

// ---- Handlers ----

// handleInitialize returns the protocol version and agent capabilities.
// Sessions live in memory only, so loadSession is not offered.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a session backed by a fresh agent and returns
// its id.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	a := s.newAgent()
	sid := a.Session.ID

	s.sessionsLock.Lock()
	s.sessions[sid] = a
	s.sessionsLock.Unlock()

	s.log.Debug().Str("session", sid).Msg("session created")
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// contentBlock represents a content block in ACP prompt requests.
// Only text blocks are used.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// handleSessionPrompt runs one turn. Every agent reply is sent as an
// agent_message_chunk notification as soon as it is appended; the response
// carries stopReason end_turn once all agents have been asked. A prompt
// arriving while the session's previous turn runs is rejected.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}

	callbacks := agent.ProcessCallbacks{
		OnAgentReply: func(msg session.Message) {
			_ = s.sendAgentMessageChunk(p.SessionID, msg.Content())
		},
		OnAgentSkipped: func(ag persona.Persona, err error) {
			s.log.Debug().Str("session", p.SessionID).Str("agent", ag.Name).Err(err).Msg("agent skipped")
		},
	}

	_, err := a.TrySubmit(s.ctx, extractUserText(p.Prompt), callbacks)
	switch {
	case errors.Is(err, agent.ErrBusy):
		_ = s.writeResponseError(req.ID, codeSessionBusy, "Session busy", nil)
		return
	case err != nil:
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "end_turn"})
}

// handleRoster returns the session roster, replacing it first when the
// request carries one.
func (s *acpServer) handleRoster(req *jsonrpcRequest) {
	var p struct {
		SessionID string          `json:"sessionId"`
		Roster    *persona.Roster `json:"roster,omitempty"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	if p.Roster != nil {
		_ = a.Session.UpdateRoster(func(r *persona.Roster) error {
			*r = p.Roster.Clone()
			return nil
		})
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"roster": a.Session.Roster()})
}

// sendAgentMessageChunk emits a session/update notification with an agent message chunk.
func (s *acpServer) sendAgentMessageChunk(sessionID, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

// extractUserText joins the non-blank text blocks of a prompt.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

