// Package agent runs multi-agent conversations for the frend system.
//
// This package contains the code shared by every interaction mode (terminal
// REPL, ACP server, MCP server). It defines the Agent type, which owns the
// send flow of one session.
//
// # The send flow
//
// Submit appends the operator's message to the session transcript, then
// visits every active agent persona of the roster, in roster order, one at a
// time. Each agent receives its persona prompt as the system instruction and
// the whole transcript as history, including the replies other agents added
// earlier in the same turn. A successful reply is appended immediately.
//
// A failing agent (transport error, bad status, empty reply, even a panic in
// the client) contributes nothing: the failure is logged and reported
// through OnAgentSkipped, and the next agent runs. A turn never aborts
// because of one agent.
//
// # Usage
//
//	sess := session.New(persona.DefaultRoster())
//	a := agent.New(sess, client, agent.Settings{}, logger)
//
//	turn, err := a.Submit(ctx, "hello", agent.ProcessCallbacks{
//	    OnAgentReply: func(msg session.Message) {
//	        fmt.Printf("%s: %s\n", msg.Speaker.Name, msg.Text)
//	    },
//	})
//
// # Busy state
//
// Turns never overlap. Submit waits for a running turn to finish before
// appending; TrySubmit returns ErrBusy instead, for front ends that disable
// input while agents are answering.
//
// # Subpackages
//
// agent/terminal: interactive command-line REPL with roster editing
// commands.
//
// agent/acp: Agent Client Protocol server over stdio.
//
// agent/mcp: Model Context Protocol server exposing the conversation as
// tools.
package agent
