// Package terminal implements the command-line interface (CLI) mode for frend.
//
// The operator types a line and every active agent answers in turn; each
// reply is printed as "<agent name>: <text>" as soon as it arrives. Lines
// starting with a slash edit the roster instead of being sent:
//
//	/roster                  show the user persona and agents
//	/toggle <n|user>         switch a persona on or off
//	/prompt <n|user> <text>  set a persona prompt
//	/name <n|user> <text>    rename a persona
//	/add [name]              add an active agent
//	/preset <topic>          generate a cast for a scenario topic
//	/transcript              print the conversation so far
//	/quit, /exit             leave
//
// Agents that fail to answer are left out of the turn without any message
// on the terminal; the reason goes to the diagnostic log.
package terminal
