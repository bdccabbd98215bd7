// Package session holds the in-memory state of one conversation.
//
// A Session owns the roster, the transcript and the busy flag. The
// transcript only grows: messages are appended in the order the
// orchestrator produces them and are never edited or removed, so front ends
// can render it incrementally with Since.
package session
