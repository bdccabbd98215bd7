package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/m4xw311/frend/persona"
)

// Session is the state of one conversation: the roster the operator edits,
// the transcript the orchestrator appends to, and whether a turn is running.
// Nothing is persisted; a session ends with the process.
type Session struct {
	ID string

	mu     sync.RWMutex
	roster persona.Roster

	transcript *Transcript
	busy       atomic.Bool
}

// New creates a session starting from a copy of roster.
func New(roster persona.Roster) *Session {
	return &Session{
		ID:         uuid.NewString(),
		roster:     roster.Clone(),
		transcript: NewTranscript(),
	}
}

// Roster returns a snapshot of the roster. Edits to the snapshot do not
// reach the session; use UpdateRoster for that.
func (s *Session) Roster() persona.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster.Clone()
}

// UpdateRoster applies fn to the roster under the session lock. If fn
// returns an error the roster is left untouched.
func (s *Session) UpdateRoster(fn func(r *persona.Roster) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.roster.Clone()
	if err := fn(&draft); err != nil {
		return err
	}
	s.roster = draft
	return nil
}

// Transcript is the conversation so far.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// SetBusy flips the busy flag and reports whether it changed.
func (s *Session) SetBusy(busy bool) bool {
	return s.busy.CompareAndSwap(!busy, busy)
}
