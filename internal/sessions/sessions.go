// Package sessions provides in-memory session management for
// multi-turn conversations with provisioning agents. Sessions exist so
// the UI can resume a conversation and correlate it with the stacks it
// touched; nothing survives a restart.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackhand/console/pkg/models"
)

// ErrNotFound is returned when a requested session does not exist.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "session not found: " + e.Key
}

// Store is a thread-safe in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // key: session ID
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
	}
}

// Create stores a new session for the given agent. A blank ID is
// assigned a fresh UUID.
func (s *Store) Create(_ context.Context, agentID string, kind models.AgentKind) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		AgentKind: kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, exists := s.sessions[session.ID]; exists {
		return nil, fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	return clone(session), nil
}

// Ensure returns the session with the given ID, creating it if it does
// not exist yet. Callers supply their own stable session IDs; a blank
// ID gets a fresh UUID.
func (s *Store) Ensure(_ context.Context, sessionID, agentID string, kind models.AgentKind) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID != "" {
		if existing, ok := s.sessions[sessionID]; ok {
			return clone(existing), nil
		}
	} else {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:        sessionID,
		AgentID:   agentID,
		AgentKind: kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = session
	return clone(session), nil
}

// Get retrieves a session by ID.
func (s *Store) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{Key: sessionID}
	}
	return clone(session), nil
}

// AppendTurn records one completed conversation turn.
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return &ErrNotFound{Key: sessionID}
	}
	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordStack associates a stack name with the session. Recording the
// same name twice is a no-op.
func (s *Store) RecordStack(_ context.Context, sessionID, stackName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return &ErrNotFound{Key: sessionID}
	}
	for _, name := range session.Stacks {
		if name == stackName {
			return nil
		}
	}
	session.Stacks = append(session.Stacks, stackName)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns all sessions, optionally filtered by agent kind.
// Results are copies; mutating them does not affect the store.
func (s *Store) List(_ context.Context, kind models.AgentKind) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Session
	for _, sess := range s.sessions {
		if kind != "" && sess.AgentKind != kind {
			continue
		}
		result = append(result, *clone(sess))
	}
	return result, nil
}

// Delete removes a session.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return &ErrNotFound{Key: sessionID}
	}
	delete(s.sessions, sessionID)
	return nil
}

// clone deep-copies a session so callers never share slices with the
// store's copy.
func clone(in *models.Session) *models.Session {
	out := *in
	out.Turns = append([]models.Turn(nil), in.Turns...)
	out.Stacks = append([]string(nil), in.Stacks...)
	return &out
}
