package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/models"
)

// ErrNoSession is returned when an operation targets the current session but
// none is active.
var ErrNoSession = errors.New("no active production session")

// Manager owns the single active production session. Submitting a new
// storyboard tears down the previous session: its in-flight generation calls
// run to completion against the abandoned session object and are never
// merged into the new one. Advance and assemble jobs carry the session ID so
// jobs queued for a replaced session are dropped.
type Manager struct {
	pipeline *Pipeline

	mu      sync.Mutex
	current *Session
}

func NewManager(p *Pipeline) *Manager {
	return &Manager{pipeline: p}
}

// Submit creates a fresh session for a storyboard, replacing any active one,
// and enqueues the first advance.
func (m *Manager) Submit(ctx context.Context, songTitle, audioURL, aspectRatio string, scenes []models.StoryboardScene) (*Session, error) {
	s, err := NewSession(songTitle, audioURL, aspectRatio, scenes)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.current != nil {
		log.Printf("[Pipeline] Replacing session %s with %s", m.current.ID, s.ID)
	}
	m.current = s
	m.mu.Unlock()

	if err := m.pipeline.sched.EnqueueAdvance(ctx, s.ID); err != nil {
		return nil, fmt.Errorf("failed to enqueue initial advance: %w", err)
	}
	return s, nil
}

// Current returns the active session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, false
	}
	return m.current, true
}

// lookup resolves a job's session ID against the active session. Jobs for
// replaced sessions resolve to nothing and are silently dropped.
func (m *Manager) lookup(sessionID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != sessionID {
		return nil, false
	}
	return m.current, true
}

// Advance runs one pipeline advance for the named session.
func (m *Manager) Advance(ctx context.Context, sessionID uuid.UUID) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		log.Printf("[Pipeline] Dropping advance for stale session %s", sessionID)
		return nil
	}
	return m.pipeline.Advance(ctx, s)
}

// Assemble runs the authorized assembly for the named session.
func (m *Manager) Assemble(ctx context.Context, sessionID uuid.UUID) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		log.Printf("[Pipeline] Dropping assembly for stale session %s", sessionID)
		return nil
	}
	return m.pipeline.Assemble(ctx, s)
}

// Regenerate resets one scene of the current session.
func (m *Manager) Regenerate(ctx context.Context, sceneNumber int) error {
	s, ok := m.Current()
	if !ok {
		return ErrNoSession
	}
	return m.pipeline.Regenerate(ctx, s, sceneNumber)
}
