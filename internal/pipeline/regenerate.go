package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/halloy/songreel/internal/models"
)

// Regenerate resets one terminal scene so it re-enters the pipeline, without
// disturbing any other scene's status, handle or error.
//
// As one atomic unit under the session lock: the scene goes back to pending
// with its handle and error cleared and its epoch bumped (so a still-in-
// flight call for the old attempt is discarded at merge), the stage resets to
// initial, the rotation cursor resets to 0, and any combined artifact is
// invalidated since it is now stale. Release of the externally held
// artifacts is requested after the state change; the cleanup contract is
// owned by the artifact store.
func (p *Pipeline) Regenerate(ctx context.Context, s *Session, sceneNumber int) error {
	s.mu.Lock()
	it, ok := s.items[sceneNumber]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownScene, sceneNumber)
	}
	if !it.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: scene %d is %s", ErrNotRegenerable, sceneNumber, it.Status)
	}

	var stale []string
	if it.ArtifactHandle != "" {
		stale = append(stale, it.ArtifactHandle)
	}
	it.Status = models.SceneStatusPending
	it.ArtifactHandle = ""
	it.ErrorDetail = ""
	s.epochs[sceneNumber]++

	s.stage = models.StageInitial
	s.cursor = 0
	s.fatalErr = ""

	if s.combinedHandle != "" {
		stale = append(stale, s.combinedHandle)
		s.combinedHandle = ""
	}
	s.assembleAuthorized = false
	sessionID := s.ID
	s.mu.Unlock()

	for _, handle := range stale {
		p.releaseAsync(handle)
	}

	log.Printf("[Pipeline] Session %s: scene %d reset for regeneration", sessionID, sceneNumber)

	// Re-arm the pipeline: one advance per mutation.
	if err := p.sched.EnqueueAdvance(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to enqueue advance after regeneration: %w", err)
	}
	return nil
}
