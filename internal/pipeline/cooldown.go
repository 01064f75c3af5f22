package pipeline

import (
	"context"
	"log"
	"time"
)

// gateCooldownLocked is the cooldown governor for video-bearing batches.
//
// Grant path: no previous video batch, or the window has elapsed. A grant
// stamps lastBatchStart before any call is issued, so the cooldown measures
// spacing between dispatch starts, not between completions.
//
// Deny path: a single deferred timer is armed for the remaining wait. The
// running guard stays held across the wait (a re-check triggered from the
// outside must not dispatch) and the timer callback's only job is to
// release the guard and enqueue one advance. Returns true when deferred;
// the session lock is released either way on the deferred path.
//
// The image pass never consults this gate. Caller must hold s.mu.
func (p *Pipeline) gateCooldownLocked(ctx context.Context, s *Session) bool {
	now := p.now()
	if s.lastBatchStart.IsZero() || now.Sub(s.lastBatchStart) >= p.cooldown {
		s.lastBatchStart = now
		s.cooldownUntil = time.Time{}
		return false
	}

	remaining := p.cooldown - now.Sub(s.lastBatchStart)
	s.cooldownUntil = now.Add(remaining)
	sessionID := s.ID
	log.Printf("[Pipeline] Session %s: cooldown active, waiting %.0fs before next video batch", sessionID, remaining.Seconds())

	p.afterFunc(remaining, func() {
		s.mu.Lock()
		s.cooldownUntil = time.Time{}
		s.running = false
		s.mu.Unlock()
		if err := p.sched.EnqueueAdvance(context.Background(), sessionID); err != nil {
			log.Printf("[Pipeline] Session %s: failed to enqueue advance after cooldown: %v", sessionID, err)
		}
	})

	s.mu.Unlock()
	return true
}

// rotation selector: the backend for a video batch is list[cursor mod len].
// Pass 1 treats cursor >= len as a stop condition before ever calling this;
// pass 2 relies on the modulo to wrap indefinitely. The cursor advances by
// exactly one per dispatched video batch regardless of batch size.
func (p *Pipeline) selectBackend(cursor int) string {
	return p.backends[cursor%len(p.backends)]
}
