package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/halloy/songreel/internal/models"
	"golang.org/x/sync/errgroup"
)

// pendingCall is one scene captured at dispatch time, pinned to the epoch it
// had when selected. A completion whose epoch no longer matches the scene's
// current epoch is discarded at merge: the scene was regenerated while the
// call was in flight.
type pendingCall struct {
	scene models.StoryboardScene
	epoch int
}

type callResult struct {
	handle string
	err    error
}

// runBatch is the batch executor. Caller must hold s.mu with the running
// guard set; the lock is released while the generation calls are in flight
// and re-acquired for the merge.
//
// Contract (per batch):
//   - every selected item is marked generating in one locked write before
//     any call is issued, so progress is observable;
//   - one generation call per scene runs concurrently;
//   - the merge waits for every call to settle (join semantics) and writes
//     all outcomes back in one locked pass; a failure on one scene never
//     blocks its siblings and is never retried automatically;
//   - a panic out of the dispatch layer conservatively fails every item of
//     the batch so nothing is left stuck in generating.
func (p *Pipeline) runBatch(ctx context.Context, s *Session, batch []models.StoryboardScene, backend string) (err error) {
	kind := batch[0].MediaKind
	aspect := s.AspectRatio

	calls := make([]pendingCall, 0, len(batch))
	for _, sc := range batch {
		it := s.items[sc.SceneNumber]
		it.Status = models.SceneStatusGenerating
		it.ArtifactHandle = ""
		it.ErrorDetail = ""
		calls = append(calls, pendingCall{scene: sc, epoch: s.epochs[sc.SceneNumber]})
	}
	sessionID := s.ID
	s.mu.Unlock()

	if backend != "" {
		log.Printf("[Pipeline] Session %s: dispatching %s batch of %d (backend=%s)", sessionID, kind, len(calls), backend)
	} else {
		log.Printf("[Pipeline] Session %s: dispatching %s batch of %d", sessionID, kind, len(calls))
	}

	// Plain errgroup, no shared cancellation: each call settles
	// independently and its outcome lands in its own slot. Per-scene
	// failures go into the slot and return nil; the group error is reserved
	// for panics. The recover must sit inside each worker, on the goroutine
	// that panics, or the process dies before the merge can run.
	results := make([]callResult, len(calls))
	var g errgroup.Group
	for i, c := range calls {
		i, c := i, c
		g.Go(func() (werr error) {
			defer func() {
				if r := recover(); r != nil {
					werr = fmt.Errorf("batch dispatch failed: %v", r)
				}
			}()
			var handle string
			var genErr error
			if kind == models.MediaKindVideo {
				handle, genErr = p.video.GenerateVideo(ctx, c.scene.GenerationPrompt, aspect, backend)
			} else {
				handle, genErr = p.image.GenerateImage(ctx, c.scene.GenerationPrompt, aspect)
			}
			results[i] = callResult{handle: handle, err: genErr}
			return nil
		})
	}
	err = g.Wait()

	s.mu.Lock()
	if err != nil {
		// Catastrophic dispatch error: individual outcomes are unknown, so
		// every item still generating from this batch is failed
		// conservatively and the error surfaces to the caller. State stays
		// consistent and resumable. Slots that did settle with an artifact
		// are released, since their scenes are failed anyway.
		for i, c := range calls {
			it := s.items[c.scene.SceneNumber]
			if it.Status == models.SceneStatusGenerating && s.epochs[c.scene.SceneNumber] == c.epoch {
				it.Status = models.SceneStatusFailed
				it.ErrorDetail = err.Error()
			}
			if res := results[i]; res.err == nil && res.handle != "" {
				p.releaseAsync(res.handle)
			}
		}
		s.fatalErr = err.Error()
		s.running = false
		s.mu.Unlock()
		return err
	}

	for i, c := range calls {
		it := s.items[c.scene.SceneNumber]
		if s.epochs[c.scene.SceneNumber] != c.epoch || it.Status != models.SceneStatusGenerating {
			// Stale completion: the scene was reset and possibly
			// re-dispatched while this call ran. Drop the result and
			// release any artifact it produced.
			log.Printf("[Pipeline] Session %s: discarding stale result for scene %d", sessionID, c.scene.SceneNumber)
			if res := results[i]; res.err == nil {
				p.releaseAsync(res.handle)
			}
			continue
		}
		if res := results[i]; res.err != nil {
			it.Status = models.SceneStatusFailed
			it.ErrorDetail = res.err.Error()
			log.Printf("[Pipeline] Session %s: scene %d failed: %v", sessionID, c.scene.SceneNumber, res.err)
		} else {
			it.Status = models.SceneStatusComplete
			it.ArtifactHandle = res.handle
			log.Printf("[Pipeline] Session %s: scene %d complete (%s)", sessionID, c.scene.SceneNumber, res.handle)
		}
	}

	// The image pass hands over as soon as nothing is left pending for it,
	// whether that happened immediately or after this batch settled.
	if kind == models.MediaKindImage && s.stage == models.StageImagePass &&
		len(s.pendingLocked(models.MediaKindImage, 1)) == 0 {
		s.stage = models.StageVideoPass2
	}

	p.evaluateReadyLocked(ctx, s)
	s.running = false
	s.mu.Unlock()

	// Every settled batch enqueues exactly one follow-up advance.
	if qerr := p.sched.EnqueueAdvance(ctx, sessionID); qerr != nil {
		log.Printf("[Pipeline] Session %s: failed to enqueue follow-up advance: %v", sessionID, qerr)
	}
	return nil
}
