package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/models"
)

var (
	// ErrUnknownScene is returned when an operation names a scene number
	// the storyboard does not contain.
	ErrUnknownScene = errors.New("unknown scene number")

	// ErrNotRegenerable is returned when regeneration is requested for a
	// scene that is not in a terminal state.
	ErrNotRegenerable = errors.New("scene is not complete or failed")

	// ErrNoBackends is a configuration error: the pipeline cannot dispatch
	// video batches without at least one backend identifier.
	ErrNoBackends = errors.New("no video backends configured")
)

// VideoGenerator produces one video artifact per call. Latency is minutes and
// backends are quota-limited, which is what the cooldown and rotation exist
// to respect. Returns the artifact handle.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, prompt, aspectRatio, backend string) (string, error)
}

// ImageGenerator produces one still-image artifact per call. Latency is
// seconds and calls are not rate-limited.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error)
}

// AssemblyPart is one entry of the ordered list handed to the assembler.
type AssemblyPart struct {
	SceneNumber    int
	MediaKind      models.MediaKind
	ArtifactHandle string
}

// Assembler combines all completed artifacts with the song's audio track
// into one final artifact, returning its handle.
type Assembler interface {
	Assemble(ctx context.Context, parts []AssemblyPart, audioURL string) (string, error)
}

// ArtifactStore releases externally held artifacts when a scene is
// regenerated or a combined artifact goes stale. The cleanup contract is
// owned by the store; release failures are logged, not propagated.
type ArtifactStore interface {
	Release(ctx context.Context, handle string) error
}

// Scheduler is the explicit re-trigger mechanism: every successful mutation
// and every fired cooldown timer enqueues exactly one follow-up job.
type Scheduler interface {
	EnqueueAdvance(ctx context.Context, sessionID uuid.UUID) error
	EnqueueAssemble(ctx context.Context, sessionID uuid.UUID) error
}

// Pipeline drives a session through its stages, one dispatched batch per
// Advance invocation. It owns the cooldown governor, the backend rotation
// selector, the batch executor and the completion aggregator.
type Pipeline struct {
	video VideoGenerator
	image ImageGenerator
	asm   Assembler
	store ArtifactStore
	sched Scheduler

	backends       []string
	videoBatchSize int
	imageBatchSize int
	cooldown       time.Duration

	// Indirections for tests; production uses the real clock.
	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// Options configures a Pipeline.
type Options struct {
	Backends       []string // ordered video backend identifiers, length >= 1
	VideoBatchSize int      // default 2
	ImageBatchSize int      // default 20
	Cooldown       time.Duration
}

// New creates a pipeline. Backends must be non-empty; this is validated again
// on every Advance so a misconfigured pipeline fails loudly, not silently.
func New(video VideoGenerator, image ImageGenerator, asm Assembler, store ArtifactStore, sched Scheduler, opts Options) (*Pipeline, error) {
	if len(opts.Backends) == 0 {
		return nil, ErrNoBackends
	}
	if opts.VideoBatchSize <= 0 {
		opts.VideoBatchSize = 2
	}
	if opts.ImageBatchSize <= 0 {
		opts.ImageBatchSize = 20
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 61 * time.Second
	}
	return &Pipeline{
		video:          video,
		image:          image,
		asm:            asm,
		store:          store,
		sched:          sched,
		backends:       opts.Backends,
		videoBatchSize: opts.VideoBatchSize,
		imageBatchSize: opts.ImageBatchSize,
		cooldown:       opts.Cooldown,
		now:            time.Now,
		afterFunc:      time.AfterFunc,
	}, nil
}

// Advance moves the session forward by at most one dispatched batch. The
// caller (the scheduler loop) re-invokes it after every mutation; this is a
// deliberate one-batch-per-invocation policy, not a tight loop.
//
// The running guard makes overlapping invocations no-ops: a second Advance
// during an in-flight batch or an armed cooldown wait must not re-select
// scenes that are already dispatched.
func (p *Pipeline) Advance(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true

	if len(p.backends) == 0 {
		// Configuration error: abort before any dispatch, guard released.
		s.fatalErr = ErrNoBackends.Error()
		s.running = false
		s.mu.Unlock()
		return ErrNoBackends
	}

	for {
		switch s.stage {
		case models.StageInitial:
			if s.pendingCountLocked() == 0 {
				s.stage = models.StageDone
				continue
			}
			if len(s.pendingLocked(models.MediaKindVideo, 1)) > 0 {
				s.stage = models.StageVideoPass1
			} else {
				s.stage = models.StageImagePass
			}
			continue

		case models.StageVideoPass1:
			batch := s.pendingLocked(models.MediaKindVideo, p.videoBatchSize)
			if len(batch) == 0 || s.cursor >= len(p.backends) {
				// Pass 1 stops at cursor exhaustion: one attempt per
				// configured backend, leftovers swept up in pass 2.
				s.stage = models.StageImagePass
				s.cursor = 0
				continue
			}
			if deferred := p.gateCooldownLocked(ctx, s); deferred {
				return nil
			}
			backend := p.selectBackend(s.cursor)
			s.cursor++
			return p.runBatch(ctx, s, batch, backend)

		case models.StageImagePass:
			batch := s.pendingLocked(models.MediaKindImage, p.imageBatchSize)
			if len(batch) == 0 {
				s.stage = models.StageVideoPass2
				continue
			}
			// Images carry no cooldown cost and no backend rotation.
			return p.runBatch(ctx, s, batch, "")

		case models.StageVideoPass2:
			batch := s.pendingLocked(models.MediaKindVideo, p.videoBatchSize)
			if len(batch) == 0 {
				s.stage = models.StageDone
				continue
			}
			if deferred := p.gateCooldownLocked(ctx, s); deferred {
				return nil
			}
			// Pass 2 wraps the cursor indefinitely so remaining scenes get
			// dispatched even with a single backend.
			backend := p.selectBackend(s.cursor)
			s.cursor++
			return p.runBatch(ctx, s, batch, backend)

		case models.StageDone:
			p.evaluateReadyLocked(ctx, s)
			s.running = false
			s.mu.Unlock()
			return nil

		default:
			s.running = false
			s.mu.Unlock()
			return fmt.Errorf("unknown pipeline stage %q", s.stage)
		}
	}
}

// evaluateReadyLocked is the completion aggregator: called after every batch
// settles and whenever the stage reaches done. Readiness requires every
// scene to be exactly complete; failed scenes block assembly until they are
// regenerated. Each distinct ready transition authorizes exactly one
// assembly job. Caller must hold s.mu.
func (p *Pipeline) evaluateReadyLocked(ctx context.Context, s *Session) {
	if !s.readyLocked() || s.assembleAuthorized {
		return
	}
	s.assembleAuthorized = true
	log.Printf("[Pipeline] Session %s: all %d scenes complete, authorizing assembly", s.ID, len(s.scenes))
	if err := p.sched.EnqueueAssemble(ctx, s.ID); err != nil {
		log.Printf("[Pipeline] Session %s: failed to enqueue assembly: %v", s.ID, err)
		s.assembleAuthorized = false
	}
}

// Assemble performs the authorized assembly call: downloads nothing itself,
// just hands the ordered artifact list and the audio track to the assembler
// and records the combined handle. A regeneration racing with assembly
// clears the authorization latch; in that case the freshly built artifact is
// stale and is released instead of recorded.
func (p *Pipeline) Assemble(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if !s.assembleAuthorized || s.combinedHandle != "" || !s.readyLocked() {
		s.mu.Unlock()
		return nil
	}
	parts := make([]AssemblyPart, 0, len(s.scenes))
	for _, sc := range s.scenes {
		it := s.items[sc.SceneNumber]
		parts = append(parts, AssemblyPart{
			SceneNumber:    sc.SceneNumber,
			MediaKind:      sc.MediaKind,
			ArtifactHandle: it.ArtifactHandle,
		})
	}
	audioURL := s.AudioURL
	s.mu.Unlock()

	handle, err := p.asm.Assemble(ctx, parts, audioURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Clear the latch so the next ready transition can retry.
		s.assembleAuthorized = false
		s.fatalErr = fmt.Sprintf("assembly failed: %v", err)
		return fmt.Errorf("assembly failed: %w", err)
	}
	if !s.assembleAuthorized {
		// A scene was regenerated while assembly ran; the result is stale.
		log.Printf("[Pipeline] Session %s: discarding stale combined artifact %s", s.ID, handle)
		p.releaseAsync(handle)
		return nil
	}
	s.combinedHandle = handle
	log.Printf("[Pipeline] Session %s: combined artifact ready: %s", s.ID, handle)
	return nil
}

// releaseAsync requests release of an externally held artifact without
// blocking pipeline state transitions. Cleanup is owned by the store.
func (p *Pipeline) releaseAsync(handle string) {
	if handle == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.store.Release(ctx, handle); err != nil {
			log.Printf("[Pipeline] Failed to release artifact %s: %v", handle, err)
		}
	}()
}
