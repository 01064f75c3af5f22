package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/models"
)

// Session holds all mutable pipeline state for one production run: the scene
// table, the pipeline stage, the rotation cursor, the cooldown window and the
// running guard. It is created when a storyboard is submitted and torn down
// when the session ends or a new storyboard replaces it. Nothing survives a
// process restart.
//
// All mutation happens under mu. Only the batch merge step and the
// regeneration reset touch media items.
type Session struct {
	ID          uuid.UUID
	SongTitle   string
	AudioURL    string
	AspectRatio string
	CreatedAt   time.Time

	mu     sync.Mutex
	scenes []models.StoryboardScene    // ordered by scene number, immutable
	items  map[int]*models.MediaItem   // keyed by scene number, 1:1 with scenes
	epochs map[int]int                 // bumped on regeneration to discard stale completions

	stage          models.Stage
	cursor         int       // rotation cursor into the backend list
	lastBatchStart time.Time // zero = no video batch dispatched yet
	cooldownUntil  time.Time // zero = no deferred wait armed
	running        bool      // exclusivity guard for Advance

	combinedHandle     string // handle of the assembled artifact, empty = none
	assembleAuthorized bool   // latched once per distinct ready transition
	fatalErr           string
}

// NewSession builds a session from a storyboard, validating that scene
// numbers are unique and contiguous from 1, and creating exactly one pending
// media item per scene.
func NewSession(songTitle, audioURL, aspectRatio string, scenes []models.StoryboardScene) (*Session, error) {
	if len(scenes) == 0 {
		return nil, fmt.Errorf("storyboard has no scenes")
	}

	ordered := make([]models.StoryboardScene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SceneNumber < ordered[j].SceneNumber })

	items := make(map[int]*models.MediaItem, len(ordered))
	epochs := make(map[int]int, len(ordered))
	for i, sc := range ordered {
		if sc.SceneNumber != i+1 {
			return nil, fmt.Errorf("scene numbers must be contiguous from 1, got %d at position %d", sc.SceneNumber, i+1)
		}
		if sc.MediaKind != models.MediaKindVideo && sc.MediaKind != models.MediaKindImage {
			return nil, fmt.Errorf("scene %d has unknown media kind %q", sc.SceneNumber, sc.MediaKind)
		}
		items[sc.SceneNumber] = &models.MediaItem{
			SceneNumber: sc.SceneNumber,
			MediaKind:   sc.MediaKind,
			Status:      models.SceneStatusPending,
		}
		epochs[sc.SceneNumber] = 0
	}

	return &Session{
		ID:          uuid.New(),
		SongTitle:   songTitle,
		AudioURL:    audioURL,
		AspectRatio: aspectRatio,
		CreatedAt:   time.Now(),
		scenes:      ordered,
		items:       items,
		epochs:      epochs,
		stage:       models.StageInitial,
	}, nil
}

// pendingLocked returns the pending scenes of the given kind in scene order,
// capped at limit. Caller must hold mu.
func (s *Session) pendingLocked(kind models.MediaKind, limit int) []models.StoryboardScene {
	var out []models.StoryboardScene
	for _, sc := range s.scenes {
		if sc.MediaKind != kind {
			continue
		}
		if s.items[sc.SceneNumber].Status != models.SceneStatusPending {
			continue
		}
		out = append(out, sc)
		if len(out) == limit {
			break
		}
	}
	return out
}

// pendingCountLocked counts pending items of any kind. Caller must hold mu.
func (s *Session) pendingCountLocked() int {
	n := 0
	for _, it := range s.items {
		if it.Status == models.SceneStatusPending {
			n++
		}
	}
	return n
}

// readyLocked reports assembly readiness: every scene is exactly complete.
// Failed scenes block readiness; they require explicit regeneration.
// Caller must hold mu.
func (s *Session) readyLocked() bool {
	for _, it := range s.items {
		if it.Status != models.SceneStatusComplete {
			return false
		}
	}
	return true
}

// statusLocked builds the structured pipeline status. Caller must hold mu.
func (s *Session) statusLocked(now time.Time) models.PipelineStatus {
	st := models.PipelineStatus{
		Stage:           s.stage,
		ReadyToAssemble: s.readyLocked(),
		Assembled:       s.combinedHandle != "",
		FatalError:      s.fatalErr,
	}
	if !s.cooldownUntil.IsZero() {
		if remaining := s.cooldownUntil.Sub(now); remaining > 0 {
			st.CooldownSeconds = remaining.Seconds()
		}
	}
	return st
}

// Snapshot returns a consistent copy of the session's observable state for
// the status surface: structured status, ordered scene entries and the
// combined artifact handle.
func (s *Session) Snapshot() (models.PipelineStatus, []models.MediaItem, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.MediaItem, 0, len(s.scenes))
	for _, sc := range s.scenes {
		items = append(items, *s.items[sc.SceneNumber])
	}
	return s.statusLocked(time.Now()), items, s.combinedHandle
}

// Scenes returns the immutable storyboard in scene order.
func (s *Session) Scenes() []models.StoryboardScene {
	out := make([]models.StoryboardScene, len(s.scenes))
	copy(out, s.scenes)
	return out
}

// Stage returns the current pipeline stage.
func (s *Session) Stage() models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}
