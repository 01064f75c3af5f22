package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums

// MediaKind is the kind of artifact a storyboard scene requires.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindImage MediaKind = "image"
)

// SceneStatus is the generation status of a single scene's media item.
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusGenerating SceneStatus = "generating"
	SceneStatusComplete   SceneStatus = "complete"
	SceneStatusFailed     SceneStatus = "failed"
)

// Terminal reports whether the status is a settled outcome (complete or failed).
func (s SceneStatus) Terminal() bool {
	return s == SceneStatusComplete || s == SceneStatusFailed
}

// Stage is the pipeline stage of a production session.
// Video scenes are front-loaded in pass 1 (one batch attempt per configured
// backend), images are filled in the middle because they carry no cooldown
// cost, and leftover videos are swept up in pass 2 with cursor wraparound.
type Stage string

const (
	StageInitial    Stage = "initial"
	StageVideoPass1 Stage = "video_pass_1"
	StageImagePass  Stage = "image_pass"
	StageVideoPass2 Stage = "video_pass_2"
	StageDone       Stage = "done"
)

// Models

// StoryboardScene is one unit of the storyboard. Immutable once the
// storyboard is produced; scene numbers are unique and contiguous from 1.
type StoryboardScene struct {
	SceneNumber      int       `json:"scene_number"`
	MediaKind        MediaKind `json:"media_kind"`
	DescriptiveText  string    `json:"descriptive_text"`
	GenerationPrompt string    `json:"generation_prompt"`
}

// MediaItem is the mutable generation state for one storyboard scene.
// Exactly one item exists per scene for the lifetime of the session.
type MediaItem struct {
	SceneNumber    int         `json:"scene_number"`
	MediaKind      MediaKind   `json:"media_kind"`
	Status         SceneStatus `json:"status"`
	ArtifactHandle string      `json:"artifact_handle,omitempty"` // set iff complete
	ErrorDetail    string      `json:"error_detail,omitempty"`    // set iff failed
}

// PipelineStatus is the structured stage/cooldown status of a session,
// machine-checkable rather than a free-text status string.
type PipelineStatus struct {
	Stage           Stage   `json:"stage"`
	CooldownSeconds float64 `json:"cooldown_seconds,omitempty"` // remaining wait before next video batch
	ReadyToAssemble bool    `json:"ready_to_assemble"`
	Assembled       bool    `json:"assembled"`
	FatalError      string  `json:"fatal_error,omitempty"`
}

// String renders the human-readable form shown in logs and the UI banner.
func (s PipelineStatus) String() string {
	if s.FatalError != "" {
		return fmt.Sprintf("pipeline error: %s", s.FatalError)
	}
	if s.CooldownSeconds > 0 {
		return fmt.Sprintf("waiting %.0fs for cooldown", s.CooldownSeconds)
	}
	if s.Assembled {
		return "assembled"
	}
	if s.ReadyToAssemble {
		return "ready to assemble"
	}
	return string(s.Stage)
}

// DTOs for API responses

type CreateProductionRequest struct {
	SongTitle   string  `json:"song_title"`
	Lyrics      string  `json:"lyrics"`
	AudioURL    string  `json:"audio_url"`
	AspectRatio *string `json:"aspect_ratio,omitempty"` // Default: "16:9"
	SceneCount  *int    `json:"scene_count,omitempty"`  // Default: 12
}

type CreateProductionResponse struct {
	SessionID  uuid.UUID `json:"session_id"`
	SceneCount int       `json:"scene_count"`
	Stage      Stage     `json:"stage"`
}

// SceneResponse is a MediaItem joined with its scene's prompt text and a
// resolved public URL for the artifact, if one exists.
type SceneResponse struct {
	MediaItem
	DescriptiveText string  `json:"descriptive_text"`
	ArtifactURL     *string `json:"artifact_url,omitempty"`
}

type SessionResponse struct {
	SessionID   uuid.UUID       `json:"session_id"`
	SongTitle   string          `json:"song_title"`
	Status      PipelineStatus  `json:"status"`
	StatusText  string          `json:"status_text"`
	Scenes      []SceneResponse `json:"scenes"`
	CombinedURL *string         `json:"combined_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RegenerateResponse struct {
	SceneNumber int   `json:"scene_number"`
	Stage       Stage `json:"stage"`
}
