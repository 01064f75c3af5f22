package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/storage"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo Video Generation Service
// Generates one scene clip per call via the Google Gen AI SDK. The backend
// identifier chosen by the pipeline's rotation selector is the Veo model
// name, so quota pressure spreads across the configured model pool.
// ---------------------------------------------------------------------------

const (
	videoPollInterval    = 10 * time.Second
	videoMaxPollDuration = 8 * time.Minute // Hard cap per scene clip
)

// VideoService handles scene video generation. Completed clips are uploaded
// to the artifact store and referenced by their object path, the opaque
// artifact handle the pipeline records per scene.
type VideoService struct {
	apiKey string
	store  *storage.Store
}

func NewVideoService(apiKey string, store *storage.Store) *VideoService {
	return &VideoService{apiKey: apiKey, store: store}
}

// buildScenePrompt wraps the storyboard's generation prompt with direction
// that keeps clips usable as music-video cuts: no speech, no text overlays,
// motion that survives a hard cut into the next scene.
func buildScenePrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Cinematic music-video shot. Smooth, deliberate camera motion; natural lighting consistent within the shot. No on-screen text, captions, watermarks, or logos. No speech or lip-synced dialogue; this clip will be cut to an external audio track. Begin and end on stable framing so the clip survives a hard cut.`, rawPrompt)
}

// GenerateVideo generates one scene clip using the given backend (Veo model
// identifier), polls the long-running operation to completion, downloads the
// result and uploads it to the artifact store.
//
// This blocks the calling goroutine for minutes. That is intentional: the
// batch executor runs each scene's call in its own goroutine and joins the
// whole batch.
//
// Returns the artifact handle (storage object path) or an error.
func (s *VideoService) GenerateVideo(ctx context.Context, prompt, aspectRatio, backend string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspectRatio,
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	log.Printf("[Video] Starting generation (backend=%s, aspect=%s, promptLen=%d)", backend, aspectRatio, len(prompt))

	operation, err := client.Models.GenerateVideos(ctx, backend, buildScenePrompt(prompt), nil, config)
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}

	log.Printf("[Video] Operation started: %s", operation.Name)

	// Poll until done, cancelled, or timed out
	deadline := time.Now().Add(videoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("video generation timed out after %v (polled %d times)", videoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(videoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return "", fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return "", fmt.Errorf("video generation operation failed: %s", string(errJSON))
	}

	if operation.Response == nil {
		return "", fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return "", fmt.Errorf("video blocked by safety filters: %d video(s) filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons)
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		return "", fmt.Errorf("no videos in response")
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return "", fmt.Errorf("generated video object is nil")
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return "", fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return "", fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	handle := fmt.Sprintf("scenes/%s.mp4", uuid.New())
	if err := s.store.Upload(ctx, handle, videoBytes, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to upload video artifact: %w", err)
	}

	log.Printf("[Video] Clip ready (%d bytes, %d polls, handle=%s)", len(videoBytes), pollCount, handle)
	return handle, nil
}
