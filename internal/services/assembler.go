package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/models"
	"github.com/halloy/songreel/internal/pipeline"
	"github.com/halloy/songreel/internal/storage"
)

// AssemblerService builds the final combined artifact: every completed
// scene's clip or still, in storyboard order, concatenated and laid over the
// song's audio track. Invoked only when the completion aggregator has
// authorized assembly, so every handle it receives points at a complete
// artifact.
type AssemblerService struct {
	store       *storage.Store
	ffmpeg      *FFmpegService
	aspectRatio string
	client      *http.Client
}

func NewAssemblerService(store *storage.Store, ffmpeg *FFmpegService, aspectRatio string) *AssemblerService {
	return &AssemblerService{
		store:       store,
		ffmpeg:      ffmpeg,
		aspectRatio: aspectRatio,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

// Assemble implements the pipeline's Assembler contract. Returns the handle
// of the combined artifact.
func (s *AssemblerService) Assemble(ctx context.Context, parts []pipeline.AssemblyPart, audioURL string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("nothing to assemble")
	}

	log.Printf("[Assembler] Assembling %d scenes", len(parts))

	var tempFiles []string
	defer func() { s.ffmpeg.Cleanup(tempFiles...) }()

	// Download every artifact and normalize it into a concat-ready segment.
	var segmentPaths []string
	for _, part := range parts {
		data, err := s.store.Download(ctx, part.ArtifactHandle)
		if err != nil {
			return "", fmt.Errorf("failed to download artifact for scene %d: %w", part.SceneNumber, err)
		}

		var segPath string
		switch part.MediaKind {
		case models.MediaKindImage:
			imgPath := s.ffmpeg.CreateTempFile(fmt.Sprintf("scene_%03d.png", part.SceneNumber))
			tempFiles = append(tempFiles, imgPath)
			if err := os.WriteFile(imgPath, data, 0644); err != nil {
				return "", fmt.Errorf("failed to write image for scene %d: %w", part.SceneNumber, err)
			}

			segPath = s.ffmpeg.CreateTempFile(fmt.Sprintf("seg_%03d.mp4", part.SceneNumber))
			tempFiles = append(tempFiles, segPath)
			if err := s.ffmpeg.RenderImageSegment(ctx, imgPath, segPath, s.aspectRatio); err != nil {
				return "", fmt.Errorf("failed to render image segment for scene %d: %w", part.SceneNumber, err)
			}

		default: // video
			rawPath := s.ffmpeg.CreateTempFile(fmt.Sprintf("raw_%03d.mp4", part.SceneNumber))
			tempFiles = append(tempFiles, rawPath)
			if err := os.WriteFile(rawPath, data, 0644); err != nil {
				return "", fmt.Errorf("failed to write clip for scene %d: %w", part.SceneNumber, err)
			}

			segPath = s.ffmpeg.CreateTempFile(fmt.Sprintf("seg_%03d.mp4", part.SceneNumber))
			tempFiles = append(tempFiles, segPath)
			if err := s.ffmpeg.NormalizeClip(ctx, rawPath, segPath, s.aspectRatio); err != nil {
				return "", fmt.Errorf("failed to normalize clip for scene %d: %w", part.SceneNumber, err)
			}
		}

		segmentPaths = append(segmentPaths, segPath)
	}

	// Concatenate in storyboard order.
	concatPath := s.ffmpeg.CreateTempFile(fmt.Sprintf("concat_%s.mp4", uuid.New().String()[:8]))
	tempFiles = append(tempFiles, concatPath)
	if err := s.ffmpeg.ConcatenateClips(ctx, segmentPaths, concatPath); err != nil {
		return "", fmt.Errorf("failed to concatenate scenes: %w", err)
	}

	// Fetch the song audio and mix it underneath.
	audioPath, err := s.downloadAudio(ctx, audioURL)
	if err != nil {
		return "", err
	}
	tempFiles = append(tempFiles, audioPath)

	finalPath := s.ffmpeg.CreateTempFile(fmt.Sprintf("final_%s.mp4", uuid.New().String()[:8]))
	tempFiles = append(tempFiles, finalPath)
	if err := s.ffmpeg.MixAudioTrack(ctx, concatPath, audioPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to mix audio track: %w", err)
	}

	finalData, err := os.ReadFile(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to read assembled video: %w", err)
	}

	handle := fmt.Sprintf("combined/%s.mp4", uuid.New())
	if err := s.store.Upload(ctx, handle, finalData, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to upload combined artifact: %w", err)
	}

	log.Printf("[Assembler] Combined artifact uploaded (%d bytes, handle=%s)", len(finalData), handle)
	return handle, nil
}

// downloadAudio fetches the song's audio track to a temp file.
func (s *AssemblerService) downloadAudio(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create audio request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download audio track: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	audioPath := s.ffmpeg.CreateTempFile(fmt.Sprintf("audio_%s.mp3", uuid.New().String()[:8]))
	f, err := os.Create(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to create audio temp file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(audioPath)
		return "", fmt.Errorf("failed to write audio temp file: %w", err)
	}

	return audioPath, nil
}
