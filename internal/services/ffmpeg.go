package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Assembly rendering constants. Image scenes are held for a fixed beat with
// a slow push-in so they cut cleanly between motion clips.
const (
	videoFPS            = 30
	imageSegmentSeconds = 4
	imageZoomRange      = 0.08 // 8% push-in across the segment
)

// FFmpegService shells out to ffmpeg/ffprobe for the assembly step: turning
// image stills into short segments, concatenating scene clips in storyboard
// order, and laying the song's audio track underneath.
type FFmpegService struct {
	tempDir string
}

func NewFFmpegService(tempDir string) *FFmpegService {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		tempDir: tempDir,
	}
}

// resolutionFor maps an aspect ratio to output dimensions.
func resolutionFor(aspectRatio string) (int, int) {
	switch aspectRatio {
	case "9:16":
		return 1080, 1920
	case "1:1":
		return 1080, 1080
	default: // 16:9
		return 1920, 1080
	}
}

// RenderImageSegment turns a still image into a fixed-length video segment
// with a slow centered push-in, sized to the session's aspect ratio.
func (s *FFmpegService) RenderImageSegment(ctx context.Context, imagePath, outputPath, aspectRatio string) error {
	width, height := resolutionFor(aspectRatio)
	totalFrames := imageSegmentSeconds * videoFPS

	// zoompan: slow zoom 1.0 → 1.08, centered
	vf := fmt.Sprintf(
		"zoompan=z='1.0+%0.2f*on/%d':x='iw/2-(iw/zoom/2)':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d",
		imageZoomRange, totalFrames, totalFrames, width, height, videoFPS,
	)

	args := []string{
		"-i", imagePath,
		"-vf", vf,
		"-t", fmt.Sprintf("%d", imageSegmentSeconds),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an", // segments are silent; the song track is mixed at the end
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg render image segment failed: %w", err)
	}

	return nil
}

// NormalizeClip re-encodes a generated clip to the target resolution and
// frame rate so concat can run without stream mismatches, stripping any
// native audio the backend produced.
func (s *FFmpegService) NormalizeClip(ctx context.Context, inputPath, outputPath, aspectRatio string) error {
	width, height := resolutionFor(aspectRatio)

	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		width, height, width, height, videoFPS)

	args := []string{
		"-i", inputPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-an",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg normalize clip failed: %w", err)
	}

	return nil
}

// ConcatenateClips combines scene segments, in order, into one video.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	// Create a concat list file
	listPath := filepath.Join(s.tempDir, fmt.Sprintf("concat_%s.txt", filepath.Base(outputPath)))
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, path := range clipPaths {
		// FFmpeg concat format
		fmt.Fprintf(f, "file '%s'\n", path)
	}
	f.Close()
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy", // all inputs were normalized, no re-encode needed
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// MixAudioTrack lays the song's audio under the concatenated video. The
// output ends with the shorter of the two streams: a video slightly longer
// than the song is trimmed, not padded.
func (s *FFmpegService) MixAudioTrack(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg mix audio track failed: %w", err)
	}

	return nil
}

// CreateTempFile creates a temporary file path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
