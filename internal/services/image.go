package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/halloy/songreel/internal/storage"
)

const imageModel = "gemini-3-pro-image-preview"

// ImageService generates still images for image scenes via the Gemini
// generateContent REST API. Image calls take seconds and carry no rate
// limit, which is why the pipeline's image pass runs one wide batch with no
// cooldown.
type ImageService struct {
	apiKey string
	store  *storage.Store
	client *http.Client
}

func NewImageService(apiKey string, store *storage.Store) *ImageService {
	return &ImageService{
		apiKey: apiKey,
		store:  store,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

// Gemini API request/response structures
type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateImage generates a single still image and uploads it to the
// artifact store. Each call is independent and safe for parallel execution
// across the scenes of a batch. Returns the artifact handle.
func (s *ImageService) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: composeImagePrompt(prompt, aspectRatio)}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: &geminiImageConfig{
				AspectRatio: aspectRatio,
				ImageSize:   "2K",
			},
		},
	}

	imageData, err := s.doGenerateContent(ctx, reqBody)
	if err != nil {
		return "", err
	}

	handle := fmt.Sprintf("scenes/%s.png", uuid.New())
	if err := s.store.Upload(ctx, handle, imageData, "image/png"); err != nil {
		return "", fmt.Errorf("failed to upload image artifact: %w", err)
	}

	log.Printf("[Image] Still ready (%d bytes, handle=%s)", len(imageData), handle)
	return handle, nil
}

func (s *ImageService) doGenerateContent(ctx context.Context, reqBody geminiGenerateContentRequest) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", imageModel, s.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var geminiResp geminiGenerateContentResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	var textParts []string
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			imageData, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 image: %w", err)
			}
			return imageData, nil
		}
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	if len(textParts) > 0 {
		return nil, fmt.Errorf("gemini returned text instead of image: %s", truncateText(textParts[0], 200))
	}
	return nil, fmt.Errorf("no image data found in response (got %d parts, none with inlineData)", len(geminiResp.Candidates[0].Content.Parts))
}

// composeImagePrompt frames the storyboard prompt as a held shot: image
// scenes are displayed for several seconds inside the assembled video, so
// they need the same cinematic grading as the clips around them.
func composeImagePrompt(basePrompt string, aspectRatio string) string {
	var prompt bytes.Buffer

	prompt.WriteString("SCENE TO DEPICT:\n")
	prompt.WriteString(basePrompt)
	prompt.WriteString("\n\nCinematic still frame for a music video: filmic color grading, shallow depth of field where it suits the subject, no text or watermarks.")

	orientLabel := "Landscape"
	switch aspectRatio {
	case "9:16":
		orientLabel = "Portrait"
	case "1:1":
		orientLabel = "Square"
	}
	prompt.WriteString(fmt.Sprintf("\n\nOutput: %s %s, highest quality.", orientLabel, aspectRatio))

	return prompt.String()
}

func truncateText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
