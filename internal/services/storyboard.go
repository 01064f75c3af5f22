package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/halloy/songreel/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// StoryboardService turns a song into the ordered scene list the pipeline
// consumes. The storyboard is produced exactly once per production session,
// before the pipeline starts; scene prompts are taken as-is after that.
type StoryboardService struct {
	client *openai.Client
}

func NewStoryboardService(apiKey string) *StoryboardService {
	return &StoryboardService{
		client: openai.NewClient(apiKey),
	}
}

// storyboardPlan is the JSON shape requested from the model.
type storyboardPlan struct {
	Scenes []storyboardScenePlan `json:"scenes"`
	Theme  string                `json:"theme"`
}

type storyboardScenePlan struct {
	SceneNumber      int    `json:"scene_number"`
	MediaKind        string `json:"media_kind"` // "video" or "image"
	DescriptiveText  string `json:"descriptive_text"`
	GenerationPrompt string `json:"generation_prompt"`
}

const storyboardSystemPrompt = `You are a music video director. Given a song title and lyrics, produce a storyboard as JSON: {"theme": string, "scenes": [{"scene_number": int, "media_kind": "video"|"image", "descriptive_text": string, "generation_prompt": string}]}.

Rules:
- scene_number starts at 1 and increments by 1 with no gaps.
- media_kind "video" for moments that need motion (choruses, narrative beats), "image" for atmospheric or transitional moments.
- descriptive_text is a one-line summary for the production UI.
- generation_prompt is a complete, self-contained visual prompt for a generation model: subject, setting, lighting, camera, mood. Never reference the song, other scenes, or copyrighted characters.`

// Produce generates the storyboard for a song. sceneCount is a target, not a
// hard bound: the model's scene list is validated and renumbered defensively
// but its length is respected.
func (s *StoryboardService) Produce(ctx context.Context, songTitle, lyrics string, sceneCount int) ([]models.StoryboardScene, error) {
	userPrompt := fmt.Sprintf("Song title: %s\n\nTarget scene count: %d\n\nLyrics:\n%s", songTitle, sceneCount, lyrics)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: storyboardSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	var plan storyboardPlan
	if err := json.Unmarshal([]byte(rawContent), &plan); err != nil {
		log.Printf("[Storyboard] parse failed: %v", err)
		log.Printf("[Storyboard] raw response: %s", truncateText(rawContent, 2000))
		return nil, fmt.Errorf("failed to parse storyboard: %w", err)
	}

	if len(plan.Scenes) == 0 {
		return nil, fmt.Errorf("storyboard has no scenes")
	}

	scenes := make([]models.StoryboardScene, 0, len(plan.Scenes))
	for i, sc := range plan.Scenes {
		kind := models.MediaKind(sc.MediaKind)
		if kind != models.MediaKindVideo && kind != models.MediaKindImage {
			return nil, fmt.Errorf("scene %d has invalid media_kind %q", i+1, sc.MediaKind)
		}
		if sc.GenerationPrompt == "" {
			return nil, fmt.Errorf("scene %d is missing generation_prompt", i+1)
		}
		scenes = append(scenes, models.StoryboardScene{
			// Renumber: the pipeline requires contiguous numbering from 1
			// and the model occasionally skips or repeats numbers.
			SceneNumber:      i + 1,
			MediaKind:        kind,
			DescriptiveText:  sc.DescriptiveText,
			GenerationPrompt: sc.GenerationPrompt,
		})
	}

	log.Printf("[Storyboard] Produced %d scenes (theme=%q)", len(scenes), plan.Theme)
	return scenes, nil
}
