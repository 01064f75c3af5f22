package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Redis (advance/assemble job queues)
	RedisURL string

	// Supabase (artifact store)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// OpenAI (storyboard production)
	OpenAIKey string

	// Gemini (image generation + Veo video generation share the key)
	GeminiKey string

	// Pipeline
	VideoBackends  []string      // Ordered Veo model identifiers rotated across video batches
	VideoBatchSize int           // Max video scenes dispatched per batch
	ImageBatchSize int           // Max image scenes dispatched per batch
	Cooldown       time.Duration // Minimum spacing between video batch dispatches
	AspectRatio    string        // Default aspect ratio for generated media

	// Assembly
	TempDir string // Scratch dir for ffmpeg assembly
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "songreel-media"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		VideoBackends:         splitList(getEnv("VIDEO_BACKENDS", "veo-3.1-generate-preview")),
		VideoBatchSize:        getEnvInt("VIDEO_BATCH_SIZE", 2),
		ImageBatchSize:        getEnvInt("IMAGE_BATCH_SIZE", 20),
		Cooldown:              time.Duration(getEnvInt("COOLDOWN_SECONDS", 61)) * time.Second,
		AspectRatio:           getEnv("ASPECT_RATIO", "16:9"),
		TempDir:               getEnv("TEMP_DIR", "/tmp/songreel"),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if len(cfg.VideoBackends) == 0 {
		return nil, fmt.Errorf("VIDEO_BACKENDS must list at least one backend identifier")
	}

	if cfg.VideoBatchSize < 1 || cfg.ImageBatchSize < 1 {
		return nil, fmt.Errorf("batch sizes must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// splitList parses a comma-separated value, dropping empty entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
