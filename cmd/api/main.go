package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halloy/songreel/internal/api"
	"github.com/halloy/songreel/internal/config"
	"github.com/halloy/songreel/internal/pipeline"
	"github.com/halloy/songreel/internal/scheduler"
	"github.com/halloy/songreel/internal/services"
	"github.com/halloy/songreel/internal/storage"
)

func main() {
	log.Println("Starting Songreel API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to the Redis-backed job scheduler
	sched, err := scheduler.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to scheduler: %v", err)
	}
	defer sched.Close()
	log.Println("Connected to Redis scheduler")

	// Initialize the artifact store
	store := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Println("Initialized Supabase artifact store")

	// Initialize generation and assembly services
	videoSvc := services.NewVideoService(cfg.GeminiKey, store)
	imageSvc := services.NewImageService(cfg.GeminiKey, store)
	ffmpegSvc := services.NewFFmpegService(cfg.TempDir)
	assemblerSvc := services.NewAssemblerService(store, ffmpegSvc, cfg.AspectRatio)
	storyboardSvc := services.NewStoryboardService(cfg.OpenAIKey)

	log.Printf("Video backends: %v (batch=%d, cooldown=%s)", cfg.VideoBackends, cfg.VideoBatchSize, cfg.Cooldown)

	// Build the pipeline and its session manager
	pipe, err := pipeline.New(videoSvc, imageSvc, assemblerSvc, store, sched, pipeline.Options{
		Backends:       cfg.VideoBackends,
		VideoBatchSize: cfg.VideoBatchSize,
		ImageBatchSize: cfg.ImageBatchSize,
		Cooldown:       cfg.Cooldown,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	manager := pipeline.NewManager(pipe)

	// Start the scheduler loop that drives advance/assemble jobs
	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sched.Run(schedCtx, manager)

	// Create API handler
	handler := api.NewHandler(manager, storyboardSvc, store, cfg.AspectRatio)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop the scheduler loop; in-flight generation calls are not cancelled,
	// their results just have nowhere to go once the process exits.
	schedCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
