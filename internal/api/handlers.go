package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/halloy/songreel/internal/models"
	"github.com/halloy/songreel/internal/pipeline"
	"github.com/halloy/songreel/internal/services"
	"github.com/halloy/songreel/internal/storage"
)

type Handler struct {
	manager    *pipeline.Manager
	storyboard *services.StoryboardService
	storage    *storage.Store

	defaultAspectRatio string
	defaultSceneCount  int
}

func NewHandler(manager *pipeline.Manager, storyboard *services.StoryboardService, store *storage.Store, defaultAspectRatio string) *Handler {
	return &Handler{
		manager:            manager,
		storyboard:         storyboard,
		storage:            store,
		defaultAspectRatio: defaultAspectRatio,
		defaultSceneCount:  12,
	}
}

// CreateProduction handles POST /v1/productions: produces a storyboard for
// the song and starts a fresh pipeline session, replacing any active one.
func (h *Handler) CreateProduction(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SongTitle == "" {
		respondError(w, http.StatusBadRequest, "song_title is required")
		return
	}
	if req.AudioURL == "" {
		respondError(w, http.StatusBadRequest, "audio_url is required")
		return
	}

	aspectRatio := h.defaultAspectRatio
	if req.AspectRatio != nil && *req.AspectRatio != "" {
		aspectRatio = *req.AspectRatio
	}

	sceneCount := h.defaultSceneCount
	if req.SceneCount != nil && *req.SceneCount > 0 {
		sceneCount = *req.SceneCount
	}

	scenes, err := h.storyboard.Produce(r.Context(), req.SongTitle, req.Lyrics, sceneCount)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to produce storyboard: "+err.Error())
		return
	}

	session, err := h.manager.Submit(r.Context(), req.SongTitle, req.AudioURL, aspectRatio, scenes)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to start production: "+err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateProductionResponse{
		SessionID:  session.ID,
		SceneCount: len(scenes),
		Stage:      session.Stage(),
	})
}

// GetProduction handles GET /v1/productions/current
func (h *Handler) GetProduction(w http.ResponseWriter, r *http.Request) {
	session, ok := h.manager.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "No active production")
		return
	}

	respondJSON(w, http.StatusOK, h.buildSessionResponse(session))
}

// RegenerateScene handles POST /v1/productions/current/scenes/{sceneNumber}/regenerate
func (h *Handler) RegenerateScene(w http.ResponseWriter, r *http.Request) {
	sceneNumber, err := strconv.Atoi(chi.URLParam(r, "sceneNumber"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid scene number")
		return
	}

	if err := h.manager.Regenerate(r.Context(), sceneNumber); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoSession):
			respondError(w, http.StatusNotFound, "No active production")
		case errors.Is(err, pipeline.ErrUnknownScene):
			respondError(w, http.StatusNotFound, "Scene not found")
		case errors.Is(err, pipeline.ErrNotRegenerable):
			respondError(w, http.StatusConflict, "Scene is not in a regenerable state")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to regenerate scene")
		}
		return
	}

	session, _ := h.manager.Current()
	respondJSON(w, http.StatusOK, models.RegenerateResponse{
		SceneNumber: sceneNumber,
		Stage:       session.Stage(),
	})
}

// GetDownload handles GET /v1/productions/current/download
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	session, ok := h.manager.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "No active production")
		return
	}

	_, _, combined := session.Snapshot()
	if combined == "" {
		respondError(w, http.StatusNotFound, "Combined artifact not ready")
		return
	}

	// Signed URL valid for 1 hour
	signedURL, err := h.storage.GetSignedURL(r.Context(), combined, 3600)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// buildSessionResponse assembles the status surface for one session: the
// structured pipeline status plus every scene joined with its prompt text
// and resolved artifact URL.
func (h *Handler) buildSessionResponse(session *pipeline.Session) models.SessionResponse {
	status, items, combined := session.Snapshot()
	scenes := session.Scenes()

	sceneResponses := make([]models.SceneResponse, 0, len(items))
	for i, item := range items {
		sr := models.SceneResponse{
			MediaItem:       item,
			DescriptiveText: scenes[i].DescriptiveText,
		}
		if item.ArtifactHandle != "" {
			url := h.storage.GetPublicURL(item.ArtifactHandle)
			sr.ArtifactURL = &url
		}
		sceneResponses = append(sceneResponses, sr)
	}

	resp := models.SessionResponse{
		SessionID:  session.ID,
		SongTitle:  session.SongTitle,
		Status:     status,
		StatusText: status.String(),
		Scenes:     sceneResponses,
		CreatedAt:  session.CreatedAt,
	}
	if combined != "" {
		url := h.storage.GetPublicURL(combined)
		resp.CombinedURL = &url
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
