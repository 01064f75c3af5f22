package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the router layer
	},
}

// ProductionWebSocket handles GET /v1/productions/current/ws: the per-scene
// status stream for the display layer. It pushes the full session snapshot
// on connect, then polls the session once a second and pushes only when
// something changed. The connection closes itself once the pipeline is done
// and the combined artifact exists (or a fatal error is set); the client
// reconnects for a new session.
func (h *Handler) ProductionWebSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := h.manager.Current()
	if !ok {
		respondError(w, http.StatusNotFound, "No active production")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	writeSnapshot := func() ([]byte, error) {
		resp := h.buildSessionResponse(session)
		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return payload, conn.WriteMessage(websocket.TextMessage, payload)
	}

	last, err := writeSnapshot()
	if err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		// Drop the connection if the session was replaced underneath us.
		current, ok := h.manager.Current()
		if !ok || current.ID != session.ID {
			return
		}

		resp := h.buildSessionResponse(session)
		payload, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if !bytes.Equal(payload, last) {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}

		if resp.Status.Assembled || resp.Status.FatalError != "" {
			return
		}
	}
}
