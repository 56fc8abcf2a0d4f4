package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/quizdash/internal/game"
)

// Sessions resolves a join code to its current state.
type Sessions interface {
	Snapshot(ctx context.Context, code string) (*game.GameSession, error)
}

type Handler struct {
	cm       *ConnectionManager
	sessions Sessions
}

func NewHandler(cm *ConnectionManager, sessions Sessions) *Handler {
	return &Handler{cm: cm, sessions: sessions}
}

// HandleSession upgrades /ws/session?code=XXXXXX into a spectator stream.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	code := game.NormalizeCode(r.URL.Query().Get("code"))
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	s, err := h.sessions.Snapshot(r.Context(), code)
	switch {
	case errors.Is(err, game.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("code", code).Msg("failed to load session for spectator")
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.cm.Upgrade(w, r, code, s.View()); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to upgrade spectator connection")
	}
}

func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.cm.Stats())
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSession)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
