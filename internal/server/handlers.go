package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xfrllc/frank/internal/auth"
	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/internal/store"
	"github.com/xfrllc/frank/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("response write failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetChat serves a chat's full client-facing state. Only the owner may
// read it.
func handleGetChat(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "chatID")
		userID, _ := auth.UserID(r.Context())

		chat, err := st.Load(r.Context(), chatID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "chat not found"})
				return
			}
			logging.Error().Err(err).Str("chatId", chatID).Msg("chat load failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		if chat.UserID != userID {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}

		writeJSON(w, http.StatusOK, types.ToClientChat(chat))
	}
}
