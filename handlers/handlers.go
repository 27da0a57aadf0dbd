// Package handlers serves the client's state to a local UI over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/app"
	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/geo"
)

const loginPath = "/login"

type Handler struct {
	app *app.App
}

func New(a *app.App) *Handler {
	return &Handler{app: a}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", h.GetUsers)
	mux.HandleFunc("POST /api/users/more", h.MoreUsers)

	mux.HandleFunc("GET /api/conversations", h.GetConversations)
	mux.HandleFunc("POST /api/conversations/refresh", h.RefreshConversations)
	mux.HandleFunc("POST /api/conversations/{id}/open", h.OpenConversation)

	mux.HandleFunc("GET /api/chat", h.GetChat)
	mux.HandleFunc("POST /api/chat/messages", h.SendMessage)
	mux.HandleFunc("DELETE /api/chat", h.CloseChat)
	mux.HandleFunc("POST /api/chats/{userId}/open", h.OpenChat)

	mux.HandleFunc("GET /api/unread", h.GetUnread)

	mux.HandleFunc("PUT /api/profile", h.UpdateProfile)
	mux.HandleFunc("POST /api/profile/photo", h.UploadPhoto)
	mux.HandleFunc("POST /api/location", h.UpdateLocation)

	mux.HandleFunc("POST /api/session", h.Login)
	mux.HandleFunc("DELETE /api/session", h.Logout)
}

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

// writeError maps a failure kind to a status. Auth failures tell the UI
// where to send the user.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := http.StatusInternalServerError, errorResponse{Error: "Something went wrong"}

	switch {
	case errors.Is(err, apperr.ErrAuth):
		status, resp = http.StatusUnauthorized, errorResponse{Error: "Please sign in", Redirect: loginPath}
	case errors.Is(err, apperr.ErrTransportUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "Live connection unavailable"
	case errors.Is(err, apperr.ErrDataFormat):
		status, resp.Error = http.StatusBadGateway, "Unexpected response from server"
	case errors.Is(err, apperr.ErrNetwork):
		status, resp.Error = http.StatusBadGateway, "Unable to reach server, try again"
	case errors.Is(err, apperr.ErrEmptyDraft):
		status, resp.Error = http.StatusBadRequest, "Message is empty"
	case errors.Is(err, apperr.ErrAck):
		status, resp.Error = http.StatusConflict, "Request was not accepted, try again"
	case errors.Is(err, geo.ErrUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "Location unavailable"
	case errors.Is(err, apperr.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "Not found"
	case r.Context().Err() != nil:
		status, resp.Error = http.StatusRequestTimeout, "Request cancelled"
	}

	log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unable to parse request body"})
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Error parsing request body")
		return false
	}
	return true
}
