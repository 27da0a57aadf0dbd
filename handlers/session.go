package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/session"
)

// Login stores the credential handed over by the sign-in page.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds session.Credentials
	if !decode(w, r, &creds) {
		return
	}

	if err := h.app.Login(r.Context(), creds); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds.User)
	log.Info().Str("user_id", creds.UserID()).Msg("Signed in")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
