package handlers

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/clementus360/proxy-chat-client/apperr"
	"github.com/clementus360/proxy-chat-client/chat"
	"github.com/clementus360/proxy-chat-client/models"
)

type ChatResponse struct {
	Partner  string           `json:"partner"`
	Messages []models.Message `json:"messages"`
	Draft    string           `json:"draft,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func chatResponse(s *chat.Session) ChatResponse {
	return ChatResponse{Partner: s.Partner(), Messages: s.Messages(), Draft: s.Draft()}
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Registry().Filter(r.URL.Query().Get("q")))
}

func (h *Handler) RefreshConversations(w http.ResponseWriter, r *http.Request) {
	if err := h.app.RefreshConversations(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.Registry().Conversations())
}

func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.OpenConversation(r.Context(), r.PathValue("id"))
	h.writeChat(w, r, s, err)
}

func (h *Handler) OpenChat(w http.ResponseWriter, r *http.Request) {
	s, err := h.app.OpenChat(r.Context(), r.PathValue("userId"))
	h.writeChat(w, r, s, err)
}

func (h *Handler) writeChat(w http.ResponseWriter, r *http.Request, s *chat.Session, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(s))
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	s := h.app.Chat()
	if s == nil {
		writeError(w, r, errors.Wrap(apperr.ErrNotFound, "no open chat"))
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(s))
}

// SendMessage sends to the open chat. On failure the draft is kept and
// returned so the UI can offer a retry.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := h.app.SendMessage(r.Context(), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse(s))
}

func (h *Handler) CloseChat(w http.ResponseWriter, r *http.Request) {
	h.app.CloseChat()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetUnread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Unread().Snapshot())
}
