package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/models"
)

const maxPhotoSize = 10 << 20

type UsersResponse struct {
	Users   []models.User  `json:"users"`
	Unread  map[string]int `json:"unread"`
	Page    int            `json:"page"`
	HasMore bool           `json:"hasMore"`
}

func (h *Handler) usersResponse() UsersResponse {
	feed := h.app.Feed()
	return UsersResponse{
		Users:   feed.Users(),
		Unread:  h.app.Unread().Snapshot().PerUser,
		Page:    feed.Page(),
		HasMore: feed.HasMore(),
	}
}

// GetUsers returns the directory, loading the first page when nothing has
// been fetched yet or refresh=true is given.
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	if h.app.Feed().Page() == 0 || r.URL.Query().Get("refresh") == "true" {
		if _, err := h.app.RefreshUsers(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.usersResponse())
}

func (h *Handler) MoreUsers(w http.ResponseWriter, r *http.Request) {
	if !h.app.Feed().HasMore() {
		writeJSON(w, http.StatusOK, h.usersResponse())
		return
	}
	if _, err := h.app.MoreUsers(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.usersResponse())
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update models.ProfileUpdate
	if !decode(w, r, &update) {
		return
	}
	if update.Age != nil && *update.Age < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid age"})
		return
	}

	user, err := h.app.UpdateProfile(r.Context(), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UserResponse{User: user})
	log.Info().Str("user_id", user.ID).Msg("Profile updated")
}

func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing photo"})
		log.Debug().Err(err).Msg("Error reading photo upload")
		return
	}
	defer file.Close()

	user, err := h.app.UploadPhoto(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UserResponse{User: user})
}

// UpdateLocation reports the position in the body, or the located one when
// the body is empty.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var pos *models.Coordinate
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unable to read request body"})
		return
	}
	if len(body) > 0 {
		pos = &models.Coordinate{}
		if err := json.Unmarshal(body, pos); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Unable to parse request body"})
			return
		}
		if pos.Latitude < -90 || pos.Latitude > 90 || pos.Longitude < -180 || pos.Longitude > 180 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid coordinates"})
			return
		}
	}

	loc, err := h.app.UpdateLocation(r.Context(), pos)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.LocationResponse{Location: loc})
}
