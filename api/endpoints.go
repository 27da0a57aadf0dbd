package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/clementus360/proxy-chat-client/models"
)

// NearbyUsers fetches one page of users around origin. A nil origin lets the
// backend use the last stored location.
func (c *Client) NearbyUsers(ctx context.Context, page, limit int, origin *models.Coordinate) ([]models.User, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if origin != nil {
		q.Set("latitude", strconv.FormatFloat(origin.Latitude, 'f', -1, 64))
		q.Set("longitude", strconv.FormatFloat(origin.Longitude, 'f', -1, 64))
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/users/nearby?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp models.NearbyUsersResponse
	if err := c.doJSON("list nearby users", req, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/conversations", nil)
	if err != nil {
		return nil, err
	}

	var conversations []models.Conversation
	if err := c.doList("get conversations", req, &conversations, false); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (c *Client) MessageHistory(ctx context.Context, otherUserID string) ([]models.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(otherUserID), nil)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := c.doList("get message history", req, &messages, true); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) UnreadCount(ctx context.Context, userID string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/messages/unread/"+url.PathEscape(userID), nil)
	if err != nil {
		return 0, err
	}

	var resp models.UnreadCountResponse
	if err := c.doJSON("unread count", req, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	req, err := c.jsonRequest(ctx, http.MethodPut, "/api/users/profile", update)
	if err != nil {
		return models.User{}, err
	}

	var resp models.UserResponse
	if err := c.doJSON("update profile", req, &resp); err != nil {
		return models.User{}, err
	}
	return resp.User, nil
}

// UploadPhoto sends the image as multipart field "photo".
func (c *Client) UploadPhoto(ctx context.Context, filename string, photo io.Reader) (models.User, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return models.User{}, errors.Wrap(err, "create photo part")
	}
	if _, err := io.Copy(part, photo); err != nil {
		return models.User{}, errors.Wrap(err, "read photo")
	}
	if err := mw.Close(); err != nil {
		return models.User{}, errors.Wrap(err, "finish multipart body")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/users/upload-photo", &buf)
	if err != nil {
		return models.User{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp models.UserResponse
	if err := c.doJSON("upload photo", req, &resp); err != nil {
		return models.User{}, err
	}
	return resp.User, nil
}

func (c *Client) UpdateLocation(ctx context.Context, pos models.Coordinate) (models.Coordinate, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/users/updateLocation", pos)
	if err != nil {
		return models.Coordinate{}, err
	}

	var resp models.LocationResponse
	if err := c.doJSON("update location", req, &resp); err != nil {
		return models.Coordinate{}, err
	}
	return resp.Location, nil
}
