// Package api is the REST client for the backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clementus360/proxy-chat-client/apperr"
)

// TokenSource returns the current credential, or "" when signed out.
type TokenSource func() string

type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

// StatusError carries a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func New(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the raw body of a 2xx response. Failures are
// classified into apperr kinds.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Network(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Network(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Auth(op, &StatusError{Code: resp.StatusCode, Body: string(body)})
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.WithStack(&apperr.Fault{Kind: apperr.ErrNotFound, Op: op, Err: &StatusError{Code: resp.StatusCode, Body: string(body)}})
	case resp.StatusCode >= 300:
		return nil, apperr.Network(op, &StatusError{Code: resp.StatusCode, Body: string(body)})
	}

	return body, nil
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	body, err := c.do(op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.Error().Err(err).Str("op", op).Msg("Error decoding response")
		return apperr.DataFormat(op, err)
	}
	return nil
}

// doList is doJSON for endpoints that must answer with a JSON array.
func (c *Client) doList(op string, req *http.Request, out any, allowNull bool) error {
	body, err := c.do(op, req)
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(body)
	if allowNull && bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		log.Error().Str("op", op).Msg("Expected a list in response")
		return apperr.DataFormat(op, errors.New("response is not a list"))
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		log.Error().Err(err).Str("op", op).Msg("Error decoding response")
		return apperr.DataFormat(op, err)
	}
	return nil
}
