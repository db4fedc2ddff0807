// Package client talks to the qryptic JSON API and change feed over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"qryptic/internal/directory"
	"qryptic/internal/models"
)

// Client is an authenticated API client for one owner.
type Client struct {
	BaseURL string
	Token   string // bearer token; empty when HTTP already authenticates requests
	HTTP    *http.Client
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    httpClient,
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// List returns the owner's links, newest first.
func (c *Client) List(ctx context.Context) ([]models.Link, error) {
	var links []models.Link
	if err := c.do(ctx, http.MethodGet, "/api/v1/links", nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Create creates a link.
func (c *Client) Create(ctx context.Context, in directory.CreateInput) (*models.Link, error) {
	var link models.Link
	if err := c.do(ctx, http.MethodPost, "/api/v1/links", in, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// Delete deletes one of the owner's links.
func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/links/"+id.String(), nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &directory.TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return statusError(resp.StatusCode, resp.Status)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return statusError(resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// ErrUnauthorized is returned when the server rejects the credentials.
var ErrUnauthorized = errors.New("unauthorized")

// statusError maps an error response onto the directory error taxonomy.
func statusError(status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return directory.ErrNotFound
	case status == http.StatusForbidden:
		return directory.ErrForbidden
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusBadRequest:
		return &directory.ValidationError{Field: "request", Message: msg}
	case status == http.StatusTooManyRequests, status >= 500:
		return &directory.TransientError{Op: "request", Err: fmt.Errorf("%d: %s", status, msg)}
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}
