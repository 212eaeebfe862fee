// Package meili is the archive's client for its document-search backend
// (a Meilisearch-compatible HTTP/JSON service).
//
// It covers exactly the surface the search core consumes: batch document
// add/delete, index create/get/stats, settings with embedder
// registration, single-query search, federated multi-search, vector
// hybrid search, and the backend's asynchronous task model.
//
// Mutating calls return a TaskInfo; the write is only durable once
// WaitForTask reports the task succeeded. Read calls use a short HTTP
// timeout, task waits use a long one.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config configures the client.
type Config struct {
	// Host is the base URL of the search backend (e.g. "http://localhost:7700").
	Host string `json:"host" yaml:"host"`

	// APIKey is sent as a Bearer token. Empty disables authentication.
	APIKey string `json:"api_key" yaml:"api_key"`

	// SearchTimeout bounds read-path calls. Default: 10s.
	SearchTimeout time.Duration `json:"search_timeout" yaml:"search_timeout"`

	// WriteTimeout bounds document/settings calls and task polls.
	// Default: 2m — index task waits legitimately take a while.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to one search backend instance.
type Client struct {
	host   string
	apiKey string
	read   *http.Client
	write  *http.Client
	logger *slog.Logger
}

// New creates a Client. Host must be non-empty.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.Host == "" {
		return nil, fmt.Errorf("meili: host is required")
	}
	return &Client{
		host:   strings.TrimRight(cfg.Host, "/"),
		apiKey: cfg.APIKey,
		read:   &http.Client{Timeout: cfg.SearchTimeout},
		write:  &http.Client{Timeout: cfg.WriteTimeout},
		logger: cfg.Logger,
	}, nil
}

// Error is a structured backend error.
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Type       string `json:"type"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("meili: %s (%s, HTTP %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("meili: HTTP %d: %s", e.StatusCode, e.Message)
}

// Health probes the backend's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, c.read)
}

// do issues one HTTP call and decodes the JSON response into out.
// Non-2xx responses become *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any, client *http.Client) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meili: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.host + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("meili: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("meili: decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsNotFound reports whether err is the backend's index-not-found (or
// plain 404) condition.
func IsNotFound(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "index_not_found" || apiErr.StatusCode == http.StatusNotFound
}
