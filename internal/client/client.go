// Package client talks to the panel API on behalf of the panelctl CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/domain"
)

// ErrJobNotFound is returned when the API does not know the job
var ErrJobNotFound = errors.New("job not found")

// File is one image to submit
type File struct {
	Name string
	Data []byte
}

// Config holds configuration for the API client
type Config struct {
	// BaseURL is the API base URL, e.g. http://localhost:8080
	BaseURL string

	// Timeout bounds each plain HTTP request (default: 60s)
	Timeout time.Duration

	// PollInterval is the delay between status polls (default: 2s)
	PollInterval time.Duration

	// MaxPollErrors is how many consecutive transient poll errors are tolerated (default: 5)
	MaxPollErrors int

	// DebugFunc is an optional callback for debug logging
	DebugFunc func(format string, args ...any)
}

// Client is an HTTP and websocket client for the panel API
type Client struct {
	baseURL       string
	httpClient    *http.Client
	pollInterval  time.Duration
	maxPollErrors int
	debugFunc     func(format string, args ...any)
}

// New creates a Client
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollErrors == 0 {
		cfg.MaxPollErrors = 5
	}

	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		pollInterval:  cfg.PollInterval,
		maxPollErrors: cfg.MaxPollErrors,
		debugFunc:     cfg.DebugFunc,
	}
}

func (c *Client) debug(format string, args ...any) {
	if c.debugFunc != nil {
		c.debugFunc(format, args...)
	}
}

// Submit uploads files as one job
func (c *Client) Submit(ctx context.Context, files []File) (dto.GenerateResponse, error) {
	var out dto.GenerateResponse

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		part, err := mw.CreateFormFile("images", f.Name)
		if err != nil {
			return out, fmt.Errorf("failed to build upload: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return out, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return out, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", body)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.debug("request: POST /generate - %d files, %d bytes", len(files), body.Len())

	if err := c.do(req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Status fetches the current job status
func (c *Client) Status(ctx context.Context, jobID string) (dto.JobResponse, error) {
	var out dto.JobResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/job/"+url.PathEscape(jobID), nil)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}

	c.debug("request: GET /job/%s", jobID)

	if err := c.do(req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// do sends req and decodes a 2xx JSON body into result
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.debug("response: %d - %s", resp.StatusCode, string(respBody))

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx API response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.Code, e.Message)
}

// Transient reports whether retrying the request may succeed
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

func errorMessage(body []byte) string {
	var e dto.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// Follow streams status changes over the websocket until a terminal status arrives
func (c *Client) Follow(ctx context.Context, jobID string, onUpdate func(dto.JobResponse)) (dto.JobResponse, error) {
	var last dto.JobResponse

	wsURL, err := c.wsURL(jobID)
	if err != nil {
		return last, fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	c.debug("ws: connecting to %s", wsURL)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return last, fmt.Errorf("WebSocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return last, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg dto.JobResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				switch closeErr.Code {
				case websocket.CloseNormalClosure:
					if isTerminal(last.Status) {
						return last, nil
					}
				case CloseJobNotFound:
					return last, ErrJobNotFound
				}
			}
			return last, fmt.Errorf("stream ended before the job finished: %w", err)
		}

		last = msg
		if onUpdate != nil {
			onUpdate(msg)
		}
		if isTerminal(msg.Status) {
			return last, nil
		}
	}
}

// CloseJobNotFound is the close code the server sends for unknown jobs
const CloseJobNotFound = 4404

func (c *Client) wsURL(jobID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(jobID)
	return u.String(), nil
}

// Poll reads the status on an interval until a terminal status arrives.
// Transient failures are retried until MaxPollErrors happen in a row.
func (c *Client) Poll(ctx context.Context, jobID string, onUpdate func(dto.JobResponse)) (dto.JobResponse, error) {
	var last dto.JobResponse
	failures := 0

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.Status(ctx, jobID)
		switch {
		case err == nil:
			failures = 0
			if resp.Status != last.Status && onUpdate != nil {
				onUpdate(resp)
			}
			last = resp
			if isTerminal(resp.Status) {
				return last, nil
			}
		case errors.Is(err, ErrJobNotFound):
			return last, err
		case ctx.Err() != nil:
			return last, ctx.Err()
		default:
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Transient() {
				return last, err
			}
			failures++
			c.debug("poll: transient error %d/%d: %v", failures, c.maxPollErrors, err)
			if failures >= c.maxPollErrors {
				return last, fmt.Errorf("giving up after %d failed polls: %w", failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download fetches resultURL into dst
func (c *Client) Download(ctx context.Context, resultURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Message: "download failed"}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("download failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write output file: %w", err)
	}

	return os.Rename(tmp, dst)
}

func isTerminal(status string) bool {
	s, ok := domain.ParseStatus(status)
	return ok && s.IsTerminal()
}
