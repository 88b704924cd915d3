// Package transport is the HTTP client for the conversation backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vocalis-ai/vocalis/speech/stream"
)

// ErrArtifactExpired reports that a referenced audio artifact has been
// evicted from the backend's short-lived store. This is an expected
// outcome of slow consumption, not a fault: callers skip the fragment
// and move on, without retrying.
var ErrArtifactExpired = errors.New("audio artifact expired")

// DefaultChunkTimeout bounds one artifact fetch. Fetches are small and
// the response is already being spoken; a slow artifact is as good as
// an expired one.
const DefaultChunkTimeout = 5 * time.Second

// Turn is one entry of conversation context sent with a request.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the payload of one capture cycle.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"audio"`
	History   []Turn `json:"history,omitempty"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. https://api.example.com.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// ChunkTimeout bounds one FetchChunk call. Zero selects
	// DefaultChunkTimeout.
	ChunkTimeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client talks to the conversation backend: one streaming chat request
// per capture cycle, plus artifact fetches and text synthesis.
type Client struct {
	baseURL      string
	apiKey       string
	chunkTimeout time.Duration
	http         *http.Client
	logger       *log.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid BaseURL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.ChunkTimeout
	if timeout == 0 {
		timeout = DefaultChunkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		chunkTimeout: timeout,
		http:         httpClient,
		logger:       logger,
	}, nil
}

// StreamChat posts one capture cycle and returns a scanner over the
// response event stream. The stream lives until ctx is cancelled or a
// terminal frame arrives; it is not restartable.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (*stream.Scanner, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("chat request: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	return stream.NewScanner(resp.Body, c.logger), nil
}

// FetchChunk retrieves an audio artifact by its opaque id. A 404 means
// the artifact aged out of the backend store and returns
// ErrArtifactExpired; the caller skips that fragment. Never retried.
func (c *Client) FetchChunk(ctx context.Context, audioID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chunkTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/audio/"+url.PathEscape(audioID), nil)
	if err != nil {
		return nil, fmt.Errorf("build chunk request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %s: %w", audioID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", audioID, err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("chunk %s: %w", audioID, ErrArtifactExpired)
	default:
		return nil, fmt.Errorf("fetch chunk %s: %s: %s", audioID, resp.Status, readErrorBody(resp.Body))
	}
}

// FetchChunkURL retrieves a self-contained artifact by absolute URL, as
// carried by inline audio frames. Same expiry semantics as FetchChunk.
func (c *Client) FetchChunkURL(ctx context.Context, audioURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chunkTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build chunk request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk url: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		return data, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("chunk url %s: %w", audioURL, ErrArtifactExpired)
	default:
		return nil, fmt.Errorf("fetch chunk url: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
}

// Synthesize converts text to a WAV payload.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis request: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return data, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// readErrorBody returns a bounded snippet of an error response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return "(no body)"
	}
	return string(bytes.TrimSpace(data))
}
