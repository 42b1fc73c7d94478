// Package indextts talks to an IndexTTS-2 inference server. The engine
// clones the speaker from a prompt audio file and supports Chinese and
// English text.
package indextts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"redub/internal/services"
	"redub/internal/services/tts"
)

const (
	defaultBaseURL     = "http://127.0.0.1:9881"
	defaultHTTPTimeout = 180 * time.Second
)

// Client calls an IndexTTS API server.
type Client struct {
	baseURL      string
	speakerAudio string
	httpClient   *http.Client
}

// Option customizes the IndexTTS client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default server address.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient constructs an IndexTTS client cloning the given speaker prompt.
func NewClient(speakerAudio string, opts ...Option) *Client {
	client := &Client{
		baseURL:      defaultBaseURL,
		speakerAudio: strings.TrimSpace(speakerAudio),
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name implements tts.Engine.
func (c *Client) Name() string { return tts.EngineIndexTTS }

type synthesisRequest struct {
	Text           string `json:"text"`
	SpkAudioPrompt string `json:"spk_audio_prompt"`
	MediaType      string `json:"media_type"`
}

// Synthesize voices one cue and returns the WAV payload.
func (c *Client) Synthesize(ctx context.Context, req tts.SpeechRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "indextts", "synthesize", "text is required", nil)
	}
	if c.speakerAudio == "" {
		return nil, services.Wrap(services.ErrConfiguration, "indextts", "synthesize", "speaker prompt audio is required", nil)
	}

	payload := synthesisRequest{
		Text:           text,
		SpkAudioPrompt: c.speakerAudio,
		MediaType:      "wav",
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "indextts", "synthesize", "encode request", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/tts")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "indextts", "synthesize", "build url", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "indextts", "synthesize", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "indextts", "synthesize", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "indextts", "synthesize", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			marker = services.ErrResourceExhausted
		case resp.StatusCode >= http.StatusInternalServerError:
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "indextts", "synthesize",
			fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	if len(body) == 0 {
		return nil, services.Wrap(services.ErrTransient, "indextts", "synthesize", "server returned empty audio", nil)
	}
	return body, nil
}
