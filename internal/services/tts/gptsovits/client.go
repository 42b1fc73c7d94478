// Package gptsovits talks to a GPT-SoVITS inference server's /tts endpoint.
package gptsovits

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
	defaultBaseURL     = "http://127.0.0.1:9880"
	defaultHTTPTimeout = 120 * time.Second
)

// Client calls a GPT-SoVITS API server.
type Client struct {
	baseURL      string
	refAudioPath string
	promptText   string
	promptLang   string
	httpClient   *http.Client
}

// Option customizes the GPT-SoVITS client.
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

// NewClient constructs a GPT-SoVITS client. The reference audio and its
// transcript configure the voice that every synthesized clip clones.
func NewClient(refAudioPath, promptText, promptLang string, opts ...Option) *Client {
	client := &Client{
		baseURL:      defaultBaseURL,
		refAudioPath: strings.TrimSpace(refAudioPath),
		promptText:   strings.TrimSpace(promptText),
		promptLang:   strings.ToLower(strings.TrimSpace(promptLang)),
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name implements tts.Engine.
func (c *Client) Name() string { return tts.EngineGPTSoVITS }

type synthesisRequest struct {
	Text              string  `json:"text"`
	TextLang          string  `json:"text_lang"`
	RefAudioPath      string  `json:"ref_audio_path"`
	PromptText        string  `json:"prompt_text"`
	PromptLang        string  `json:"prompt_lang"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	TextSplitMethod   string  `json:"text_split_method"`
	BatchSize         int     `json:"batch_size"`
	SpeedFactor       float64 `json:"speed_factor"`
	Seed              int     `json:"seed"`
	MediaType         string  `json:"media_type"`
	StreamingMode     bool    `json:"streaming_mode"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// Synthesize voices one cue and returns the WAV payload. Connection
// failures and 5xx responses are retryable; a 4xx means the request itself
// is bad and retrying cannot help.
func (c *Client) Synthesize(ctx context.Context, req tts.SpeechRequest) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "gptsovits", "synthesize", "text is required", nil)
	}
	if c.refAudioPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, "gptsovits", "synthesize", "reference audio path is required", nil)
	}

	payload := synthesisRequest{
		Text:              text,
		TextLang:          strings.ToLower(req.Language),
		RefAudioPath:      c.refAudioPath,
		PromptText:        c.promptText,
		PromptLang:        c.promptLang,
		TopK:              5,
		TopP:              1.0,
		Temperature:       1.0,
		TextSplitMethod:   "cut5",
		BatchSize:         1,
		SpeedFactor:       1.0,
		Seed:              -1,
		MediaType:         "wav",
		RepetitionPenalty: 1.35,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "gptsovits", "synthesize", "encode request", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/tts")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "gptsovits", "synthesize", "build url", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "gptsovits", "synthesize", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gptsovits", "synthesize", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "gptsovits", "synthesize", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			marker = services.ErrResourceExhausted
		case resp.StatusCode >= http.StatusInternalServerError:
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "gptsovits", "synthesize",
			fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}
	if len(body) == 0 {
		return nil, services.Wrap(services.ErrTransient, "gptsovits", "synthesize", "server returned empty audio", nil)
	}
	return body, nil
}
