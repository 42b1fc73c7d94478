// Package translate turns transcribed cues into the target language via an
// OpenAI-compatible chat completion API.
package translate

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
	"redub/internal/subtitle"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultHTTPTimeout = 120 * time.Second
	defaultBatchSize   = 40
)

// Client wraps an OpenAI-compatible chat completion endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
}

// Option customizes the translation client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks and
// self-hosted gateways).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(c *Client) {
		model = strings.TrimSpace(model)
		if model != "" {
			c.model = model
		}
	}
}

// WithBatchSize caps how many cues go into a single request.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewClient constructs a translation client.
func NewClient(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		batchSize:  defaultBatchSize,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Translate fills in the Translation field of every cue. Cue count and
// timings are preserved; only text changes. The cues slice itself is not
// modified, a translated copy is returned.
func (c *Client) Translate(ctx context.Context, cues []subtitle.Cue, sourceLang, targetLang string) ([]subtitle.Cue, error) {
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrValidation, "translate", "translate", "no cues to translate", nil)
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "translate", "translate", "api key required", nil)
	}

	out := make([]subtitle.Cue, len(cues))
	copy(out, cues)

	for start := 0; start < len(out); start += c.batchSize {
		end := start + c.batchSize
		if end > len(out) {
			end = len(out)
		}
		batch := out[start:end]
		lines, err := c.translateBatch(ctx, batch, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		for i := range batch {
			batch[i].Translation = lines[i]
		}
	}
	return out, nil
}

func (c *Client) translateBatch(ctx context.Context, batch []subtitle.Cue, sourceLang, targetLang string) ([]string, error) {
	request := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(sourceLang, targetLang)},
			{Role: "user", Content: numberedLines(batch)},
		},
		Temperature: 0,
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "translate", "translate", "encode request", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/chat/completions")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "translate", "translate", "build url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "translate", "translate", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "translate", "translate", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "translate", "translate", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		marker := services.ErrPermanent
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			marker = services.ErrResourceExhausted
		case resp.StatusCode >= http.StatusInternalServerError:
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "translate", "translate",
			fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, services.Wrap(services.ErrPermanent, "translate", "translate", "decode response", err)
	}
	if completion.Error != nil {
		return nil, services.Wrap(services.ErrPermanent, "translate", "translate", "api error",
			fmt.Errorf("%s", strings.TrimSpace(completion.Error.Message)))
	}
	if len(completion.Choices) == 0 {
		return nil, services.Wrap(services.ErrTransient, "translate", "translate", "empty choices", nil)
	}
	lines, err := parseNumberedLines(completion.Choices[0].Message.Content, len(batch))
	if err != nil {
		return nil, err
	}
	return lines, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
