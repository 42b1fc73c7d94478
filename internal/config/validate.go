package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTTS(); err != nil {
		return err
	}
	if err := c.validateSubtitles(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "fs":
		return nil
	case "s3":
		if strings.TrimSpace(c.Store.Endpoint) == "" {
			return errors.New("store.endpoint must be set when store.backend is s3")
		}
		if strings.TrimSpace(c.Store.Bucket) == "" {
			return errors.New("store.bucket must be set when store.backend is s3")
		}
		if strings.TrimSpace(c.Store.AccessKey) == "" || strings.TrimSpace(c.Store.SecretKey) == "" {
			return errors.New("store.access_key and store.secret_key must be set when store.backend is s3")
		}
		return nil
	default:
		return fmt.Errorf("store.backend must be fs or s3, got %q", c.Store.Backend)
	}
}

func (c *Config) validateTTS() error {
	if !c.TTS.GPTSoVITS.Enabled && !c.TTS.IndexTTS.Enabled {
		return errors.New("at least one tts engine must be enabled")
	}
	if c.TTS.GPTSoVITS.Enabled && strings.TrimSpace(c.TTS.GPTSoVITS.BaseURL) == "" {
		return errors.New("tts.gptsovits.base_url must be set when enabled")
	}
	if c.TTS.IndexTTS.Enabled && strings.TrimSpace(c.TTS.IndexTTS.BaseURL) == "" {
		return errors.New("tts.indextts.base_url must be set when enabled")
	}
	return nil
}

func (c *Config) validateSubtitles() error {
	switch c.Subtitles.Position {
	case "top", "bottom":
	default:
		return fmt.Errorf("subtitles.position must be top or bottom, got %q", c.Subtitles.Position)
	}
	if c.Subtitles.FontSize < 8 || c.Subtitles.FontSize > 96 {
		return errors.New("subtitles.font_size must be between 8 and 96")
	}
	if c.Subtitles.MaxLineChars < 10 {
		return errors.New("subtitles.max_line_chars must be at least 10")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.SynthWorkers > 64 {
		return errors.New("workflow.synth_workers must not exceed 64")
	}
	if c.Workflow.RetryMaxAttempts > 10 {
		return errors.New("workflow.retry_max_attempts must not exceed 10")
	}
	return nil
}
