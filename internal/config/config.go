package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	StoreDir string `toml:"store_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
}

// Store selects and configures the artifact store backend.
type Store struct {
	Backend   string `toml:"backend"` // "fs" or "s3"
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Download contains configuration for fetching remote source videos.
type Download struct {
	Binary         string  `toml:"binary"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimitMBps  float64 `toml:"rate_limit_mbps"`
	CookiesPath    string  `toml:"cookies_path"`
	ProxyURL       string  `toml:"proxy_url"`
}

// Transcribe contains configuration for WhisperX speech recognition.
type Transcribe struct {
	Binary         string `toml:"binary"`
	Model          string `toml:"model"`
	CUDAEnabled    bool   `toml:"cuda_enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Translate contains settings for the OpenAI-compatible translation endpoint.
type Translate struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTSEngine holds per-engine synthesis endpoint settings.
type TTSEngine struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	RefAudioPath   string `toml:"ref_audio_path"`
	PromptText     string `toml:"prompt_text"`
	PromptLang     string `toml:"prompt_lang"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTS groups the registered synthesis engines.
type TTS struct {
	GPTSoVITS TTSEngine `toml:"gptsovits"`
	IndexTTS  TTSEngine `toml:"indextts"`
}

// Subtitles contains default rendering options for burned-in subtitles.
type Subtitles struct {
	Position      string `toml:"position"` // "bottom" or "top"
	FontSize      int    `toml:"font_size"`
	FontColor     string `toml:"font_color"`
	OutlineColor  string `toml:"outline_color"`
	OutlineWidth  int    `toml:"outline_width"`
	MarginV       int    `toml:"margin_v"`
	Bilingual     bool   `toml:"bilingual"`
	MaxLineChars  int    `toml:"max_line_chars"`
	MinCueMillis  int    `toml:"min_cue_millis"`
	FontFile      string `toml:"font_file"`
}

// Encode contains audio/video encode parameters for the final mux.
type Encode struct {
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	AudioCodec string `toml:"audio_codec"`
	Quality    string `toml:"quality"`
}

// Workflow contains scheduler concurrency and retry settings. Stage
// deadlines for download, transcription, and translation live with their
// service sections; the workflow only owns synth and mux, which have no
// section of their own.
type Workflow struct {
	SynthWorkers       int `toml:"synth_workers"`
	StageWorkers       int `toml:"stage_workers"`
	RetryMaxAttempts   int `toml:"retry_max_attempts"`
	RetryBackoffMillis int `toml:"retry_backoff_millis"`
	SynthTimeoutSecs   int `toml:"synth_timeout_seconds"`
	MuxTimeoutSecs     int `toml:"mux_timeout_seconds"`
	ShutdownGraceSecs  int `toml:"shutdown_grace_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the daemon.
//
// Sections by subsystem:
//   - Paths: working directories and API bind address
//   - Store: artifact store backend (filesystem or S3)
//   - Download / Transcribe / Translate / TTS: external engine settings
//   - Subtitles: rendering defaults applied when a job omits them
//   - Encode: final audio encode parameters
//   - Workflow: scheduler concurrency, timeouts, and retry policy
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Store      Store      `toml:"store"`
	Download   Download   `toml:"download"`
	Transcribe Transcribe `toml:"transcribe"`
	Translate  Translate  `toml:"translate"`
	TTS        TTS        `toml:"tts"`
	Subtitles  Subtitles  `toml:"subtitles"`
	Encode     Encode     `toml:"encode"`
	Workflow   Workflow   `toml:"workflow"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the default config file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/redub/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("redub.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.LogDir}
	if strings.EqualFold(c.Store.Backend, "fs") {
		dirs = append(dirs, c.Paths.StoreDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ManifestPath returns the SQLite manifest database location.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.WorkDir, "manifest.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.WorkDir, "redub.lock")
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string { return "ffmpeg" }

// FFprobeBinary returns the ffprobe executable name.
func (c *Config) FFprobeBinary() string { return "ffprobe" }

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path must not be empty")
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			trimmed = home
		} else {
			trimmed = filepath.Join(home, trimmed[2:])
		}
	}
	return filepath.Abs(trimmed)
}
