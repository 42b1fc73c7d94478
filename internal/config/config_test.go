package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Store.Backend != "fs" {
		t.Fatalf("expected fs backend, got %q", cfg.Store.Backend)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Workflow.SynthWorkers != defaultSynthWorkers {
		t.Fatalf("synth workers = %d, want default %d", cfg.Workflow.SynthWorkers, defaultSynthWorkers)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(dir, "work") + `"
[workflow]
synth_workers = 8
[subtitles]
position = "top"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Workflow.SynthWorkers != 8 {
		t.Fatalf("synth workers = %d, want 8", cfg.Workflow.SynthWorkers)
	}
	if cfg.Subtitles.Position != "top" {
		t.Fatalf("position = %q, want top", cfg.Subtitles.Position)
	}
	// Untouched sections keep defaults.
	if cfg.Translate.Model != defaultTranslateModel {
		t.Fatalf("translate model = %q, want default", cfg.Translate.Model)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.Store.Backend = "ftp" }, "store.backend"},
		{"s3 missing endpoint", func(c *Config) { c.Store.Backend = "s3" }, "store.endpoint"},
		{"no engines", func(c *Config) {
			c.TTS.GPTSoVITS.Enabled = false
			c.TTS.IndexTTS.Enabled = false
		}, "tts engine"},
		{"bad position", func(c *Config) { c.Subtitles.Position = "middle" }, "subtitles.position"},
		{"tiny line budget", func(c *Config) { c.Subtitles.MaxLineChars = 3 }, "max_line_chars"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				t.Fatal(err)
			}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}
