package config

import (
	"fmt"
	"strings"
)

// normalize expands path fields and applies fallbacks for empty values so the
// rest of the daemon never re-checks them.
func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(valueOr(c.Paths.WorkDir, defaultWorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.StoreDir, err = expandPath(valueOr(c.Paths.StoreDir, defaultStoreDir)); err != nil {
		return fmt.Errorf("paths.store_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(valueOr(c.Paths.LogDir, defaultLogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = valueOr(c.Paths.APIBind, defaultAPIBind)

	c.Store.Backend = strings.ToLower(valueOr(c.Store.Backend, defaultStoreBackend))

	c.Download.Binary = valueOr(c.Download.Binary, defaultDownloadBinary)
	c.Transcribe.Binary = valueOr(c.Transcribe.Binary, defaultTranscribeBinary)
	c.Transcribe.Model = valueOr(c.Transcribe.Model, defaultTranscribeModel)
	c.Translate.BaseURL = strings.TrimRight(valueOr(c.Translate.BaseURL, defaultTranslateBaseURL), "/")
	c.Translate.Model = valueOr(c.Translate.Model, defaultTranslateModel)
	c.TTS.GPTSoVITS.BaseURL = strings.TrimRight(valueOr(c.TTS.GPTSoVITS.BaseURL, defaultGPTSoVITSBaseURL), "/")
	c.TTS.IndexTTS.BaseURL = strings.TrimRight(valueOr(c.TTS.IndexTTS.BaseURL, defaultIndexTTSBaseURL), "/")

	c.Subtitles.Position = strings.ToLower(valueOr(c.Subtitles.Position, defaultSubtitlePosition))
	if c.Subtitles.FontSize <= 0 {
		c.Subtitles.FontSize = defaultSubtitleFontSize
	}
	if c.Subtitles.MaxLineChars <= 0 {
		c.Subtitles.MaxLineChars = defaultMaxLineChars
	}
	if c.Subtitles.MinCueMillis <= 0 {
		c.Subtitles.MinCueMillis = defaultMinCueMillis
	}

	if c.Encode.SampleRate <= 0 {
		c.Encode.SampleRate = defaultSampleRate
	}
	if c.Encode.Channels <= 0 {
		c.Encode.Channels = defaultChannels
	}
	c.Encode.AudioCodec = valueOr(c.Encode.AudioCodec, defaultAudioCodec)
	c.Encode.Quality = valueOr(c.Encode.Quality, defaultQuality)

	if c.Workflow.SynthWorkers <= 0 {
		c.Workflow.SynthWorkers = defaultSynthWorkers
	}
	if c.Workflow.StageWorkers <= 0 {
		c.Workflow.StageWorkers = defaultStageWorkers
	}
	if c.Workflow.RetryMaxAttempts <= 0 {
		c.Workflow.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if c.Workflow.RetryBackoffMillis <= 0 {
		c.Workflow.RetryBackoffMillis = defaultRetryBackoffMillis
	}
	if c.Workflow.ShutdownGraceSecs <= 0 {
		c.Workflow.ShutdownGraceSecs = defaultShutdownGraceSecs
	}

	c.Logging.Level = valueOr(c.Logging.Level, defaultLogLevel)
	return nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
