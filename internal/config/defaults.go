package config

const (
	defaultWorkDir              = "~/.local/share/redub"
	defaultStoreDir             = "~/.local/share/redub/store"
	defaultLogDir               = "~/.local/share/redub/logs"
	defaultAPIBind              = "127.0.0.1:7519"
	defaultStoreBackend         = "fs"
	defaultDownloadBinary       = "yt-dlp"
	defaultDownloadTimeout      = 1800
	defaultTranscribeBinary     = "whisperx"
	defaultTranscribeModel      = "large-v3-turbo"
	defaultTranscribeTimeout    = 3600
	defaultTranslateBaseURL     = "https://api.openai.com/v1"
	defaultTranslateModel       = "gpt-4o-mini"
	defaultTranslateTimeout     = 300
	defaultGPTSoVITSBaseURL     = "http://127.0.0.1:9880"
	defaultIndexTTSBaseURL      = "http://127.0.0.1:9881"
	defaultTTSTimeout           = 120
	defaultSubtitlePosition     = "bottom"
	defaultSubtitleFontSize     = 20
	defaultSubtitleFontColor    = "white"
	defaultSubtitleOutlineColor = "black"
	defaultSubtitleOutlineWidth = 1
	defaultSubtitleMarginV      = 18
	defaultMaxLineChars         = 42
	defaultMinCueMillis         = 300
	defaultSampleRate           = 44100
	defaultChannels             = 2
	defaultAudioCodec           = "aac"
	defaultQuality              = "192k"
	defaultSynthWorkers         = 4
	defaultStageWorkers         = 2
	defaultRetryMaxAttempts     = 3
	defaultRetryBackoffMillis   = 500
	defaultSynthTimeoutSecs     = 300
	defaultMuxTimeoutSecs       = 1800
	defaultShutdownGraceSecs    = 30
	defaultLogFormat            = ""
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			StoreDir: defaultStoreDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Store: Store{
			Backend: defaultStoreBackend,
			Bucket:  "redub-artifacts",
		},
		Download: Download{
			Binary:         defaultDownloadBinary,
			TimeoutSeconds: defaultDownloadTimeout,
		},
		Transcribe: Transcribe{
			Binary:         defaultTranscribeBinary,
			Model:          defaultTranscribeModel,
			TimeoutSeconds: defaultTranscribeTimeout,
		},
		Translate: Translate{
			BaseURL:        defaultTranslateBaseURL,
			Model:          defaultTranslateModel,
			TimeoutSeconds: defaultTranslateTimeout,
		},
		TTS: TTS{
			GPTSoVITS: TTSEngine{
				Enabled:        true,
				BaseURL:        defaultGPTSoVITSBaseURL,
				PromptLang:     "zh",
				TimeoutSeconds: defaultTTSTimeout,
			},
			IndexTTS: TTSEngine{
				BaseURL:        defaultIndexTTSBaseURL,
				TimeoutSeconds: defaultTTSTimeout,
			},
		},
		Subtitles: Subtitles{
			Position:     defaultSubtitlePosition,
			FontSize:     defaultSubtitleFontSize,
			FontColor:    defaultSubtitleFontColor,
			OutlineColor: defaultSubtitleOutlineColor,
			OutlineWidth: defaultSubtitleOutlineWidth,
			MarginV:      defaultSubtitleMarginV,
			MaxLineChars: defaultMaxLineChars,
			MinCueMillis: defaultMinCueMillis,
		},
		Encode: Encode{
			SampleRate: defaultSampleRate,
			Channels:   defaultChannels,
			AudioCodec: defaultAudioCodec,
			Quality:    defaultQuality,
		},
		Workflow: Workflow{
			SynthWorkers:       defaultSynthWorkers,
			StageWorkers:       defaultStageWorkers,
			RetryMaxAttempts:   defaultRetryMaxAttempts,
			RetryBackoffMillis: defaultRetryBackoffMillis,
			SynthTimeoutSecs:   defaultSynthTimeoutSecs,
			MuxTimeoutSecs:     defaultMuxTimeoutSecs,
			ShutdownGraceSecs:  defaultShutdownGraceSecs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
