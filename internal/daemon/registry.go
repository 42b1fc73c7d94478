package daemon

import (
	"errors"
	"fmt"
	"time"

	"redub/internal/config"
	"redub/internal/services/ffmpeg"
	"redub/internal/services/translate"
	"redub/internal/services/tts"
	"redub/internal/services/tts/gptsovits"
	"redub/internal/services/tts/indextts"
	"redub/internal/services/whisperx"
	"redub/internal/services/ytdlp"
	"redub/internal/stage"
	"redub/internal/stage/adapters"
)

// buildRegistry constructs every stage adapter from configuration. At least
// one synthesis engine must be enabled; there is nothing to dub with
// otherwise.
func buildRegistry(cfg *config.Config) (*stage.Registry, error) {
	registry := stage.NewRegistry()
	ff := ffmpeg.NewService(cfg.FFmpegBinary(), cfg.FFprobeBinary())

	registry.Register(stage.KindDownload, "", &adapters.Download{
		Client:      ytdlp.NewClient(cfg.Download.Binary),
		RateLimit:   rateLimitArg(cfg.Download.RateLimitMBps),
		CookiesPath: cfg.Download.CookiesPath,
		ProxyURL:    cfg.Download.ProxyURL,
	})
	registry.Register(stage.KindDemux, "", &adapters.Demux{FFmpeg: ff})

	device, computeType := "cpu", "int8"
	if cfg.Transcribe.CUDAEnabled {
		device, computeType = "cuda", "float16"
	}
	registry.Register(stage.KindTranscribe, "", &adapters.Transcribe{
		Client:      whisperx.NewClient(cfg.Transcribe.Binary),
		Model:       cfg.Transcribe.Model,
		Device:      device,
		ComputeType: computeType,
	})

	registry.Register(stage.KindTranslate, "", &adapters.Translate{
		Client: translate.NewClient(cfg.Translate.APIKey,
			translate.WithBaseURL(cfg.Translate.BaseURL),
			translate.WithModel(cfg.Translate.Model),
		),
	})
	registry.Register(stage.KindSegment, "", &adapters.Segment{})

	registered := 0
	if cfg.TTS.GPTSoVITS.Enabled {
		engine := gptsovits.NewClient(
			cfg.TTS.GPTSoVITS.RefAudioPath,
			cfg.TTS.GPTSoVITS.PromptText,
			cfg.TTS.GPTSoVITS.PromptLang,
			gptsovits.WithBaseURL(cfg.TTS.GPTSoVITS.BaseURL),
			gptsovits.WithTimeout(time.Duration(cfg.TTS.GPTSoVITS.TimeoutSeconds)*time.Second),
		)
		registry.Register(stage.KindSynthesize, tts.EngineGPTSoVITS, &adapters.Synthesize{Engine: engine})
		registered++
	}
	if cfg.TTS.IndexTTS.Enabled {
		engine := indextts.NewClient(
			cfg.TTS.IndexTTS.RefAudioPath,
			indextts.WithBaseURL(cfg.TTS.IndexTTS.BaseURL),
			indextts.WithTimeout(time.Duration(cfg.TTS.IndexTTS.TimeoutSeconds)*time.Second),
		)
		registry.Register(stage.KindSynthesize, tts.EngineIndexTTS, &adapters.Synthesize{Engine: engine})
		registered++
	}
	if registered == 0 {
		return nil, errors.New("no tts engine is enabled")
	}

	registry.Register(stage.KindMux, "", &adapters.Mux{
		FFmpeg:     ff,
		Style:      subtitleStyle(cfg.Subtitles),
		Bilingual:  cfg.Subtitles.Bilingual,
		AudioCodec: cfg.Encode.AudioCodec,
		Quality:    cfg.Encode.Quality,
		SampleRate: cfg.Encode.SampleRate,
		Channels:   cfg.Encode.Channels,
	})
	return registry, nil
}

func subtitleStyle(sub config.Subtitles) ffmpeg.SubtitleStyle {
	return ffmpeg.SubtitleStyle{
		Position:     sub.Position,
		FontSize:     sub.FontSize,
		FontColor:    sub.FontColor,
		OutlineColor: sub.OutlineColor,
		OutlineWidth: sub.OutlineWidth,
		MarginV:      sub.MarginV,
		FontFile:     sub.FontFile,
	}
}

// rateLimitArg converts a MB/s budget into yt-dlp's --limit-rate form.
func rateLimitArg(mbps float64) string {
	if mbps <= 0 {
		return ""
	}
	return fmt.Sprintf("%gM", mbps)
}
