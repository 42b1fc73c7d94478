package adapters

import (
	"context"
	"os"
	"strings"

	"redub/internal/artifact"
	"redub/internal/logging"
	"redub/internal/services"
	"redub/internal/services/ytdlp"
	"redub/internal/stage"
)

// Download fetches the source video. URL sources go through yt-dlp; local
// paths are ingested directly.
type Download struct {
	Client      *ytdlp.Client
	Format      string
	Fragments   int
	RateLimit   string
	CookiesPath string
	ProxyURL    string
}

func (d *Download) Kind() stage.NodeKind { return stage.KindDownload }

// Deterministic is false: remote content behind a URL can change between
// fetches.
func (d *Download) Deterministic() bool { return false }

func (d *Download) Invoke(ctx context.Context, req stage.Request) (artifact.Artifact, error) {
	source := strings.TrimSpace(req.Params["source"])
	if source == "" {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, "download", "invoke", "source is required", nil)
	}

	if isURL(source) {
		req.Logger.Info("downloading source video", logging.String("source", source))
		path, err := d.Client.Download(ctx, ytdlp.Options{
			URL:         source,
			OutputDir:   req.WorkDir,
			Format:      d.Format,
			Fragments:   d.Fragments,
			RateLimit:   d.RateLimit,
			CookiesPath: d.CookiesPath,
			ProxyURL:    d.ProxyURL,
		})
		if err != nil {
			return artifact.Artifact{}, err
		}
		return putFile(ctx, req, artifact.KindRawVideo, path)
	}

	req.Logger.Info("ingesting local source video", logging.String("source", source))
	if info, err := os.Stat(source); err != nil || info.IsDir() {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, "download", "invoke", "local source file not found", err)
	}
	return putFile(ctx, req, artifact.KindRawVideo, source)
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
