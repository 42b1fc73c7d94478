// Package adapters provides the concrete stage implementations that wrap
// the external services behind the stage.Adapter contract.
//
// Inter-stage subtitle data travels as JSON cue lists because SRT cannot
// carry the source and translation of a cue side by side; the transcript
// produced by transcription is plain SRT, and the mux adapter renders SRT
// again when burning subtitles in.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"redub/internal/artifact"
	"redub/internal/services"
	"redub/internal/stage"
	"redub/internal/subtitle"
)

// materialize copies an input artifact from the store into the node's
// working directory so file-based tools can read it.
func materialize(ctx context.Context, req stage.Request, art artifact.Artifact, filename string) (string, error) {
	reader, err := req.Store.Get(ctx, req.JobID, art.Key)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, string(art.Kind), "materialize", "read input artifact", err)
	}
	defer reader.Close()

	path := filepath.Join(req.WorkDir, filename)
	file, err := os.Create(path)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, string(art.Kind), "materialize", "create working file", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(path)
		return "", services.Wrap(services.ErrTransient, string(art.Kind), "materialize", "copy input artifact", err)
	}
	return path, nil
}

// putFile stores a produced file under the node's key.
func putFile(ctx context.Context, req stage.Request, kind artifact.Kind, path string) (artifact.Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, string(kind), "store", "open produced file", err)
	}
	defer file.Close()
	art, err := req.Store.Put(ctx, req.JobID, req.Key, kind, file)
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, string(kind), "store", "store artifact", err)
	}
	return art, nil
}

// readCues decodes a JSON cue-list artifact.
func readCues(ctx context.Context, req stage.Request, art artifact.Artifact) ([]subtitle.Cue, error) {
	reader, err := req.Store.Get(ctx, req.JobID, art.Key)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, string(art.Kind), "read cues", "read input artifact", err)
	}
	defer reader.Close()
	var cues []subtitle.Cue
	if err := json.NewDecoder(reader).Decode(&cues); err != nil {
		return nil, services.Wrap(services.ErrPermanent, string(art.Kind), "read cues", "decode cue list", err)
	}
	return cues, nil
}

// putCues stores a cue list as a JSON subtitle-track artifact.
func putCues(ctx context.Context, req stage.Request, cues []subtitle.Cue) (artifact.Artifact, error) {
	encoded, err := json.Marshal(cues)
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrPermanent, "subtitle-track", "store", "encode cue list", err)
	}
	art, err := req.Store.Put(ctx, req.JobID, req.Key, artifact.KindSubtitleTrack, bytes.NewReader(encoded))
	if err != nil {
		return artifact.Artifact{}, services.Wrap(services.ErrTransient, "subtitle-track", "store", "store artifact", err)
	}
	return art, nil
}

func requiredInput(req stage.Request, kind artifact.Kind, stageName string) (artifact.Artifact, error) {
	input, ok := req.Input(kind)
	if !ok {
		return artifact.Artifact{}, services.Wrap(services.ErrValidation, stageName, "invoke",
			fmt.Sprintf("missing %s input", kind), nil)
	}
	return input, nil
}

func intParam(params map[string]string, key string, fallback int) int {
	if raw, ok := params[key]; ok {
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}
	return fallback
}
