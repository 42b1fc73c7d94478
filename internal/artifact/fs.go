package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps artifacts on the local filesystem under root/<jobID>/<key>.
// Writes go to a temp file in the destination directory and are published
// with an atomic rename, so concurrent readers never see partial bytes.
type FSStore struct {
	root string
}

// NewFSStore creates the store root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) objectPath(jobID, key string) string {
	return filepath.Join(s.root, jobID, key)
}

// Put streams r into the store. If the key already exists the incoming
// bytes are drained and the stored artifact is returned unchanged.
func (s *FSStore) Put(ctx context.Context, jobID, key string, kind Kind, r io.Reader) (Artifact, error) {
	if err := ValidateKey(key); err != nil {
		return Artifact{}, err
	}
	dest := s.objectPath(jobID, key)
	if info, err := os.Stat(dest); err == nil {
		_, _ = io.Copy(io.Discard, r)
		digest, derr := hashFile(dest)
		if derr != nil {
			return Artifact{}, derr
		}
		return Artifact{JobID: jobID, Key: key, Kind: kind, Size: info.Size(), Digest: digest}, nil
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create job directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close object: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return Artifact{}, fmt.Errorf("publish object: %w", err)
	}
	return Artifact{
		JobID:  jobID,
		Key:    key,
		Kind:   kind,
		Size:   size,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// hashFile computes the content sha256 of a stored object, so the dedupe
// path reports the same digest as the original write. Downstream node keys
// hash upstream digests; a digest that varies between runs would defeat
// memoization on resume.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open stored object: %w", err)
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash stored object: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Get opens a stored object for reading.
func (s *FSStore) Get(ctx context.Context, jobID, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := os.Open(s.objectPath(jobID, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s/%s: %w", jobID, key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return file, nil
}

// Exists reports whether the key holds stored bytes.
func (s *FSStore) Exists(ctx context.Context, jobID, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.objectPath(jobID, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact: %w", err)
}

// DeleteJob purges every artifact stored for a job.
func (s *FSStore) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if err := os.RemoveAll(filepath.Join(s.root, jobID)); err != nil {
		return fmt.Errorf("purge job artifacts: %w", err)
	}
	return nil
}
