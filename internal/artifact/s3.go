package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps artifacts in an S3-compatible bucket under <jobID>/<key>.
// MinIO object puts are atomic at the object level, which satisfies the
// store's no-partial-reads guarantee.
type S3Store struct {
	client *minio.Client
	bucket string
}

// S3Options configures the S3 backend.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewS3Store connects to the endpoint and ensures the bucket exists.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect s3 endpoint: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

func objectName(jobID, key string) string {
	return jobID + "/" + key
}

// Put uploads the object unless the key already exists.
func (s *S3Store) Put(ctx context.Context, jobID, key string, kind Kind, r io.Reader) (Artifact, error) {
	if err := ValidateKey(key); err != nil {
		return Artifact{}, err
	}
	name := objectName(jobID, key)
	if stat, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err == nil {
		_, _ = io.Copy(io.Discard, r)
		digest, derr := s.hashObject(ctx, name)
		if derr != nil {
			return Artifact{}, derr
		}
		return Artifact{JobID: jobID, Key: key, Kind: kind, Size: stat.Size, Digest: digest}, nil
	}
	hasher := sha256.New()
	info, err := s.client.PutObject(ctx, s.bucket, name, io.TeeReader(r, hasher), -1, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"artifact-kind": string(kind)},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("put object %s: %w", name, err)
	}
	return Artifact{
		JobID:  jobID,
		Key:    key,
		Kind:   kind,
		Size:   info.Size,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// hashObject computes the content sha256 of a stored object. Keeps the
// dedupe path's digest identical to the one the original upload reported.
func (s *S3Store) hashObject(ctx context.Context, name string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get object %s: %w", name, err)
	}
	defer obj.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, obj); err != nil {
		return "", fmt.Errorf("hash object %s: %w", name, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Get opens a stored object for reading.
func (s *S3Store) Get(ctx context.Context, jobID, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	name := objectName(jobID, key)
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", name, fs.ErrNotExist)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", name, err)
	}
	return obj, nil
}

// Exists reports whether the key holds a stored object.
func (s *S3Store) Exists(ctx context.Context, jobID, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, objectName(jobID, key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// DeleteJob removes every object stored under the job's prefix.
func (s *S3Store) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id is empty")
	}
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    jobID + "/",
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return fmt.Errorf("list job objects: %w", object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", object.Key, err)
		}
	}
	return nil
}
