package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"TopicToVideo-server/config"
	"TopicToVideo-server/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectEntry is one stored artifact.
type ObjectEntry struct {
	Key  string
	Size int64
}

// ObjectStorage persists artifacts and hands back URLs for them.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectEntry, error)
	Remove(ctx context.Context, keys []string) error
}

// presigned links cannot outlive seven days.
const presignExpiry = 7 * 24 * time.Hour

type MinIOStorage struct {
	client *minio.Client
	bucket string
	domain string
	log    *logger.Logger
}

// NewMinIOStorage connects and makes sure the bucket exists.
func NewMinIOStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*MinIOStorage, error) {
	c := cfg.MinIO
	client, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &MinIOStorage{
		client: client,
		bucket: c.Bucket,
		domain: strings.TrimRight(c.Domain, "/"),
		log:    log.With("component", "storage"),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStorage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("bucket created", "bucket", s.bucket)
	return nil
}

func (s *MinIOStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutReader uploads r (size -1 when unknown), overwriting any previous object.
func (s *MinIOStorage) PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	u, err := s.publicURL(ctx, key)
	if err != nil {
		return "", err
	}
	s.log.Debug("object uploaded", "key", key, "size", size)
	return u, nil
}

func (s *MinIOStorage) publicURL(ctx context.Context, key string) (string, error) {
	if s.domain != "" {
		return s.domain + "/" + path.Join(s.bucket, key), nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return presigned.String(), nil
}

func (s *MinIOStorage) List(ctx context.Context, prefix string) ([]ObjectEntry, error) {
	var out []ObjectEntry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		out = append(out, ObjectEntry{Key: obj.Key, Size: obj.Size})
	}
	return out, nil
}

func (s *MinIOStorage) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var firstErr error
	failed := 0
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = rerr.Err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("remove %d of %d objects failed: %w", failed, len(keys), firstErr)
	}
	return nil
}

// ContentTypeFor guesses a content type from the key's extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// ArtifactKey builds the storage key for a project's artifact.
func ArtifactKey(projectID, name string) string {
	return projectID + "/" + name
}

// ArtifactPrefix is the prefix every artifact of a project lives under.
func ArtifactPrefix(projectID string) string {
	return projectID + "/"
}
