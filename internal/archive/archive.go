// Package archive keeps a copy of every submitted manifest in an S3 compatible object store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AbhishekMashetty/axon/pkg/config"
)

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store writes manifests under batches/<batch id>/<file name>.
type Store struct {
	client objectStore
	bucket string
	region string
	logger *slog.Logger
}

// Validate checks that the archive settings are usable.
func Validate(cfg config.ArchiveConfig) error {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("archive endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return fmt.Errorf("archive endpoint must not include scheme: %q", cfg.Endpoint)
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return errors.New("archive credentials are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// New builds a Store on a MinIO client.
func New(cfg config.ArchiveConfig, logger *slog.Logger) (*Store, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newStore(client, cfg.Bucket, cfg.Region, logger), nil
}

func newStore(client objectStore, bucket, region string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, bucket: bucket, region: region, logger: logger.With("component", "archive")}
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("archive bucket created", "bucket", s.bucket)
	return nil
}

// ObjectKey returns the key a manifest is stored under. Only the base name of filename is kept.
func ObjectKey(batchID, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "manifest.yaml"
	}
	return path.Join("batches", batchID, name)
}

// Save uploads the manifest content and returns its key.
func (s *Store) Save(ctx context.Context, batchID, filename string, content []byte) (string, error) {
	key := ObjectKey(batchID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  "application/yaml",
		UserMetadata: map[string]string{"batch-id": batchID},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Info("manifest archived", "batch_id", batchID, "key", key, "bytes", len(content))
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
