// Package objstore uploads cached images to S3-compatible storage and
// issues time-limited signed URLs. It exists for display and persistence
// only; zoom and crop computation always runs on the local raster.
package objstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/loliloopp/aizoomdoc-sub000/config"
)

// Store is the object storage client for image artifacts.
type Store struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

// New creates an object store client from configuration. Returns nil when
// object storage is not configured; callers treat a nil store as disabled.
func New(cfg config.ObjectConfig) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Store{client: client, bucket: cfg.Bucket, urlExpiry: expiry}, nil
}

// Upload stores a local image file under key and returns a signed URL valid
// for the configured expiry.
func (s *Store) Upload(ctx context.Context, key, localPath string) (string, error) {
	if s == nil {
		return "", nil
	}
	contentType := "image/png"
	if ext := filepath.Ext(localPath); ext == ".jpg" || ext == ".jpeg" {
		contentType = "image/jpeg"
	}
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.SignedURL(ctx, key)
}

// SignedURL returns a presigned GET URL for an already-uploaded key.
func (s *Store) SignedURL(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return u.String(), nil
}
