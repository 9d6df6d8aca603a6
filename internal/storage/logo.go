// Package storage keeps customer logos in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
)

// MaxLogoSize is the largest accepted logo, in bytes.
const MaxLogoSize = 3 << 20

const logoPrefix = "logos"

var (
	ErrStorageNotConfigured = apperr.New(apperr.ErrConfiguration, "logo storage is not configured")
	ErrLogoEmpty            = apperr.New(apperr.ErrValidation, "logo file is empty")
	ErrLogoTooLarge         = apperr.New(apperr.ErrValidation, "logo file exceeds 3MB")
	ErrUnsupportedLogoType  = apperr.New(apperr.ErrValidation, "logo must be a PNG, JPEG, WEBP or SVG image")
)

// allowedLogoTypes maps sniffed MIME types to the stored file extension.
var allowedLogoTypes = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type UploadedLogo struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

type LogoStore struct {
	client  objectStore
	bucket  string
	baseURL string
}

// NewLogoStore connects to the configured endpoint. Without an endpoint the
// store is returned unconfigured and every upload fails with
// ErrStorageNotConfigured.
func NewLogoStore(cfg config.StorageConfig) (*LogoStore, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("storage: no endpoint configured, logo uploads are disabled")
		return &LogoStore{bucket: cfg.Bucket}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create client: %w", err)
	}

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return newLogoStore(client, cfg.Bucket, baseURL), nil
}

func newLogoStore(client objectStore, bucket, baseURL string) *LogoStore {
	return &LogoStore{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// EnsureBucket creates the logo bucket when it does not exist yet.
func (s *LogoStore) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: failed to create bucket %s: %w", s.bucket, err)
	}
	log.Info().Str("bucket", s.bucket).Msg("storage: bucket created")
	return nil
}

// UploadLogo sniffs the content type of r, rejects anything that is not an
// accepted image or is larger than MaxLogoSize, and stores it under a fresh
// random name.
func (s *LogoStore) UploadLogo(ctx context.Context, r io.Reader) (*UploadedLogo, error) {
	if s.client == nil {
		return nil, ErrStorageNotConfigured
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxLogoSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to read logo: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrLogoEmpty
	}
	if len(data) > MaxLogoSize {
		return nil, ErrLogoTooLarge
	}

	mime := mimetype.Detect(data)
	ext, ok := extensionFor(mime)
	if !ok {
		log.Warn().Str("mime", mime.String()).Msg("storage: rejected logo content type")
		return nil, ErrUnsupportedLogoType
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to generate logo name: %w", err)
	}
	path := fmt.Sprintf("%s/%s.%s", logoPrefix, id, ext)

	_, err = s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  mime.String(),
		CacheControl: "public, max-age=31536000",
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("storage: failed to upload logo")
		return nil, fmt.Errorf("storage: failed to upload logo: %w", err)
	}

	log.Info().Str("path", path).Int("size", len(data)).Msg("storage: logo uploaded")
	return &UploadedLogo{Path: path, URL: s.baseURL + "/" + path}, nil
}

func extensionFor(mime *mimetype.MIME) (string, bool) {
	for m := mime; m != nil; m = m.Parent() {
		base, _, _ := strings.Cut(m.String(), ";")
		if ext, ok := allowedLogoTypes[base]; ok {
			return ext, true
		}
	}
	return "", false
}
