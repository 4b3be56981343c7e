// Package objectstore keeps generated previews in a MinIO bucket.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

const (
	previewPrefix      = "previews"
	previewContentType = "image/jpeg"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewClient creates a MinIO client.
func NewClient(cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init: %w", err)
	}
	return client, nil
}

// PreviewStore implements domain.PreviewStore on a bucket. Objects live at
// previews/{chatID}/{stamp}-{name}; the zero-padded nanosecond stamp keeps
// listing order equal to save order and lets equal names coexist.
type PreviewStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewPreviewStore makes sure the bucket exists and returns a store over it.
func NewPreviewStore(ctx context.Context, client *minio.Client, bucket string, logger *zap.Logger) (*PreviewStore, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		logger.Info("created preview bucket", zap.String("bucket", bucket))
	}

	return &PreviewStore{client: client, bucket: bucket, logger: logger, now: time.Now}, nil
}

// SavePreview uploads data as a new object.
func (s *PreviewStore) SavePreview(ctx context.Context, chatID int64, name string, data []byte) error {
	key := objectKey(chatID, s.now(), name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: previewContentType},
	)
	if err != nil {
		return fmt.Errorf("upload preview %s: %w", key, err)
	}
	s.logger.Debug("preview uploaded", zap.String("bucket", s.bucket), zap.String("key", key))
	return nil
}

// GetPreviews downloads every preview of the chat, oldest first.
func (s *PreviewStore) GetPreviews(ctx context.Context, chatID int64) ([]domain.Preview, error) {
	previews := []domain.Preview{}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    chatPrefix(chatID),
		Recursive: true,
	})
	for info := range objects {
		if info.Err != nil {
			return nil, fmt.Errorf("list previews: %w", info.Err)
		}

		data, err := s.download(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		previews = append(previews, domain.Preview{Name: previewName(chatID, info.Key), Data: data})
	}
	return previews, nil
}

func (s *PreviewStore) download(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get preview %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read preview %s: %w", key, err)
	}
	return data, nil
}

func chatPrefix(chatID int64) string {
	return previewPrefix + "/" + strconv.FormatInt(chatID, 10) + "/"
}

func objectKey(chatID int64, at time.Time, name string) string {
	return fmt.Sprintf("%s%020d-%s", chatPrefix(chatID), at.UnixNano(), name)
}

// previewName strips the chat prefix and stamp from an object key.
func previewName(chatID int64, key string) string {
	base := strings.TrimPrefix(key, chatPrefix(chatID))
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[i+1:]
	}
	return base
}

var _ domain.PreviewStore = (*PreviewStore)(nil)
