package upload

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// ObjectClient is the subset of the MinIO client used for publishing
type ObjectClient interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// ObjectStore publishes videos to an S3 compatible bucket and returns a
// presigned URL. Bucket credentials come from configuration, so the job's
// credential reference is not used.
type ObjectStore struct {
	client ObjectClient
	bucket string
	expiry time.Duration
	now    func() time.Time
	logger *logging.Logger
}

// NewObjectStore connects to MinIO and makes sure the bucket exists
func NewObjectStore(cfg config.StorageConfig, logger *logging.Logger) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewObjectStoreWithClient(client, cfg.BucketName, cfg.URLExpiry, logger), nil
}

// NewObjectStoreWithClient wraps an existing client
func NewObjectStoreWithClient(client ObjectClient, bucket string, expiry time.Duration, logger *logging.Logger) *ObjectStore {
	// presigned URLs are valid for at most 7 days
	if expiry <= 0 || expiry > 7*24*time.Hour {
		expiry = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ObjectStore{
		client: client,
		bucket: bucket,
		expiry: expiry,
		now:    time.Now,
		logger: logger.WithComponent("objectstore"),
	}
}

// Upload stores the file under shorts/<date>/<name> and returns a presigned
// download URL
func (o *ObjectStore) Upload(ctx context.Context, filePath string, meta models.PublishMetadata, _ string) (string, error) {
	now := o.now()
	meta = normalizeMetadata(meta, now)
	key := objectKey(filePath, now)

	userMeta := map[string]string{
		"title":   meta.Title,
		"privacy": meta.Privacy,
	}
	if len(meta.Tags) > 0 {
		userMeta["tags"] = strings.Join(meta.Tags, ",")
	}

	info, err := o.client.FPutObject(ctx, o.bucket, key, filePath, minio.PutObjectOptions{
		ContentType:  contentType(filePath),
		UserMetadata: userMeta,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to upload file: %v", models.ErrUploadFailure, err)
	}

	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate URL: %v", models.ErrUploadFailure, err)
	}

	o.logger.WithFields(map[string]interface{}{
		"bucket": o.bucket,
		"key":    key,
		"size":   info.Size,
	}).Info("Video uploaded to object storage")
	return u.String(), nil
}

func objectKey(filePath string, now time.Time) string {
	return path.Join("shorts", now.UTC().Format("2006/01/02"), filepath.Base(filePath))
}
