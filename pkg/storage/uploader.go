package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"translation-service/pkg/job"
)

// NewS3Client builds a client for the S3-compatible object store. Returns nil
// when no endpoint is configured; callers treat that as "API access disabled".
func NewS3Client(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	if endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// ArtifactKey derives the deterministic storage key for a job's output.
// Repeated uploads for the same job and mode overwrite in place, which is what
// makes retried attempts safe without tracking partial uploads.
func ArtifactKey(jobID string, mode job.Mode) string {
	return fmt.Sprintf("papers/%s/translated_%s.pdf", jobID, mode)
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader,
		objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// minioPutter adapts *minio.Client to the narrower reader type used here.
type minioPutter struct {
	client *minio.Client
}

func (p minioPutter) PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader,
	size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return p.client.PutObject(ctx, bucket, key, reader, size, opts)
}

// Uploader stores artifacts and returns a public reference.
type Uploader struct {
	store      objectPutter
	bucket     string
	publicBase string
	logger     *slog.Logger
}

func NewUploader(client *minio.Client, bucket, publicBase string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	var store objectPutter
	if client != nil {
		store = minioPutter{client: client}
	}
	return &Uploader{
		store:      store,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger,
	}
}

// Upload writes data under key, overwriting any previous object.
func (u *Uploader) Upload(ctx context.Context, data []byte, key string) (string, error) {
	if u.store == nil {
		return "", &job.StorageError{Op: "upload", Err: fmt.Errorf("object storage not configured")}
	}
	_, err := u.store.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", &job.StorageError{Op: fmt.Sprintf("upload %s", key), Err: err}
	}

	ref := key
	if u.publicBase != "" {
		ref = u.publicBase + "/" + key
	}
	u.logger.Info("uploaded artifact", "key", key, "bytes", len(data))
	return ref, nil
}
