package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation-service/pkg/job"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturePutter struct {
	bucket, key string
	size        int64
	contentType string
	err         error
}

func (c *capturePutter) PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader,
	size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	c.bucket, c.key, c.size, c.contentType = bucket, key, size, opts.ContentType
	return minio.UploadInfo{}, c.err
}

func TestUploadComposesPublicURL(t *testing.T) {
	putter := &capturePutter{}
	u := &Uploader{store: putter, bucket: "documents", publicBase: "https://cdn.example.com", logger: discardLogger()}

	url, err := u.Upload(context.Background(), []byte("%PDF-out"), "papers/p1/translated_dual.pdf")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/papers/p1/translated_dual.pdf", url)
	assert.Equal(t, "documents", putter.bucket)
	assert.Equal(t, "application/pdf", putter.contentType)
	assert.EqualValues(t, 8, putter.size)
}

func TestUploadWithoutPublicBaseReturnsKey(t *testing.T) {
	u := &Uploader{store: &capturePutter{}, bucket: "documents", logger: discardLogger()}

	url, err := u.Upload(context.Background(), []byte("x"), "papers/p1/translated_mono.pdf")
	require.NoError(t, err)
	assert.Equal(t, "papers/p1/translated_mono.pdf", url)
}

func TestUploadFailureIsStorageError(t *testing.T) {
	u := &Uploader{store: &capturePutter{err: errors.New("access denied")}, bucket: "documents", logger: discardLogger()}

	_, err := u.Upload(context.Background(), []byte("x"), "k")
	require.Error(t, err)
	var se *job.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, job.ClassRetryable, job.Classify(err))
}

func TestUploadWithoutStorageConfigured(t *testing.T) {
	u := NewUploader(nil, "documents", "", nil)

	_, err := u.Upload(context.Background(), []byte("x"), "k")
	require.Error(t, err)
	var se *job.StorageError
	assert.True(t, errors.As(err, &se))
}
