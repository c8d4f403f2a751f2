package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"translation-service/pkg/job"
)

const fetchTimeout = 60 * time.Second

// urlGuard validates absolute URLs before retrieval.
type urlGuard interface {
	CheckURL(ctx context.Context, raw string) error
}

// objectGetter is the authenticated object-store fallback.
type objectGetter interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Fetcher resolves a source reference to raw bytes. Resolution order, first
// non-empty success wins:
//  1. absolute URL (after the SSRF guard passes)
//  2. public base URL + storage key
//  3. authenticated object-store API
type Fetcher struct {
	guard      urlGuard
	httpc      *http.Client
	store      objectGetter
	bucket     string
	publicBase string
	logger     *slog.Logger
}

func NewFetcher(guard urlGuard, store objectGetter, bucket, publicBase string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		guard:      guard,
		httpc:      &http.Client{Timeout: fetchTimeout},
		store:      store,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		logger:     logger,
	}
}

// Fetch downloads the document behind ref. Every failed attempt is logged
// independently; if all attempts fail the error is a retryable StorageError.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if err := f.guard.CheckURL(ctx, ref); err != nil {
			f.logger.Warn("refusing unsafe source URL", "ref", ref, "error", err)
			return nil, &job.StorageError{Op: "url safety check failed", Err: err}
		}
		data, err := f.get(ctx, ref)
		if err == nil {
			f.logger.Info("fetched document via URL", "bytes", len(data))
			return data, nil
		}
		f.logger.Warn("direct URL fetch failed", "ref", ref, "error", err)
		if ctx.Err() != nil {
			return nil, &job.StorageError{Op: "fetch aborted", Err: ctx.Err()}
		}
	}

	key := strings.TrimLeft(ref, "/")

	if f.publicBase != "" && key != "" {
		publicURL := f.publicBase + "/" + key
		data, err := f.get(ctx, publicURL)
		if err == nil {
			f.logger.Info("fetched document via public base URL", "bytes", len(data))
			return data, nil
		}
		f.logger.Warn("public base URL fetch failed", "key", key, "error", err)
		if ctx.Err() != nil {
			return nil, &job.StorageError{Op: "fetch aborted", Err: ctx.Err()}
		}
	}

	if f.store != nil && key != "" {
		data, err := f.getObject(ctx, key)
		if err == nil {
			f.logger.Info("fetched document via storage API", "bytes", len(data))
			return data, nil
		}
		f.logger.Warn("storage API fetch failed", "key", key, "error", err)
		if ctx.Err() != nil {
			return nil, &job.StorageError{Op: "fetch aborted", Err: ctx.Err()}
		}
	}

	return nil, &job.StorageError{Op: fmt.Sprintf("cannot fetch document from %q", ref)}
}

// get retrieves a URL following redirects and accepts only a non-empty 200.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &job.FetchError{Kind: job.FetchUnreachable, Ref: rawURL, Err: err}
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, &job.FetchError{Kind: job.FetchUnreachable, Ref: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &job.FetchError{Kind: job.FetchNotFound, Ref: rawURL,
			Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &job.FetchError{Kind: job.FetchUnreachable, Ref: rawURL, Err: err}
	}
	if len(data) == 0 {
		return nil, &job.FetchError{Kind: job.FetchNotFound, Ref: rawURL,
			Err: fmt.Errorf("empty response body")}
	}
	return data, nil
}

func (f *Fetcher) getObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := f.store.GetObject(ctx, f.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("object %s is empty", key)
	}
	return data, nil
}
