package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
)

const (
	uploadTimeout = 5 * time.Minute
	urlTTL        = 15 * time.Minute
)

type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	logger *slog.Logger
}

func NewGCS(ctx context.Context, bucketName string, logger *slog.Logger) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucketName), logger: logger}, nil
}

func (g *GCS) Put(ctx context.Context, key string, content io.Reader) error {
	// Let an in-flight upload finish even if the caller's context is
	// cancelled mid-stream.
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()

	w := g.bucket.Object(key).NewWriter(uploadCtx)

	start := time.Now()
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return fmt.Errorf("stream to bucket: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	g.logger.Debug("archived document",
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (g *GCS) SignedURL(key string) (string, error) {
	url, err := g.bucket.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(urlTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return url, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
