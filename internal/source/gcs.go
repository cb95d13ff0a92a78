package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
)

const (
	googleOperationTimeout  = 5 * time.Second
	googleBufferSize        = 2 << 21
	googleInitialBackoff    = 10 * time.Millisecond
	googleMaxBackoff        = 10 * time.Second
	googleBackoffMultiplier = 2
	googleMaxAttempts       = 10
)

// GCS downloads captures from Google Cloud Storage. A capture already present
// in the download directory with the object's size is reused.
type GCS struct {
	client *storage.Client
	dir    string
}

func NewGCS(ctx context.Context, downloadDir string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCS{
		client: client,
		dir:    downloadDir,
	}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) handle(loc Location) *storage.ObjectHandle {
	return g.client.Bucket(loc.Bucket).Object(loc.Path).Retryer(
		storage.WithMaxAttempts(googleMaxAttempts),
		storage.WithPolicy(storage.RetryAlways),
		storage.WithBackoff(
			gax.Backoff{
				Initial:    googleInitialBackoff,
				Max:        googleMaxBackoff,
				Multiplier: googleBackoffMultiplier,
			},
		),
	)
}

func (g *GCS) Fetch(ctx context.Context, loc Location) (string, error) {
	dst, err := localPath(g.dir, loc)
	if err != nil {
		return "", err
	}

	handle := g.handle(loc)

	attrsCtx, cancel := context.WithTimeout(ctx, googleOperationTimeout)
	attrs, err := handle.Attrs(attrsCtx)
	cancel()

	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("%s: %w", loc, ErrCaptureNotExist)
		}

		return "", fmt.Errorf("failed to get GCS object (%s) attributes: %w", loc, err)
	}

	if cached(dst, attrs.Size) {
		return dst, nil
	}

	reader, err := handle.NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open GCS object (%s): %w", loc, err)
	}
	defer reader.Close()

	if err := store(dst, reader, googleBufferSize); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", loc, err)
	}

	downloaded(loc, dst, attrs.Size)

	return dst, nil
}
