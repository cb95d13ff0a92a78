package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	httpRetryMax     = 5
	httpRetryWaitMin = 100 * time.Millisecond
	httpRetryWaitMax = 10 * time.Second
	httpBufferSize   = 2 << 21
)

// HTTP downloads captures published over https.
type HTTP struct {
	client *retryablehttp.Client
	dir    string
}

func NewHTTP(downloadDir string) *HTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = httpRetryMax
	client.RetryWaitMin = httpRetryWaitMin
	client.RetryWaitMax = httpRetryWaitMax
	client.Logger = nil

	return &HTTP{
		client: client,
		dir:    downloadDir,
	}
}

func (h *HTTP) Fetch(ctx context.Context, loc Location) (string, error) {
	dst, err := localPath(h.dir, loc)
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
	if err != nil {
		return "", err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request %s: %w", loc, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%s: %w", loc, ErrCaptureNotExist)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to download %s: status %d", loc, resp.StatusCode)
	}

	if resp.ContentLength >= 0 && cached(dst, resp.ContentLength) {
		return dst, nil
	}

	if err := store(dst, resp.Body, httpBufferSize); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", loc, err)
	}

	downloaded(loc, dst, resp.ContentLength)

	return dst, nil
}
