package blobs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPBlobReader fetches blobs from a blobserver, one GET per hash.
type HTTPBlobReader struct {
	// BlobserverURL is the base URL to the blobserver, typically http://blobserver
	BlobserverURL *url.URL

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ BlobReader = &HTTPBlobReader{}

func (l *HTTPBlobReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return err
	}
	u := l.BlobserverURL.JoinPath(info.Hash).String()

	log.Info("downloading from url", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()

	httpClient := l.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
	default:
		return fmt.Errorf("unexpected status downloading %q: %v", u, resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}

	log.Info("downloaded blob", "url", u, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
