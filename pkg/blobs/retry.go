package blobs

import (
	"context"
	"errors"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// RetryingReader retries failed downloads. Missing blobs are not retried.
type RetryingReader struct {
	Reader BlobReader

	// MaxAttempts is the number of times to attempt a download before failing.
	MaxAttempts int
	// Delay between attempts; defaults to 5s.
	Delay time.Duration
}

var _ BlobReader = &RetryingReader{}

func (l *RetryingReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	delay := l.Delay
	if delay == 0 {
		delay = 5 * time.Second
	}

	attempt := 0
	for {
		attempt++

		err := l.Reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) || attempt >= l.MaxAttempts {
			return err
		}

		log.Error(err, "downloading blob, will retry", "hash", info.Hash, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
