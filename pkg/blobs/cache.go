package blobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// Cache is a local directory of blobs that fills misses from Upstream.
type Cache struct {
	Dir string
	// Upstream may be nil, in which case misses are reported as not found.
	Upstream BlobReader

	inflight singleflight.Group
}

// Get returns the local path of the blob, downloading it first if needed.
// Concurrent requests for the same hash share one download.
func (c *Cache) Get(ctx context.Context, info BlobInfo) (string, error) {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return "", err
	}
	localPath := filepath.Join(c.Dir, info.Hash)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking cache for %q: %w", info.Hash, err)
	}

	if c.Upstream == nil {
		return "", fmt.Errorf("blob %q: %w", info.Hash, os.ErrNotExist)
	}

	_, err, shared := c.inflight.Do(info.Hash, func() (any, error) {
		if err := os.MkdirAll(c.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory %q: %w", c.Dir, err)
		}
		log.Info("filling cache miss", "hash", info.Hash)
		return nil, c.Upstream.Download(ctx, info, localPath)
	})
	if err != nil {
		return "", err
	}
	log.V(2).Info("blob cached", "hash", info.Hash, "shared", shared)
	return localPath, nil
}
