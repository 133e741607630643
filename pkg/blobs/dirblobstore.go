package blobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// DirBlobstore keeps blobs as files named by hash in a local directory.
type DirBlobstore struct {
	Dir string
}

var _ Blobstore = (*DirBlobstore)(nil)

func (d *DirBlobstore) path(info BlobInfo) string {
	return filepath.Join(d.Dir, info.Hash)
}

func (d *DirBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return err
	}
	dest := d.path(info)
	if _, err := os.Stat(dest); err == nil {
		log.V(2).Info("blob already exists", "path", dest)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %q: %w", dest, err)
	}

	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", d.Dir, err)
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, dest)
	if err != nil {
		return fmt.Errorf("storing blob %q: %w", info.Hash, err)
	}
	log.V(2).Info("stored blob", "path", dest, "bytes", n)
	return nil
}

func (d *DirBlobstore) Download(ctx context.Context, info BlobInfo, destPath string) error {
	if err := info.Validate(); err != nil {
		return err
	}
	src, err := os.Open(d.path(info))
	if err != nil {
		// os.Open already wraps os.ErrNotExist for missing blobs.
		return fmt.Errorf("opening blob %q: %w", info.Hash, err)
	}
	defer src.Close()

	if _, err := writeToFile(ctx, src, destPath); err != nil {
		return fmt.Errorf("copying blob %q: %w", info.Hash, err)
	}
	return nil
}
