package blobs

import (
	"context"
	"fmt"
	"regexp"
)

type BlobReader interface {
	// If no such object exists, Download should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload uploads the file at sourcePath to the blobstore, using the given hash as the object key.
	// If an object with the same hash already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a blob. Hash doubles as the object key, so it may
// contain only letters, digits, '.', '_' and '-'.
type BlobInfo struct {
	Hash string
}

var validHash = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (i BlobInfo) Validate() error {
	if !validHash.MatchString(i.Hash) {
		return fmt.Errorf("invalid blob hash %q", i.Hash)
	}
	return nil
}
