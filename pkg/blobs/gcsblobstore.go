package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSBlobstore keeps blobs in a GCS bucket, keyed by hash under Prefix.
type GCSBlobstore struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "checkpoints/".
	Prefix string

	// Client is used when set; otherwise each call dials its own client.
	Client *storage.Client
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (j *GCSBlobstore) objectKey(info BlobInfo) string {
	return j.Prefix + info.Hash
}

func (j *GCSBlobstore) url(info BlobInfo) string {
	return "gs://" + j.Bucket + "/" + j.objectKey(info)
}

// bucket returns the bucket handle and a func releasing any client dialled for
// this call.
func (j *GCSBlobstore) bucket(ctx context.Context) (*storage.BucketHandle, func(), error) {
	if j.Client != nil {
		return j.Client.Bucket(j.Bucket), func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return client.Bucket(j.Bucket), func() { client.Close() }, nil
}

func (j *GCSBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	gcsURL := j.url(info)

	bucket, release, err := j.bucket(ctx)
	if err != nil {
		return err
	}
	defer release()

	obj := bucket.Object(j.objectKey(info))
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("object already exists in GCS", "url", gcsURL)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", gcsURL, err)
	}

	log.Info("uploading blob to GCS", "source", sourcePath, "destination", gcsURL)

	startedAt := time.Now()
	// DoesNotExist makes concurrent uploads of the same hash race safely.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded blob to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func (j *GCSBlobstore) Download(ctx context.Context, info BlobInfo, destinationPath string) error {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return err
	}
	gcsURL := j.url(info)

	bucket, release, err := j.bucket(ctx)
	if err != nil {
		return err
	}
	defer release()

	log.Info("downloading blob from GCS", "source", gcsURL, "destination", destinationPath)

	startedAt := time.Now()
	r, err := bucket.Object(j.objectKey(info)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("object %q: %w", gcsURL, os.ErrNotExist)
		}
		return fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	n, err := writeToFile(ctx, r, destinationPath)
	if err != nil {
		return fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded blob from GCS", "source", gcsURL, "destination", destinationPath, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
