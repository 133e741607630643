package blobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestBlobInfoValidate(t *testing.T) {
	for _, hash := range []string{"abc123", "ckpt-00000010.json", "A_b"} {
		assert.NoError(t, BlobInfo{Hash: hash}.Validate(), hash)
	}
	for _, hash := range []string{"", "..", "../etc/passwd", "a/b", ".hidden"} {
		assert.Error(t, BlobInfo{Hash: hash}.Validate(), hash)
	}
}

func TestDirBlobstoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	store := &DirBlobstore{Dir: filepath.Join(tmp, "store")}

	src := writeFile(t, tmp, "src", "hello")
	require.NoError(t, store.Upload(ctx, src, BlobInfo{Hash: "h1"}))

	// Uploading again with different content is a no-op.
	other := writeFile(t, tmp, "other", "changed")
	require.NoError(t, store.Upload(ctx, other, BlobInfo{Hash: "h1"}))

	dest := filepath.Join(tmp, "dest")
	require.NoError(t, store.Download(ctx, BlobInfo{Hash: "h1"}, dest))
	assert.Equal(t, "hello", readFile(t, dest))

	err := store.Download(ctx, BlobInfo{Hash: "missing"}, dest)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestHTTPBlobReader(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Write([]byte("payload"))
		case "/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	reader := &HTTPBlobReader{BlobserverURL: u}
	dest := filepath.Join(t.TempDir(), "blob")

	require.NoError(t, reader.Download(ctx, BlobInfo{Hash: "good"}, dest))
	assert.Equal(t, "payload", readFile(t, dest))

	err = reader.Download(ctx, BlobInfo{Hash: "nope"}, dest)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	err = reader.Download(ctx, BlobInfo{Hash: "broken"}, dest)
	require.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

type flakyReader struct {
	failures int
	calls    atomic.Int32
	err      error
}

func (f *flakyReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return f.err
	}
	return os.WriteFile(destPath, []byte(info.Hash), 0644)
}

func TestRetryingReader(t *testing.T) {
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "blob")

	flaky := &flakyReader{failures: 2, err: errors.New("transient")}
	r := &RetryingReader{Reader: flaky, MaxAttempts: 3, Delay: 1}
	require.NoError(t, r.Download(ctx, BlobInfo{Hash: "x"}, dest))
	assert.EqualValues(t, 3, flaky.calls.Load())

	flaky = &flakyReader{failures: 5, err: errors.New("transient")}
	r = &RetryingReader{Reader: flaky, MaxAttempts: 2, Delay: 1}
	assert.Error(t, r.Download(ctx, BlobInfo{Hash: "x"}, dest))
	assert.EqualValues(t, 2, flaky.calls.Load())

	missing := &flakyReader{failures: 5, err: os.ErrNotExist}
	r = &RetryingReader{Reader: missing, MaxAttempts: 5, Delay: 1}
	assert.ErrorIs(t, r.Download(ctx, BlobInfo{Hash: "x"}, dest), os.ErrNotExist)
	assert.EqualValues(t, 1, missing.calls.Load())
}

func TestCacheFillsMissOnce(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	upstream := &flakyReader{}
	cache := &Cache{Dir: filepath.Join(tmp, "cache"), Upstream: upstream}

	p, err := cache.Get(ctx, BlobInfo{Hash: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", readFile(t, p))

	_, err = cache.Get(ctx, BlobInfo{Hash: "abc"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, upstream.calls.Load())

	noUpstream := &Cache{Dir: tmp}
	_, err = noUpstream.Get(ctx, BlobInfo{Hash: "zzz"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
