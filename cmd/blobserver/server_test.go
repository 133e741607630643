package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/examples/AI/trainloop/pkg/blobs"
)

func TestServeBlobs(t *testing.T) {
	upstreamDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(upstreamDir, "train.csv"), []byte("1,2,0\n"), 0644))

	s := &httpServer{cache: &blobs.Cache{
		Dir:      t.TempDir(),
		Upstream: &blobs.DirBlobstore{Dir: upstreamDir},
	}}
	ts := httptest.NewServer(s)
	defer ts.Close()

	grid := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{method: http.MethodGet, path: "/train.csv", status: http.StatusOK, body: "1,2,0\n"},
		{method: http.MethodGet, path: "/missing.csv", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/.hidden", status: http.StatusBadRequest},
		{method: http.MethodPost, path: "/train.csv", status: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/a/b", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/", status: http.StatusNotFound},
	}
	for _, g := range grid {
		t.Run(g.method+" "+g.path, func(t *testing.T) {
			req, err := http.NewRequest(g.method, ts.URL+g.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, g.status, resp.StatusCode)
			if g.body != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, g.body, string(body))
			}
		})
	}
}
