package main

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/trainloop/pkg/blobs"
)

// httpServer serves GET /<hash> from the cache, filling misses upstream.
type httpServer struct {
	cache *blobs.Cache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 && tokens[0] != "" {
		if r.Method == http.MethodGet {
			s.serveGETBlob(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	info := blobs.BlobInfo{Hash: hash}
	if err := info.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := s.cache.Get(ctx, info)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob", "hash", hash)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	log.V(2).Info("serving blob", "path", p)
	http.ServeFile(w, r, p)
}
