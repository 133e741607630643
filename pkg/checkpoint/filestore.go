package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/trainloop/pkg/blobs"
)

const latestFile = "checkpoint"

// FileStore writes one JSON file per checkpoint into Dir, plus a pointer
// file naming the latest. When Upload is set, every checkpoint is also
// copied to the blobstore under its file name.
type FileStore struct {
	Dir    string
	Upload blobs.Blobstore
	// Keep is how many checkpoint files to retain locally; 0 keeps all.
	Keep int
}

var _ Store = &FileStore{}

func fileName(step int64) string {
	return fmt.Sprintf("ckpt-%010d.json", step)
}

func (s *FileStore) Put(ctx context.Context, ckpt *Checkpoint) error {
	log := klog.FromContext(ctx)

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("creating checkpoint directory %q: %w", s.Dir, err)
	}
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	name := fileName(ckpt.Step)
	p := filepath.Join(s.Dir, name)
	if err := writeAtomic(p, data); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.Dir, latestFile), []byte(name+"\n")); err != nil {
		return err
	}

	if s.Upload != nil {
		if err := s.Upload.Upload(ctx, p, blobs.BlobInfo{Hash: name}); err != nil {
			return fmt.Errorf("uploading checkpoint %q: %w", name, err)
		}
	}
	if s.Keep > 0 {
		if err := s.prune(); err != nil {
			log.Error(err, "pruning old checkpoints", "dir", s.Dir)
		}
	}
	return nil
}

func (s *FileStore) Latest(ctx context.Context) (*Checkpoint, error) {
	pointer, err := os.ReadFile(filepath.Join(s.Dir, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint pointer: %w", err)
	}
	name := strings.TrimSpace(string(pointer))
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %q: %w", name, err)
	}
	ckpt := &Checkpoint{}
	if err := json.Unmarshal(data, ckpt); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %q: %w", name, err)
	}
	return ckpt, nil
}

func (s *FileStore) prune() error {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "ckpt-*.json"))
	if err != nil {
		return err
	}
	// Zero-padded step numbers sort lexically.
	sort.Strings(matches)
	for len(matches) > s.Keep {
		if err := os.Remove(matches[0]); err != nil {
			return err
		}
		matches = matches[1:]
	}
	return nil
}

func writeAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p))
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %q: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %q: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %q: %w", p, err)
	}
	return nil
}
