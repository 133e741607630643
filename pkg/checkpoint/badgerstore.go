package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"k8s.io/klog/v2"
)

// BadgerConfig selects where a BadgerStore keeps its data.
type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory   bool   `yaml:"inMemory"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// BadgerStore keeps checkpoints in an embedded key-value store, one key per step.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

var (
	checkpointPrefix = []byte("ckpt/")
	latestKey        = []byte("latest")
)

func checkpointKey(step int64) []byte {
	return fmt.Appendf(nil, "ckpt/%020d", step)
}

// klogAdapter routes badger's own logging to klog.
type klogAdapter struct {
	log klog.Logger
}

func (l klogAdapter) Errorf(format string, args ...any) {
	l.log.Error(nil, fmt.Sprintf(format, args...))
}
func (l klogAdapter) Warningf(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...), "level", "warning")
}
func (l klogAdapter) Infof(format string, args ...any) {
	l.log.V(2).Info(fmt.Sprintf(format, args...))
}
func (l klogAdapter) Debugf(format string, args ...any) {
	l.log.V(4).Info(fmt.Sprintf(format, args...))
}

func OpenBadgerStore(ctx context.Context, cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger checkpoint store needs a path")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(klogAdapter{log: klog.FromContext(ctx).WithName("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Put(ctx context.Context, ckpt *Checkpoint) error {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	key := checkpointKey(ckpt.Step)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(latestKey, key)
	})
}

func (s *BadgerStore) Latest(ctx context.Context) (*Checkpoint, error) {
	var ckpt *Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return fmt.Errorf("reading %q: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			ckpt = &Checkpoint{}
			return json.Unmarshal(val, ckpt)
		})
	})
	if err != nil {
		return nil, err
	}
	return ckpt, nil
}

// Steps lists the stored checkpoint steps in ascending order.
func (s *BadgerStore) Steps(ctx context.Context) ([]int64, error) {
	var steps []int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = checkpointPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var step int64
			if _, err := fmt.Sscanf(string(it.Item().Key()), "ckpt/%d", &step); err != nil {
				return fmt.Errorf("parsing key %q: %w", it.Item().Key(), err)
			}
			steps = append(steps, step)
		}
		return nil
	})
	return steps, err
}
