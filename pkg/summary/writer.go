// Package summary writes merged scalar summaries as JSON lines, one event per tag.
package summary

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

// Event is one line of the events file.
type Event struct {
	WallTime time.Time `json:"wallTime"`
	Step     int64     `json:"step"`
	Tag      string    `json:"tag"`
	Value    float32   `json:"value"`
}

type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	enc    *json.Encoder
	now    func() time.Time
}

var _ runner.SummaryWriter = &Writer{}

// Create opens dir/events.jsonl for appending.
func Create(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating summary directory %q: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events file: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

func NewWriter(out io.Writer) *Writer {
	buf := bufio.NewWriter(out)
	return &Writer{out: buf, enc: json.NewEncoder(buf), now: time.Now}
}

func (w *Writer) WriteSummary(ctx context.Context, step int64, summary *api.InlineData) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	summaries := summary.GetSummaries()
	for _, s := range summaries {
		if err := w.enc.Encode(Event{WallTime: now, Step: step, Tag: s.Tag, Value: s.Value}); err != nil {
			return fmt.Errorf("writing summary %q: %w", s.Tag, err)
		}
	}
	klog.FromContext(ctx).V(4).Info("wrote summaries", "step", step, "count", len(summaries))
	return nil
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Flush()
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
