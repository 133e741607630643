package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "k8s.io/examples/AI/trainloop/pkg/api/v1alpha1"
)

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	merged := &api.InlineData{Summaries: []*api.Summary{{Tag: "loss", Value: 0.5}, {Tag: "accuracy", Value: 1}}}
	require.NoError(t, w.WriteSummary(context.Background(), 3, merged))
	assert.Empty(t, buf.String(), "buffered until flush")
	require.NoError(t, w.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, Event{WallTime: fixed, Step: 3, Tag: "loss", Value: 0.5}, ev)
}

func TestWriteEmptySummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteSummary(context.Background(), 1, &api.InlineData{}))
	require.NoError(t, w.Flush())
	assert.Empty(t, buf.String())
}

func TestCreateAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w, err := Create(dir)
		require.NoError(t, err)
		require.NoError(t, w.WriteSummary(context.Background(), int64(i), &api.InlineData{Summaries: []*api.Summary{{Tag: "loss", Value: 1}}}))
		require.NoError(t, w.Close())
	}
	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
