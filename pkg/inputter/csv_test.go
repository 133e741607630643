package inputter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k8s.io/examples/AI/trainloop/pkg/blobs"
	"k8s.io/examples/AI/trainloop/pkg/engine/fallback"
	"k8s.io/examples/AI/trainloop/pkg/graph"
	"k8s.io/examples/AI/trainloop/pkg/runner"
)

const dataset = `x0,x1,label
1,2,0
3,4,1
5,6,2
`

func TestParse(t *testing.T) {
	d, err := Parse(strings.NewReader(dataset), true, true, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, d.NumSamples())
	assert.Equal(t, 2, d.NumFeatures())
	assert.Equal(t, []int{0, 1, 2}, d.labels)

	_, err = Parse(strings.NewReader("1,2,7\n"), false, true, 3)
	assert.ErrorContains(t, err, "out of range")

	_, err = Parse(strings.NewReader("1,x\n"), false, false, 3)
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(""), false, false, 3)
	assert.ErrorContains(t, err, "no rows")
}

func TestInputFnBatchesStayAligned(t *testing.T) {
	ctx := context.Background()
	d, err := Parse(strings.NewReader(dataset), true, true, 3)
	require.NoError(t, err)

	g := graph.New()
	batch, err := d.InputFn(g, runner.ModeTrain, 2)
	require.NoError(t, err)
	require.True(t, batch.Labels.Valid())

	sess, err := graph.NewSession(ctx, g, fallback.Engine{}, runner.NewSessionConfig(0))
	require.NoError(t, err)
	defer sess.Close()

	values, err := sess.Run(ctx, []graph.Node{batch.Inputs, batch.Labels}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, values[0].Values)
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 0}, values[1].Values)

	// Wraps around the end of the dataset.
	values, err = sess.Run(ctx, []graph.Node{batch.Inputs, batch.Labels}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6, 1, 2}, values[0].Values)
	assert.Equal(t, []float32{0, 0, 1, 1, 0, 0}, values[1].Values)

	// The cursor is not a checkpointed variable.
	vars, err := sess.Variables(ctx)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestInputFnInferOmitsLabels(t *testing.T) {
	d, err := Parse(strings.NewReader("1,2\n3,4\n"), false, false, 3)
	require.NoError(t, err)

	batch, err := d.InputFn(graph.New(), runner.ModeInfer, 1)
	require.NoError(t, err)
	assert.False(t, batch.Labels.Valid())

	_, err = d.InputFn(graph.New(), runner.ModeEval, 1)
	assert.ErrorContains(t, err, "labelled")
}

func TestLoadFromBlobCache(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	storeDir := filepath.Join(tmp, "store")
	require.NoError(t, os.MkdirAll(storeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "iris-v1"), []byte(dataset), 0644))

	cache := &blobs.Cache{Dir: filepath.Join(tmp, "cache"), Upstream: &blobs.DirBlobstore{Dir: storeDir}}
	d, err := Load(ctx, Config{Hash: "iris-v1", HasHeader: true, Labelled: true}, cache, 3, "channels_last")
	require.NoError(t, err)
	assert.Equal(t, 3, d.NumSamples())

	_, err = Load(ctx, Config{Hash: "iris-v1"}, nil, 3, "")
	assert.Error(t, err)
}
