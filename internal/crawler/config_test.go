package crawler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConfigValidate(t *testing.T) {
	require.NoError(t, RunConfig{Start: 1445, End: 1445}.Validate())
	require.Error(t, RunConfig{Start: 0, End: 3}.Validate())
	require.Error(t, RunConfig{Start: 5, End: 3}.Validate())
	require.Error(t, RunConfig{Start: 1, End: 3, Workers: -1}.Validate())
	require.Error(t, RunConfig{Start: 1, End: 3}.WithDelay(-time.Second).Validate())
}

func TestRunConfigPacing(t *testing.T) {
	seq := RunConfig{Start: 1, End: 1}
	assert.True(t, seq.Sequential())
	assert.Equal(t, 1, seq.PoolSize())
	assert.Equal(t, DefaultSequentialDelay, seq.PacingDelay())

	conc := RunConfig{Start: 1, End: 1, Workers: DefaultWorkers}
	assert.False(t, conc.Sequential())
	assert.Equal(t, 3, conc.PoolSize())
	assert.Equal(t, DefaultConcurrentDelay, conc.PacingDelay())

	assert.Equal(t, 2*time.Second, conc.WithDelay(2*time.Second).PacingDelay())
	assert.Zero(t, conc.WithDelay(0).PacingDelay(), "an explicit zero disables pacing")
	assert.Zero(t, seq.WithDelay(0).PacingDelay())
	assert.Equal(t, DefaultConcurrentDelay, conc.PacingDelay(), "WithDelay must not mutate the receiver")
}

func TestRunConfigPaths(t *testing.T) {
	cfg := RunConfig{Start: 1000, End: 1003, OutputDir: "out"}
	assert.Equal(t, []int{1000, 1001, 1002, 1003}, cfg.IDs())
	assert.Equal(t, filepath.Join("out", "problems_1000_1003.json"), cfg.CheckpointPath())
	assert.Equal(t, filepath.Join("out", "problems_1000_1003.sql"), cfg.SQLPath())
	assert.Equal(t, filepath.Join("out", "failed_ids.txt"), cfg.FailureLogPath())
}
