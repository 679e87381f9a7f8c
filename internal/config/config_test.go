package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointWithOptions(t *testing.T) {
	e := NewEndpointWithOptions(
		WithModel("m"),
		WithNumParallelTasks(0),
		WithMaxBatchSize(-1),
		WithTimeout(5*time.Second),
	)

	assert.True(t, e.IsConfigured())
	assert.Equal(t, DefaultEndpointParallelTasks, e.NumParallelTasks(), "non-positive values keep the default")
	assert.Equal(t, DefaultEndpointMaxBatchSize, e.MaxBatchSize())
	assert.Equal(t, 5*time.Second, e.Timeout())
	assert.Equal(t, DefaultEndpointMaxRetries, e.MaxRetries())
}

func TestIngestConfig_CopiesFiles(t *testing.T) {
	files := []string{"a.csv"}
	cfg := NewIngestConfig().WithSourcesFiles(files...)
	files[0] = "changed.csv"

	got := cfg.SourcesFiles()
	assert.Equal(t, []string{"a.csv"}, got)
	got[0] = "mutated.csv"
	assert.Equal(t, []string{"a.csv"}, cfg.SourcesFiles())
}

func TestMatchTuning_Settings(t *testing.T) {
	settings := NewMatchTuning().Settings()
	assert.Equal(t, [][2]string{
		{"work_mem", "1GB"},
		{"maintenance_work_mem", "2GB"},
		{"effective_cache_size", "12GB"},
		{"max_parallel_workers_per_gather", "4"},
		{"random_page_cost", "1.1"},
	}, settings)

	assert.Nil(t, MatchTuningEnv{Enabled: false, WorkMem: "1GB"}.ToMatchTuning().Settings())
}

func TestAppConfig_ValidateIngest(t *testing.T) {
	cfg := NewAppConfig()
	require.ErrorIs(t, cfg.ValidateIngest(), ErrMissingEndpoint)

	cfg = cfg.Apply(WithEmbeddingEndpoint(NewEndpointWithOptions(WithModel("m"))))
	require.ErrorIs(t, cfg.ValidateIngest(), ErrMissingValueColumn)

	cfg = cfg.Apply(WithIngestConfig(cfg.Ingest().WithSourceColumn("s").WithTargetColumn("t")))
	require.NoError(t, cfg.ValidateIngest())
}
