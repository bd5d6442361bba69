package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.World.ChunkEdge)
	assert.Equal(t, 256, cfg.World.ChunkBudget)
	assert.Equal(t, 2112, cfg.Metrics.GetMetricsPort())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte(`
world:
  chunk_edge: 32
  chunk_budget: 64
  seed: 42
  data_path: /tmp/voxel
eventbus:
  url: nats://127.0.0.1:4222
  stream: WORLD
metrics:
  port: 9100
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.World.ChunkEdge)
	assert.Equal(t, 64, cfg.World.ChunkBudget)
	assert.Equal(t, int64(42), cfg.World.Seed)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.EventBus.URL)
	assert.Equal(t, 9100, cfg.Metrics.GetMetricsPort())
}

func TestLoad_InvalidEdge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("world:\n  chunk_edge: 15\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err, "ребро чанка не степень двойки должно отклоняться")
}

func TestMetricsPort_EnvFallback(t *testing.T) {
	t.Setenv("VOXEL_METRICS_PORT", "9999")

	m := MetricsConfig{}
	assert.Equal(t, 9999, m.GetMetricsPort())
}
