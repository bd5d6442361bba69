package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

func defaultRegistry(t *testing.T) *block.Registry {
	t.Helper()
	return block.DefaultBlocks().Build()
}

func TestPerlinGenerator_Deterministic(t *testing.T) {
	registry := defaultRegistry(t)

	first, err := NewPerlinGenerator(42, 16, registry)
	require.NoError(t, err)
	second, err := NewPerlinGenerator(42, 16, registry)
	require.NoError(t, err)

	// Один сид — один мир, независимо от экземпляра генератора
	coords := []vec.Vec3{
		{X: 0, Y: 2, Z: 0},
		{X: -3, Y: 1, Z: 7},
		{X: 100, Y: 0, Z: -100},
	}
	for _, c := range coords {
		a, err := first.Generate(c)
		require.NoError(t, err)
		b, err := second.Generate(c)
		require.NoError(t, err)
		assert.Equal(t, a.Snapshot().Blocks, b.Snapshot().Blocks, "чанк %v", c)
	}
}

func TestPerlinGenerator_SeedChangesTerrain(t *testing.T) {
	registry := defaultRegistry(t)

	first, err := NewPerlinGenerator(1, 16, registry)
	require.NoError(t, err)
	second, err := NewPerlinGenerator(12345, 16, registry)
	require.NoError(t, err)

	coords := vec.Vec3{X: 0, Y: 2, Z: 0}
	a, err := first.Generate(coords)
	require.NoError(t, err)
	b, err := second.Generate(coords)
	require.NoError(t, err)

	assert.NotEqual(t, a.Snapshot().Blocks, b.Snapshot().Blocks)
}

func TestPerlinGenerator_DeepChunkIsStone(t *testing.T) {
	registry := defaultRegistry(t)
	gen, err := NewPerlinGenerator(7, 16, registry)
	require.NoError(t, err)

	stone, _ := registry.Lookup("voxel:stone")

	// Глубоко под минимально возможной поверхностью — сплошной камень
	chunk, err := gen.Generate(vec.Vec3{X: 0, Y: -1, Z: 0})
	require.NoError(t, err)

	for _, id := range chunk.Snapshot().Blocks {
		require.Equal(t, stone, id)
	}
}

func TestPerlinGenerator_SkyChunkIsAir(t *testing.T) {
	registry := defaultRegistry(t)
	gen, err := NewPerlinGenerator(7, 16, registry)
	require.NoError(t, err)

	// Выше максимально возможной поверхности и уровня моря — воздух
	chunk, err := gen.Generate(vec.Vec3{X: 0, Y: 4, Z: 0})
	require.NoError(t, err)

	for _, id := range chunk.Snapshot().Blocks {
		require.Equal(t, block.AirBlockID, id)
	}
	assert.False(t, chunk.IsDirty(), "сгенерированный чанк не считается изменённым")
	assert.Equal(t, uint64(0), chunk.Version())
}

func TestNewPerlinGenerator_RequiresBaseBlocks(t *testing.T) {
	empty := block.NewRegistryBuilder().Build()

	_, err := NewPerlinGenerator(1, 16, empty)
	assert.Error(t, err, "без базового набора блоков генератор не создаётся")
}
