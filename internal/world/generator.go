package world

import (
	"fmt"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// Generator — коллаборатор, создающий первичное содержимое чанка.
// Обязан быть чистым по координате: одинаковый сид и набор блоков
// дают одинаковый чанк, иначе мир не воспроизводим между сессиями.
type Generator interface {
	Generate(coords vec.Vec3) (*Chunk, error)
}

// PerlinGenerator — эталонный генератор ландшафта на шуме Перлина.
// Карта высот по (X, Z); ниже поверхности камень, верхние слои — земля
// и трава, низины заливаются водой до уровня моря.
type PerlinGenerator struct {
	seed       int64
	edge       int
	noise      *perlin.Perlin
	noiseScale float64 // Масштаб шума (сглаженность ландшафта)
	baseHeight int     // Средняя высота поверхности в блоках
	amplitude  int     // Размах высот вокруг базовой
	seaLevel   int     // Уровень воды

	stone block.BlockID
	dirt  block.BlockID
	grass block.BlockID
	sand  block.BlockID
	water block.BlockID
}

// NewPerlinGenerator создаёт генератор с указанным сидом.
// Регистр должен содержать базовый набор блоков (block.DefaultBlocks).
func NewPerlinGenerator(seed int64, edge int, registry *block.Registry) (*PerlinGenerator, error) {
	pg := &PerlinGenerator{
		seed:       seed,
		edge:       edge,
		noise:      perlin.NewPerlin(2.0, 2.0, 3, seed),
		noiseScale: 0.01,
		baseHeight: 32,
		amplitude:  24,
		seaLevel:   28,
	}

	for _, b := range []struct {
		name string
		id   *block.BlockID
	}{
		{"voxel:stone", &pg.stone},
		{"voxel:dirt", &pg.dirt},
		{"voxel:grass", &pg.grass},
		{"voxel:sand", &pg.sand},
		{"voxel:water", &pg.water},
	} {
		id, exists := registry.Lookup(b.name)
		if !exists {
			return nil, fmt.Errorf("в регистре отсутствует блок %q", b.name)
		}
		*b.id = id
	}

	return pg, nil
}

// Generate генерирует чанк по его координатам.
// Результат детерминирован: шум зависит только от сида и мировых
// координат колонки, без глобального состояния.
func (pg *PerlinGenerator) Generate(coords vec.Vec3) (*Chunk, error) {
	chunk := NewChunk(coords, pg.edge)

	baseX := coords.X * pg.edge
	baseY := coords.Y * pg.edge
	baseZ := coords.Z * pg.edge

	for z := 0; z < pg.edge; z++ {
		for x := 0; x < pg.edge; x++ {
			surface := pg.surfaceHeight(baseX+x, baseZ+z)

			for y := 0; y < pg.edge; y++ {
				worldY := baseY + y
				id := pg.blockAt(worldY, surface)
				if id == block.AirBlockID {
					continue
				}
				// Смещение валидно по построению, ошибка невозможна
				_ = chunk.fill(vec.Vec3{X: x, Y: y, Z: z}, id)
			}
		}
	}

	return chunk, nil
}

// surfaceHeight возвращает высоту поверхности для мировой колонки (x, z).
func (pg *PerlinGenerator) surfaceHeight(x, z int) int {
	// Noise2D возвращает значение в диапазоне [-1, 1]
	n := pg.noise.Noise2D(float64(x)*pg.noiseScale, float64(z)*pg.noiseScale)
	return pg.baseHeight + int(n*float64(pg.amplitude))
}

// blockAt выбирает блок для мировой высоты worldY при высоте поверхности surface.
func (pg *PerlinGenerator) blockAt(worldY, surface int) block.BlockID {
	switch {
	case worldY > surface:
		if worldY <= pg.seaLevel {
			return pg.water
		}
		return block.AirBlockID
	case worldY == surface:
		if worldY <= pg.seaLevel {
			return pg.sand // Дно водоёмов и пляжи
		}
		return pg.grass
	case worldY >= surface-3:
		return pg.dirt
	default:
		return pg.stone
	}
}
