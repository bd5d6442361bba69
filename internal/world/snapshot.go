package world

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// SnapshotFormatVersion — версия сериализуемого формата чанка.
// Увеличивается при несовместимых изменениях раскладки.
const SnapshotFormatVersion = 1

// ChunkSnapshot — сериализуемое представление чанка для хранилища.
// Содержит полную копию данных и не разделяет память с исходным чанком.
type ChunkSnapshot struct {
	FormatVersion int             `json:"format_version"`
	Coords        vec.Vec3        `json:"coords"`
	Edge          int             `json:"edge"`
	Version       uint64          `json:"version"`
	Blocks        []block.BlockID `json:"blocks"`
	Light         []uint8         `json:"light"`
}

// ChunkRepo определяет контракт хранилища чанков.
// Реализации: storage.WorldStorage (BadgerDB), storage.MemoryStorage (тесты).
type ChunkRepo interface {
	// LoadChunk возвращает снапшот чанка или ErrChunkNotFound.
	LoadChunk(ctx context.Context, coords vec.Vec3) (*ChunkSnapshot, error)

	// SaveChunk сохраняет снапшот. Ошибка I/O не затирает чанк в памяти:
	// вызывающий оставляет dirty-флаг для повторной попытки.
	SaveChunk(ctx context.Context, snap *ChunkSnapshot) error

	// Close освобождает ресурсы хранилища.
	Close() error
}

// Snapshot делает копию состояния чанка под блокировкой чтения.
func (c *Chunk) Snapshot() *ChunkSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := make([]block.BlockID, len(c.blocks))
	copy(blocks, c.blocks)
	light := make([]uint8, len(c.light))
	copy(light, c.light)

	return &ChunkSnapshot{
		FormatVersion: SnapshotFormatVersion,
		Coords:        c.Coords,
		Edge:          c.edge,
		Version:       c.version,
		Blocks:        blocks,
		Light:         light,
	}
}

// ChunkFromSnapshot восстанавливает чанк из снапшота.
// Восстановленный чанк не считается изменённым.
func ChunkFromSnapshot(snap *ChunkSnapshot) (*Chunk, error) {
	if snap.FormatVersion != SnapshotFormatVersion {
		return nil, fmt.Errorf("неподдерживаемая версия формата чанка: %d", snap.FormatVersion)
	}

	volume := snap.Edge * snap.Edge * snap.Edge
	if snap.Edge <= 0 || len(snap.Blocks) != volume || len(snap.Light) != volume {
		return nil, fmt.Errorf("повреждённый снапшот чанка %v: edge=%d, blocks=%d, light=%d",
			snap.Coords, snap.Edge, len(snap.Blocks), len(snap.Light))
	}

	chunk := NewChunk(snap.Coords, snap.Edge)
	copy(chunk.blocks, snap.Blocks)
	copy(chunk.light, snap.Light)
	chunk.version = snap.Version
	return chunk, nil
}
