package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world"
)

// MemoryStorage — in-memory реализация ChunkRepo для тестов и
// одноразовых миров. Хранит глубокие копии снапшотов.
type MemoryStorage struct {
	mu     sync.RWMutex
	chunks map[vec.Vec3][]byte
}

var _ world.ChunkRepo = (*MemoryStorage)(nil)

// NewMemoryStorage создаёт пустое in-memory хранилище.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{chunks: make(map[vec.Vec3][]byte)}
}

// SaveChunk сохраняет сериализованную копию снапшота.
func (ms *MemoryStorage) SaveChunk(ctx context.Context, snap *world.ChunkSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка %v: %w", snap.Coords, err)
	}

	ms.mu.Lock()
	ms.chunks[snap.Coords] = data
	ms.mu.Unlock()
	return nil
}

// LoadChunk возвращает копию снапшота или world.ErrChunkNotFound.
func (ms *MemoryStorage) LoadChunk(ctx context.Context, coords vec.Vec3) (*world.ChunkSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	data, exists := ms.chunks[coords]
	ms.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %v", world.ErrChunkNotFound, coords)
	}
	return decodeSnapshot(data)
}

// Close очищает хранилище.
func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	ms.chunks = make(map[vec.Vec3][]byte)
	ms.mu.Unlock()
	return nil
}

// Len возвращает число сохранённых чанков.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.chunks)
}
