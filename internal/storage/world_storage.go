package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/gzip"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world"
)

// WorldStorage — хранилище чанков поверх BadgerDB.
// Снапшоты сериализуются в JSON и сжимаются gzip: массив блоков чанка
// содержит длинные серии повторов и сжимается на порядок.
type WorldStorage struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// Компилируемая проверка соответствия контракту ChunkRepo.
var _ world.ChunkRepo = (*WorldStorage)(nil)

// NewWorldStorage открывает базу мира в <dataPath>/world.
func NewWorldStorage(dataPath string) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &WorldStorage{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных.
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return ws.db.Close()
}

// chunkKey формирует ключ BadgerDB для координаты чанка.
func chunkKey(coords vec.Vec3) []byte {
	return []byte(fmt.Sprintf("chunk:%d:%d:%d", coords.X, coords.Y, coords.Z))
}

// SaveChunk сохраняет снапшот чанка.
func (ws *WorldStorage) SaveChunk(ctx context.Context, snap *world.ChunkSnapshot) error {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка %v: %w", snap.Coords, err)
	}

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(snap.Coords), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	return nil
}

// LoadChunk загружает снапшот чанка.
// Возвращает world.ErrChunkNotFound, если чанк ещё не сохранялся —
// вызывающий в этом случае обращается к генератору.
func (ws *WorldStorage) LoadChunk(ctx context.Context, coords vec.Vec3) (*world.ChunkSnapshot, error) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	if !ws.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(coords))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", world.ErrChunkNotFound, coords)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации чанка %v: %w", coords, err)
	}
	return snap, nil
}

// encodeSnapshot сериализует снапшот: JSON + gzip.
func encodeSnapshot(snap *world.ChunkSnapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeSnapshot разворачивает gzip и разбирает JSON.
func decodeSnapshot(data []byte) (*world.ChunkSnapshot, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var snap world.ChunkSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
