package world

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/annel0/voxel-engine/internal/logging"
	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// WorldAccessor — фасад, через который системы планировщика читают и
// пишут отдельные блоки. Состояния не имеет: только ссылка на хранилище,
// регистр и предвычисленные shift/mask для трансляции координат.
// Создаётся на сессию доступа; sessionID попадает в логи и события.
type WorldAccessor struct {
	store     *ChunkStore
	registry  *block.Registry
	events    *EventPublisher
	shift     uint // log2(edge)
	mask      int  // edge-1
	sessionID string
}

// NewAccessor создаёт фасад доступа к миру.
// events может быть nil — тогда изменения блоков не публикуются.
func NewAccessor(store *ChunkStore, registry *block.Registry, events *EventPublisher) *WorldAccessor {
	edge := store.Edge()
	return &WorldAccessor{
		store:     store,
		registry:  registry,
		events:    events,
		shift:     uint(bits.TrailingZeros(uint(edge))),
		mask:      edge - 1,
		sessionID: uuid.NewString(),
	}
}

// SessionID возвращает идентификатор сессии доступа.
func (wa *WorldAccessor) SessionID() string {
	return wa.sessionID
}

// ReadBlock возвращает ID блока по мировым координатам.
// Если чанк не резидентен, возвращает ErrNotResident — вызывающий
// обязан явно решить, пропустить операцию или вызвать EnsureLoaded.
func (wa *WorldAccessor) ReadBlock(pos vec.Vec3) (block.BlockID, error) {
	handle, err := wa.store.Acquire(pos.ToChunkCoords(wa.shift))
	if err != nil {
		return block.AirBlockID, err
	}
	defer handle.Release()

	return handle.Chunk().Get(pos.LocalInChunk(wa.mask))
}

// WriteBlock устанавливает блок по мировым координатам и возвращает
// прежний ID. Валидирует BlockID по регистру — чанк сам этого не делает.
func (wa *WorldAccessor) WriteBlock(pos vec.Vec3, id block.BlockID) (block.BlockID, error) {
	if !wa.registry.Contains(id) {
		return block.AirBlockID, fmt.Errorf("%w: id=%d", block.ErrUnknownBlock, id)
	}

	handle, err := wa.store.Acquire(pos.ToChunkCoords(wa.shift))
	if err != nil {
		return block.AirBlockID, err
	}
	defer handle.Release()

	prev, err := handle.Chunk().Set(pos.LocalInChunk(wa.mask), id)
	if err != nil {
		return block.AirBlockID, err
	}

	if prev != id {
		wa.events.BlockChanged(pos, prev, id, wa.sessionID)
	}
	return prev, nil
}

// ReadLight возвращает закэшированный уровень света по мировым координатам.
func (wa *WorldAccessor) ReadLight(pos vec.Vec3) (uint8, error) {
	handle, err := wa.store.Acquire(pos.ToChunkCoords(wa.shift))
	if err != nil {
		return 0, err
	}
	defer handle.Release()

	return handle.Chunk().Light(pos.LocalInChunk(wa.mask))
}

// EnsureRegion гарантирует резидентность всех чанков в боксе
// [min, max] включительно (координаты чанков). Используется системами,
// которым нужен гарантированно загруженный объём, например мешингом.
// Возвращает первую встреченную ошибку.
func (wa *WorldAccessor) EnsureRegion(ctx context.Context, min, max vec.Vec3) error {
	if max.X < min.X || max.Y < min.Y || max.Z < min.Z {
		return fmt.Errorf("некорректный регион: min=%v, max=%v", min, max)
	}

	for x := min.X; x <= max.X; x++ {
		for y := min.Y; y <= max.Y; y++ {
			for z := min.Z; z <= max.Z; z++ {
				coords := vec.Vec3{X: x, Y: y, Z: z}
				if err := wa.store.EnsureLoaded(ctx, coords); err != nil {
					logging.Debug("Сессия %s: регион не загружен на чанке %v: %v",
						wa.sessionID, coords, err)
					return err
				}
			}
		}
	}
	return nil
}
