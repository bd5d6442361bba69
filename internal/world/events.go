package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-engine/internal/eventbus"
	"github.com/annel0/voxel-engine/internal/logging"
	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// Типы событий мира, публикуемых в шину.
// Их потребляют внешние коллабораторы: проход освещения, ремешинг, синк.
const (
	EventChunkLoaded   = "chunk_loaded"
	EventChunkUnloaded = "chunk_unloaded"
	EventBlockChanged  = "block_changed"
)

// ChunkEventPayload — полезная нагрузка событий загрузки/выгрузки чанка.
type ChunkEventPayload struct {
	Coords  vec.Vec3 `json:"coords"`
	Source  string   `json:"source,omitempty"` // storage | generator
	Saved   bool     `json:"saved,omitempty"`  // для chunk_unloaded
	Version uint64   `json:"version"`
}

// BlockEventPayload — полезная нагрузка события изменения блока.
type BlockEventPayload struct {
	Pos      vec.Vec3      `json:"pos"`
	Previous block.BlockID `json:"previous"`
	Current  block.BlockID `json:"current"`
	Session  string        `json:"session,omitempty"`
}

// EventPublisher публикует события мира в EventBus.
// Nil-безопасен: при отсутствии шины все вызовы — no-op,
// чтобы ядро не зависело от наличия инфраструктуры.
type EventPublisher struct {
	bus    eventbus.EventBus
	source string
}

// NewEventPublisher создаёт публикатор с указанным именем источника.
func NewEventPublisher(bus eventbus.EventBus, source string) *EventPublisher {
	return &EventPublisher{bus: bus, source: source}
}

// ChunkLoaded публикует событие о появлении резидентного чанка.
func (ep *EventPublisher) ChunkLoaded(coords vec.Vec3, source string, version uint64) {
	ep.publish(EventChunkLoaded, ChunkEventPayload{Coords: coords, Source: source, Version: version})
}

// ChunkUnloaded публикует событие о выгрузке чанка.
func (ep *EventPublisher) ChunkUnloaded(coords vec.Vec3, saved bool, version uint64) {
	ep.publish(EventChunkUnloaded, ChunkEventPayload{Coords: coords, Saved: saved, Version: version})
}

// BlockChanged публикует событие об изменении блока.
func (ep *EventPublisher) BlockChanged(pos vec.Vec3, prev, next block.BlockID, session string) {
	ep.publish(EventBlockChanged, BlockEventPayload{Pos: pos, Previous: prev, Current: next, Session: session})
}

func (ep *EventPublisher) publish(eventType string, payload interface{}) {
	if ep == nil || ep.bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Ошибка сериализации события %s: %v", eventType, err)
		return
	}

	ev := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    ep.source,
		EventType: eventType,
		Version:   1,
		Payload:   data,
	}

	if err := ep.bus.Publish(context.Background(), ev); err != nil {
		// Переполнение шины не должно останавливать мутации мира
		logging.Warn("Событие %s отброшено: %v", eventType, err)
	}
}
