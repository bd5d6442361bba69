package world

import (
	"fmt"
	"sync"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// Chunk представляет кубический участок мира со стороной edge блоков.
// Блоки и кэш освещения хранятся плоскими массивами с ручной адресацией
// (x + y*edge + z*edge²) — вложенные структуры дают худшую локальность кэша.
//
// Чанк принадлежит ChunkStore; внешний код получает доступ только через
// ChunkHandle. Методы сами синхронизируются: допускается много
// одновременных читателей, писатель эксклюзивен в пределах одного чанка.
type Chunk struct {
	Coords vec.Vec3 // Координаты чанка в сетке чанков

	edge    int             // Длина ребра (степень двойки)
	blocks  []block.BlockID // edge³ идентификаторов блоков
	light   []uint8         // Параллельный кэш уровней света
	version uint64          // Монотонный счётчик мутаций
	dirty   bool            // Есть несохранённые изменения
	mu      sync.RWMutex
}

// NewChunk создаёт пустой (воздушный) чанк с указанными координатами.
func NewChunk(coords vec.Vec3, edge int) *Chunk {
	volume := edge * edge * edge
	return &Chunk{
		Coords: coords,
		edge:   edge,
		blocks: make([]block.BlockID, volume),
		light:  make([]uint8, volume),
	}
}

// Edge возвращает длину ребра чанка в блоках.
func (c *Chunk) Edge() int {
	return c.edge
}

// index переводит локальное смещение в индекс плоского массива.
func (c *Chunk) index(local vec.Vec3) (int, error) {
	if local.X < 0 || local.X >= c.edge ||
		local.Y < 0 || local.Y >= c.edge ||
		local.Z < 0 || local.Z >= c.edge {
		return 0, fmt.Errorf("%w: (%d,%d,%d), edge=%d", ErrOutOfBounds, local.X, local.Y, local.Z, c.edge)
	}
	return local.X + local.Y*c.edge + local.Z*c.edge*c.edge, nil
}

// Get возвращает ID блока по локальному смещению.
func (c *Chunk) Get(local vec.Vec3) (block.BlockID, error) {
	idx, err := c.index(local)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[idx], nil
}

// Set устанавливает блок и возвращает прежний ID.
// Увеличивает счётчик версий и помечает чанк изменённым.
// Валидность BlockID здесь не проверяется — это обязанность
// WorldAccessor, у которого есть доступ к регистру блоков.
func (c *Chunk) Set(local vec.Vec3, id block.BlockID) (block.BlockID, error) {
	idx, err := c.index(local)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.blocks[idx]
	c.blocks[idx] = id
	c.version++
	c.dirty = true
	return prev, nil
}

// Light возвращает уровень света по локальному смещению.
func (c *Chunk) Light(local vec.Vec3) (uint8, error) {
	idx, err := c.index(local)
	if err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.light[idx], nil
}

// SetLight обновляет кэш освещения. Вызывается внешним проходом
// освещения, который потребляет dirty-флаг; сам флаг здесь не
// выставляется, иначе обновление света порождало бы бесконечный
// цикл «изменение — пересчёт».
func (c *Chunk) SetLight(local vec.Vec3, level uint8) error {
	idx, err := c.index(local)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.light[idx] = level
	return nil
}

// Version возвращает текущее значение счётчика мутаций.
func (c *Chunk) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// IsDirty сообщает о несохранённых изменениях.
func (c *Chunk) IsDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// ClearDirty сбрасывает флаг изменений после успешного сохранения.
func (c *Chunk) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
}

// fill заполняет блок без инкремента версии и dirty-флага.
// Только для генератора и восстановления из снапшота: свежесгенерированный
// чанк не считается изменённым, пока в него не запишет игровой код.
func (c *Chunk) fill(local vec.Vec3, id block.BlockID) error {
	idx, err := c.index(local)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[idx] = id
	return nil
}
