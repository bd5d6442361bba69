package world

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-engine/internal/logging"
	"github.com/annel0/voxel-engine/internal/vec"
)

// entryState — состояние координаты в хранилище.
// Absent представлен отсутствием записи в карте.
type entryState int

const (
	entryLoading entryState = iota
	entryResident
	entryUnloading
)

// chunkEntry — запись хранилища для одной координаты.
// Все поля защищены мьютексом ChunkStore; исключение — err,
// который пишется до close(done) и читается только после <-done.
type chunkEntry struct {
	state      entryState
	chunk      *Chunk
	done       chan struct{} // Закрывается по завершении загрузки/выгрузки
	err        error         // Ошибка загрузки для ожидающих вызовов
	refs       int           // Невозвращённые handle
	lastAccess uint64        // Логическое время последнего доступа
}

// StoreOptions — параметры создания ChunkStore.
type StoreOptions struct {
	Edge       int                   // Длина ребра чанка, степень двойки
	Budget     int                   // Бюджет резидентных чанков (0 — без лимита)
	Registerer prometheus.Registerer // nil => глобальный регистр
	Events     *EventPublisher       // nil => события не публикуются
}

// ChunkStore владеет всеми резидентными чанками и арбитрирует
// конкурентный доступ. Мьютекс хранилища защищает только карту записей
// и их состояния; доступ к блокам идёт через RWMutex самого чанка,
// поэтому мутация чанка A не блокирует чтение чанка B.
type ChunkStore struct {
	mu        sync.Mutex
	entries   map[vec.Vec3]*chunkEntry
	residents int
	clock     uint64 // Монотонный счётчик для LRU

	generator Generator
	repo      ChunkRepo // Может быть nil: мир без персистентности
	edge      int
	budget    int
	metrics   *storeMetrics
	events    *EventPublisher
	tracer    trace.Tracer
	closed    bool
}

// NewChunkStore создаёт хранилище чанков.
// Генератор обязателен; repo может быть nil.
func NewChunkStore(generator Generator, repo ChunkRepo, opts StoreOptions) (*ChunkStore, error) {
	if generator == nil {
		return nil, errors.New("генератор мира обязателен")
	}
	if opts.Edge <= 0 || bits.OnesCount(uint(opts.Edge)) != 1 {
		return nil, fmt.Errorf("ребро чанка должно быть степенью двойки, получено %d", opts.Edge)
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &ChunkStore{
		entries:   make(map[vec.Vec3]*chunkEntry),
		generator: generator,
		repo:      repo,
		edge:      opts.Edge,
		budget:    opts.Budget,
		metrics:   newStoreMetrics(reg),
		events:    opts.Events,
		tracer:    otel.Tracer("voxel-engine/world"),
	}, nil
}

// Edge возвращает длину ребра чанка.
func (cs *ChunkStore) Edge() int {
	return cs.edge
}

// EnsureLoaded гарантирует резидентность чанка.
// Если координата отсутствует, запускается загрузка (хранилище, затем
// генератор). Конкурентные вызовы по одной координате не порождают
// дублирующую генерацию: первый выполняет переход в Loading, остальные
// ждут закрытия канала завершения. При ошибке координата возвращается
// в Absent, а все ожидающие получают ту же ошибку.
func (cs *ChunkStore) EnsureLoaded(ctx context.Context, coords vec.Vec3) error {
	for {
		cs.mu.Lock()
		if cs.closed {
			cs.mu.Unlock()
			return ErrStoreClosed
		}

		entry, exists := cs.entries[coords]
		if !exists {
			entry = &chunkEntry{state: entryLoading, done: make(chan struct{})}
			cs.entries[coords] = entry
			cs.mu.Unlock()
			return cs.load(ctx, coords, entry)
		}

		if entry.state == entryResident {
			cs.touchLocked(entry)
			cs.mu.Unlock()
			return nil
		}

		// Loading или Unloading: ждём завершения перехода и повторяем.
		done := entry.done
		cs.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if entry.err != nil {
			return entry.err
		}
	}
}

// load выполняет переход Loading -> Resident (или откат в Absent).
func (cs *ChunkStore) load(ctx context.Context, coords vec.Vec3, entry *chunkEntry) error {
	ctx, span := cs.tracer.Start(ctx, "world.chunk_load", trace.WithAttributes(
		attribute.Int("chunk.x", coords.X),
		attribute.Int("chunk.y", coords.Y),
		attribute.Int("chunk.z", coords.Z),
	))
	defer span.End()

	start := time.Now()
	chunk, source, err := cs.loadOrGenerate(ctx, coords)

	cs.mu.Lock()
	if err != nil {
		// Откат в Absent: повторная попытка возможна,
		// «застрявший» Loading-маркер не остаётся.
		entry.err = err
		delete(cs.entries, coords)
		close(entry.done)
		cs.mu.Unlock()

		cs.metrics.loadFailures.Inc()
		span.RecordError(err)
		return err
	}

	entry.chunk = chunk
	entry.state = entryResident
	cs.residents++
	cs.touchLocked(entry)
	close(entry.done)
	cs.mu.Unlock()

	cs.metrics.resident.Inc()
	cs.metrics.loads.WithLabelValues(source).Inc()
	cs.metrics.loadDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("chunk.source", source))
	cs.events.ChunkLoaded(coords, source, chunk.Version())

	cs.evictIfNeeded(ctx)
	return nil
}

// loadOrGenerate пробует хранилище, затем генератор.
func (cs *ChunkStore) loadOrGenerate(ctx context.Context, coords vec.Vec3) (*Chunk, string, error) {
	if cs.repo != nil {
		snap, err := cs.repo.LoadChunk(ctx, coords)
		switch {
		case err == nil:
			chunk, err := ChunkFromSnapshot(snap)
			if err != nil {
				return nil, "", fmt.Errorf("восстановление чанка %v: %w", coords, err)
			}
			if chunk.Edge() != cs.edge {
				return nil, "", fmt.Errorf("чанк %v сохранён с ребром %d, мир настроен на %d",
					coords, chunk.Edge(), cs.edge)
			}
			return chunk, "storage", nil
		case !errors.Is(err, ErrChunkNotFound):
			return nil, "", fmt.Errorf("загрузка чанка %v: %w", coords, err)
		}
	}

	chunk, err := cs.generator.Generate(coords)
	if err != nil {
		return nil, "", fmt.Errorf("%w: чанк %v: %v", ErrGenerationFailed, coords, err)
	}
	if chunk.Edge() != cs.edge {
		return nil, "", fmt.Errorf("%w: генератор вернул ребро %d, ожидалось %d",
			ErrGenerationFailed, chunk.Edge(), cs.edge)
	}
	return chunk, "generator", nil
}

// Acquire возвращает guarded-ссылку на резидентный чанк.
// Не блокируется в ожидании загрузки: для нерезидентной координаты
// сразу возвращается ErrNotResident, и вызывающий сам решает,
// вызывать ли EnsureLoaded. Release обязателен на каждом пути выхода.
func (cs *ChunkStore) Acquire(coords vec.Vec3) (*ChunkHandle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.closed {
		return nil, ErrStoreClosed
	}

	entry, exists := cs.entries[coords]
	if !exists || entry.state != entryResident {
		return nil, fmt.Errorf("%w: %v", ErrNotResident, coords)
	}

	entry.refs++
	cs.touchLocked(entry)
	return &ChunkHandle{store: cs, coords: coords, chunk: entry.chunk}, nil
}

// Unload выгружает резидентный чанк без невозвращённых handle.
// Изменённый чанк сначала сохраняется; при ошибке I/O чанк остаётся
// в памяти с выставленным dirty-флагом, данные не теряются.
func (cs *ChunkStore) Unload(ctx context.Context, coords vec.Vec3) error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return ErrStoreClosed
	}

	entry, exists := cs.entries[coords]
	if !exists || entry.state != entryResident {
		cs.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNotResident, coords)
	}
	if entry.refs > 0 {
		cs.mu.Unlock()
		return fmt.Errorf("%w: %v, ссылок: %d", ErrChunkInUse, coords, entry.refs)
	}

	entry.state = entryUnloading
	entry.done = make(chan struct{})
	chunk := entry.chunk
	cs.mu.Unlock()

	saved := false
	if chunk.IsDirty() {
		if cs.repo != nil {
			if err := cs.repo.SaveChunk(ctx, chunk.Snapshot()); err != nil {
				// Возврат в Resident; dirty остаётся для повторной попытки.
				cs.mu.Lock()
				entry.state = entryResident
				close(entry.done)
				cs.mu.Unlock()
				return fmt.Errorf("сохранение чанка %v: %w", coords, err)
			}
			chunk.ClearDirty()
			saved = true
			cs.metrics.saves.Inc()
		} else {
			logging.Warn("Чанк %v выгружается с изменениями, хранилище не настроено", coords)
		}
	}

	cs.mu.Lock()
	delete(cs.entries, coords)
	cs.residents--
	close(entry.done)
	cs.mu.Unlock()

	cs.metrics.resident.Dec()
	cs.events.ChunkUnloaded(coords, saved, chunk.Version())
	return nil
}

// Flush сохраняет все изменённые резидентные чанки, не выгружая их.
// Возвращает последнюю ошибку сохранения; dirty-флаг чанков,
// которые сохранить не удалось, остаётся выставленным.
func (cs *ChunkStore) Flush(ctx context.Context) error {
	if cs.repo == nil {
		return nil
	}

	cs.mu.Lock()
	dirty := make([]*Chunk, 0, len(cs.entries))
	for _, entry := range cs.entries {
		if entry.state == entryResident && entry.chunk.IsDirty() {
			dirty = append(dirty, entry.chunk)
		}
	}
	cs.mu.Unlock()

	var lastErr error
	for _, chunk := range dirty {
		if err := cs.repo.SaveChunk(ctx, chunk.Snapshot()); err != nil {
			logging.Error("Ошибка сохранения чанка %v: %v", chunk.Coords, err)
			lastErr = err
			continue
		}
		chunk.ClearDirty()
		cs.metrics.saves.Inc()
	}
	return lastErr
}

// Close сбрасывает изменённые чанки и останавливает хранилище.
// Последующие операции возвращают ErrStoreClosed.
func (cs *ChunkStore) Close(ctx context.Context) error {
	err := cs.Flush(ctx)

	cs.mu.Lock()
	cs.closed = true
	cs.mu.Unlock()
	return err
}

// ResidentCount возвращает число резидентных чанков.
func (cs *ChunkStore) ResidentCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.residents
}

// ResidentCoords возвращает координаты резидентных чанков в
// лексикографическом порядке — для детерминированного обхода.
func (cs *ChunkStore) ResidentCoords() []vec.Vec3 {
	cs.mu.Lock()
	coords := make([]vec.Vec3, 0, cs.residents)
	for c, entry := range cs.entries {
		if entry.state == entryResident {
			coords = append(coords, c)
		}
	}
	cs.mu.Unlock()

	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
	return coords
}

// touchLocked обновляет логическое время доступа. Вызывается под cs.mu.
func (cs *ChunkStore) touchLocked(entry *chunkEntry) {
	cs.clock++
	entry.lastAccess = cs.clock
}

// evictIfNeeded выгружает чанки сверх бюджета.
// Кандидаты — резидентные чанки без handle, в порядке наиболее давнего
// доступа; равенство разрешается лексикографически наименьшей
// координатой. Чанк с активными ссылками не выгружается никогда —
// вытеснение откладывается до возврата handle.
func (cs *ChunkStore) evictIfNeeded(ctx context.Context) {
	if cs.budget <= 0 {
		return
	}

	for {
		cs.mu.Lock()
		if cs.closed || cs.residents <= cs.budget {
			cs.mu.Unlock()
			return
		}

		var victim vec.Vec3
		var victimAccess uint64
		found := false
		for coords, entry := range cs.entries {
			if entry.state != entryResident || entry.refs > 0 {
				continue
			}
			if !found || entry.lastAccess < victimAccess ||
				(entry.lastAccess == victimAccess && coords.Less(victim)) {
				victim = coords
				victimAccess = entry.lastAccess
				found = true
			}
		}
		cs.mu.Unlock()

		if !found {
			// Все кандидаты удерживаются — попробуем после Release.
			return
		}

		if err := cs.Unload(ctx, victim); err != nil {
			logging.Warn("Вытеснение чанка %v не удалось: %v", victim, err)
			return
		}
		cs.metrics.evictions.Inc()
		logging.Debug("Чанк %v вытеснен по бюджету (%d)", victim, cs.budget)
	}
}

// ChunkHandle — guarded-ссылка на резидентный чанк.
// Пока handle не возвращён, хранилище не выгрузит и не вытеснит чанк.
// Release идемпотентен и обязателен на каждом пути выхода.
type ChunkHandle struct {
	store    *ChunkStore
	coords   vec.Vec3
	chunk    *Chunk
	released atomic.Bool
}

// Chunk возвращает чанк. Использовать только до Release.
func (h *ChunkHandle) Chunk() *Chunk {
	return h.chunk
}

// Coords возвращает координаты удерживаемого чанка.
func (h *ChunkHandle) Coords() vec.Vec3 {
	return h.coords
}

// Release возвращает ссылку хранилищу. Повторные вызовы — no-op.
// После возврата последней ссылки чанк становится кандидатом на
// вытеснение, поэтому сразу проверяем бюджет.
func (h *ChunkHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	cs := h.store
	cs.mu.Lock()
	entry, exists := cs.entries[h.coords]
	if exists && entry.refs > 0 {
		entry.refs--
	}
	over := cs.budget > 0 && cs.residents > cs.budget && !cs.closed
	cs.mu.Unlock()

	if over {
		cs.evictIfNeeded(context.Background())
	}
}
