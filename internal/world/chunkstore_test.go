package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-engine/internal/vec"
	"github.com/annel0/voxel-engine/internal/world/block"
)

// stubGenerator — генератор для тестов: считает вызовы, умеет
// имитировать медленную генерацию и сбои.
type stubGenerator struct {
	edge  int
	calls atomic.Int32
	fail  atomic.Bool
	delay time.Duration
}

func (g *stubGenerator) Generate(coords vec.Vec3) (*Chunk, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail.Load() {
		return nil, errors.New("имитация сбоя генератора")
	}
	return NewChunk(coords, g.edge), nil
}

// memRepo — минимальный ChunkRepo для тестов хранилища.
// Хранилище badger живёт в пакете storage; здесь достаточно карты.
type memRepo struct {
	mu       sync.Mutex
	snaps    map[vec.Vec3]*ChunkSnapshot
	failSave atomic.Bool
	saves    atomic.Int32
}

func newMemRepo() *memRepo {
	return &memRepo{snaps: make(map[vec.Vec3]*ChunkSnapshot)}
}

func (r *memRepo) SaveChunk(ctx context.Context, snap *ChunkSnapshot) error {
	if r.failSave.Load() {
		return errors.New("имитация ошибки I/O")
	}
	r.mu.Lock()
	r.snaps[snap.Coords] = snap
	r.mu.Unlock()
	r.saves.Add(1)
	return nil
}

func (r *memRepo) LoadChunk(ctx context.Context, coords vec.Vec3) (*ChunkSnapshot, error) {
	r.mu.Lock()
	snap, exists := r.snaps[coords]
	r.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %v", ErrChunkNotFound, coords)
	}
	return snap, nil
}

func (r *memRepo) Close() error { return nil }

func newTestStore(t *testing.T, gen Generator, repo ChunkRepo, budget int) *ChunkStore {
	t.Helper()
	store, err := NewChunkStore(gen, repo, StoreOptions{
		Edge:       16,
		Budget:     budget,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return store
}

func TestNewChunkStore_Validation(t *testing.T) {
	_, err := NewChunkStore(nil, nil, StoreOptions{Edge: 16})
	assert.Error(t, err, "генератор обязателен")

	gen := &stubGenerator{edge: 16}
	_, err = NewChunkStore(gen, nil, StoreOptions{Edge: 15, Registerer: prometheus.NewRegistry()})
	assert.Error(t, err, "ребро должно быть степенью двойки")

	_, err = NewChunkStore(gen, nil, StoreOptions{Edge: 0, Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestChunkStore_EnsureLoadedThenAcquire(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, nil, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 1, Y: 2, Z: 3}

	// Acquire не блокируется в ожидании загрузки
	_, err := store.Acquire(coords)
	assert.ErrorIs(t, err, ErrNotResident)

	require.NoError(t, store.EnsureLoaded(ctx, coords))
	assert.Equal(t, 1, store.ResidentCount())

	handle, err := store.Acquire(coords)
	require.NoError(t, err)
	defer handle.Release()

	assert.Equal(t, coords, handle.Coords())
	assert.Equal(t, coords, handle.Chunk().Coords)

	// Повторный EnsureLoaded — no-op, без новой генерации
	require.NoError(t, store.EnsureLoaded(ctx, coords))
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestChunkStore_ConcurrentLoadGeneratesOnce(t *testing.T) {
	gen := &stubGenerator{edge: 16, delay: 30 * time.Millisecond}
	store := newTestStore(t, gen, nil, 0)

	coords := vec.Vec3{X: 0, Y: 0, Z: 0}
	const workers = 16

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.EnsureLoaded(context.Background(), coords)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "воркер %d", i)
	}
	assert.Equal(t, int32(1), gen.calls.Load(), "генерация выполняется не более одного раза")
	assert.Equal(t, 1, store.ResidentCount())
}

func TestChunkStore_GenerationFailureAllowsRetry(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	gen.fail.Store(true)
	store := newTestStore(t, gen, nil, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 4, Y: 0, Z: 0}

	err := store.EnsureLoaded(ctx, coords)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 0, store.ResidentCount(), "после сбоя координата возвращается в Absent")

	// Loading-маркер не «застревает»: повторная попытка возможна
	gen.fail.Store(false)
	require.NoError(t, store.EnsureLoaded(ctx, coords))
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, 1, store.ResidentCount())
}

func TestChunkStore_LoadsFromRepoFirst(t *testing.T) {
	coords := vec.Vec3{X: -2, Y: 1, Z: 0}

	chunk := NewChunk(coords, 16)
	_, err := chunk.Set(vec.Vec3{X: 7, Y: 7, Z: 7}, block.BlockID(5))
	require.NoError(t, err)

	repo := newMemRepo()
	require.NoError(t, repo.SaveChunk(context.Background(), chunk.Snapshot()))

	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, repo, 0)

	require.NoError(t, store.EnsureLoaded(context.Background(), coords))
	assert.Equal(t, int32(0), gen.calls.Load(), "сохранённый чанк не генерируется заново")

	handle, err := store.Acquire(coords)
	require.NoError(t, err)
	defer handle.Release()

	id, err := handle.Chunk().Get(vec.Vec3{X: 7, Y: 7, Z: 7})
	require.NoError(t, err)
	assert.Equal(t, block.BlockID(5), id)
	assert.False(t, handle.Chunk().IsDirty())
}

func TestChunkStore_UnloadSavesOnlyDirty(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	repo := newMemRepo()
	store := newTestStore(t, gen, repo, 0)
	ctx := context.Background()

	clean := vec.Vec3{X: 0, Y: 0, Z: 0}
	dirty := vec.Vec3{X: 1, Y: 0, Z: 0}
	require.NoError(t, store.EnsureLoaded(ctx, clean))
	require.NoError(t, store.EnsureLoaded(ctx, dirty))

	handle, err := store.Acquire(dirty)
	require.NoError(t, err)
	_, err = handle.Chunk().Set(vec.Vec3{X: 0, Y: 0, Z: 0}, block.BlockID(2))
	require.NoError(t, err)
	handle.Release()

	require.NoError(t, store.Unload(ctx, clean))
	assert.Equal(t, int32(0), repo.saves.Load(), "неизменённый чанк не сохраняется")

	require.NoError(t, store.Unload(ctx, dirty))
	assert.Equal(t, int32(1), repo.saves.Load(), "изменённый чанк сохраняется при выгрузке")
	assert.Equal(t, 0, store.ResidentCount())

	// Выгрузка нерезидентного чанка
	err = store.Unload(ctx, clean)
	assert.ErrorIs(t, err, ErrNotResident)
}

func TestChunkStore_UnloadRefusesHeldChunk(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, nil, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 0, Y: 0, Z: 0}
	require.NoError(t, store.EnsureLoaded(ctx, coords))

	handle, err := store.Acquire(coords)
	require.NoError(t, err)

	err = store.Unload(ctx, coords)
	assert.ErrorIs(t, err, ErrChunkInUse)

	handle.Release()
	require.NoError(t, store.Unload(ctx, coords))

	// Release идемпотентен
	handle.Release()
}

func TestChunkStore_SaveFailureKeepsChunkDirty(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	repo := newMemRepo()
	store := newTestStore(t, gen, repo, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 3, Y: 3, Z: 3}
	require.NoError(t, store.EnsureLoaded(ctx, coords))

	handle, err := store.Acquire(coords)
	require.NoError(t, err)
	_, err = handle.Chunk().Set(vec.Vec3{X: 1, Y: 1, Z: 1}, block.BlockID(4))
	require.NoError(t, err)
	handle.Release()

	repo.failSave.Store(true)
	err = store.Unload(ctx, coords)
	require.Error(t, err)

	// Чанк остаётся в памяти с dirty-флагом: данные не потеряны
	assert.Equal(t, 1, store.ResidentCount())
	handle, err = store.Acquire(coords)
	require.NoError(t, err)
	assert.True(t, handle.Chunk().IsDirty())
	handle.Release()

	repo.failSave.Store(false)
	require.NoError(t, store.Unload(ctx, coords))
	assert.Equal(t, int32(1), repo.saves.Load())
}

func TestChunkStore_FlushSavesDirtyWithoutUnloading(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	repo := newMemRepo()
	store := newTestStore(t, gen, repo, 0)
	ctx := context.Background()

	a := vec.Vec3{X: 0, Y: 0, Z: 0}
	b := vec.Vec3{X: 1, Y: 0, Z: 0}
	require.NoError(t, store.EnsureLoaded(ctx, a))
	require.NoError(t, store.EnsureLoaded(ctx, b))

	handle, err := store.Acquire(a)
	require.NoError(t, err)
	_, err = handle.Chunk().Set(vec.Vec3{X: 2, Y: 2, Z: 2}, block.BlockID(3))
	require.NoError(t, err)

	require.NoError(t, store.Flush(ctx))
	assert.Equal(t, int32(1), repo.saves.Load(), "сохраняются только изменённые чанки")
	assert.Equal(t, 2, store.ResidentCount(), "Flush не выгружает чанки")
	assert.False(t, handle.Chunk().IsDirty())
	handle.Release()
}

func TestChunkStore_FlushFailureKeepsDirty(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	repo := newMemRepo()
	store := newTestStore(t, gen, repo, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 0, Y: 0, Z: 0}
	require.NoError(t, store.EnsureLoaded(ctx, coords))

	handle, err := store.Acquire(coords)
	require.NoError(t, err)
	_, err = handle.Chunk().Set(vec.Vec3{X: 0, Y: 1, Z: 0}, block.BlockID(2))
	require.NoError(t, err)

	repo.failSave.Store(true)
	assert.Error(t, store.Flush(ctx))
	assert.True(t, handle.Chunk().IsDirty(), "при сбое dirty-флаг сохраняется для повтора")
	handle.Release()
}

func TestChunkStore_EvictionRespectsBudgetAndLRU(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, nil, 2)
	ctx := context.Background()

	a := vec.Vec3{X: 0, Y: 0, Z: 0}
	b := vec.Vec3{X: 1, Y: 0, Z: 0}
	c := vec.Vec3{X: 2, Y: 0, Z: 0}

	require.NoError(t, store.EnsureLoaded(ctx, a))
	require.NoError(t, store.EnsureLoaded(ctx, b))

	// Обновляем время доступа a: теперь наиболее давний — b
	handle, err := store.Acquire(a)
	require.NoError(t, err)
	handle.Release()

	require.NoError(t, store.EnsureLoaded(ctx, c))
	assert.Equal(t, 2, store.ResidentCount())
	assert.Equal(t, []vec.Vec3{a, c}, store.ResidentCoords(), "вытесняется наиболее давний b")
}

func TestChunkStore_EvictionSkipsHeldChunks(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, nil, 1)
	ctx := context.Background()

	a := vec.Vec3{X: 0, Y: 0, Z: 0}
	b := vec.Vec3{X: 1, Y: 0, Z: 0}

	require.NoError(t, store.EnsureLoaded(ctx, a))
	handle, err := store.Acquire(a)
	require.NoError(t, err)

	// a удерживается handle: вытесняется свежезагруженный b, но не a
	require.NoError(t, store.EnsureLoaded(ctx, b))
	assert.Equal(t, []vec.Vec3{a}, store.ResidentCoords())

	handle.Release()
}

func TestChunkStore_CloseFlushesAndRejects(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	repo := newMemRepo()
	store := newTestStore(t, gen, repo, 0)
	ctx := context.Background()

	coords := vec.Vec3{X: 0, Y: 0, Z: 0}
	require.NoError(t, store.EnsureLoaded(ctx, coords))

	handle, err := store.Acquire(coords)
	require.NoError(t, err)
	_, err = handle.Chunk().Set(vec.Vec3{X: 5, Y: 5, Z: 5}, block.BlockID(1))
	require.NoError(t, err)
	handle.Release()

	require.NoError(t, store.Close(ctx))
	assert.Equal(t, int32(1), repo.saves.Load(), "Close сбрасывает изменённые чанки")

	assert.ErrorIs(t, store.EnsureLoaded(ctx, coords), ErrStoreClosed)
	_, err = store.Acquire(coords)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Unload(ctx, coords), ErrStoreClosed)
}

func TestChunkStore_ResidentCoordsSorted(t *testing.T) {
	gen := &stubGenerator{edge: 16}
	store := newTestStore(t, gen, nil, 0)
	ctx := context.Background()

	coords := []vec.Vec3{
		{X: 1, Y: 0, Z: 0},
		{X: -1, Y: 5, Z: 2},
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: 0, Z: 0},
	}
	for _, c := range coords {
		require.NoError(t, store.EnsureLoaded(ctx, c))
	}

	assert.Equal(t, []vec.Vec3{
		{X: -1, Y: 5, Z: 2},
		{X: 0, Y: 0, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 0, Z: 0},
	}, store.ResidentCoords())
}

func TestChunkStore_EnsureLoadedHonoursContext(t *testing.T) {
	gen := &stubGenerator{edge: 16, delay: 200 * time.Millisecond}
	store := newTestStore(t, gen, nil, 0)

	coords := vec.Vec3{X: 0, Y: 0, Z: 0}

	// Первый вызов занимает слот Loading
	go func() { _ = store.EnsureLoaded(context.Background(), coords) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.EnsureLoaded(ctx, coords)
	assert.ErrorIs(t, err, context.Canceled, "ожидание загрузки прерывается контекстом")
}
