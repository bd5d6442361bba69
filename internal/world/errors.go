package world

import "errors"

// Ошибки ядра мира. Вызывающий код различает их через errors.Is.
var (
	// ErrOutOfBounds — локальное смещение вне диапазона [0, edge) по одной из осей.
	ErrOutOfBounds = errors.New("смещение вне границ чанка")

	// ErrNotResident — чанк не загружен (отсутствует или ещё загружается).
	// Никогда не подменяется «блоком по умолчанию»: вызывающий сам решает,
	// пропустить тик или вызвать EnsureLoaded.
	ErrNotResident = errors.New("чанк не резидентен")

	// ErrGenerationFailed — генератор мира вернул ошибку; координата
	// возвращена в состояние Absent, повтор возможен.
	ErrGenerationFailed = errors.New("ошибка генерации чанка")

	// ErrChunkNotFound — в хранилище нет сохранённого чанка (не ошибка I/O).
	ErrChunkNotFound = errors.New("чанк не найден в хранилище")

	// ErrChunkInUse — выгрузка невозможна: есть невозвращённые handle.
	ErrChunkInUse = errors.New("чанк удерживается активными ссылками")

	// ErrStoreClosed — операция над уже остановленным ChunkStore.
	ErrStoreClosed = errors.New("хранилище чанков остановлено")
)
