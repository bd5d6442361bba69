package eventbus

import "errors"

// ErrBusFull возвращается при переполнении буфера шины.
// Публикующий код волен проигнорировать ошибку: потеря события
// телеметрии не критична для состояния мира.
var ErrBusFull = errors.New("буфер шины событий переполнен")
