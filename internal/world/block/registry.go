package block

import (
	"errors"
	"fmt"
	"strings"
)

// BlockID представляет идентификатор типа блока.
// ID плотные и присваиваются последовательно в порядке регистрации,
// поэтому при одинаковом наборе блоков они стабильны между запусками.
// Значение 0 зарезервировано за воздухом.
type BlockID uint16

// AirBlockID — зарезервированный идентификатор пустого блока.
const AirBlockID BlockID = 0

// MaxLightLevel — максимальный уровень света (излучение и поглощение).
const MaxLightLevel = 15

// ErrUnknownBlock возвращается при запросе незарегистрированного блока.
var ErrUnknownBlock = errors.New("блок не зарегистрирован")

// BlockDescriptor описывает статические свойства типа блока.
// Создаётся один раз при регистрации и далее не изменяется.
type BlockDescriptor struct {
	Name            string // Ресурсное имя вида "namespace:path", например "voxel:stone"
	Solid           bool   // Является ли блок твёрдым (коллизии)
	LightEmission   uint8  // Уровень излучаемого света, 0..15
	LightAbsorption uint8  // Уровень поглощения света, 0..15
	CustomDataSize  int    // Размер пользовательских данных блока в байтах (0 — нет)
}

// RegistryBuilder накапливает дескрипторы в фазе сборки.
// После вызова Build билдер больше не используется; разделение
// на два типа исключает мутацию регистра после заморозки.
type RegistryBuilder struct {
	descriptors []BlockDescriptor
	byName      map[string]BlockID
	built       bool
}

// NewRegistryBuilder создаёт билдер с предзарегистрированным воздухом (ID 0).
func NewRegistryBuilder() *RegistryBuilder {
	air := BlockDescriptor{
		Name:            "voxel:air",
		Solid:           false,
		LightEmission:   0,
		LightAbsorption: 0,
	}
	return &RegistryBuilder{
		descriptors: []BlockDescriptor{air},
		byName:      map[string]BlockID{air.Name: AirBlockID},
	}
}

// Register добавляет дескриптор и возвращает присвоенный BlockID.
// Порядок регистрации определяет ID: первый блок после воздуха получает 1 и т.д.
func (rb *RegistryBuilder) Register(desc BlockDescriptor) (BlockID, error) {
	if rb.built {
		return 0, fmt.Errorf("регистр уже заморожен, регистрация %q невозможна", desc.Name)
	}
	if err := validateName(desc.Name); err != nil {
		return 0, err
	}
	if _, exists := rb.byName[desc.Name]; exists {
		return 0, fmt.Errorf("блок %q уже зарегистрирован", desc.Name)
	}
	if desc.LightEmission > MaxLightLevel || desc.LightAbsorption > MaxLightLevel {
		return 0, fmt.Errorf("уровень света блока %q вне диапазона 0..%d", desc.Name, MaxLightLevel)
	}
	if desc.CustomDataSize < 0 {
		return 0, fmt.Errorf("отрицательный размер данных блока %q", desc.Name)
	}

	id := BlockID(len(rb.descriptors))
	rb.descriptors = append(rb.descriptors, desc)
	rb.byName[desc.Name] = id
	return id, nil
}

// MustRegister регистрирует блок или паникует.
// Используется в стартовом коде, где набор блоков фиксирован.
func (rb *RegistryBuilder) MustRegister(desc BlockDescriptor) BlockID {
	id, err := rb.Register(desc)
	if err != nil {
		panic(err)
	}
	return id
}

// Build замораживает регистр. После этого вызовы Register возвращают ошибку,
// а полученный Registry можно читать из любых горутин без синхронизации.
func (rb *RegistryBuilder) Build() *Registry {
	rb.built = true

	descriptors := make([]BlockDescriptor, len(rb.descriptors))
	copy(descriptors, rb.descriptors)

	byName := make(map[string]BlockID, len(rb.byName))
	for name, id := range rb.byName {
		byName[name] = id
	}

	return &Registry{descriptors: descriptors, byName: byName}
}

// Registry — замороженный регистр блоков, только для чтения.
type Registry struct {
	descriptors []BlockDescriptor
	byName      map[string]BlockID
}

// Describe возвращает дескриптор по ID.
func (r *Registry) Describe(id BlockID) (BlockDescriptor, error) {
	if int(id) >= len(r.descriptors) {
		return BlockDescriptor{}, fmt.Errorf("%w: id=%d", ErrUnknownBlock, id)
	}
	return r.descriptors[id], nil
}

// Lookup возвращает ID по ресурсному имени.
func (r *Registry) Lookup(name string) (BlockID, bool) {
	id, exists := r.byName[name]
	return id, exists
}

// Contains проверяет, является ли ID допустимым идентификатором блока.
func (r *Registry) Contains(id BlockID) bool {
	return int(id) < len(r.descriptors)
}

// Len возвращает число зарегистрированных блоков (включая воздух).
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// validateName проверяет ресурсное имя блока.
// Допустимый формат: namespace:path, namespace из [a-z0-9_.-],
// path из [a-z0-9_.-/], обе части непустые.
func validateName(name string) error {
	namespace, path, found := strings.Cut(name, ":")
	if !found {
		return fmt.Errorf("имя %q не содержит namespace", name)
	}
	if namespace == "" {
		return fmt.Errorf("пустой namespace в имени %q", name)
	}
	if path == "" {
		return fmt.Errorf("пустой path в имени %q", name)
	}
	for _, c := range namespace {
		if !isNameChar(c, false) {
			return fmt.Errorf("недопустимый символ %q в namespace имени %q", c, name)
		}
	}
	for _, c := range path {
		if !isNameChar(c, true) {
			return fmt.Errorf("недопустимый символ %q в path имени %q", c, name)
		}
	}
	return nil
}

func isNameChar(c rune, allowSlash bool) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	case c == '/' && allowSlash:
		return true
	}
	return false
}
