package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для мировых координат блоков, и для координат чанков.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Less сравнивает векторы лексикографически (X, затем Y, затем Z).
// Порядок детерминирован и используется для стабильного выбора
// кандидатов при выгрузке чанков.
func (v Vec3) Less(other Vec3) bool {
	if v.X != other.X {
		return v.X < other.X
	}
	if v.Y != other.Y {
		return v.Y < other.Y
	}
	return v.Z < other.Z
}

// ToChunkCoords преобразует мировые координаты в координаты чанка.
// shift = log2(размер чанка); сдвиг вправо эквивалентен floor-делению,
// поэтому отрицательные координаты обрабатываются корректно:
// X=-1 при размере 16 даёт чанк -1, а не 0.
func (v Vec3) ToChunkCoords(shift uint) Vec3 {
	return Vec3{X: v.X >> shift, Y: v.Y >> shift, Z: v.Z >> shift}
}

// LocalInChunk возвращает локальные координаты внутри чанка.
// mask = размер чанка - 1; побитовое И эквивалентно floor-модулю,
// результат всегда в диапазоне [0, размер).
func (v Vec3) LocalInChunk(mask int) Vec3 {
	return Vec3{X: v.X & mask, Y: v.Y & mask, Z: v.Z & mask}
}
