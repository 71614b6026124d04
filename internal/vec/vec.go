// Package vec содержит координатную алгебру мира: тайлы, чанки,
// локальные смещения и направления движения.
package vec

const (
	// ChunkShift — двоичный сдвиг для перевода тайлов в чанки (16 = 1<<4).
	ChunkShift = 4
	// ChunkSize — сторона чанка в тайлах.
	ChunkSize = 1 << ChunkShift
	// offsetMask — маска локального смещения внутри чанка.
	offsetMask = ChunkSize - 1
)

// TilePoint — глобальные координаты тайла. Могут быть отрицательными,
// мир бесконечен в обе стороны.
type TilePoint struct {
	X, Y int32
}

// ChunkPoint — координаты чанка в сетке чанков.
type ChunkPoint struct {
	X, Y int32
}

// OffsetPoint — локальные координаты тайла внутри чанка, всегда в [0, 16).
type OffsetPoint struct {
	X, Y int32
}

// ChunkCoords возвращает координаты чанка, содержащего тайл.
// Арифметический сдвиг даёт честное округление вниз для отрицательных координат.
func (p TilePoint) ChunkCoords() ChunkPoint {
	return ChunkPoint{X: p.X >> ChunkShift, Y: p.Y >> ChunkShift}
}

// ChunkOffsetCoords возвращает локальные координаты тайла внутри его чанка.
func (p TilePoint) ChunkOffsetCoords() OffsetPoint {
	return OffsetPoint{X: p.X & offsetMask, Y: p.Y & offsetMask}
}

// TileAt восстанавливает глобальные координаты тайла из чанка и смещения.
// Обратная операция к паре ChunkCoords/ChunkOffsetCoords.
func TileAt(chunk ChunkPoint, offset OffsetPoint) TilePoint {
	return TilePoint{
		X: chunk.X<<ChunkShift | offset.X,
		Y: chunk.Y<<ChunkShift | offset.Y,
	}
}

// InAndAround возвращает блок 3x3 чанков с центром в c.
// Порядок фиксирован: построчно, слева направо, снизу вверх по Y.
func (c ChunkPoint) InAndAround() []ChunkPoint {
	out := make([]ChunkPoint, 0, 9)
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			out = append(out, ChunkPoint{X: c.X + dx, Y: c.Y + dy})
		}
	}
	return out
}

// Direction — направление взгляда и движения сущности.
type Direction uint32

const (
	DirUp Direction = iota
	DirDown
	DirLeft
	DirRight
)

// String возвращает строковое представление направления.
func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return "unknown"
	}
}

// Valid сообщает, является ли значение допустимым направлением.
func (d Direction) Valid() bool {
	return d <= DirRight
}

// Apply возвращает соседний тайл в данном направлении.
// Ось Y растёт вверх: DirUp увеличивает Y, DirDown уменьшает.
func (d Direction) Apply(p TilePoint) TilePoint {
	switch d {
	case DirUp:
		return TilePoint{X: p.X, Y: p.Y + 1}
	case DirDown:
		return TilePoint{X: p.X, Y: p.Y - 1}
	case DirLeft:
		return TilePoint{X: p.X - 1, Y: p.Y}
	case DirRight:
		return TilePoint{X: p.X + 1, Y: p.Y}
	default:
		return p
	}
}
