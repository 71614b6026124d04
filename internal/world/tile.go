package world

import (
	"time"

	"github.com/annel0/gemfall/internal/vec"
)

// Tile — закрытое множество вариантов ландшафта. Значение дискриминанта
// стабильно: оно уходит в сетевой протокол и в файлы чанков,
// переставлять варианты нельзя.
type Tile uint32

const (
	TileGrass Tile = iota
	TileDirt
	TileWater

	// Интерьеры грязевых областей
	TileRock
	TileRockEmerald
	TileRockRuby
	TileRockDiamond

	// Украшения травяных областей
	TileBlueFlower
	TileYellowOrangeFlower
	TileFlowerPatch
	TileStones
	TileShrub

	// Переходные тайлы грязь/трава: кромки, внутренние и внешние углы
	TileDirtTop
	TileDirtBottom
	TileDirtLeft
	TileDirtRight
	TileDirtCornerTopLeft
	TileDirtCornerTopRight
	TileDirtCornerBottomLeft
	TileDirtCornerBottomRight
	TileDirtInnerTopLeft
	TileDirtInnerTopRight
	TileDirtInnerBottomLeft
	TileDirtInnerBottomRight

	// Переходные тайлы вода/берег
	TileWaterTop
	TileWaterBottom
	TileWaterLeft
	TileWaterRight
	TileWaterCornerTopLeft
	TileWaterCornerTopRight
	TileWaterCornerBottomLeft
	TileWaterCornerBottomRight
	TileWaterInnerTopLeft
	TileWaterInnerTopRight
	TileWaterInnerBottomLeft
	TileWaterInnerBottomRight

	tileCount
)

// TileCount — число вариантов тайла (для проверок декодеров).
const TileCount = uint32(tileCount)

// Valid сообщает, является ли значение известным тайлом.
func (t Tile) Valid() bool {
	return uint32(t) < TileCount
}

// Gem — вид самоцвета, выпадающего из разбиваемых камней.
type Gem uint32

const (
	GemEmerald Gem = iota
	GemRuby
	GemDiamond
)

// GemYield — диапазон выпадения самоцветов при разбивании тайла.
type GemYield struct {
	Gem Gem
	Min uint32
	Max uint32
}

// tileTraits — единственная авторитетная таблица свойств тайлов.
// Всё поведение (проходимость, разбиваемость, выпадение самоцветов,
// модификаторы скорости) читается отсюда и только отсюда.
type tileTrait struct {
	blocking  bool
	smashable bool
	grassy    bool
	yield     *GemYield
}

var tileTraits = map[Tile]tileTrait{
	TileGrass: {grassy: true},
	TileDirt:  {},
	TileWater: {blocking: true},

	// Обычный камень непроходим и НЕ разбивается движением.
	TileRock:        {blocking: true},
	TileRockEmerald: {blocking: true, smashable: true, yield: &GemYield{Gem: GemEmerald, Min: 1, Max: 3}},
	TileRockRuby:    {blocking: true, smashable: true, yield: &GemYield{Gem: GemRuby, Min: 1, Max: 2}},
	TileRockDiamond: {blocking: true, smashable: true, yield: &GemYield{Gem: GemDiamond, Min: 1, Max: 1}},

	TileBlueFlower:         {grassy: true},
	TileYellowOrangeFlower: {grassy: true},
	TileFlowerPatch:        {grassy: true},
	TileStones:             {grassy: true},
	TileShrub:              {grassy: true},

	TileDirtTop:               {},
	TileDirtBottom:            {},
	TileDirtLeft:              {},
	TileDirtRight:             {},
	TileDirtCornerTopLeft:     {},
	TileDirtCornerTopRight:    {},
	TileDirtCornerBottomLeft:  {},
	TileDirtCornerBottomRight: {},
	TileDirtInnerTopLeft:      {},
	TileDirtInnerTopRight:     {},
	TileDirtInnerBottomLeft:   {},
	TileDirtInnerBottomRight:  {},

	TileWaterTop:               {blocking: true},
	TileWaterBottom:            {blocking: true},
	TileWaterLeft:              {blocking: true},
	TileWaterRight:             {blocking: true},
	TileWaterCornerTopLeft:     {blocking: true},
	TileWaterCornerTopRight:    {blocking: true},
	TileWaterCornerBottomLeft:  {blocking: true},
	TileWaterCornerBottomRight: {blocking: true},
	TileWaterInnerTopLeft:      {blocking: true},
	TileWaterInnerTopRight:     {blocking: true},
	TileWaterInnerBottomLeft:   {blocking: true},
	TileWaterInnerBottomRight:  {blocking: true},
}

// Blocking сообщает, непроходим ли тайл сам по себе.
func (t Tile) Blocking() bool {
	return tileTraits[t].blocking
}

// Smashable сообщает, разбивается ли тайл при движении на него.
func (t Tile) Smashable() bool {
	return tileTraits[t].smashable
}

// Grassy сообщает, травяной ли тайл (влияет на скорость движения).
func (t Tile) Grassy() bool {
	return tileTraits[t].grassy
}

// Yield возвращает диапазон выпадения самоцветов, если он есть.
func (t Tile) Yield() (GemYield, bool) {
	tr := tileTraits[t]
	if tr.yield == nil {
		return GemYield{}, false
	}
	return *tr.yield, true
}

// SmashedInto возвращает тайл, остающийся на месте разбитого камня.
func SmashedInto() Tile {
	return TileDirt
}

// Константы времени движения. Клиент ограничивает частоту шагов по ним,
// сервер использует те же значения при включённом rate-limit.
const (
	StandardMovementTime = 130 * time.Millisecond
	RunningFactor        = 0.75
	SmashableTimeFactor  = 2.5
	GrassyTimeFactor     = 0.8
)

// MovementTime возвращает время одного шага на целевой тайл.
func MovementTime(dest Tile, running bool) time.Duration {
	t := float64(StandardMovementTime)
	if running {
		t *= RunningFactor
	}
	if dest.Smashable() {
		t *= SmashableTimeFactor
	}
	if dest.Grassy() {
		t *= GrassyTimeFactor
	}
	return time.Duration(t)
}

// Walkable сообщает, можно ли закончить шаг на тайле: он либо проходим,
// либо разбивается движением (и тогда шаг завершается уже на грязи).
// Сервер и предсказание клиента обязаны сходиться в этом правиле.
func (t Tile) Walkable() bool {
	return !t.Blocking() || t.Smashable()
}

// Константы геометрии чанка (в терминах vec, см. пакет vec).
const (
	ChunkWidth  = vec.ChunkSize
	ChunkHeight = vec.ChunkSize
	ChunkArea   = ChunkWidth * ChunkHeight
)
