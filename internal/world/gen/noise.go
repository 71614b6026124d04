package gen

import (
	"math/rand"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// Параметры шумового генератора.
const (
	noiseSampleScale = 0.06 // множитель выборки шумового поля
	waterThreshold   = 0.35 // ниже — вода
	dirtThreshold    = 0.65 // выше — грязь
	perlinAlpha      = 2.0
	perlinBeta       = 2.0
	perlinOctaves    = 3
)

func init() {
	Register("noise", func(seed int64) Generator {
		return newNoiseGenerator(seed)
	})
}

// category — грубая категория тайла до расстановки переходов.
type category uint8

const (
	catGrass category = iota
	catDirt
	catWater
)

// noiseGenerator — генератор по умолчанию: шум Перлина категоризует тайлы,
// границы областей одеваются переходными тайлами, интерьеры добираются из
// взвешенных распределений детерминированным PRNG чанка.
type noiseGenerator struct {
	seed  int64
	noise *perlin.Perlin
}

func newNoiseGenerator(seed int64) *noiseGenerator {
	return &noiseGenerator{
		seed:  seed,
		noise: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed),
	}
}

func (g *noiseGenerator) Name() string { return "noise" }

// noise01 возвращает значение шума в диапазоне [0, 1].
func (g *noiseGenerator) noise01(x, y float64) float64 {
	return (g.noise.Noise2D(x, y) + 1.0) / 2.0
}

// rawCategory — категория тайла прямо из шумового поля.
func (g *noiseGenerator) rawCategory(gx, gy int32) category {
	n := g.noise01(float64(gx)*noiseSampleScale, float64(gy)*noiseSampleScale)
	switch {
	case n < waterThreshold:
		return catWater
	case n > dirtThreshold:
		return catDirt
	default:
		return catGrass
	}
}

// Взвешенные распределения интерьеров. Порядок фиксирован: PRNG чанка
// расходуется в порядке обхода тайлов, менять его нельзя.
var (
	dirtInterior = []struct {
		tile   world.Tile
		weight int
	}{
		{world.TileDirt, 600},
		{world.TileRock, 15},
		{world.TileRockEmerald, 10},
		{world.TileRockRuby, 5},
		{world.TileRockDiamond, 1},
	}
	grassInterior = []struct {
		tile   world.Tile
		weight int
	}{
		{world.TileGrass, 1500},
		{world.TileBlueFlower, 80},
		{world.TileYellowOrangeFlower, 70},
		{world.TileFlowerPatch, 10},
		{world.TileStones, 8},
		{world.TileShrub, 5},
	}
)

func pickWeighted(rng *rand.Rand, table []struct {
	tile   world.Tile
	weight int
}) world.Tile {
	total := 0
	for _, e := range table {
		total += e.weight
	}
	roll := rng.Intn(total)
	for _, e := range table {
		roll -= e.weight
		if roll < 0 {
			return e.tile
		}
	}
	return table[0].tile
}

// transitionKind — 12 видов переходных тайлов на границе области.
type transitionKind int

const (
	transNone transitionKind = iota
	transTop
	transBottom
	transLeft
	transRight
	transCornerTopLeft
	transCornerTopRight
	transCornerBottomLeft
	transCornerBottomRight
	transInnerTopLeft
	transInnerTopRight
	transInnerBottomLeft
	transInnerBottomRight
)

var dirtTransitions = map[transitionKind]world.Tile{
	transTop:               world.TileDirtTop,
	transBottom:            world.TileDirtBottom,
	transLeft:              world.TileDirtLeft,
	transRight:             world.TileDirtRight,
	transCornerTopLeft:     world.TileDirtCornerTopLeft,
	transCornerTopRight:    world.TileDirtCornerTopRight,
	transCornerBottomLeft:  world.TileDirtCornerBottomLeft,
	transCornerBottomRight: world.TileDirtCornerBottomRight,
	transInnerTopLeft:      world.TileDirtInnerTopLeft,
	transInnerTopRight:     world.TileDirtInnerTopRight,
	transInnerBottomLeft:   world.TileDirtInnerBottomLeft,
	transInnerBottomRight:  world.TileDirtInnerBottomRight,
}

var waterTransitions = map[transitionKind]world.Tile{
	transTop:               world.TileWaterTop,
	transBottom:            world.TileWaterBottom,
	transLeft:              world.TileWaterLeft,
	transRight:             world.TileWaterRight,
	transCornerTopLeft:     world.TileWaterCornerTopLeft,
	transCornerTopRight:    world.TileWaterCornerTopRight,
	transCornerBottomLeft:  world.TileWaterCornerBottomLeft,
	transCornerBottomRight: world.TileWaterCornerBottomRight,
	transInnerTopLeft:      world.TileWaterInnerTopLeft,
	transInnerTopRight:     world.TileWaterInnerTopRight,
	transInnerBottomLeft:   world.TileWaterInnerBottomLeft,
	transInnerBottomRight:  world.TileWaterInnerBottomRight,
}

// classifyTransition выбирает переходный тайл по восьми соседям.
// outN и т.п. — сосед принадлежит чужой категории. Верх — сторона
// возрастания Y. Приоритет: внешние углы, кромки, внутренние углы.
func classifyTransition(outN, outS, outW, outE, outNW, outNE, outSW, outSE bool) transitionKind {
	switch {
	case outN && outW:
		return transCornerTopLeft
	case outN && outE:
		return transCornerTopRight
	case outS && outW:
		return transCornerBottomLeft
	case outS && outE:
		return transCornerBottomRight
	case outN:
		return transTop
	case outS:
		return transBottom
	case outW:
		return transLeft
	case outE:
		return transRight
	case outNW:
		return transInnerTopLeft
	case outNE:
		return transInnerTopRight
	case outSW:
		return transInnerBottomLeft
	case outSE:
		return transInnerBottomRight
	default:
		return transNone
	}
}

// Generate порождает чанк. Полностью детерминирован в (seed, coords):
// категории берутся из шумового поля с запасом в два тайла вокруг чанка,
// одиночные выступы сглаживаются, границы одеваются переходами, интерьеры
// добираются PRNG-ом чанка (seed ⊕ chunkX ⊕ chunkY).
func (g *noiseGenerator) Generate(coords vec.ChunkPoint) *world.Chunk {
	const pad = 2
	const side = world.ChunkWidth + 2*pad

	baseX := coords.X<<vec.ChunkShift - pad
	baseY := coords.Y<<vec.ChunkShift - pad

	// Сырые категории с запасом: сглаживание и переходы должны видеть
	// соседние чанки, не загружая их.
	var raw [side][side]category
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			raw[y][x] = g.rawCategory(baseX+int32(x), baseY+int32(y))
		}
	}

	// Сглаживание одиночных выступов: тайл, у которого три или четыре
	// ортогональных соседа одной чужой категории, принимает её.
	// Вход — только сырые категории, поэтому соседние чанки сглаживают
	// общую границу одинаково.
	var smooth [side][side]category
	smooth = raw
	for y := 1; y < side-1; y++ {
		for x := 1; x < side-1; x++ {
			self := raw[y][x]
			counts := map[category]int{}
			counts[raw[y+1][x]]++
			counts[raw[y-1][x]]++
			counts[raw[y][x-1]]++
			counts[raw[y][x+1]]++
			for cat, n := range counts {
				if cat != self && n >= 3 {
					smooth[y][x] = cat
					break
				}
			}
		}
	}

	rng := rand.New(rand.NewSource(g.seed ^ int64(coords.X) ^ int64(coords.Y)))

	var tiles [world.ChunkArea]world.Tile
	for y := 0; y < world.ChunkHeight; y++ {
		for x := 0; x < world.ChunkWidth; x++ {
			cx, cy := x+pad, y+pad
			self := smooth[cy][cx]

			out := func(dy, dx int) bool { return smooth[cy+dy][cx+dx] != self }
			kind := classifyTransition(
				out(1, 0), out(-1, 0), out(0, -1), out(0, 1),
				out(1, -1), out(1, 1), out(-1, -1), out(-1, 1),
			)

			var t world.Tile
			switch self {
			case catDirt:
				if kind != transNone {
					t = dirtTransitions[kind]
				} else {
					t = pickWeighted(rng, dirtInterior)
				}
			case catWater:
				if kind != transNone {
					t = waterTransitions[kind]
				} else {
					t = world.TileWater
				}
			default:
				// Трава — фон, переходов не несёт.
				t = pickWeighted(rng, grassInterior)
			}
			tiles[y*world.ChunkWidth+x] = t
		}
	}

	chunk := world.NewChunk(world.TileGrass)
	chunk.SetTiles(tiles)
	return chunk
}
