package world

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
)

// stubSource выдаёт чанки, заполненные одним тайлом, и считает обращения.
type stubSource struct {
	fill  Tile
	calls int64
	err   error
}

func (s *stubSource) ResolveChunk(coords vec.ChunkPoint) (*Chunk, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return NewChunk(s.fill), nil
}

// newTestWorld поднимает мир на травяных чанках с резидентным блоком 3x3
// вокруг начала координат.
func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(&stubSource{fill: TileGrass})
	for _, c := range (vec.ChunkPoint{X: 0, Y: 0}).InAndAround() {
		_, err := w.ChunkInUse(c)
		require.NoError(t, err)
	}
	return w
}

func TestWorld_MoveUpdatesDirectionEvenOnRefusal(t *testing.T) {
	w := newTestWorld(t)
	id := ident.NewRandom()
	w.AddEntity(id, NewEntity(vec.TilePoint{X: 5, Y: 5}))

	// Стена воды справа.
	require.True(t, w.SetTileAt(vec.TilePoint{X: 6, Y: 5}, TileWater))

	res, ok := w.MoveEntityTowards(id, vec.DirRight)
	require.True(t, ok)
	assert.False(t, res.Moved)
	assert.Equal(t, vec.TilePoint{X: 5, Y: 5}, res.NewPos)

	e, _ := w.EntityByID(id)
	assert.Equal(t, vec.DirRight, e.Dir, "направление меняется и при отказе")
	assert.Equal(t, vec.TilePoint{X: 5, Y: 5}, e.Pos)
}

func TestWorld_MoveBlockedByPlainRock(t *testing.T) {
	w := newTestWorld(t)
	id := ident.NewRandom()
	w.AddEntity(id, NewEntity(vec.TilePoint{X: 5, Y: 5}))

	// Обычный камень над сущностью (вверх — это Y+1).
	require.True(t, w.SetTileAt(vec.TilePoint{X: 5, Y: 6}, TileRock))

	res, ok := w.MoveEntityTowards(id, vec.DirUp)
	require.True(t, ok)
	assert.False(t, res.Moved)
	assert.False(t, res.DidSmash)

	tile, _ := w.TileAt(vec.TilePoint{X: 5, Y: 6})
	assert.Equal(t, TileRock, tile, "обычный камень не разбивается")
}

func TestWorld_MoveSmashesGemRock(t *testing.T) {
	w := newTestWorld(t)
	id := ident.NewRandom()
	w.AddEntity(id, NewEntity(vec.TilePoint{X: 5, Y: 5}))

	require.True(t, w.SetTileAt(vec.TilePoint{X: 4, Y: 5}, TileRockEmerald))

	res, ok := w.MoveEntityTowards(id, vec.DirLeft)
	require.True(t, ok)
	assert.True(t, res.Moved)
	assert.True(t, res.DidSmash)
	assert.Equal(t, TileRockEmerald, res.Smashed)
	assert.Equal(t, vec.TilePoint{X: 4, Y: 5}, res.NewPos)

	// Камень атомарно стал грязью, сущность стоит на нём.
	tile, _ := w.TileAt(vec.TilePoint{X: 4, Y: 5})
	assert.Equal(t, TileDirt, tile)
	e, _ := w.EntityByID(id)
	assert.Equal(t, vec.TilePoint{X: 4, Y: 5}, e.Pos)
}

func TestWorld_MoveBlockedByOccupant(t *testing.T) {
	w := newTestWorld(t)
	a := ident.NewRandom()
	b := ident.NewRandom()
	w.AddEntity(a, NewEntity(vec.TilePoint{X: 5, Y: 5}))
	w.AddEntity(b, NewEntity(vec.TilePoint{X: 5, Y: 4}))

	res, ok := w.MoveEntityTowards(a, vec.DirDown)
	require.True(t, ok)
	assert.False(t, res.Moved, "клетка занята другой сущностью")
}

func TestWorld_MoveIntoNonResidentChunkRefused(t *testing.T) {
	w := newTestWorld(t)
	id := ident.NewRandom()
	// Сущность на правой границе резидентного блока 3x3.
	w.AddEntity(id, NewEntity(vec.TilePoint{X: 31, Y: 5}))

	res, ok := w.MoveEntityTowards(id, vec.DirRight)
	require.True(t, ok)
	assert.False(t, res.Moved, "целевой чанк не резидентен")
}

func TestWorld_MoveUnknownEntity(t *testing.T) {
	w := newTestWorld(t)
	_, ok := w.MoveEntityTowards(ident.NewRandom(), vec.DirUp)
	assert.False(t, ok)
}

func TestWorld_ChunkRefCounting(t *testing.T) {
	src := &stubSource{fill: TileGrass}
	w := NewWorld(src)
	coords := vec.ChunkPoint{X: 2, Y: 3}

	_, err := w.ChunkInUse(coords)
	require.NoError(t, err)
	_, err = w.ChunkInUse(coords)
	require.NoError(t, err)

	assert.Equal(t, 2, w.ChunkRefs(coords))
	assert.Equal(t, int64(1), atomic.LoadInt64(&src.calls), "второй заход берёт резидентный экземпляр")

	// Первая ссылка снята: чанк остаётся резидентным.
	_, evicted := w.ChunkNotInUse(coords)
	assert.False(t, evicted)
	assert.Equal(t, 1, w.ChunkRefs(coords))

	// Последняя ссылка: чанк покидает память и возвращается для сохранения.
	chunk, evicted := w.ChunkNotInUse(coords)
	assert.True(t, evicted)
	require.NotNil(t, chunk)
	assert.Equal(t, 0, w.ResidentChunks())
}

func TestWorld_ChunkInUse_SourceError(t *testing.T) {
	boom := errors.New("диск недоступен")
	w := NewWorld(&stubSource{err: boom})

	_, err := w.ChunkInUse(vec.ChunkPoint{X: 0, Y: 0})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, w.ResidentChunks(), "ошибка загрузки не оставляет следов")
}

func TestWorld_ChunkInUse_ReturnsSnapshot(t *testing.T) {
	w := NewWorld(&stubSource{fill: TileGrass})
	coords := vec.ChunkPoint{X: 0, Y: 0}

	snap, err := w.ChunkInUse(coords)
	require.NoError(t, err)

	// Мутация мира не видна в ранее выданном снимке.
	require.True(t, w.SetTileAt(vec.TilePoint{X: 1, Y: 1}, TileRock))
	assert.Equal(t, TileGrass, snap.TileAt(vec.OffsetPoint{X: 1, Y: 1}))
}

func TestWorld_Bombs(t *testing.T) {
	w := newTestWorld(t)
	id := ident.NewRandom()
	e := NewEntity(vec.TilePoint{X: 5, Y: 5})
	w.AddEntity(id, e)

	// Без бомб в инвентаре установка отклоняется.
	_, ok := w.PlaceBombBy(id)
	assert.False(t, ok)

	w.UpdateEntity(id, func(e *Entity) { e.QuantItems[QuantItemBomb] = 2 })

	pos, ok := w.PlaceBombBy(id)
	require.True(t, ok)
	assert.Equal(t, vec.TilePoint{X: 5, Y: 5}, pos)

	got, _ := w.EntityByID(id)
	assert.Equal(t, uint32(1), got.QuantItems[QuantItemBomb], "инвентарь списан атомарно")
	assert.Equal(t, 1, w.BombsOwnedBy(id))

	// Вторая бомба далеко: детонация собирает только блок 3x3 вокруг центра.
	w.SetBombAt(vec.TilePoint{X: 100, Y: 100}, id)

	taken := w.TakeBombsPlacedByInAndAroundChunk(id, vec.ChunkPoint{X: 0, Y: 0})
	assert.Equal(t, []vec.TilePoint{{X: 5, Y: 5}}, taken)
	assert.Equal(t, 1, w.BombsOwnedBy(id), "дальняя бомба остаётся установленной")

	// Чужие бомбы не детонируют.
	other := ident.NewRandom()
	w.SetBombAt(vec.TilePoint{X: 6, Y: 6}, other)
	taken = w.TakeBombsPlacedByInAndAroundChunk(id, vec.ChunkPoint{X: 0, Y: 0})
	assert.Empty(t, taken)
	assert.Equal(t, 1, w.BombsOwnedBy(other))
}

func TestWorld_DirtySnapshots(t *testing.T) {
	w := newTestWorld(t)
	require.True(t, w.SetTileAt(vec.TilePoint{X: 2, Y: 2}, TileDirt))
	require.True(t, w.SetTileAt(vec.TilePoint{X: 20, Y: 2}, TileDirt))

	snaps := w.DirtySnapshots()
	assert.Len(t, snaps, 2)

	// Флаги сброшены: повторный вызов пуст.
	assert.Empty(t, w.DirtySnapshots())
}

func TestWorld_EntitiesInChunk(t *testing.T) {
	w := newTestWorld(t)
	a := ident.NewRandom()
	b := ident.NewRandom()
	w.AddEntity(a, NewEntity(vec.TilePoint{X: 1, Y: 1}))
	w.AddEntity(b, NewEntity(vec.TilePoint{X: 20, Y: 1}))

	refs := w.EntitiesInChunk(vec.ChunkPoint{X: 0, Y: 0})
	require.Len(t, refs, 1)
	assert.Equal(t, a, refs[0].ID)

	// Выдаются копии: мутация результата не трогает мир.
	refs[0].Entity.Pos = vec.TilePoint{X: 9, Y: 9}
	e, _ := w.EntityByID(a)
	assert.Equal(t, vec.TilePoint{X: 1, Y: 1}, e.Pos)
}

func TestWorld_AddEntityIfAbsent(t *testing.T) {
	w := NewWorld(&stubSource{fill: TileGrass})
	id := ident.NewRandom()

	require.True(t, w.AddEntityIfAbsent(id, NewEntity(vec.TilePoint{X: 1, Y: 2})))
	assert.False(t, w.AddEntityIfAbsent(id, NewEntity(vec.TilePoint{X: 9, Y: 9})), "занятый id не перехватывается")

	e, ok := w.EntityByID(id)
	require.True(t, ok)
	assert.Equal(t, vec.TilePoint{X: 1, Y: 2}, e.Pos, "первый владелец сохраняется")
}
