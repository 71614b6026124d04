package world

import (
	"fmt"
	"sync"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
)

// ChunkSource выдаёт чанк, которого нет в памяти: с диска или от генератора.
// Вызывается вне мьютекса World — разрешены блокирующие операции.
type ChunkSource interface {
	ResolveChunk(coords vec.ChunkPoint) (*Chunk, error)
}

// Bomb — установленная бомба: позиция и владелец.
type Bomb struct {
	Pos vec.TilePoint
	By  ident.ID
}

// residentChunk — резидентный чанк со счётчиком ссылок.
// Счётчик равен числу сессий, у которых чанк в наборе загруженных.
type residentChunk struct {
	chunk *Chunk
	refs  int
}

// World — разделяемое состояние мира: резидентные чанки, сущности и бомбы.
// Все операции атомарны под одним мьютексом; критические секции короткие
// и никогда не выполняют ввод-вывод.
type World struct {
	mu       sync.Mutex
	source   ChunkSource
	chunks   map[vec.ChunkPoint]*residentChunk
	entities map[ident.ID]*Entity
	bombs    []Bomb
}

// NewWorld создаёт мир поверх источника чанков.
func NewWorld(source ChunkSource) *World {
	return &World{
		source:   source,
		chunks:   make(map[vec.ChunkPoint]*residentChunk),
		entities: make(map[ident.ID]*Entity),
	}
}

// AddEntity помещает сущность в мир под указанным идентификатором.
func (w *World) AddEntity(id ident.ID, e *Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[id] = e
}

// AddEntityIfAbsent помещает сущность, только если идентификатор свободен.
// Проверка и добавление атомарны: два одновременных рукопожатия одного
// клиента не проскочат оба.
func (w *World) AddEntityIfAbsent(id ident.ID, e *Entity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entities[id]; exists {
		return false
	}
	w.entities[id] = e
	return true
}

// RemoveEntity изымает сущность из мира и возвращает её.
func (w *World) RemoveEntity(id ident.ID) (*Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if ok {
		delete(w.entities, id)
	}
	return e, ok
}

// EntityByID возвращает копию сущности.
func (w *World) EntityByID(id ident.ID) (*Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// EntityChunk возвращает чанк, в котором сейчас находится сущность.
func (w *World) EntityChunk(id ident.ID) (vec.ChunkPoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return vec.ChunkPoint{}, false
	}
	return e.Pos.ChunkCoords(), true
}

// UpdateEntity атомарно мутирует сущность через колбэк.
// Замена entityByIdMut: ссылка не покидает критическую секцию.
func (w *World) UpdateEntity(id ident.ID, fn func(*Entity)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// EntityRef — пара (id, копия сущности) для выдачи наружу.
type EntityRef struct {
	ID     ident.ID
	Entity *Entity
}

// EntitiesInChunk возвращает копии всех сущностей, находящихся в чанке.
func (w *World) EntitiesInChunk(coords vec.ChunkPoint) []EntityRef {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []EntityRef
	for id, e := range w.entities {
		if e.Pos.ChunkCoords() == coords {
			out = append(out, EntityRef{ID: id, Entity: e.Clone()})
		}
	}
	return out
}

// MoveResult — исход попытки движения.
type MoveResult struct {
	OldPos   vec.TilePoint
	NewPos   vec.TilePoint
	Moved    bool
	DidSmash bool
	Smashed  Tile // прежний тайл, если DidSmash
}

// MoveEntityTowards пытается сдвинуть сущность на один тайл.
// Направление обновляется всегда, даже при отказе: сущность поворачивается.
// Отказ — непроходимый неразбиваемый тайл, занятая клетка или нерезидентный
// целевой чанк. Разбиваемый тайл атомарно становится грязью, и шаг
// завершается на нём в той же операции.
func (w *World) MoveEntityTowards(id ident.ID, dir vec.Direction) (MoveResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return MoveResult{}, false
	}

	e.Dir = dir
	oldPos := e.Pos
	newPos := dir.Apply(oldPos)
	res := MoveResult{OldPos: oldPos, NewPos: oldPos}

	rc, ok := w.chunks[newPos.ChunkCoords()]
	if !ok {
		// Целевой чанк не резидентен: сессии всегда держат блок 3x3 вокруг
		// своей сущности, так что сюда попадают только гонки на границе.
		return res, true
	}

	dest := rc.chunk.TileAt(newPos.ChunkOffsetCoords())
	if !dest.Walkable() {
		return res, true
	}
	for otherID, other := range w.entities {
		if otherID != id && other.Pos == newPos {
			return res, true
		}
	}

	if dest.Smashable() {
		rc.chunk.SetTileAt(newPos.ChunkOffsetCoords(), SmashedInto())
		res.DidSmash = true
		res.Smashed = dest
	}

	e.Pos = newPos
	res.NewPos = newPos
	res.Moved = true
	return res, true
}

// PlaceBombBy атомарно списывает одну бомбу из инвентаря сущности и
// устанавливает её на текущей позиции. Возвращает позицию установки.
func (w *World) PlaceBombBy(id ident.ID) (vec.TilePoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok || e.QuantItems[QuantItemBomb] == 0 {
		return vec.TilePoint{}, false
	}
	e.QuantItems[QuantItemBomb]--
	w.bombs = append(w.bombs, Bomb{Pos: e.Pos, By: id})
	return e.Pos, true
}

// SetBombAt устанавливает бомбу от имени сущности (без списания инвентаря).
func (w *World) SetBombAt(pos vec.TilePoint, by ident.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bombs = append(w.bombs, Bomb{Pos: pos, By: by})
}

// TakeBombsPlacedByInAndAroundChunk изымает и возвращает позиции всех бомб
// владельца в блоке 3x3 чанков вокруг центра.
func (w *World) TakeBombsPlacedByInAndAroundChunk(by ident.ID, center vec.ChunkPoint) []vec.TilePoint {
	w.mu.Lock()
	defer w.mu.Unlock()

	inArea := func(c vec.ChunkPoint) bool {
		dx := c.X - center.X
		dy := c.Y - center.Y
		return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
	}

	var taken []vec.TilePoint
	kept := w.bombs[:0]
	for _, b := range w.bombs {
		if b.By == by && inArea(b.Pos.ChunkCoords()) {
			taken = append(taken, b.Pos)
		} else {
			kept = append(kept, b)
		}
	}
	w.bombs = kept
	return taken
}

// RemoveBombsBy убирает все бомбы владельца (уход из мира).
func (w *World) RemoveBombsBy(by ident.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.bombs[:0]
	for _, b := range w.bombs {
		if b.By != by {
			kept = append(kept, b)
		}
	}
	w.bombs = kept
}

// BombsOwnedBy возвращает число бомб, установленных владельцем (для тестов
// и диагностики).
func (w *World) BombsOwnedBy(by ident.ID) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for _, b := range w.bombs {
		if b.By == by {
			n++
		}
	}
	return n
}

// ChunkInUse берёт чанк в пользование сессией: резидентный чанк получает
// +1 к счётчику ссылок, отсутствующий загружается или генерируется.
// Ввод-вывод выполняется вне мьютекса. Возвращается снимок чанка.
func (w *World) ChunkInUse(coords vec.ChunkPoint) (*Chunk, error) {
	w.mu.Lock()
	if rc, ok := w.chunks[coords]; ok {
		rc.refs++
		rc.chunk.Touch()
		snap := rc.chunk.Clone()
		w.mu.Unlock()
		return snap, nil
	}
	w.mu.Unlock()

	loaded, err := w.source.ResolveChunk(coords)
	if err != nil {
		return nil, fmt.Errorf("чанк %d_%d: %w", coords.X, coords.Y, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Параллельная сессия могла успеть раньше — её экземпляр главнее.
	if rc, ok := w.chunks[coords]; ok {
		rc.refs++
		rc.chunk.Touch()
		return rc.chunk.Clone(), nil
	}

	loaded.Touch()
	w.chunks[coords] = &residentChunk{chunk: loaded, refs: 1}
	return loaded.Clone(), nil
}

// ChunkNotInUse снимает одну ссылку сессии с чанка. Когда счётчик достигает
// нуля, чанк покидает резидентный набор и возвращается вызывающему для
// сохранения.
func (w *World) ChunkNotInUse(coords vec.ChunkPoint) (*Chunk, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rc, ok := w.chunks[coords]
	if !ok {
		return nil, false
	}
	rc.refs--
	if rc.refs > 0 {
		return nil, false
	}
	delete(w.chunks, coords)
	return rc.chunk, true
}

// TileAt возвращает тайл по глобальным координатам, если чанк резидентен.
func (w *World) TileAt(pos vec.TilePoint) (Tile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rc, ok := w.chunks[pos.ChunkCoords()]
	if !ok {
		return 0, false
	}
	return rc.chunk.TileAt(pos.ChunkOffsetCoords()), true
}

// SetTileAt меняет тайл по глобальным координатам, если чанк резидентен.
// Используется инструментами и тестами; игровой путь меняет тайлы только
// через MoveEntityTowards.
func (w *World) SetTileAt(pos vec.TilePoint, t Tile) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	rc, ok := w.chunks[pos.ChunkCoords()]
	if !ok {
		return false
	}
	rc.chunk.SetTileAt(pos.ChunkOffsetCoords(), t)
	return true
}

// ResidentChunks возвращает число резидентных чанков (для метрик).
func (w *World) ResidentChunks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.chunks)
}

// ChunkRefs возвращает счётчик ссылок чанка (для тестов и диагностики).
func (w *World) ChunkRefs(coords vec.ChunkPoint) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	rc, ok := w.chunks[coords]
	if !ok {
		return 0
	}
	return rc.refs
}

// ChunkSnapshot — снимок изменённого чанка для автосохранения.
type ChunkSnapshot struct {
	Coords vec.ChunkPoint
	Chunk  *Chunk
}

// DirtySnapshots возвращает снимки всех изменённых резидентных чанков и
// сбрасывает их флаги. Сохранение выполняется вызывающим вне мьютекса.
func (w *World) DirtySnapshots() []ChunkSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []ChunkSnapshot
	for coords, rc := range w.chunks {
		if rc.chunk.Dirty() {
			out = append(out, ChunkSnapshot{Coords: coords, Chunk: rc.chunk.Clone()})
			rc.chunk.ClearDirty()
		}
	}
	return out
}
