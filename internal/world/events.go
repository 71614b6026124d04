package world

import (
	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
)

// Modification — событие изменения мира, публикуемое в широковещательную
// шину. Закрытое размеченное объединение: каждая сессия фильтрует поток
// по своему набору загруженных чанков.
type Modification interface {
	modification()
}

// TileChanged — тайл сменил значение (разбитый камень стал грязью).
type TileChanged struct {
	Pos     vec.TilePoint
	NewTile Tile
}

// EntityMoved — сущность переместилась на соседний тайл.
type EntityMoved struct {
	ID   ident.ID
	From vec.TilePoint
	To   vec.TilePoint
	Dir  vec.Direction
}

// EntityAdded — сущность появилась в мире (клиент подключился).
type EntityAdded struct {
	ID ident.ID
}

// EntityRemoved — сущность покинула мир; LastChunk — чанк, где она была.
type EntityRemoved struct {
	ID        ident.ID
	LastChunk vec.ChunkPoint
}

// BombPlaced — сущность установила бомбу.
type BombPlaced struct {
	Pos vec.TilePoint
	By  ident.ID
}

// BombsDetonated — сущность подорвала все свои бомбы вокруг своего чанка.
// Chunks — чанки, в которых стояли сдетонировавшие бомбы, без повторов.
type BombsDetonated struct {
	By     ident.ID
	Chunks []vec.ChunkPoint
}

func (TileChanged) modification()    {}
func (EntityMoved) modification()    {}
func (EntityAdded) modification()    {}
func (EntityRemoved) modification()  {}
func (BombPlaced) modification()     {}
func (BombsDetonated) modification() {}
