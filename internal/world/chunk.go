package world

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/annel0/gemfall/internal/vec"
)

// SerializedChunkSize — размер бинарного образа чанка:
// 256 дискриминантов тайлов по 4 байта little-endian.
const SerializedChunkSize = ChunkArea * 4

// Chunk — участок мира 16x16 тайлов, единица загрузки/выгрузки/сохранения.
// Доступ к резидентному чанку синхронизируется мьютексом World, сам чанк
// мьютекса не несёт.
type Chunk struct {
	tiles      [ChunkArea]Tile
	lastAccess time.Time
	dirty      bool
}

// NewChunk создаёт чанк, целиком заполненный указанным тайлом.
func NewChunk(fill Tile) *Chunk {
	c := &Chunk{lastAccess: time.Now()}
	for i := range c.tiles {
		c.tiles[i] = fill
	}
	return c
}

func tileIndex(off vec.OffsetPoint) int {
	return int(off.Y)*ChunkWidth + int(off.X)
}

// TileAt возвращает тайл по локальному смещению.
func (c *Chunk) TileAt(off vec.OffsetPoint) Tile {
	return c.tiles[tileIndex(off)]
}

// SetTileAt меняет тайл по локальному смещению и помечает чанк изменённым.
func (c *Chunk) SetTileAt(off vec.OffsetPoint, t Tile) {
	c.tiles[tileIndex(off)] = t
	c.dirty = true
}

// Touch обновляет отметку последнего обращения (подсказка для LRU).
func (c *Chunk) Touch() {
	c.lastAccess = time.Now()
}

// LastAccess возвращает момент последнего обращения.
func (c *Chunk) LastAccess() time.Time {
	return c.lastAccess
}

// Dirty сообщает, есть ли несохранённые изменения.
func (c *Chunk) Dirty() bool {
	return c.dirty
}

// ClearDirty сбрасывает флаг изменений после сохранения.
func (c *Chunk) ClearDirty() {
	c.dirty = false
}

// Clone возвращает копию чанка (снимок для отправки клиенту).
func (c *Chunk) Clone() *Chunk {
	cp := *c
	return &cp
}

// Tiles возвращает копию массива тайлов.
func (c *Chunk) Tiles() [ChunkArea]Tile {
	return c.tiles
}

// SetTiles целиком заменяет массив тайлов (используется генератором).
func (c *Chunk) SetTiles(tiles [ChunkArea]Tile) {
	c.tiles = tiles
}

// Serialize кодирует чанк в бинарный образ фиксированного размера.
func (c *Chunk) Serialize() []byte {
	out := make([]byte, SerializedChunkSize)
	for i, t := range c.tiles {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(t))
	}
	return out
}

// DeserializeChunk восстанавливает чанк из бинарного образа.
func DeserializeChunk(data []byte) (*Chunk, error) {
	if len(data) != SerializedChunkSize {
		return nil, fmt.Errorf("некорректный размер образа чанка: %d байт, ожидалось %d", len(data), SerializedChunkSize)
	}
	c := &Chunk{lastAccess: time.Now()}
	for i := range c.tiles {
		v := binary.LittleEndian.Uint32(data[i*4:])
		if v >= TileCount {
			return nil, fmt.Errorf("неизвестный дискриминант тайла %d по индексу %d", v, i)
		}
		c.tiles[i] = Tile(v)
	}
	return c, nil
}
