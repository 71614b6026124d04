// Package protocol — бинарный сетевой протокол: размеченные объединения
// сообщений клиента и сервера и их стабильная сериализация.
package protocol

import (
	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// Version — версия протокола. Сравнивается с версией клиента побитово
// при рукопожатии. Перекрывается при сборке через -ldflags.
var Version = "0.4.0"

// ClientMsg — сообщение клиента серверу.
type ClientMsg interface {
	clientMsg()
}

// Hello — первое сообщение сессии. ClientID == nil у нового клиента.
type Hello struct {
	ClientID *ident.ID
}

// MoveMyEntity — запрос шага. RequestNumber строго растёт в рамках сессии
// и связывает запрос с ответом YourEntityMoved.
type MoveMyEntity struct {
	RequestNumber uint32
	Dir           vec.Direction
}

// PlaceBomb — установить бомбу на текущей позиции.
type PlaceBomb struct{}

// DetonateBombs — подорвать все свои бомбы вокруг текущего чанка.
type DetonateBombs struct{}

// ItemKind различает предметы-флаги и предметы со счётчиком.
type ItemKind uint32

const (
	ItemKindBool ItemKind = iota
	ItemKindQuant
)

// Item — ссылка на предмет магазина: либо флаговый, либо количественный.
type Item struct {
	Kind  ItemKind
	Bool  world.BoolItem
	Quant world.QuantItem
}

// BoolItemRef создаёт ссылку на предмет-флаг.
func BoolItemRef(it world.BoolItem) Item {
	return Item{Kind: ItemKindBool, Bool: it}
}

// QuantItemRef создаёт ссылку на предмет со счётчиком.
func QuantItemRef(it world.QuantItem) Item {
	return Item{Kind: ItemKindQuant, Quant: it}
}

// PurchaseSingleItem — купить одну единицу предмета.
type PurchaseSingleItem struct {
	Item Item
}

// PurchaseItemQuantity — купить несколько единиц предмета.
type PurchaseItemQuantity struct {
	Item     Item
	Quantity uint32
}

func (Hello) clientMsg()                {}
func (MoveMyEntity) clientMsg()         {}
func (PlaceBomb) clientMsg()            {}
func (DetonateBombs) clientMsg()        {}
func (PurchaseSingleItem) clientMsg()   {}
func (PurchaseItemQuantity) clientMsg() {}

// ServerMsg — сообщение сервера клиенту.
type ServerMsg interface {
	serverMsg()
}

// Welcome — ответ на Hello: версия, client-id и собственная сущность.
type Welcome struct {
	Version  string
	ClientID ident.ID
	EntityID ident.ID
	Entity   *world.Entity
}

// ProvideChunk — клиенту следует загрузить чанк.
type ProvideChunk struct {
	Coords vec.ChunkPoint
	Chunk  *world.Chunk
}

// ShouldUnloadChunk — клиенту следует выгрузить чанк.
type ShouldUnloadChunk struct {
	Coords vec.ChunkPoint
}

// ProvideEntity — чужая сущность вошла в окно клиента.
type ProvideEntity struct {
	ID     ident.ID
	Entity *world.Entity
}

// ShouldUnloadEntity — чужая сущность покинула окно клиента.
type ShouldUnloadEntity struct {
	ID ident.ID
}

// MoveEntity — чужая сущность переместилась.
type MoveEntity struct {
	ID  ident.ID
	Pos vec.TilePoint
	Dir vec.Direction
}

// YourEntityMoved — сверка движения: при отказе Pos равен старой позиции.
type YourEntityMoved struct {
	RequestNumber uint32
	Pos           vec.TilePoint
}

// ChangeTile — тайл в окне клиента сменил значение.
type ChangeTile struct {
	Pos  vec.TilePoint
	Tile world.Tile
}

// BombPlacedMsg — в окне клиента установлена бомба.
type BombPlacedMsg struct {
	By  ident.ID
	Pos vec.TilePoint
}

// BombsDetonatedMsg — сущность подорвала бомбы в перечисленных чанках.
type BombsDetonatedMsg struct {
	By     ident.ID
	Chunks []vec.ChunkPoint
}

// YouCollectedGems — начисление самоцветов за разбитый камень.
type YouCollectedGems struct {
	Gem      world.Gem
	Quantity uint32
}

func (Welcome) serverMsg()            {}
func (ProvideChunk) serverMsg()       {}
func (ShouldUnloadChunk) serverMsg()  {}
func (ProvideEntity) serverMsg()      {}
func (ShouldUnloadEntity) serverMsg() {}
func (MoveEntity) serverMsg()         {}
func (YourEntityMoved) serverMsg()    {}
func (ChangeTile) serverMsg()         {}
func (BombPlacedMsg) serverMsg()      {}
func (BombsDetonatedMsg) serverMsg()  {}
func (YouCollectedGems) serverMsg()   {}
