package protocol

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// Кодировка: little-endian, дискриминанты вариантов и перечислений — u32,
// длины — u64, Option — байт 0/1, идентификаторы — 16 сырых байт.
// Порядок полей фиксирован и совпадает с объявлением структур.

// Индексы вариантов клиентских сообщений.
const (
	tagHello uint32 = iota
	tagMoveMyEntity
	tagPlaceBomb
	tagDetonateBombs
	tagPurchaseSingleItem
	tagPurchaseItemQuantity
)

// Индексы вариантов серверных сообщений.
const (
	tagWelcome uint32 = iota
	tagProvideChunk
	tagShouldUnloadChunk
	tagProvideEntity
	tagShouldUnloadEntity
	tagMoveEntity
	tagYourEntityMoved
	tagChangeTile
	tagBombPlaced
	tagBombsDetonated
	tagYouCollectedGems
)

//================ writer =================//

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	w.u64(uint64(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) id(id ident.ID) {
	w.b = append(w.b, id[:]...)
}

func (w *writer) tilePoint(p vec.TilePoint) {
	w.i32(p.X)
	w.i32(p.Y)
}

func (w *writer) chunkPoint(p vec.ChunkPoint) {
	w.i32(p.X)
	w.i32(p.Y)
}

//================ reader =================//

// reader — декодер с липкой ошибкой: после первой ошибки все чтения
// возвращают нули, ошибка проверяется один раз в конце.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.fail("обрыв сообщения: нужно %d байт на смещении %d, всего %d", n, r.off, len(r.b))
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool { return r.u8() != 0 }

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) str() string {
	n := r.u64()
	if n > uint64(len(r.b)) {
		r.fail("некорректная длина строки %d", n)
		return ""
	}
	return string(r.take(int(n)))
}

func (r *reader) id() ident.ID {
	var id ident.ID
	copy(id[:], r.take(len(id)))
	return id
}

func (r *reader) tilePoint() vec.TilePoint {
	return vec.TilePoint{X: r.i32(), Y: r.i32()}
}

func (r *reader) chunkPoint() vec.ChunkPoint {
	return vec.ChunkPoint{X: r.i32(), Y: r.i32()}
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("лишние %d байт в хвосте сообщения", len(r.b)-r.off)
	}
	return nil
}

//================ сущность =================//

func encodeEntity(w *writer, e *world.Entity) {
	w.tilePoint(e.Pos)
	w.u32(uint32(e.Dir))
	w.u32(uint32(e.Expression))
	w.u32(uint32(e.HairStyle))
	w.u32(uint32(e.ClothingColour))
	w.u32(uint32(e.SkinColour))
	w.u32(uint32(e.HairColour))
	w.bool(e.HasRunningShoes)

	// Карты пишутся в отсортированном порядке ключей: образ стабилен.
	gems := make([]world.Gem, 0, len(e.Gems))
	for g := range e.Gems {
		gems = append(gems, g)
	}
	sort.Slice(gems, func(i, j int) bool { return gems[i] < gems[j] })
	w.u64(uint64(len(gems)))
	for _, g := range gems {
		w.u32(uint32(g))
		w.u32(e.Gems[g])
	}

	bools := make([]world.BoolItem, 0, len(e.BoolItems))
	for it := range e.BoolItems {
		bools = append(bools, it)
	}
	sort.Slice(bools, func(i, j int) bool { return bools[i] < bools[j] })
	w.u64(uint64(len(bools)))
	for _, it := range bools {
		w.u32(uint32(it))
		w.bool(e.BoolItems[it])
	}

	quants := make([]world.QuantItem, 0, len(e.QuantItems))
	for it := range e.QuantItems {
		quants = append(quants, it)
	}
	sort.Slice(quants, func(i, j int) bool { return quants[i] < quants[j] })
	w.u64(uint64(len(quants)))
	for _, it := range quants {
		w.u32(uint32(it))
		w.u32(e.QuantItems[it])
	}
}

func decodeEntity(r *reader) *world.Entity {
	e := &world.Entity{
		Pos:             r.tilePoint(),
		Dir:             vec.Direction(r.u32()),
		Expression:      world.Expression(r.u32()),
		HairStyle:       world.HairStyle(r.u32()),
		ClothingColour:  world.ClothingColour(r.u32()),
		SkinColour:      world.SkinColour(r.u32()),
		HairColour:      world.HairColour(r.u32()),
		HasRunningShoes: r.bool(),
	}
	e.EnsureMaps()

	nGems := r.u64()
	for i := uint64(0); i < nGems && r.err == nil; i++ {
		g := world.Gem(r.u32())
		e.Gems[g] = r.u32()
	}
	nBools := r.u64()
	for i := uint64(0); i < nBools && r.err == nil; i++ {
		it := world.BoolItem(r.u32())
		e.BoolItems[it] = r.bool()
	}
	nQuants := r.u64()
	for i := uint64(0); i < nQuants && r.err == nil; i++ {
		it := world.QuantItem(r.u32())
		e.QuantItems[it] = r.u32()
	}
	return e
}

func encodeItem(w *writer, it Item) {
	w.u32(uint32(it.Kind))
	switch it.Kind {
	case ItemKindBool:
		w.u32(uint32(it.Bool))
	default:
		w.u32(uint32(it.Quant))
	}
}

func decodeItem(r *reader) Item {
	kind := ItemKind(r.u32())
	switch kind {
	case ItemKindBool:
		return Item{Kind: kind, Bool: world.BoolItem(r.u32())}
	case ItemKindQuant:
		return Item{Kind: kind, Quant: world.QuantItem(r.u32())}
	default:
		r.fail("неизвестный вид предмета %d", kind)
		return Item{}
	}
}

//================ клиент → сервер =================//

// EncodeClientMsg кодирует клиентское сообщение в байтовый образ.
func EncodeClientMsg(msg ClientMsg) ([]byte, error) {
	w := &writer{}
	switch m := msg.(type) {
	case Hello:
		w.u32(tagHello)
		if m.ClientID != nil {
			w.u8(1)
			w.id(*m.ClientID)
		} else {
			w.u8(0)
		}
	case MoveMyEntity:
		w.u32(tagMoveMyEntity)
		w.u32(m.RequestNumber)
		w.u32(uint32(m.Dir))
	case PlaceBomb:
		w.u32(tagPlaceBomb)
	case DetonateBombs:
		w.u32(tagDetonateBombs)
	case PurchaseSingleItem:
		w.u32(tagPurchaseSingleItem)
		encodeItem(w, m.Item)
	case PurchaseItemQuantity:
		w.u32(tagPurchaseItemQuantity)
		encodeItem(w, m.Item)
		w.u32(m.Quantity)
	default:
		return nil, fmt.Errorf("неизвестный тип клиентского сообщения %T", msg)
	}
	return w.b, nil
}

// DecodeClientMsg разбирает байтовый образ клиентского сообщения.
func DecodeClientMsg(data []byte) (ClientMsg, error) {
	r := &reader{b: data}
	tag := r.u32()

	var msg ClientMsg
	switch tag {
	case tagHello:
		var m Hello
		if r.bool() {
			id := r.id()
			m.ClientID = &id
		}
		msg = m
	case tagMoveMyEntity:
		m := MoveMyEntity{RequestNumber: r.u32(), Dir: vec.Direction(r.u32())}
		if !m.Dir.Valid() {
			r.fail("некорректное направление %d", m.Dir)
		}
		msg = m
	case tagPlaceBomb:
		msg = PlaceBomb{}
	case tagDetonateBombs:
		msg = DetonateBombs{}
	case tagPurchaseSingleItem:
		msg = PurchaseSingleItem{Item: decodeItem(r)}
	case tagPurchaseItemQuantity:
		msg = PurchaseItemQuantity{Item: decodeItem(r), Quantity: r.u32()}
	default:
		return nil, fmt.Errorf("неизвестный вариант клиентского сообщения %d", tag)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

//================ сервер → клиент =================//

// EncodeServerMsg кодирует серверное сообщение в байтовый образ.
func EncodeServerMsg(msg ServerMsg) ([]byte, error) {
	w := &writer{}
	switch m := msg.(type) {
	case Welcome:
		w.u32(tagWelcome)
		w.str(m.Version)
		w.id(m.ClientID)
		w.id(m.EntityID)
		encodeEntity(w, m.Entity)
	case ProvideChunk:
		w.u32(tagProvideChunk)
		w.chunkPoint(m.Coords)
		for _, t := range m.Chunk.Tiles() {
			w.u32(uint32(t))
		}
	case ShouldUnloadChunk:
		w.u32(tagShouldUnloadChunk)
		w.chunkPoint(m.Coords)
	case ProvideEntity:
		w.u32(tagProvideEntity)
		w.id(m.ID)
		encodeEntity(w, m.Entity)
	case ShouldUnloadEntity:
		w.u32(tagShouldUnloadEntity)
		w.id(m.ID)
	case MoveEntity:
		w.u32(tagMoveEntity)
		w.id(m.ID)
		w.tilePoint(m.Pos)
		w.u32(uint32(m.Dir))
	case YourEntityMoved:
		w.u32(tagYourEntityMoved)
		w.u32(m.RequestNumber)
		w.tilePoint(m.Pos)
	case ChangeTile:
		w.u32(tagChangeTile)
		w.tilePoint(m.Pos)
		w.u32(uint32(m.Tile))
	case BombPlacedMsg:
		w.u32(tagBombPlaced)
		w.id(m.By)
		w.tilePoint(m.Pos)
	case BombsDetonatedMsg:
		w.u32(tagBombsDetonated)
		w.id(m.By)
		w.u64(uint64(len(m.Chunks)))
		for _, c := range m.Chunks {
			w.chunkPoint(c)
		}
	case YouCollectedGems:
		w.u32(tagYouCollectedGems)
		w.u32(uint32(m.Gem))
		w.u32(m.Quantity)
	default:
		return nil, fmt.Errorf("неизвестный тип серверного сообщения %T", msg)
	}
	return w.b, nil
}

// DecodeServerMsg разбирает байтовый образ серверного сообщения.
func DecodeServerMsg(data []byte) (ServerMsg, error) {
	r := &reader{b: data}
	tag := r.u32()

	var msg ServerMsg
	switch tag {
	case tagWelcome:
		m := Welcome{Version: r.str(), ClientID: r.id(), EntityID: r.id()}
		m.Entity = decodeEntity(r)
		msg = m
	case tagProvideChunk:
		m := ProvideChunk{Coords: r.chunkPoint()}
		var tiles [world.ChunkArea]world.Tile
		for i := range tiles {
			v := r.u32()
			if v >= world.TileCount {
				r.fail("неизвестный дискриминант тайла %d", v)
				break
			}
			tiles[i] = world.Tile(v)
		}
		ch := world.NewChunk(world.TileGrass)
		ch.SetTiles(tiles)
		m.Chunk = ch
		msg = m
	case tagShouldUnloadChunk:
		msg = ShouldUnloadChunk{Coords: r.chunkPoint()}
	case tagProvideEntity:
		m := ProvideEntity{ID: r.id()}
		m.Entity = decodeEntity(r)
		msg = m
	case tagShouldUnloadEntity:
		msg = ShouldUnloadEntity{ID: r.id()}
	case tagMoveEntity:
		msg = MoveEntity{ID: r.id(), Pos: r.tilePoint(), Dir: vec.Direction(r.u32())}
	case tagYourEntityMoved:
		msg = YourEntityMoved{RequestNumber: r.u32(), Pos: r.tilePoint()}
	case tagChangeTile:
		msg = ChangeTile{Pos: r.tilePoint(), Tile: world.Tile(r.u32())}
	case tagBombPlaced:
		msg = BombPlacedMsg{By: r.id(), Pos: r.tilePoint()}
	case tagBombsDetonated:
		m := BombsDetonatedMsg{By: r.id()}
		n := r.u64()
		if n > 1024 {
			r.fail("некорректное число чанков %d", n)
		}
		for i := uint64(0); i < n && r.err == nil; i++ {
			m.Chunks = append(m.Chunks, r.chunkPoint())
		}
		msg = m
	case tagYouCollectedGems:
		msg = YouCollectedGems{Gem: world.Gem(r.u32()), Quantity: r.u32()}
	default:
		return nil, fmt.Errorf("неизвестный вариант серверного сообщения %d", tag)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}
