package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/network"
	"github.com/annel0/gemfall/internal/protocol"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// ErrVersionMismatch — версии протокола клиента и сервера различаются.
var ErrVersionMismatch = errors.New("несовместимая версия протокола")

// Client — зеркало мира на стороне клиента: загруженные чанки, видимые
// сущности и собственный персонаж с предсказанием движения.
type Client struct {
	conn network.Conn
	pred *Predictor

	mu       sync.Mutex
	clientID ident.ID
	entityID ident.ID
	entity   *world.Entity
	chunks   map[vec.ChunkPoint]*world.Chunk
	entities map[ident.ID]*world.Entity

	// Пейсинг шагов: следующий шаг не раньше этого момента.
	nextStepAt time.Time
}

// NewClient оборачивает установленное соединение. Рукопожатие — Handshake.
func NewClient(conn network.Conn) *Client {
	return &Client{
		conn:     conn,
		pred:     NewPredictor(),
		chunks:   make(map[vec.ChunkPoint]*world.Chunk),
		entities: make(map[ident.ID]*world.Entity),
	}
}

// Dial подключается к серверу по WebSocket и проводит рукопожатие.
func Dial(ctx context.Context, url string, clientID *ident.ID) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("подключение к %s: %w", url, err)
	}
	c := NewClient(network.NewWSConn(ws))
	if err := c.Handshake(clientID); err != nil {
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

// Handshake отправляет Hello и разбирает Welcome.
func (c *Client) Handshake(clientID *ident.ID) error {
	if err := c.send(protocol.Hello{ClientID: clientID}); err != nil {
		return err
	}
	msg, err := c.recv()
	if err != nil {
		return err
	}
	welcome, ok := msg.(protocol.Welcome)
	if !ok {
		return fmt.Errorf("ожидался Welcome, получено %T", msg)
	}
	if welcome.Version != protocol.Version {
		return fmt.Errorf("%w: сервер %s, клиент %s", ErrVersionMismatch, welcome.Version, protocol.Version)
	}

	c.mu.Lock()
	c.clientID = welcome.ClientID
	c.entityID = welcome.EntityID
	c.entity = welcome.Entity
	c.entity.EnsureMaps()
	c.mu.Unlock()
	return nil
}

// Run читает и применяет сообщения сервера до разрыва соединения.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := c.recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c.Apply(msg)
	}
}

// Apply применяет одно сообщение сервера к зеркалу.
func (c *Client) Apply(msg protocol.ServerMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ProvideChunk:
		c.chunks[m.Coords] = m.Chunk
	case protocol.ShouldUnloadChunk:
		delete(c.chunks, m.Coords)
	case protocol.ProvideEntity:
		m.Entity.EnsureMaps()
		c.entities[m.ID] = m.Entity
	case protocol.ShouldUnloadEntity:
		delete(c.entities, m.ID)
	case protocol.MoveEntity:
		if e, ok := c.entities[m.ID]; ok {
			e.Pos = m.Pos
			e.Dir = m.Dir
		}
	case protocol.YourEntityMoved:
		rec := c.pred.Reconcile(m.RequestNumber, m.Pos)
		if rec.Snap {
			c.entity.Pos = rec.Pos
		}
	case protocol.ChangeTile:
		if chunk, ok := c.chunks[m.Pos.ChunkCoords()]; ok {
			chunk.SetTileAt(m.Pos.ChunkOffsetCoords(), m.Tile)
		}
	case protocol.YouCollectedGems:
		c.entity.Gems[m.Gem] += m.Quantity
	case protocol.BombPlacedMsg, protocol.BombsDetonatedMsg:
		// Чисто визуальные события; зеркалу состояния не нужны.
	}
}

// TryMove пытается шагнуть: проверяет пейсинг и проходимость по зеркалу,
// применяет предсказание и отправляет запрос. Возвращает false без отправки,
// если шаг сейчас невозможен.
func (c *Client) TryMove(dir vec.Direction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Before(c.nextStepAt) {
		return false, nil
	}

	// Поворот бесплатен и не требует подтверждения сервером: сервер
	// повернёт сущность и при отказе в движении.
	c.entity.Dir = dir

	target := dir.Apply(c.entity.Pos)
	chunk, ok := c.chunks[target.ChunkCoords()]
	if !ok {
		return false, nil
	}
	dest := chunk.TileAt(target.ChunkOffsetCoords())
	if !dest.Walkable() {
		return false, c.send(protocol.MoveMyEntity{
			RequestNumber: c.pred.Predict(c.entity.Pos),
			Dir:           dir,
		})
	}
	for _, other := range c.entities {
		if other.Pos == target {
			return false, nil
		}
	}

	// Предсказание: шаг применяется немедленно, разбиваемый камень
	// локально становится грязью. Сервер подтвердит или откатит.
	if dest.Smashable() {
		chunk.SetTileAt(target.ChunkOffsetCoords(), world.SmashedInto())
	}
	c.entity.Pos = target
	c.nextStepAt = now.Add(world.MovementTime(dest, c.entity.HasRunningShoes))

	return true, c.send(protocol.MoveMyEntity{
		RequestNumber: c.pred.Predict(target),
		Dir:           dir,
	})
}

// PlaceBomb просит установить бомбу на текущей позиции.
func (c *Client) PlaceBomb() error {
	return c.send(protocol.PlaceBomb{})
}

// DetonateBombs просит подорвать свои бомбы вокруг текущего чанка.
func (c *Client) DetonateBombs() error {
	return c.send(protocol.DetonateBombs{})
}

// PurchaseSingle покупает одну единицу предмета.
func (c *Client) PurchaseSingle(item protocol.Item) error {
	return c.send(protocol.PurchaseSingleItem{Item: item})
}

// PurchaseQuantity покупает несколько единиц предмета.
func (c *Client) PurchaseQuantity(item protocol.Item, qty uint32) error {
	return c.send(protocol.PurchaseItemQuantity{Item: item, Quantity: qty})
}

// Pos возвращает текущую (предсказанную) позицию персонажа.
func (c *Client) Pos() vec.TilePoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entity.Pos
}

// ClientID возвращает идентификатор клиента, выданный сервером.
func (c *Client) ClientID() ident.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Gems возвращает количество самоцветов данного вида.
func (c *Client) Gems(g world.Gem) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entity.Gems[g]
}

// TileAt возвращает тайл из зеркала, если его чанк загружен.
func (c *Client) TileAt(pos vec.TilePoint) (world.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunk, ok := c.chunks[pos.ChunkCoords()]
	if !ok {
		return 0, false
	}
	return chunk.TileAt(pos.ChunkOffsetCoords()), true
}

// LoadedChunks возвращает число чанков в зеркале.
func (c *Client) LoadedChunks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// Close закрывает соединение.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(msg protocol.ClientMsg) error {
	data, err := protocol.EncodeClientMsg(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMsg(data)
}

func (c *Client) recv() (protocol.ServerMsg, error) {
	data, err := c.conn.ReadMsg()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeServerMsg(data)
}
