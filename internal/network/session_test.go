package network

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/protocol"
	"github.com/annel0/gemfall/internal/storage"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// pipeConn — соединение в памяти для тестов сессии: тест играет роль клиента.
type pipeConn struct {
	fromClient chan []byte
	toClient   chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		fromClient: make(chan []byte, 64),
		toClient:   make(chan []byte, 1024),
		closed:     make(chan struct{}),
	}
}

func (c *pipeConn) ReadMsg() ([]byte, error) {
	select {
	case data := <-c.fromClient:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMsg(data []byte) error {
	select {
	case c.toClient <- data:
		return nil
	case <-c.closed:
		return errors.New("соединение закрыто")
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }

func (c *pipeConn) clientSend(t *testing.T, msg protocol.ClientMsg) {
	t.Helper()
	data, err := protocol.EncodeClientMsg(msg)
	require.NoError(t, err)
	select {
	case c.fromClient <- data:
	case <-time.After(time.Second):
		t.Fatal("сессия не читает входящие")
	}
}

func (c *pipeConn) clientRecv(t *testing.T) protocol.ServerMsg {
	t.Helper()
	select {
	case data := <-c.toClient:
		msg, err := protocol.DecodeServerMsg(data)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("сервер не прислал сообщение")
		return nil
	}
}

// clientRecvUntil читает сообщения, пока match не вернёт true.
// Остальные сообщения складываются в others.
func (c *pipeConn) clientRecvUntil(t *testing.T, match func(protocol.ServerMsg) bool) (protocol.ServerMsg, []protocol.ServerMsg) {
	t.Helper()
	var others []protocol.ServerMsg
	for i := 0; i < 100; i++ {
		msg := c.clientRecv(t)
		if match(msg) {
			return msg, others
		}
		others = append(others, msg)
	}
	t.Fatal("ожидаемое сообщение не пришло")
	return nil, nil
}

// grassSource — источник травяных чанков для тестов.
type grassSource struct{}

func (grassSource) ResolveChunk(vec.ChunkPoint) (*world.Chunk, error) {
	return world.NewChunk(world.TileGrass), nil
}

type harness struct {
	world   *world.World
	bus     *broadcast.Bus
	store   *storage.ChunkStore
	players *storage.MemoryPlayerRepo
	cancel  context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewChunkStore(t.TempDir())
	require.NoError(t, err)
	return &harness{
		world:   world.NewWorld(grassSource{}),
		bus:     broadcast.NewBus(0),
		store:   store,
		players: storage.NewMemoryPlayerRepo(),
	}
}

// connect поднимает сессию и проводит рукопожатие от лица клиента.
// Возвращает соединение, Welcome и канал завершения сессии.
func (h *harness) connect(t *testing.T, ctx context.Context, clientID *ident.ID) (*pipeConn, protocol.Welcome, chan struct{}) {
	t.Helper()
	conn := newPipeConn()
	sess := NewSession(conn, h.world, h.bus, h.store, h.players, SessionConfig{})

	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	conn.clientSend(t, protocol.Hello{ClientID: clientID})
	welcome, ok := conn.clientRecv(t).(protocol.Welcome)
	require.True(t, ok, "первым ответом должен быть Welcome")

	// Стартовый блок 3x3 чанков; между ними могут идти ProvideEntity
	// для уже подключённых соседей.
	chunks := 0
	for chunks < 9 {
		switch conn.clientRecv(t).(type) {
		case protocol.ProvideChunk:
			chunks++
		case protocol.ProvideEntity:
		default:
			t.Fatal("неожиданное сообщение при загрузке стартового блока")
		}
	}
	return conn, welcome, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("сессия не завершилась")
	}
}

func TestSession_HandshakeNewClient(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	assert.Equal(t, protocol.Version, welcome.Version)
	assert.False(t, welcome.ClientID.IsZero())
	assert.False(t, welcome.EntityID.IsZero())
	require.NotNil(t, welcome.Entity)
	assert.Equal(t, vec.TilePoint{X: 0, Y: 0}, welcome.Entity.Pos)

	// Блок 3x3 удержан сессией.
	assert.Equal(t, 9, h.world.ResidentChunks())

	conn.Close()
	waitDone(t, done)
	assert.Equal(t, 0, h.world.ResidentChunks(), "завершение сессии снимает все ссылки")
}

func TestSession_HandshakeRequiresHello(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newPipeConn()
	sess := NewSession(conn, h.world, h.bus, h.store, h.players, SessionConfig{})
	done := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(done)
	}()

	conn.clientSend(t, protocol.PlaceBomb{})
	waitDone(t, done)
	assert.Equal(t, 0, h.players.Len(), "до рукопожатия персонаж не создаётся")
}

func TestSession_SecondHelloTerminates(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, done := h.connect(t, ctx, nil)
	conn.clientSend(t, protocol.Hello{})
	waitDone(t, done)
}

func TestSession_MoveConfirmedAndRefused(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	start := welcome.Entity.Pos

	// Успешный шаг вправо.
	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirRight})
	msg, _ := conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})
	moved := msg.(protocol.YourEntityMoved)
	assert.Equal(t, uint32(0), moved.RequestNumber)
	assert.Equal(t, vec.TilePoint{X: start.X + 1, Y: start.Y}, moved.Pos)

	// Вода на пути: отказ возвращает старую позицию.
	require.True(t, h.world.SetTileAt(vec.TilePoint{X: start.X + 2, Y: start.Y}, world.TileWater))
	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 1, Dir: vec.DirRight})
	msg, _ = conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})
	refused := msg.(protocol.YourEntityMoved)
	assert.Equal(t, uint32(1), refused.RequestNumber)
	assert.Equal(t, moved.Pos, refused.Pos, "отказ несёт фактическую позицию")

	// Направление при отказе всё равно обновилось.
	e, ok := h.world.EntityByID(welcome.EntityID)
	require.True(t, ok)
	assert.Equal(t, vec.DirRight, e.Dir)
}

func TestSession_SmashAwardsGems(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	start := welcome.Entity.Pos
	target := vec.TilePoint{X: start.X + 1, Y: start.Y}
	require.True(t, h.world.SetTileAt(target, world.TileRockDiamond))

	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirRight})

	msg, _ := conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})
	assert.Equal(t, target, msg.(protocol.YourEntityMoved).Pos, "шаг завершается на разбитом тайле")

	msg, _ = conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YouCollectedGems)
		return ok
	})
	gems := msg.(protocol.YouCollectedGems)
	assert.Equal(t, world.GemDiamond, gems.Gem)
	assert.Equal(t, uint32(1), gems.Quantity)

	// Смена тайла доезжает и до самого разбившего.
	msg, _ = conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.ChangeTile)
		return ok
	})
	change := msg.(protocol.ChangeTile)
	assert.Equal(t, target, change.Pos)
	assert.Equal(t, world.TileDirt, change.Tile)

	e, ok := h.world.EntityByID(welcome.EntityID)
	require.True(t, ok)
	assert.Equal(t, uint32(1), e.Gems[world.GemDiamond])
}

func TestSession_PeersSeeEachOther(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connA, welcomeA, doneA := h.connect(t, ctx, nil)
	defer func() { connA.Close(); waitDone(t, doneA) }()

	// B подключается после A: A узнаёт о B через EntityAdded, B видит A в
	// составе загруженного чанка.
	connB, welcomeB, doneB := h.connect(t, ctx, nil)

	msg, _ := connA.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		p, ok := m.(protocol.ProvideEntity)
		return ok && p.ID == welcomeB.EntityID
	})
	assert.Equal(t, welcomeB.Entity.Pos, msg.(protocol.ProvideEntity).Entity.Pos)

	// A шагает; B получает MoveEntity.
	connA.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirUp})
	msg, _ = connB.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		mv, ok := m.(protocol.MoveEntity)
		return ok && mv.ID == welcomeA.EntityID
	})
	mv := msg.(protocol.MoveEntity)
	assert.Equal(t, vec.TilePoint{X: welcomeA.Entity.Pos.X, Y: welcomeA.Entity.Pos.Y + 1}, mv.Pos)
	assert.Equal(t, vec.DirUp, mv.Dir)

	// B отключается; A получает ShouldUnloadEntity.
	connB.Close()
	waitDone(t, doneB)
	connA.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		u, ok := m.(protocol.ShouldUnloadEntity)
		return ok && u.ID == welcomeB.EntityID
	})
}

func TestSession_ChunkEvictionOldestFirst(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	// Долгий марш на восток: пересечение границ чанков добавляет колонки
	// справа, пока набор не упрётся в предел и не начнёт вытеснять левые.
	var reqNum uint32
	var unloaded []vec.ChunkPoint
	for step := 0; step < 40; step++ {
		conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: reqNum, Dir: vec.DirRight})
		reqNum++
		_, others := conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
			_, ok := m.(protocol.YourEntityMoved)
			return ok
		})
		for _, m := range others {
			if u, ok := m.(protocol.ShouldUnloadChunk); ok {
				unloaded = append(unloaded, u.Coords)
			}
		}
		if len(unloaded) > 0 {
			break
		}
	}

	require.NotEmpty(t, unloaded, "марш через чанки обязан вытеснить старые")
	assert.Equal(t, int32(-1), unloaded[0].X, "первыми выгружаются старейшие (западные) чанки")
}

func TestSession_PlayerPersistedOnDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)

	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirRight})
	conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})

	conn.Close()
	waitDone(t, done)

	rec, err := h.players.Load(context.Background(), welcome.ClientID)
	require.NoError(t, err)
	assert.Equal(t, welcome.EntityID, rec.EntityID)
	assert.Equal(t, vec.TilePoint{X: welcome.Entity.Pos.X + 1, Y: welcome.Entity.Pos.Y}, rec.Pos)
}

func TestSession_ReturningClientRestored(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	conn.Close()
	waitDone(t, done)

	conn2, welcome2, done2 := h.connect(t, ctx, &welcome.ClientID)
	defer func() { conn2.Close(); waitDone(t, done2) }()

	assert.Equal(t, welcome.ClientID, welcome2.ClientID)
	assert.Equal(t, welcome.EntityID, welcome2.EntityID, "возвращённый клиент получает своего персонажа")
	assert.Equal(t, welcome.Entity.HairColour, welcome2.Entity.HairColour)
}

func TestSession_DuplicateConnectionRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	// Вторая сессия того же клиента обрывается на рукопожатии.
	conn2 := newPipeConn()
	sess2 := NewSession(conn2, h.world, h.bus, h.store, h.players, SessionConfig{})
	done2 := make(chan struct{})
	go func() {
		sess2.Run(ctx)
		close(done2)
	}()
	conn2.clientSend(t, protocol.Hello{ClientID: &welcome.ClientID})
	waitDone(t, done2)
}

func TestSession_BombPlaceAndDetonate(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	// Бомба в инвентаре.
	require.True(t, h.world.UpdateEntity(welcome.EntityID, func(e *world.Entity) {
		e.QuantItems[world.QuantItemBomb] = 1
	}))

	conn.clientSend(t, protocol.PlaceBomb{})
	msg, _ := conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.BombPlacedMsg)
		return ok
	})
	placed := msg.(protocol.BombPlacedMsg)
	assert.Equal(t, welcome.EntityID, placed.By)
	assert.Equal(t, welcome.Entity.Pos, placed.Pos)

	conn.clientSend(t, protocol.DetonateBombs{})
	msg, _ = conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.BombsDetonatedMsg)
		return ok
	})
	det := msg.(protocol.BombsDetonatedMsg)
	assert.Equal(t, welcome.EntityID, det.By)
	assert.Equal(t, []vec.ChunkPoint{welcome.Entity.Pos.ChunkCoords()}, det.Chunks)

	// Повторная детонация молчит: бомб больше нет.
	conn.clientSend(t, protocol.DetonateBombs{})
	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirUp})
	_, others := conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})
	for _, m := range others {
		_, isDet := m.(protocol.BombsDetonatedMsg)
		assert.False(t, isDet)
	}
}

func TestSession_PurchaseUpdatesInventory(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, welcome, done := h.connect(t, ctx, nil)
	defer func() { conn.Close(); waitDone(t, done) }()

	require.True(t, h.world.UpdateEntity(welcome.EntityID, func(e *world.Entity) {
		e.Gems[world.GemEmerald] = 30
		e.Gems[world.GemRuby] = 5
	}))

	conn.clientSend(t, protocol.PurchaseSingleItem{Item: protocol.BoolItemRef(world.BoolItemRunningShoes)})
	conn.clientSend(t, protocol.PurchaseItemQuantity{Item: protocol.QuantItemRef(world.QuantItemBomb), Quantity: 2})

	// Покупки не подтверждаются; синхронизируемся шагом.
	conn.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirUp})
	conn.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})

	e, ok := h.world.EntityByID(welcome.EntityID)
	require.True(t, ok)
	assert.True(t, e.HasRunningShoes)
	assert.Equal(t, uint32(2), e.QuantItems[world.QuantItemBomb])
	assert.Equal(t, uint32(30-20-2*4), e.Gems[world.GemEmerald])
	assert.Equal(t, uint32(0), e.Gems[world.GemRuby])
}

func TestSession_PeerLeavesAndReentersView(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connA, welcomeA, doneA := h.connect(t, ctx, nil)
	defer func() { connA.Close(); waitDone(t, doneA) }()
	connB, _, doneB := h.connect(t, ctx, nil)
	defer func() { connB.Close(); waitDone(t, doneB) }()

	// A уходит на восток за пределы окна B (чанки X от -1 до 1): на шаге
	// через границу x=32 чанк-источник ещё виден B, чанк-приёмник — нет.
	var reqNum uint32
	for x := welcomeA.Entity.Pos.X; x < 32; x++ {
		connA.clientSend(t, protocol.MoveMyEntity{RequestNumber: reqNum, Dir: vec.DirRight})
		reqNum++
		connA.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
			_, ok := m.(protocol.YourEntityMoved)
			return ok
		})
	}

	msg, _ := connB.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		u, ok := m.(protocol.ShouldUnloadEntity)
		return ok && u.ID == welcomeA.EntityID
	})
	require.NotNil(t, msg, "выход из окна виден как выгрузка сущности")

	// Шаг обратно: теперь виден только чанк-приёмник, B получает свежий
	// снимок сущности.
	connA.clientSend(t, protocol.MoveMyEntity{RequestNumber: reqNum, Dir: vec.DirLeft})
	connA.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		_, ok := m.(protocol.YourEntityMoved)
		return ok
	})

	msg, _ = connB.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		p, ok := m.(protocol.ProvideEntity)
		return ok && p.ID == welcomeA.EntityID
	})
	assert.Equal(t, vec.TilePoint{X: 31, Y: welcomeA.Entity.Pos.Y}, msg.(protocol.ProvideEntity).Entity.Pos)
}

func TestSession_PeerSeesSmashBeforeStep(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connA, welcomeA, doneA := h.connect(t, ctx, nil)
	defer func() { connA.Close(); waitDone(t, doneA) }()
	connB, _, doneB := h.connect(t, ctx, nil)
	defer func() { connB.Close(); waitDone(t, doneB) }()

	target := vec.TilePoint{X: welcomeA.Entity.Pos.X + 1, Y: welcomeA.Entity.Pos.Y}
	require.True(t, h.world.SetTileAt(target, world.TileRockRuby))

	connA.clientSend(t, protocol.MoveMyEntity{RequestNumber: 0, Dir: vec.DirRight})

	// Зритель обязан увидеть смену тайла раньше шага на него.
	msg, _ := connB.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		switch m.(type) {
		case protocol.ChangeTile, protocol.MoveEntity:
			return true
		}
		return false
	})
	change, ok := msg.(protocol.ChangeTile)
	require.True(t, ok, "первым приходит ChangeTile, затем MoveEntity")
	assert.Equal(t, target, change.Pos)
	assert.Equal(t, world.TileDirt, change.Tile)

	msg, _ = connB.clientRecvUntil(t, func(m protocol.ServerMsg) bool {
		mv, ok := m.(protocol.MoveEntity)
		return ok && mv.ID == welcomeA.EntityID
	})
	assert.Equal(t, target, msg.(protocol.MoveEntity).Pos)
}

func TestSession_ReaderExitsWithBacklog(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	before := runtime.NumGoroutine()
	conn, _, done := h.connect(t, ctx, nil)

	// Сессия останавливается, а клиент продолжает слать: читатель не должен
	// навсегда повиснуть на передаче в переполненный inbox.
	cancel()
	for i := 0; i < 40; i++ {
		data, err := protocol.EncodeClientMsg(protocol.MoveMyEntity{RequestNumber: uint32(i), Dir: vec.DirUp})
		require.NoError(t, err)
		select {
		case conn.fromClient <- data:
		default:
		}
	}
	waitDone(t, done)

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "горутина читателя не завершилась")
}
