package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/logging"
	"github.com/annel0/gemfall/internal/protocol"
	"github.com/annel0/gemfall/internal/storage"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// MaxLoadedChunksPerClient — предел набора загруженных чанков сессии.
// Блок 3x3 вокруг сущности занимает девять; запас оставляет недавние
// чанки в памяти при движении вдоль границы.
const MaxLoadedChunksPerClient = 12

// playerSaveInterval — период фонового сохранения персонажа.
const playerSaveInterval = 30 * time.Second

// maxSaveFailures — после стольких сохранений персонажа подряд с ошибкой
// сессия разрывается: лучше переподключение, чем тихая потеря прогресса.
const maxSaveFailures = 3

// SessionConfig — параметры поведения сессии.
type SessionConfig struct {
	// RateLimit включает серверную проверку темпа шагов. По умолчанию
	// выключена: клопы-читеры двигаются быстрее, но сервер и так не даёт
	// им пройти сквозь стены.
	RateLimit bool
}

// Session обслуживает одно клиентское подключение: рукопожатие, цикл
// сообщений, фильтрацию широковещательных событий и завершение с
// сохранением. Вся работа идёт в одной горутине Run; читатель провода —
// отдельная горутина, складывающая сообщения во входной канал.
type Session struct {
	conn    Conn
	world   *world.World
	bus     *broadcast.Bus
	sub     *broadcast.Subscriber
	store   *storage.ChunkStore
	players storage.PlayerRepo
	cfg     SessionConfig

	clientID ident.ID
	entityID ident.ID

	// Набор загруженных чанков в порядке загрузки, старейший первым.
	loaded    []vec.ChunkPoint
	loadedSet map[vec.ChunkPoint]struct{}

	lastMoveAt   time.Time
	saveFailures int
}

// NewSession создаёт сессию поверх установленного соединения.
func NewSession(conn Conn, w *world.World, bus *broadcast.Bus, store *storage.ChunkStore, players storage.PlayerRepo, cfg SessionConfig) *Session {
	return &Session{
		conn:      conn,
		world:     w,
		bus:       bus,
		store:     store,
		players:   players,
		cfg:       cfg,
		loadedSet: make(map[vec.ChunkPoint]struct{}),
	}
}

// Run ведёт сессию до разрыва соединения или остановки сервера.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	if err := s.handshake(ctx); err != nil {
		if !errors.Is(err, io.EOF) {
			logging.LogWarn("Рукопожатие с %s: %v", s.conn.RemoteAddr(), err)
		}
		// Рукопожатие могло упасть уже после подписки и добавления
		// сущности; зачистка нужна и здесь.
		if s.sub != nil {
			s.teardown(ctx)
		}
		return
	}
	defer s.teardown(ctx)

	logging.LogInfo("Клиент %s подключился (%s)", s.clientID, s.conn.RemoteAddr())

	inbox := make(chan protocol.ClientMsg, 16)
	readErr := make(chan error, 1)
	readerStop := make(chan struct{})
	readerDone := make(chan struct{})
	go s.readLoop(inbox, readErr, readerStop, readerDone)
	defer func() {
		// Читатель мог застрять на полном inbox или в ReadMsg; закрытие
		// соединения и стоп-канал снимают оба случая.
		s.conn.Close()
		close(readerStop)
		<-readerDone
	}()

	saveTicker := time.NewTicker(playerSaveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case msg := <-inbox:
			if err := s.handleClientMsg(msg); err != nil {
				logging.LogWarn("Клиент %s: %v", s.clientID, err)
				return
			}
		case mod := <-s.sub.C():
			if n := s.sub.TakeLagged(); n > 0 {
				logging.LogWarn("Сессия %s отстала от шины: пропущено %d событий", s.clientID, n)
			}
			if err := s.handleModification(mod); err != nil {
				logging.LogWarn("Клиент %s: %v", s.clientID, err)
				return
			}
		case <-saveTicker.C:
			if err := s.savePlayer(ctx); err != nil {
				s.saveFailures++
				logging.LogError("Сохранение игрока %s (%d подряд): %v", s.clientID, s.saveFailures, err)
				if s.saveFailures >= maxSaveFailures {
					logging.LogError("Игрок %s отключается: хранилище недоступно", s.clientID)
					return
				}
			} else {
				s.saveFailures = 0
			}
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				logging.LogWarn("Чтение от %s: %v", s.clientID, err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop переносит сообщения с провода во входной канал сессии.
// Завершается по ошибке чтения или по stop, когда сессия перестала
// потреблять inbox.
func (s *Session) readLoop(inbox chan<- protocol.ClientMsg, readErr chan<- error, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		data, err := s.conn.ReadMsg()
		if err != nil {
			readErr <- err
			return
		}
		msg, err := protocol.DecodeClientMsg(data)
		if err != nil {
			readErr <- fmt.Errorf("некорректное сообщение: %w", err)
			return
		}
		select {
		case inbox <- msg:
		case <-stop:
			return
		}
	}
}

// handshake обрабатывает Hello: восстанавливает или заводит персонажа,
// подписывается на шину, загружает стартовый блок чанков и отвечает Welcome.
func (s *Session) handshake(ctx context.Context) error {
	data, err := s.conn.ReadMsg()
	if err != nil {
		return err
	}
	first, err := protocol.DecodeClientMsg(data)
	if err != nil {
		return fmt.Errorf("некорректное первое сообщение: %w", err)
	}
	hello, ok := first.(protocol.Hello)
	if !ok {
		return fmt.Errorf("ожидался Hello, получено %T", first)
	}

	entity, err := s.restorePlayer(ctx, hello)
	if err != nil {
		return err
	}

	// Снимок до передачи сущности миру: дальше её могут трогать чужие
	// горутины только под мьютексом мира.
	snapshot := entity.Clone()

	// Двойное подключение одного клиента: сущность занимается атомарно,
	// два одновременных рукопожатия одного id не проскочат оба.
	if !s.world.AddEntityIfAbsent(s.entityID, entity) {
		return fmt.Errorf("клиент %s уже подключён", s.clientID)
	}

	// Подписка до публикации EntityAdded: сессия видит все последующие
	// события, включая чужие подключения во время собственной загрузки.
	// Ошибки после этой точки чистятся через teardown.
	s.sub = s.bus.Subscribe()

	welcome, err := protocol.EncodeServerMsg(protocol.Welcome{
		Version:  protocol.Version,
		ClientID: s.clientID,
		EntityID: s.entityID,
		Entity:   snapshot,
	})
	if err != nil {
		return err
	}
	if err := s.conn.WriteMsg(welcome); err != nil {
		return err
	}

	if err := s.ensureView(snapshot.Pos.ChunkCoords()); err != nil {
		return err
	}

	s.bus.Publish(world.EntityAdded{ID: s.entityID})
	return nil
}

// restorePlayer загружает запись игрока или заводит нового.
func (s *Session) restorePlayer(ctx context.Context, hello protocol.Hello) (*world.Entity, error) {
	if hello.ClientID != nil {
		s.clientID = *hello.ClientID
		rec, err := s.players.Load(ctx, s.clientID)
		switch {
		case err == nil:
			s.entityID = rec.EntityID
			return rec.Entity(), nil
		case errors.Is(err, storage.ErrNotFound):
			// Неизвестный идентификатор: клиент получает свежего персонажа
			// под предъявленным id.
		default:
			return nil, fmt.Errorf("загрузка игрока %s: %w", s.clientID, err)
		}
	} else {
		s.clientID = ident.NewRandom()
	}

	s.entityID = ident.NewTimeOrdered()
	pos, err := s.findSpawn()
	if err != nil {
		return nil, err
	}
	return world.NewEntity(pos), nil
}

// findSpawn ищет проходимый тайл рядом с началом координат.
// Чанк начала координат резидентен на время поиска.
func (s *Session) findSpawn() (vec.TilePoint, error) {
	origin := vec.ChunkPoint{X: 0, Y: 0}
	chunk, err := s.world.ChunkInUse(origin)
	if err != nil {
		return vec.TilePoint{}, fmt.Errorf("чанк спауна: %w", err)
	}
	defer func() {
		if c, last := s.world.ChunkNotInUse(origin); last && c.Dirty() {
			if err := s.store.SaveChunk(origin, c); err != nil {
				logging.LogError("Сохранение чанка спауна: %v", err)
			}
		}
	}()

	for y := int32(0); y < vec.ChunkSize; y++ {
		for x := int32(0); x < vec.ChunkSize; x++ {
			off := vec.OffsetPoint{X: x, Y: y}
			if !chunk.TileAt(off).Blocking() {
				return vec.TileAt(origin, off), nil
			}
		}
	}
	// Стартовый чанк целиком непроходим; бывает только на экзотических
	// сидах. Клиент окажется в воде и сможет лишь поворачиваться.
	return vec.TilePoint{X: 0, Y: 0}, nil
}

//================ входящие сообщения =================//

func (s *Session) handleClientMsg(msg protocol.ClientMsg) error {
	switch m := msg.(type) {
	case protocol.Hello:
		return fmt.Errorf("повторный Hello в установленной сессии")
	case protocol.MoveMyEntity:
		return s.handleMove(m)
	case protocol.PlaceBomb:
		return s.handlePlaceBomb()
	case protocol.DetonateBombs:
		return s.handleDetonateBombs()
	case protocol.PurchaseSingleItem:
		return s.handlePurchase(m.Item, 1)
	case protocol.PurchaseItemQuantity:
		return s.handlePurchase(m.Item, m.Quantity)
	default:
		return fmt.Errorf("необработанное сообщение %T", msg)
	}
}

// minStepTime — нижняя граница легального шага: бег по траве.
var minStepTime = time.Duration(float64(world.StandardMovementTime) * world.RunningFactor * world.GrassyTimeFactor)

func (s *Session) handleMove(m protocol.MoveMyEntity) error {
	if s.cfg.RateLimit && !s.lastMoveAt.IsZero() && time.Since(s.lastMoveAt) < minStepTime {
		// Слишком частые шаги отклоняются как обычный отказ: клиент
		// откатится по ответу со старой позицией.
		e, ok := s.world.EntityByID(s.entityID)
		if !ok {
			return fmt.Errorf("сущность %s исчезла", s.entityID)
		}
		s.world.UpdateEntity(s.entityID, func(e *world.Entity) { e.Dir = m.Dir })
		return s.send(protocol.YourEntityMoved{RequestNumber: m.RequestNumber, Pos: e.Pos})
	}
	s.lastMoveAt = time.Now()

	res, ok := s.world.MoveEntityTowards(s.entityID, m.Dir)
	if !ok {
		return fmt.Errorf("сущность %s исчезла", s.entityID)
	}

	// Сверка уходит первой: клиент снимает неподтверждённый шаг до того,
	// как увидит производные события.
	if err := s.send(protocol.YourEntityMoved{RequestNumber: m.RequestNumber, Pos: res.NewPos}); err != nil {
		return err
	}
	if !res.Moved {
		return nil
	}

	if err := s.ensureView(res.NewPos.ChunkCoords()); err != nil {
		return err
	}

	// Смена тайла публикуется раньше движения: зрители не должны увидеть
	// сущность, стоящую на ещё целом камне.
	if res.DidSmash {
		s.bus.Publish(world.TileChanged{Pos: res.NewPos, NewTile: world.SmashedInto()})
	}
	s.bus.Publish(world.EntityMoved{ID: s.entityID, From: res.OldPos, To: res.NewPos, Dir: m.Dir})

	if res.DidSmash {
		if err := s.awardGems(res.Smashed); err != nil {
			return err
		}
	}
	return nil
}

// awardGems начисляет самоцветы за разбитый камень.
func (s *Session) awardGems(smashed world.Tile) error {
	yield, ok := smashed.Yield()
	if !ok {
		return nil
	}
	qty := yield.Min
	if yield.Max > yield.Min {
		qty += uint32(rand.Intn(int(yield.Max-yield.Min) + 1))
	}
	s.world.UpdateEntity(s.entityID, func(e *world.Entity) {
		e.Gems[yield.Gem] += qty
	})
	return s.send(protocol.YouCollectedGems{Gem: yield.Gem, Quantity: qty})
}

func (s *Session) handlePlaceBomb() error {
	pos, ok := s.world.PlaceBombBy(s.entityID)
	if !ok {
		// Нет бомб в инвентаре: молчаливый отказ, честный клиент такого
		// не посылает.
		return nil
	}
	s.bus.Publish(world.BombPlaced{Pos: pos, By: s.entityID})
	return nil
}

func (s *Session) handleDetonateBombs() error {
	center, ok := s.world.EntityChunk(s.entityID)
	if !ok {
		return fmt.Errorf("сущность %s исчезла", s.entityID)
	}
	positions := s.world.TakeBombsPlacedByInAndAroundChunk(s.entityID, center)
	if len(positions) == 0 {
		return nil
	}

	seen := make(map[vec.ChunkPoint]struct{})
	var chunks []vec.ChunkPoint
	for _, p := range positions {
		c := p.ChunkCoords()
		if _, dup := seen[c]; !dup {
			seen[c] = struct{}{}
			chunks = append(chunks, c)
		}
	}
	s.bus.Publish(world.BombsDetonated{By: s.entityID, Chunks: chunks})
	return nil
}

func (s *Session) handlePurchase(item protocol.Item, qty uint32) error {
	var bought bool
	s.world.UpdateEntity(s.entityID, func(e *world.Entity) {
		switch item.Kind {
		case protocol.ItemKindBool:
			bought = world.PurchaseBoolItem(e, item.Bool)
		case protocol.ItemKindQuant:
			bought = world.PurchaseQuantItem(e, item.Quant, qty)
		}
	})
	// Подтверждение не отправляется: клиент ведёт кошелёк по тем же
	// правилам и знает исход сам. Отказ здесь — рассинхрон или чит.
	if !bought {
		logging.LogDebug("Покупка отклонена: клиент %s, предмет %v x%d", s.clientID, item, qty)
	}
	return nil
}

//================ события шины =================//

func (s *Session) handleModification(mod world.Modification) error {
	switch m := mod.(type) {
	case world.TileChanged:
		// Собственное изменение тоже уходит клиенту: применение идемпотентно.
		if s.isLoaded(m.Pos.ChunkCoords()) {
			return s.send(protocol.ChangeTile{Pos: m.Pos, Tile: m.NewTile})
		}
	case world.EntityMoved:
		if m.ID == s.entityID {
			// Своё движение клиент сверяет по YourEntityMoved.
			return nil
		}
		fromIn := s.isLoaded(m.From.ChunkCoords())
		toIn := s.isLoaded(m.To.ChunkCoords())
		switch {
		case toIn && fromIn:
			return s.send(protocol.MoveEntity{ID: m.ID, Pos: m.To, Dir: m.Dir})
		case toIn:
			return s.provideEntity(m.ID)
		case fromIn:
			return s.send(protocol.ShouldUnloadEntity{ID: m.ID})
		}
	case world.EntityAdded:
		if m.ID == s.entityID {
			return nil
		}
		if c, ok := s.world.EntityChunk(m.ID); ok && s.isLoaded(c) {
			return s.provideEntity(m.ID)
		}
	case world.EntityRemoved:
		if m.ID != s.entityID && s.isLoaded(m.LastChunk) {
			return s.send(protocol.ShouldUnloadEntity{ID: m.ID})
		}
	case world.BombPlaced:
		if s.isLoaded(m.Pos.ChunkCoords()) {
			return s.send(protocol.BombPlacedMsg{By: m.By, Pos: m.Pos})
		}
	case world.BombsDetonated:
		for _, c := range m.Chunks {
			if s.isLoaded(c) {
				return s.send(protocol.BombsDetonatedMsg{By: m.By, Chunks: m.Chunks})
			}
		}
	}
	return nil
}

// provideEntity отправляет клиенту актуальный снимок чужой сущности.
// Сущность могла исчезнуть между событием и обработкой — тогда тишина:
// событие EntityRemoved уже едет следом.
func (s *Session) provideEntity(id ident.ID) error {
	e, ok := s.world.EntityByID(id)
	if !ok {
		return nil
	}
	return s.send(protocol.ProvideEntity{ID: id, Entity: e})
}

//================ набор загруженных чанков =================//

func (s *Session) isLoaded(c vec.ChunkPoint) bool {
	_, ok := s.loadedSet[c]
	return ok
}

// ensureView доводит набор загруженных чанков до блока 3x3 вокруг центра:
// недостающие загружаются и отправляются клиенту, затем старейшие чанки
// за пределами блока вытесняются до предела набора.
func (s *Session) ensureView(center vec.ChunkPoint) error {
	needed := center.InAndAround()
	neededSet := make(map[vec.ChunkPoint]struct{}, len(needed))
	for _, c := range needed {
		neededSet[c] = struct{}{}
	}

	for _, c := range needed {
		if s.isLoaded(c) {
			continue
		}
		chunk, err := s.world.ChunkInUse(c)
		if err != nil {
			return fmt.Errorf("загрузка чанка для клиента %s: %w", s.clientID, err)
		}
		s.loaded = append(s.loaded, c)
		s.loadedSet[c] = struct{}{}

		if err := s.send(protocol.ProvideChunk{Coords: c, Chunk: chunk}); err != nil {
			return err
		}
		for _, ref := range s.world.EntitiesInChunk(c) {
			if ref.ID == s.entityID {
				continue
			}
			if err := s.send(protocol.ProvideEntity{ID: ref.ID, Entity: ref.Entity}); err != nil {
				return err
			}
		}
	}

	for len(s.loaded) > MaxLoadedChunksPerClient {
		evicted := false
		for i, c := range s.loaded {
			if _, keep := neededSet[c]; keep {
				continue
			}
			s.loaded = append(s.loaded[:i], s.loaded[i+1:]...)
			delete(s.loadedSet, c)
			s.releaseChunk(c)
			if err := s.send(protocol.ShouldUnloadChunk{Coords: c}); err != nil {
				return err
			}
			evicted = true
			break
		}
		if !evicted {
			break
		}
	}
	return nil
}

// releaseChunk снимает ссылку сессии; последний владелец сохраняет
// изменённый чанк на диск.
func (s *Session) releaseChunk(c vec.ChunkPoint) {
	chunk, last := s.world.ChunkNotInUse(c)
	if !last || !chunk.Dirty() {
		return
	}
	if err := s.store.SaveChunk(c, chunk); err != nil {
		logging.LogError("Сохранение чанка %d_%d при выгрузке: %v", c.X, c.Y, err)
	}
}

//================ завершение =================//

// teardown освобождает ресурсы сессии: чанки, сущность, запись игрока.
func (s *Session) teardown(ctx context.Context) {
	s.sub.Unsubscribe()

	lastChunk, _ := s.world.EntityChunk(s.entityID)
	entity, had := s.world.RemoveEntity(s.entityID)
	if had {
		s.world.RemoveBombsBy(s.entityID)
		s.bus.Publish(world.EntityRemoved{ID: s.entityID, LastChunk: lastChunk})
	}

	for _, c := range s.loaded {
		s.releaseChunk(c)
	}
	s.loaded = nil
	s.loadedSet = make(map[vec.ChunkPoint]struct{})

	if had {
		rec := storage.RecordOf(s.entityID, entity)
		// Финальное сохранение идёт вне контекста сессии: он уже отменён
		// при остановке сервера, а прогресс терять нельзя.
		if err := s.players.Save(context.Background(), s.clientID, rec); err != nil {
			logging.LogError("Финальное сохранение игрока %s: %v", s.clientID, err)
		}
	}

	logging.LogInfo("Клиент %s отключился", s.clientID)
}

// savePlayer сохраняет текущее состояние персонажа.
func (s *Session) savePlayer(ctx context.Context) error {
	e, ok := s.world.EntityByID(s.entityID)
	if !ok {
		return nil
	}
	return s.players.Save(ctx, s.clientID, storage.RecordOf(s.entityID, e))
}

func (s *Session) send(msg protocol.ServerMsg) error {
	data, err := protocol.EncodeServerMsg(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMsg(data)
}
