package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/logging"
	"github.com/annel0/gemfall/internal/storage"
	"github.com/annel0/gemfall/internal/world"
)

// Конфигурация WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене следует ограничить доступ
	},
}

// ServerConfig — параметры игрового сервера.
type ServerConfig struct {
	// AutosaveInterval — период фонового сохранения изменённых чанков.
	AutosaveInterval time.Duration
	Session          SessionConfig
}

// Server принимает WebSocket-подключения и ведёт по сессии на клиента.
type Server struct {
	world   *world.World
	bus     *broadcast.Bus
	store   *storage.ChunkStore
	players storage.PlayerRepo
	cfg     ServerConfig
	httpSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer собирает сервер из зависимостей.
func NewServer(w *world.World, bus *broadcast.Bus, store *storage.ChunkStore, players storage.PlayerRepo, cfg ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		world:   w,
		bus:     bus,
		store:   store,
		players: players,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// Start начинает слушать порт. Ошибка привязки возвращается синхронно;
// дальше сервер работает до Stop.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("не удалось занять порт %d: %w", port, err)
	}
	logging.LogInfo("Сервер слушает порт %d", port)

	if s.cfg.AutosaveInterval > 0 {
		s.wg.Add(1)
		go s.autosaveLoop()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError("HTTP сервер: %v", err)
		}
	}()
	return nil
}

// Stop останавливает приём, разрывает сессии и дожидается их завершения.
// Каждая сессия при завершении сохраняет свои чанки и персонажа.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.httpSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Финальный проход по оставшимся изменённым чанкам.
	s.saveDirtyChunks()
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogWarn("Апгрейд WebSocket от %s: %v", r.RemoteAddr, err)
		return
	}

	sess := NewSession(NewWSConn(ws), s.world, s.bus, s.store, s.players, s.cfg.Session)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(s.ctx)
	}()
}

// autosaveLoop периодически сохраняет изменённые резидентные чанки, чтобы
// сбой сервера не терял больше одного интервала правок.
func (s *Server) autosaveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.saveDirtyChunks()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) saveDirtyChunks() {
	snaps := s.world.DirtySnapshots()
	for _, snap := range snaps {
		if err := s.store.SaveChunk(snap.Coords, snap.Chunk); err != nil {
			logging.LogError("Автосохранение чанка %d_%d: %v", snap.Coords.X, snap.Coords.Y, err)
		}
	}
	if len(snaps) > 0 {
		logging.LogDebug("Автосохранение: %d чанков", len(snaps))
	}
}
