package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/config"
	"github.com/annel0/gemfall/internal/eventbus"
	"github.com/annel0/gemfall/internal/logging"
	"github.com/annel0/gemfall/internal/metrics"
	"github.com/annel0/gemfall/internal/network"
	"github.com/annel0/gemfall/internal/storage"
	"github.com/annel0/gemfall/internal/world"
	"github.com/annel0/gemfall/internal/world/gen"
)

func main() {
	var (
		port      = flag.Int("port", 0, "игровой порт (перекрывает конфиг)")
		worldDir  = flag.String("world-directory", "", "директория мира")
		logLevel  = flag.String("log-level", "", "уровень логов: trace|debug|info|warn|error")
		logToFile = flag.Bool("log-to-file", false, "дублировать логи в файл")
		cfgPath   = flag.String("config", "", "путь к YAML конфигурации")
		seed      = flag.Int64("seed", 0, "сид генератора мира (перекрывает конфиг)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	// Флаги перекрывают файл.
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *worldDir != "" {
		cfg.World.Directory = *worldDir
	}
	if *seed != 0 {
		cfg.World.Seed = *seed
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logToFile {
		cfg.Log.ToFile = true
	}

	level := logging.INFO
	if cfg.Log.Level != "" {
		level, err = logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	if err := logging.InitLogger(level, cfg.Log.ToFile); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	logging.LogInfo("🎮 Запуск сервера Gemfall...")

	// === ХРАНИЛИЩА ===
	dir := cfg.World.GetDirectory()
	store, err := storage.NewChunkStore(dir)
	if err != nil {
		logging.LogError("❌ Хранилище чанков: %v", err)
		os.Exit(1)
	}

	players, err := openPlayerRepo(cfg, dir)
	if err != nil {
		logging.LogError("❌ Хранилище игроков: %v", err)
		os.Exit(1)
	}
	defer players.Close()

	// === МИР ===
	generator, err := gen.New(cfg.World.GetGenerator(), cfg.World.Seed)
	if err != nil {
		logging.LogError("❌ %v", err)
		os.Exit(1)
	}
	w := world.NewWorld(storage.NewChunkResolver(store, generator))
	bus := broadcast.NewBus(broadcast.DefaultCapacity)

	logging.LogInfo("🌍 Мир: директория %s, генератор %s, сид %d",
		dir, cfg.World.GetGenerator(), cfg.World.Seed)

	// === ИНТЕГРАЦИИ ===
	exporter := metrics.NewExporter(bus, w)
	exporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	defer exporter.Stop()

	if cfg.EventBus.URL != "" {
		natsExport, err := eventbus.NewExporter(cfg.EventBus.URL, cfg.EventBus.Subject, cfg.EventBus.UseGzipCompr, bus)
		if err != nil {
			logging.LogError("❌ Экспорт в NATS: %v", err)
			os.Exit(1)
		}
		defer natsExport.Close()
		logging.LogInfo("📤 Экспорт модификаций в NATS: %s", cfg.EventBus.URL)
	}

	// === СЕРВЕР ===
	srv := network.NewServer(w, bus, store, players, network.ServerConfig{
		AutosaveInterval: time.Duration(cfg.World.GetAutosaveSeconds()) * time.Second,
		Session:          network.SessionConfig{RateLimit: cfg.Server.RateLimit},
	})
	if err := srv.Start(cfg.Server.GetPort()); err != nil {
		logging.LogError("❌ %v", err)
		os.Exit(1)
	}

	// === ОЖИДАНИЕ ЗАВЕРШЕНИЯ ===
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.LogInfo("⏳ Остановка сервера: сессии завершаются, мир сохраняется...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logging.LogError("Остановка с ошибкой: %v", err)
	}
	logging.LogInfo("✅ Сервер остановлен")
}

// openPlayerRepo выбирает backend хранилища игроков по конфигурации.
func openPlayerRepo(cfg *config.Config, dataDir string) (storage.PlayerRepo, error) {
	switch cfg.Storage.GetPlayerBackend() {
	case "redis":
		rc := storage.DefaultRedisConfig()
		if cfg.Storage.RedisAddr != "" {
			rc.Addr = cfg.Storage.RedisAddr
		}
		return storage.NewRedisPlayerRepo(rc)
	case "maria":
		return storage.NewMariaPlayerRepo(cfg.Storage.MariaDSN)
	case "memory":
		return storage.NewMemoryPlayerRepo(), nil
	default:
		return storage.NewBadgerPlayerRepo(dataDir)
	}
}
