package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/gemfall/internal/client"
	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// Утилита-зонд: подключается к серверу, случайно бродит по миру и печатает
// собранные самоцветы. Полезна для ручной проверки сервера и как пример
// использования пакета client.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8000/", "адрес сервера")
		idStr    = flag.String("client-id", "", "идентификатор клиента (пусто — новый персонаж)")
		interval = flag.Duration("interval", 150*time.Millisecond, "пауза между попытками шага")
		duration = flag.Duration("duration", 0, "время работы (0 — до Ctrl+C)")
	)
	flag.Parse()

	var clientID *ident.ID
	if *idStr != "" {
		id, err := ident.Parse(*idStr)
		if err != nil {
			log.Fatalf("❌ Неверный client-id: %v", err)
		}
		clientID = &id
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c, err := client.Dial(ctx, *url, clientID)
	if err != nil {
		log.Fatalf("❌ Подключение: %v", err)
	}
	defer c.Close()
	log.Printf("🔌 Подключено: client-id %s, позиция %v", c.ClientID(), c.Pos())

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Соединение разорвано: %v", err)
		}
		cancel()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	dirs := []vec.Direction{vec.DirUp, vec.DirDown, vec.DirLeft, vec.DirRight}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	dir := dirs[rand.Intn(len(dirs))]
	for {
		select {
		case <-ctx.Done():
			log.Printf("🏁 Итог: позиция %v, 💎 %d 🔴 %d 💍 %d",
				c.Pos(), c.Gems(world.GemEmerald), c.Gems(world.GemRuby), c.Gems(world.GemDiamond))
			return
		case <-ticker.C:
			moved, err := c.TryMove(dir)
			if err != nil {
				log.Printf("Шаг не отправлен: %v", err)
				cancel()
				continue
			}
			// Упёрлись — выбираем новое направление; изредка сворачиваем и так.
			if !moved || rand.Intn(8) == 0 {
				dir = dirs[rand.Intn(len(dirs))]
			}
		}
	}
}
