// Package eventbus — экспорт модификаций мира во внешний NATS.
// Внутренняя доставка сессиям идёт через пакет broadcast; экспорт —
// необязательная интеграция для внешних потребителей (аналитика,
// карты, боты). Выключен, пока в конфигурации не задан URL.
package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
	nats "github.com/nats-io/nats.go"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/logging"
	"github.com/annel0/gemfall/internal/world"
)

// Envelope — JSON-обёртка экспортируемой модификации.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Exporter пересылает модификации мира в NATS.
type Exporter struct {
	nc       *nats.Conn
	subject  string
	compress bool
	sub      *broadcast.Subscriber
	quit     chan struct{}
	done     chan struct{}
}

// NewExporter подключается к NATS и подписывается на шину.
// subject по умолчанию — "gemfall.modifications".
func NewExporter(url, subject string, compress bool, bus *broadcast.Bus) (*Exporter, error) {
	if subject == "" {
		subject = "gemfall.modifications"
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	e := &Exporter{
		nc:       nc,
		subject:  subject,
		compress: compress,
		sub:      bus.Subscribe(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.loop()
	return e, nil
}

func modificationType(mod world.Modification) string {
	switch mod.(type) {
	case world.TileChanged:
		return "tile_changed"
	case world.EntityMoved:
		return "entity_moved"
	case world.EntityAdded:
		return "entity_added"
	case world.EntityRemoved:
		return "entity_removed"
	case world.BombPlaced:
		return "bomb_placed"
	case world.BombsDetonated:
		return "bombs_detonated"
	default:
		return "unknown"
	}
}

func (e *Exporter) loop() {
	defer close(e.done)

	for {
		select {
		case mod := <-e.sub.C():
			if n := e.sub.TakeLagged(); n > 0 {
				logging.LogWarn("Экспорт в NATS отстал: пропущено %d модификаций", n)
			}
			if err := e.publish(mod); err != nil {
				logging.LogWarn("Экспорт модификации в NATS: %v", err)
			}
		case <-e.quit:
			return
		}
	}
}

func (e *Exporter) publish(mod world.Modification) error {
	env := Envelope{
		Type:      modificationType(mod),
		Timestamp: time.Now().UTC(),
		Payload:   mod,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := e.subject
	if e.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("gzip close: %w", err)
		}
		data = buf.Bytes()
		subject += ".gz"
	}

	return e.nc.Publish(subject, data)
}

// Close останавливает экспорт и закрывает подключение.
func (e *Exporter) Close() {
	close(e.quit)
	<-e.done
	e.sub.Unsubscribe()
	e.nc.Drain()
}
