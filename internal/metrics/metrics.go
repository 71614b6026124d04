// Package metrics — экспорт счётчиков сервера в Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/gemfall/internal/broadcast"
	"github.com/annel0/gemfall/internal/logging"
	"github.com/annel0/gemfall/internal/world"
)

// Exporter управляет HTTP-эндпоинтом Prometheus и периодически обновляет
// Gauge/Counter из счётчиков шины и мира.
type Exporter struct {
	bus   *broadcast.Bus
	world *world.World
	quit  chan struct{}
	done  chan struct{}

	published      prometheus.Counter
	dropped        prometheus.Counter
	subscribers    prometheus.Gauge
	residentChunks prometheus.Gauge
}

// NewExporter создаёт экспортер, но не запускает HTTP-сервер.
func NewExporter(bus *broadcast.Bus, w *world.World) *Exporter {
	e := &Exporter{
		bus:   bus,
		world: w,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gemfall",
			Name:      "modifications_published_total",
			Help:      "Общее число опубликованных модификаций мира.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gemfall",
			Name:      "modifications_dropped_total",
			Help:      "Модификаций, вытесненных из буферов отставших подписчиков.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gemfall",
			Name:      "bus_subscribers",
			Help:      "Число активных подписчиков шины (сессий).",
		}),
		residentChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gemfall",
			Name:      "resident_chunks",
			Help:      "Число чанков, резидентных в памяти.",
		}),
	}

	prometheus.MustRegister(e.published, e.dropped, e.subscribers, e.residentChunks)
	return e
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе
// (например, ":2112"). Метод неблокирующий.
func (e *Exporter) StartHTTP(addr string) {
	go func() {
		logging.LogInfo("Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logging.LogError("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	go e.loop()
}

// Stop останавливает обновление метрик.
func (e *Exporter) Stop() {
	close(e.quit)
	<-e.done
}

func (e *Exporter) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(e.done)

	// Counter растёт только на дельту от прошлого снятия.
	var prev broadcast.Stats

	for {
		select {
		case <-ticker.C:
			stats := e.bus.Metrics()
			if d := stats.Published - prev.Published; d > 0 {
				e.published.Add(float64(d))
			}
			if d := stats.Dropped - prev.Dropped; d > 0 {
				e.dropped.Add(float64(d))
			}
			e.subscribers.Set(float64(stats.Subs))
			e.residentChunks.Set(float64(e.world.ResidentChunks()))
			prev = stats
		case <-e.quit:
			return
		}
	}
}
