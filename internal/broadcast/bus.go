// Package broadcast — широковещательная шина изменений мира.
// Много издателей, много подписчиков; каждый подписчик получает
// собственный независимый вид потока с момента подписки. Издатель
// никогда не блокируется: отставший подписчик теряет старейшие события
// и получает ErrLagged с числом пропущенных.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/gemfall/internal/world"
)

// DefaultCapacity — ёмкость буфера подписчика по умолчанию.
const DefaultCapacity = 256

// LaggedError сигнализирует о переполнении буфера подписчика.
// Обработчик логирует и продолжает с ближайшего доступного события.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("подписчик отстал: пропущено %d событий", e.Skipped)
}

// Bus — шина модификаций мира.
type Bus struct {
	mu       sync.Mutex
	subs     map[int]*Subscriber
	nextID   int
	capacity int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber — личный буфер одного подписчика.
type Subscriber struct {
	bus    *Bus
	id     int
	ch     chan world.Modification
	lagged atomic.Uint64
}

// NewBus создаёт шину с указанной ёмкостью буферов подписчиков.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subs:     make(map[int]*Subscriber),
		capacity: capacity,
	}
}

// Subscribe создаёт подписчика, видящего все события с этого момента.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscriber{
		bus: b,
		id:  b.nextID,
		ch:  make(chan world.Modification, b.capacity),
	}
	b.subs[s.id] = s
	b.nextID++
	return s
}

// Publish кладёт событие в буфер каждого подписчика. Доставка синхронна:
// к возврату событие уже лежит в буферах, порядок публикаций сохраняется
// для каждого подписчика. Переполненный буфер теряет старейшее событие.
func (b *Bus) Publish(mod world.Modification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)
	for _, s := range b.subs {
		select {
		case s.ch <- mod:
			continue
		default:
		}
		// Буфер полон: выталкиваем старейшее и считаем пропуск.
		select {
		case <-s.ch:
			s.lagged.Add(1)
			b.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- mod:
		default:
			// Гонка с одновременным чтением; событие теряется у этого
			// подписчика и учитывается как пропущенное.
			s.lagged.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Stats — счётчики шины.
type Stats struct {
	Published uint64
	Dropped   uint64
	Subs      int
}

// Metrics возвращает счётчики шины.
func (b *Bus) Metrics() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Subs:      n,
	}
}

// C — канал событий подписчика для использования в select.
// После получения события проверяйте TakeLagged.
func (s *Subscriber) C() <-chan world.Modification {
	return s.ch
}

// TakeLagged атомарно снимает и возвращает накопленное число пропусков.
func (s *Subscriber) TakeLagged() uint64 {
	return s.lagged.Swap(0)
}

// Recv блокирующе получает следующее событие. Накопленные пропуски
// выдаются раньше события как *LaggedError.
func (s *Subscriber) Recv(ctx context.Context) (world.Modification, error) {
	if n := s.TakeLagged(); n > 0 {
		return nil, &LaggedError{Skipped: n}
	}
	select {
	case mod := <-s.ch:
		return mod, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe снимает подписку; буфер перестаёт пополняться.
func (s *Subscriber) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}
