// Package client — эталонный клиент: зеркало состояния мира, предсказание
// движения и сверка с сервером. Используется утилитой cmd/client и как
// справочная реализация клиентской стороны протокола.
package client

import (
	"sync"

	"github.com/annel0/gemfall/internal/vec"
)

// Predictor сопоставляет отправленные запросы движения с ответами сервера.
// Клиент применяет шаг немедленно; подтверждение снимает запись, расхождение
// откатывает позицию к серверной. Ответы могут приходить в любом порядке.
type Predictor struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]vec.TilePoint
}

// NewPredictor создаёт предиктор с пустым журналом.
func NewPredictor() *Predictor {
	return &Predictor{pending: make(map[uint32]vec.TilePoint)}
}

// Predict регистрирует предсказанный исход шага и выдаёт номер запроса.
// Номера строго растут в рамках сессии.
func (p *Predictor) Predict(predicted vec.TilePoint) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.next
	p.next++
	p.pending[n] = predicted
	return n
}

// Pending возвращает число неподтверждённых шагов.
func (p *Predictor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Reconciliation — итог сверки одного ответа сервера.
type Reconciliation struct {
	// Snap требует принудительно перенести сущность в Pos: сервер не
	// согласился с предсказанием, и все последующие предсказания,
	// построенные на нём, тоже неверны.
	Snap bool
	Pos  vec.TilePoint
}

// Reconcile сопоставляет ответ сервера с журналом предсказаний.
// Совпадение тихо снимает запись. Расхождение (или ответ на неизвестный
// номер) сбрасывает весь журнал: позиции оставшихся записей выведены из
// ошибочной базы и доверия не заслуживают.
func (p *Predictor) Reconcile(requestNumber uint32, actual vec.TilePoint) Reconciliation {
	p.mu.Lock()
	defer p.mu.Unlock()

	predicted, known := p.pending[requestNumber]
	delete(p.pending, requestNumber)

	if known && predicted == actual {
		return Reconciliation{Pos: actual}
	}

	p.pending = make(map[uint32]vec.TilePoint)
	return Reconciliation{Snap: true, Pos: actual}
}
