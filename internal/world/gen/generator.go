// Package gen содержит генераторы ландшафта. Генератор — чистая функция
// координат чанка; реализации регистрируются по имени и создаются
// фабрикой от сида мира.
package gen

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// Generator детерминированно порождает чанки: один и тот же сид и
// координаты всегда дают байтово идентичный чанк.
type Generator interface {
	Name() string
	Generate(coords vec.ChunkPoint) *world.Chunk
}

// Factory создаёт генератор от сида мира.
type Factory func(seed int64) Generator

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register регистрирует фабрику генератора под именем.
// Повторная регистрация имени — ошибка программирования, паника.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("gen: повторная регистрация генератора %q", name))
	}
	registry[name] = f
}

// New создаёт генератор по имени из конфигурации мира.
// Неизвестное имя — фатальная ошибка для этого мира.
func New(name string, seed int64) (Generator, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("неизвестный генератор %q (доступны: %v)", name, Names())
	}
	return f(seed), nil
}

// Names возвращает отсортированный список зарегистрированных генераторов.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
