// Package storage — адаптер персистентности: чанки на файловой системе,
// персонажи игроков в key/value хранилище (Badger по умолчанию,
// Redis или MariaDB по конфигурации).
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
	"github.com/annel0/gemfall/internal/world/gen"
)

// ErrNotFound возвращается, когда записи нет: для чанка это сигнал
// сгенерировать его заново, для игрока — завести нового.
var ErrNotFound = errors.New("запись не найдена")

// ChunkStore хранит чанки файлами <worldDir>/<x>_<y>.chunk.
type ChunkStore struct {
	dir string
}

// NewChunkStore создаёт хранилище чанков в указанной директории.
func NewChunkStore(dir string) (*ChunkStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию мира %s: %w", dir, err)
	}
	return &ChunkStore{dir: dir}, nil
}

func (cs *ChunkStore) chunkPath(coords vec.ChunkPoint) string {
	return filepath.Join(cs.dir, fmt.Sprintf("%d_%d.chunk", coords.X, coords.Y))
}

// LoadChunk читает чанк с диска. Отсутствующий файл — ErrNotFound.
func (cs *ChunkStore) LoadChunk(coords vec.ChunkPoint) (*world.Chunk, error) {
	data, err := os.ReadFile(cs.chunkPath(coords))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение чанка %d_%d: %w", coords.X, coords.Y, err)
	}

	chunk, err := world.DeserializeChunk(data)
	if err != nil {
		return nil, fmt.Errorf("декодирование чанка %d_%d: %w", coords.X, coords.Y, err)
	}
	return chunk, nil
}

// SaveChunk записывает чанк на диск и сбрасывает его флаг изменений.
func (cs *ChunkStore) SaveChunk(coords vec.ChunkPoint, chunk *world.Chunk) error {
	if err := os.WriteFile(cs.chunkPath(coords), chunk.Serialize(), 0644); err != nil {
		return fmt.Errorf("запись чанка %d_%d: %w", coords.X, coords.Y, err)
	}
	chunk.ClearDirty()
	return nil
}

// ChunkResolver — источник чанков для мира: диск, затем генератор.
type ChunkResolver struct {
	store *ChunkStore
	gen   gen.Generator
}

// NewChunkResolver связывает файловое хранилище и генератор.
func NewChunkResolver(store *ChunkStore, generator gen.Generator) *ChunkResolver {
	return &ChunkResolver{store: store, gen: generator}
}

// ResolveChunk реализует world.ChunkSource: сперва диск, затем генерация.
// Ошибки чтения/декодирования всплывают, отсутствие файла — нет.
func (r *ChunkResolver) ResolveChunk(coords vec.ChunkPoint) (*world.Chunk, error) {
	chunk, err := r.store.LoadChunk(coords)
	if err == nil {
		return chunk, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return r.gen.Generate(coords), nil
}
