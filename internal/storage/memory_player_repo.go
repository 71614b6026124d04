package storage

import (
	"context"
	"sync"

	"github.com/annel0/gemfall/internal/ident"
)

// MemoryPlayerRepo — реализация в памяти для тестов и локальной отладки.
type MemoryPlayerRepo struct {
	mu      sync.RWMutex
	records map[ident.ID]PlayerRecord
}

// NewMemoryPlayerRepo создаёт пустое хранилище в памяти.
func NewMemoryPlayerRepo() *MemoryPlayerRepo {
	return &MemoryPlayerRepo{records: make(map[ident.ID]PlayerRecord)}
}

// Save сохраняет запись игрока.
func (r *MemoryPlayerRepo) Save(ctx context.Context, clientID ident.ID, rec PlayerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[clientID] = rec
	return nil
}

// Load загружает запись игрока.
func (r *MemoryPlayerRepo) Load(ctx context.Context, clientID ident.ID) (PlayerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[clientID]
	if !ok {
		return PlayerRecord{}, ErrNotFound
	}
	return rec, nil
}

// Delete удаляет запись игрока.
func (r *MemoryPlayerRepo) Delete(ctx context.Context, clientID ident.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, clientID)
	return nil
}

// Close ничего не освобождает.
func (r *MemoryPlayerRepo) Close() error { return nil }

// Len возвращает число записей (для тестов).
func (r *MemoryPlayerRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
