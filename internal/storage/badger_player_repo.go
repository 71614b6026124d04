package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/gemfall/internal/ident"
)

// BadgerPlayerRepo хранит записи игроков во встроенной BadgerDB.
// Реализация по умолчанию: не требует внешних сервисов.
type BadgerPlayerRepo struct {
	db *badger.DB
}

// NewBadgerPlayerRepo открывает BadgerDB в поддиректории dataPath.
func NewBadgerPlayerRepo(dataPath string) (*BadgerPlayerRepo, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "players"))
	opts.Logger = nil // свой логгер BadgerDB слишком шумный

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerPlayerRepo{db: db}, nil
}

func playerKey(clientID ident.ID) []byte {
	return []byte("player:" + clientID.String())
}

// Save сохраняет запись игрока.
func (r *BadgerPlayerRepo) Save(ctx context.Context, clientID ident.ID, rec PlayerRecord) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(playerKey(clientID), encodePlayerRecord(rec))
	})
	if err != nil {
		return fmt.Errorf("сохранение игрока %s: %w", clientID, err)
	}
	return nil
}

// Load загружает запись игрока.
func (r *BadgerPlayerRepo) Load(ctx context.Context, clientID ident.ID) (PlayerRecord, error) {
	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(playerKey(clientID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("чтение игрока %s: %w", clientID, err)
	}
	return decodePlayerRecord(data)
}

// Delete удаляет запись игрока.
func (r *BadgerPlayerRepo) Delete(ctx context.Context, clientID ident.ID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(playerKey(clientID))
	})
}

// Close закрывает базу.
func (r *BadgerPlayerRepo) Close() error {
	return r.db.Close()
}
