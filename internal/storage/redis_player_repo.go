package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/gemfall/internal/ident"
)

// RedisConfig — настройки подключения к Redis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "gemfall:player:",
	}
}

// RedisPlayerRepo хранит записи игроков в Redis. Полезен, когда несколько
// инстансов сервера делят один пул игроков.
type RedisPlayerRepo struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPlayerRepo подключается к Redis и проверяет соединение.
func NewRedisPlayerRepo(cfg *RedisConfig) (*RedisPlayerRepo, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis %s: %w", cfg.Addr, err)
	}

	return &RedisPlayerRepo{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *RedisPlayerRepo) key(clientID ident.ID) string {
	return r.keyPrefix + clientID.String()
}

// Save сохраняет запись игрока. Записи бессрочны: персонаж живёт между
// сессиями.
func (r *RedisPlayerRepo) Save(ctx context.Context, clientID ident.ID, rec PlayerRecord) error {
	if err := r.client.Set(ctx, r.key(clientID), encodePlayerRecord(rec), 0).Err(); err != nil {
		return fmt.Errorf("сохранение игрока %s в Redis: %w", clientID, err)
	}
	return nil
}

// Load загружает запись игрока.
func (r *RedisPlayerRepo) Load(ctx context.Context, clientID ident.ID) (PlayerRecord, error) {
	data, err := r.client.Get(ctx, r.key(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("чтение игрока %s из Redis: %w", clientID, err)
	}
	return decodePlayerRecord(data)
}

// Delete удаляет запись игрока.
func (r *RedisPlayerRepo) Delete(ctx context.Context, clientID ident.ID) error {
	return r.client.Del(ctx, r.key(clientID)).Err()
}

// Close закрывает подключение.
func (r *RedisPlayerRepo) Close() error {
	return r.client.Close()
}
