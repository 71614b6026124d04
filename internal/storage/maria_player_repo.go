package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// MariaPlayerRepo хранит записи игроков в MariaDB/MySQL. В отличие от
// key/value реализаций поля разложены по колонкам: селекторы внешности
// лежат как их 32-битные дискриминанты.
type MariaPlayerRepo struct {
	db *sql.DB
}

// NewMariaPlayerRepo подключается по DSN и создаёт таблицу при необходимости.
func NewMariaPlayerRepo(dsn string) (*MariaPlayerRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("открытие MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaPlayerRepo{db: db}
	if err := repo.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MariaPlayerRepo) ensureSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS players (
			client_id         VARCHAR(32)  NOT NULL PRIMARY KEY,
			entity_id         VARBINARY(16) NOT NULL,
			tile_x            INT          NOT NULL,
			tile_y            INT          NOT NULL,
			hair_style        INT UNSIGNED NOT NULL,
			clothing_colour   INT UNSIGNED NOT NULL,
			skin_colour       INT UNSIGNED NOT NULL,
			hair_colour       INT UNSIGNED NOT NULL,
			has_running_shoes TINYINT(1)   NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("создание таблицы players: %w", err)
	}
	return nil
}

// Save сохраняет запись игрока (upsert по client-id).
func (r *MariaPlayerRepo) Save(ctx context.Context, clientID ident.ID, rec PlayerRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players
			(client_id, entity_id, tile_x, tile_y, hair_style, clothing_colour, skin_colour, hair_colour, has_running_shoes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			entity_id = VALUES(entity_id),
			tile_x = VALUES(tile_x),
			tile_y = VALUES(tile_y),
			hair_style = VALUES(hair_style),
			clothing_colour = VALUES(clothing_colour),
			skin_colour = VALUES(skin_colour),
			hair_colour = VALUES(hair_colour),
			has_running_shoes = VALUES(has_running_shoes)`,
		clientID.String(), rec.EntityID[:], rec.Pos.X, rec.Pos.Y,
		uint32(rec.HairStyle), uint32(rec.ClothingColour),
		uint32(rec.SkinColour), uint32(rec.HairColour), rec.HasRunningShoes)
	if err != nil {
		return fmt.Errorf("сохранение игрока %s в MariaDB: %w", clientID, err)
	}
	return nil
}

// Load загружает запись игрока.
func (r *MariaPlayerRepo) Load(ctx context.Context, clientID ident.ID) (PlayerRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_id, tile_x, tile_y, hair_style, clothing_colour, skin_colour, hair_colour, has_running_shoes
		FROM players WHERE client_id = ?`, clientID.String())

	var (
		entityID                        []byte
		x, y                            int32
		hairStyle, clothing, skin, hair uint32
		shoes                           bool
	)
	err := row.Scan(&entityID, &x, &y, &hairStyle, &clothing, &skin, &hair, &shoes)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, fmt.Errorf("чтение игрока %s из MariaDB: %w", clientID, err)
	}

	rec := PlayerRecord{
		Pos:             vec.TilePoint{X: x, Y: y},
		HairStyle:       world.HairStyle(hairStyle),
		ClothingColour:  world.ClothingColour(clothing),
		SkinColour:      world.SkinColour(skin),
		HairColour:      world.HairColour(hair),
		HasRunningShoes: shoes,
	}
	copy(rec.EntityID[:], entityID)
	return rec, nil
}

// Delete удаляет запись игрока.
func (r *MariaPlayerRepo) Delete(ctx context.Context, clientID ident.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE client_id = ?`, clientID.String())
	return err
}

// Close закрывает пул подключений.
func (r *MariaPlayerRepo) Close() error {
	return r.db.Close()
}
