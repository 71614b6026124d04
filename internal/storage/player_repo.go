package storage

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/annel0/gemfall/internal/ident"
	"github.com/annel0/gemfall/internal/vec"
	"github.com/annel0/gemfall/internal/world"
)

// PlayerRecord — персистентная часть персонажа, ключ — client-id.
// Состав полей фиксирован протоколом хранения: позиция, селекторы
// внешности и флаг кроссовок.
type PlayerRecord struct {
	EntityID        ident.ID
	Pos             vec.TilePoint
	HairStyle       world.HairStyle
	ClothingColour  world.ClothingColour
	SkinColour      world.SkinColour
	HairColour      world.HairColour
	HasRunningShoes bool
}

// RecordOf снимает персистентную часть с живой сущности.
func RecordOf(entityID ident.ID, e *world.Entity) PlayerRecord {
	return PlayerRecord{
		EntityID:        entityID,
		Pos:             e.Pos,
		HairStyle:       e.HairStyle,
		ClothingColour:  e.ClothingColour,
		SkinColour:      e.SkinColour,
		HairColour:      e.HairColour,
		HasRunningShoes: e.HasRunningShoes,
	}
}

// Entity восстанавливает живую сущность из записи.
func (r PlayerRecord) Entity() *world.Entity {
	e := world.NewEntity(r.Pos)
	e.HairStyle = r.HairStyle
	e.ClothingColour = r.ClothingColour
	e.SkinColour = r.SkinColour
	e.HairColour = r.HairColour
	e.HasRunningShoes = r.HasRunningShoes
	if r.HasRunningShoes {
		e.BoolItems[world.BoolItemRunningShoes] = true
	}
	return e
}

// PlayerRepo — хранилище персонажей. Реализации: Badger (по умолчанию),
// Redis, MariaDB и память (тесты). Все операции допускают конкурентный
// вызов из разных сессий.
type PlayerRepo interface {
	// Save сохраняет запись игрока по client-id.
	Save(ctx context.Context, clientID ident.ID, rec PlayerRecord) error
	// Load загружает запись; отсутствие — ErrNotFound.
	Load(ctx context.Context, clientID ident.ID) (PlayerRecord, error)
	// Delete удаляет запись (сброс персонажа).
	Delete(ctx context.Context, clientID ident.ID) error
	// Close освобождает ресурсы хранилища.
	Close() error
}

// Бинарный образ записи для key/value реализаций:
// entity-id (16) + x,y (i32 LE) + четыре селектора (u32 LE) + флаг (u8).
const playerRecordSize = 16 + 8 + 16 + 1

func encodePlayerRecord(rec PlayerRecord) []byte {
	out := make([]byte, 0, playerRecordSize)
	out = append(out, rec.EntityID[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.Pos.X))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.Pos.Y))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.HairStyle))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.ClothingColour))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.SkinColour))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.HairColour))
	if rec.HasRunningShoes {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func decodePlayerRecord(data []byte) (PlayerRecord, error) {
	if len(data) != playerRecordSize {
		return PlayerRecord{}, fmt.Errorf("некорректный размер записи игрока: %d байт", len(data))
	}
	var rec PlayerRecord
	copy(rec.EntityID[:], data[:16])
	rec.Pos.X = int32(binary.LittleEndian.Uint32(data[16:]))
	rec.Pos.Y = int32(binary.LittleEndian.Uint32(data[20:]))
	rec.HairStyle = world.HairStyle(binary.LittleEndian.Uint32(data[24:]))
	rec.ClothingColour = world.ClothingColour(binary.LittleEndian.Uint32(data[28:]))
	rec.SkinColour = world.SkinColour(binary.LittleEndian.Uint32(data[32:]))
	rec.HairColour = world.HairColour(binary.LittleEndian.Uint32(data[36:]))
	rec.HasRunningShoes = data[40] != 0
	return rec, nil
}
