// Package ident выпускает 128-битные непрозрачные идентификаторы:
// случайные для клиентов и упорядоченные по времени для сущностей.
package ident

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// ID — 128-битный идентификатор. Сравнивается побайтово,
// во внешнем мире представляется как base64 без набивки.
type ID [16]byte

// Zero — нулевой идентификатор, используется как «отсутствует».
var Zero ID

// NewRandom выпускает случайный идентификатор (UUID v4).
// Используется для client-id: это bearer-токен, угадать его нельзя.
func NewRandom() ID {
	return ID(uuid.New())
}

// NewTimeOrdered выпускает идентификатор с временным префиксом (UUID v7).
// Удобен для сущностей: сортировка по id совпадает с порядком создания.
func NewTimeOrdered() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// V7 падает только при отказе источника энтропии; v4 использует тот же
		// источник и паникует сам, так что ветка практически недостижима.
		return ID(uuid.New())
	}
	return ID(u)
}

// IsZero сообщает, является ли идентификатор нулевым.
func (id ID) IsZero() bool {
	return id == Zero
}

// String возвращает URL-безопасную base64-форму без набивки.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Parse разбирает base64-форму идентификатора.
func Parse(s string) (ID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("некорректный идентификатор %q: %w", s, err)
	}
	if len(raw) != len(ID{}) {
		return Zero, fmt.Errorf("некорректная длина идентификатора %q: %d байт", s, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// MarshalText реализует encoding.TextMarshaler (для JSON-экспорта событий).
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(bytes.TrimSpace(text)))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
