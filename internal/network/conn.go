// Package network — WebSocket-транспорт сервера: рамки сообщений,
// приём подключений и сессии клиентов.
package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// MaxMessageSize — максимальный размер одного сообщения на проводе.
// Самое крупное штатное сообщение — ProvideChunk, около 1 КиБ; лимит
// с большим запасом отсекает мусорные длины.
const MaxMessageSize = 1 << 20

// Conn — двунаправленный поток сообщений. Реализации обязаны допускать
// конкурентный WriteMsg; ReadMsg вызывается из одной горутины.
type Conn interface {
	// ReadMsg блокирующе читает одно сообщение. Штатное закрытие — io.EOF.
	ReadMsg() ([]byte, error)
	// WriteMsg отправляет одно сообщение целиком.
	WriteMsg(data []byte) error
	Close() error
	RemoteAddr() string
}

// wsConn оборачивает WebSocket. Каждое сообщение протокола едет отдельным
// бинарным кадром с префиксом длины u32 little-endian: рамка не зависит
// от транспорта, и тот же формат пригоден для сырого TCP.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn оборачивает установленное WebSocket-соединение.
func NewWSConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMsg() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			// Текстовые и прочие кадры молча пропускаются.
			continue
		}
		if len(data) < 4 {
			return nil, fmt.Errorf("кадр короче префикса длины: %d байт", len(data))
		}
		n := binary.LittleEndian.Uint32(data)
		if n > MaxMessageSize {
			return nil, fmt.Errorf("сообщение длиной %d превышает лимит %d", n, MaxMessageSize)
		}
		if int(n) != len(data)-4 {
			return nil, fmt.Errorf("длина в префиксе %d не совпадает с кадром %d", n, len(data)-4)
		}
		return data[4:], nil
	}
}

func (c *wsConn) WriteMsg(data []byte) error {
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
