package common

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rsockets2/rsockets2/internal/frame"
)

// WebSocketConn carries one frame per binary websocket message
type WebSocketConn struct {
	*websocket.Conn
	writeM sync.Mutex
}

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: conn}
}

func (ws *WebSocketConn) WriteFrame(s *frame.Segments) error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	w, err := ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	for _, chunk := range s.Chunks() {
		if _, err = w.Write(chunk); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

// ReadFrame skips any non-binary message
func (ws *WebSocketConn) ReadFrame() ([]byte, error) {
	for {
		t, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if t == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (ws *WebSocketConn) Close() error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	_ = ws.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return ws.Conn.Close()
}

func (ws *WebSocketConn) SetDeadline(t time.Time) error {
	err := ws.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}
