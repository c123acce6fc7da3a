package transport

import (
	"io"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a gorilla websocket connection to the byte-oriented
// Conn interface. Each Write sends one message; Read drains messages in
// order, spanning frame boundaries transparently.
type WebSocketConn struct {
	id     string
	ws     *websocket.Conn
	reader io.Reader // unread remainder of the current message
}

// NewWebSocketConn wraps an upgraded websocket connection.
func NewWebSocketConn(id string, ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{id: id, ws: ws}
}

func (c *WebSocketConn) ConnectionID() string { return c.id }

func (c *WebSocketConn) Kind() Kind { return KindWebSockets }

func (c *WebSocketConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Message exhausted, move to the next one.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WebSocketConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WebSocketConn) Close() error {
	// Best effort close handshake before dropping the socket.
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
