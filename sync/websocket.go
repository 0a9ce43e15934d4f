package sync

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/statetree/errors"
)

// Path is where Handler is mounted and where Dial connects.
const Path = "/ws/sync"

// maxMessageSize bounds a single protocol message.
const maxMessageSize = 64 << 20

// WebSocketConn wraps gorilla/websocket.Conn to implement Conn.
type WebSocketConn struct {
	conn *websocket.Conn
}

// NewWebSocketConn adapts an established websocket connection.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	conn.SetReadLimit(maxMessageSize)
	return &WebSocketConn{conn: conn}
}

func (c *WebSocketConn) ReadJSON(v interface{}) error  { return c.conn.ReadJSON(v) }
func (c *WebSocketConn) WriteJSON(v interface{}) error { return c.conn.WriteJSON(v) }

// Close sends a normal closure frame when possible, then closes the socket.
func (c *WebSocketConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// RemoteAddr returns the peer's network address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Dial connects to a peer's sync endpoint. peer may be an http(s) or ws(s)
// base URL; Path is appended unless the URL already ends with it.
func Dial(ctx context.Context, peer string) (*WebSocketConn, error) {
	url := httpToWS(strings.TrimRight(peer, "/"))
	if !strings.HasSuffix(url, Path) {
		url += Path
	}

	dialer := websocket.Dialer{HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.WithHint(errors.Wrapf(err, "dial %s", url),
				"the peer limits how often sessions may start")
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewWebSocketConn(conn), nil
}

// httpToWS converts http(s) URLs to ws(s) URLs.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
