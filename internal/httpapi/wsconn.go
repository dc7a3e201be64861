package httpapi

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive and framing limits shared by every WebSocket surface this server
// exposes, matching the embedded desktop pane-streaming hub's constants.
const (
	wsWriteDeadline      = 5 * time.Second
	wsReadDeadline       = 90 * time.Second
	wsPingInterval       = 30 * time.Second
	wsMaxReadMessageSize = 32 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
}

// safeConn wraps one WebSocket connection with a serializing write lock and
// deadline bookkeeping. The desktop hub this server also runs keeps one
// shared connection and replaces it on reconnect; here every client gets its
// own safeConn, so the pattern is simplified to per-connection state with no
// "is this still current" check.
type safeConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSafeConn(w http.ResponseWriter, r *http.Request) (*safeConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(wsMaxReadMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})
	return &safeConn{conn: conn}, nil
}

// writeMessage serializes writes behind writeMu with a bounded deadline,
// closing the connection if the deadline itself cannot be set.
func (c *safeConn) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
		c.close()
		return err
	}
	err := c.conn.WriteMessage(messageType, data)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		c.close()
	}
	return err
}

func (c *safeConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
		c.close()
		return err
	}
	err := c.conn.WriteJSON(v)
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		c.close()
	}
	return err
}

func (c *safeConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// pingLoop sends periodic keepalive pings until done is closed or a write
// fails, at which point it closes the connection so the read pump's blocking
// ReadMessage call returns and the handler can clean up.
func (c *safeConn) pingLoop(done <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[httpapi] ws pingLoop recovered", "panic", rec, "stack", string(debug.Stack()))
			c.close()
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
