package httpapi

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// handleStatusWS implements GET /api/ws/status: a lightweight lifecycle-only
// stream for clients that only need session_status/processing_status/
// session_created|updated|deleted events, not per-session output.
func (s *Server) handleStatusWS(c *gin.Context) {
	sc, err := newSafeConn(c.Writer, c.Request)
	if err != nil {
		slog.Warn("[httpapi] status ws upgrade failed", "error", err)
		return
	}
	defer sc.close()

	sub := s.hub.Bus().Status().Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	go sc.pingLoop(done)
	defer stop()

	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		for {
			select {
			case item, ok := <-sub.Receive():
				if !ok {
					return
				}
				if err := sc.writeMessage(websocket.TextMessage, mustJSON(item)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[httpapi] status ws handler recovered", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	// The status WS is output-only from the server's perspective; it still
	// runs the read pump so pong frames are processed and a client close is
	// observed promptly.
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			break
		}
	}
	stop()
	sub.Close()
	<-outDone
}
