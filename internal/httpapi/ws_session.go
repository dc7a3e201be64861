package httpapi

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"agenthub/internal/agentmsg"
	"agenthub/internal/bus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// resizeControlMsg is the only inbound Text control frame the per-session WS
// recognizes; anything else that doesn't parse as this shape is forwarded as
// input instead.
type resizeControlMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// handleSessionWS implements GET /api/ws/{id}: a raw bidirectional stream
// mirroring one session's output and accepting input, per §4.5.
func (s *Server) handleSessionWS(c *gin.Context) {
	id := c.Param("id")
	sc, err := newSafeConn(c.Writer, c.Request)
	if err != nil {
		slog.Warn("[httpapi] session ws upgrade failed", "session", id, "error", err)
		return
	}
	defer sc.close()

	sessionSub := s.hub.Bus().Session(id).Subscribe()
	defer sessionSub.Close()
	statusSub := s.hub.Bus().Status().Subscribe()
	defer statusSub.Close()

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
			case item, ok := <-sessionSub.Receive():
				if !ok {
					return
				}
				if err := s.writeSessionItem(sc, item); err != nil {
					return
				}
			case item, ok := <-statusSub.Receive():
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
			slog.Error("[httpapi] session ws handler recovered", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	for {
		msgType, payload, err := sc.conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			s.forwardSessionInput(id, payload)
		case websocket.TextMessage:
			var resize resizeControlMsg
			if json.Unmarshal(payload, &resize) == nil && resize.Type == "resize" {
				_ = s.hub.ResizeSession(id, resize.Cols, resize.Rows)
				continue
			}
			s.forwardSessionInput(id, payload)
		}
	}

	// The read pump exited (client disconnected or errored); tear down the
	// outbound fan-out goroutine explicitly rather than relying on deferred
	// cleanup, which runs only after this function returns.
	stop()
	sessionSub.Close()
	statusSub.Close()
	<-outDone
}

// forwardSessionInput writes inbound bytes to the session's stdin.
// WriteSession itself re-broadcasts them on the session's channel and fires
// the UI input-echo hook, so every observer — remote or embedded — mirrors
// what was typed.
func (s *Server) forwardSessionInput(id string, payload []byte) {
	if err := s.hub.WriteSession(id, payload); err != nil {
		slog.Debug("[httpapi] session ws write failed", "session", id, "error", err)
	}
}

// writeSessionItem frames a bus.Item as Binary (PTY byte chunks) or Text
// (everything else: JSON lines, parsed messages, echoed input).
func (s *Server) writeSessionItem(sc *safeConn, item bus.Item) error {
	switch payload := item.Payload.(type) {
	case []byte:
		if item.Kind == "pty-output" {
			return sc.writeMessage(websocket.BinaryMessage, payload)
		}
		return sc.writeMessage(websocket.TextMessage, payload)
	case agentmsg.Message:
		return sc.writeMessage(websocket.TextMessage, payload.Raw)
	default:
		return sc.writeMessage(websocket.TextMessage, mustJSON(item))
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"encode failure"}`)
	}
	return b
}
