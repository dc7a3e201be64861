package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"agenthub/internal/agentmsg"
	"agenthub/internal/bus"
)

// mobileOutboundCapacity bounds the per-client outbound frame queue. A
// client that can't keep up gets its oldest queued frame dropped rather than
// letting the queue (and the fan-out goroutines feeding it) grow unbounded.
const mobileOutboundCapacity = 256

// clientFrame is an inbound frame from a mobile client.
type clientFrame struct {
	Type      string              `json:"type"`
	Token     string              `json:"token,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Content   jsoniter.RawMessage `json:"content,omitempty"`
}

// mobileClient is one multiplexed mobile connection's state: its
// authentication flag, its per-session subscription set, and the single
// outbound queue every producer (status fan-out, session fan-out, direct
// replies) enqueues onto so a lone writer goroutine owns conn writes.
type mobileClient struct {
	sc            *safeConn
	authenticated atomic.Bool
	outbound      chan map[string]any

	subsMu sync.Mutex
	subs   map[string]*bus.Subscription
}

func newMobileClient(sc *safeConn) *mobileClient {
	return &mobileClient{
		sc:       sc,
		outbound: make(chan map[string]any, mobileOutboundCapacity),
		subs:     make(map[string]*bus.Subscription),
	}
}

func (mc *mobileClient) enqueue(frame map[string]any) {
	select {
	case mc.outbound <- frame:
		return
	default:
	}
	select {
	case <-mc.outbound:
	default:
	}
	select {
	case mc.outbound <- frame:
	default:
	}
}

// handleMobileWS implements GET /api/ws/mobile: the multiplexed per-client
// connection carrying auth, subscription management, message send/interrupt,
// and history replay, per §4.6.
func (s *Server) handleMobileWS(c *gin.Context) {
	sc, err := newSafeConn(c.Writer, c.Request)
	if err != nil {
		slog.Warn("[httpapi] mobile ws upgrade failed", "error", err)
		return
	}
	defer sc.close()

	mc := newMobileClient(sc)

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	defer stop()

	go sc.pingLoop(done)

	statusSub := s.hub.Bus().Status().Subscribe()
	defer statusSub.Close()
	go s.relayStatusToMobile(mc, statusSub, done)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame, ok := <-mc.outbound:
				if !ok {
					return
				}
				if err := mc.sc.writeMessage(websocket.TextMessage, mustJSON(frame)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[httpapi] mobile ws handler recovered", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	for {
		msgType, payload, err := sc.conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			mc.enqueue(map[string]any{"type": "error", "message": "invalid JSON"})
			continue
		}
		s.handleMobileFrame(mc, frame)
	}

	stop()
	mc.subsMu.Lock()
	for _, sub := range mc.subs {
		sub.Close()
	}
	mc.subsMu.Unlock()
	statusSub.Close()
	close(mc.outbound)
	<-writerDone
}

func (s *Server) handleMobileFrame(mc *mobileClient, frame clientFrame) {
	switch frame.Type {
	case "auth":
		s.handleMobileAuth(mc, frame)
	case "subscribe":
		s.handleMobileSubscribe(mc, frame)
	case "unsubscribe":
		s.handleMobileUnsubscribe(mc, frame)
	case "send_message":
		s.handleMobileSendMessage(mc, frame)
	case "interrupt":
		s.handleMobileInterrupt(mc, frame)
	default:
		mc.enqueue(map[string]any{"type": "error", "message": "unknown frame type"})
	}
}

func (s *Server) handleMobileAuth(mc *mobileClient, frame clientFrame) {
	ok, reason := s.hub.Auth().Check(frame.Token)
	if !ok {
		mc.enqueue(map[string]any{"type": "auth_error", "message": reason})
		return
	}
	mc.authenticated.Store(true)
	mc.enqueue(map[string]any{"type": "auth_success"})
	s.sendSessionList(mc)
}

func (s *Server) sendSessionList(mc *mobileClient) {
	ctx := s.serverContext()
	views, err := s.hub.ListSessions(ctx)
	if err != nil {
		mc.enqueue(map[string]any{"type": "error", "message": err.Error()})
		return
	}
	sessions := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		sessions = append(sessions, toSessionResponse(v))
	}
	folders, err := s.hub.Store().LoadFolders(ctx)
	if err != nil {
		slog.Warn("[httpapi] failed to load folders for session_list", "error", err)
		folders = nil
	}
	mc.enqueue(map[string]any{"type": "session_list", "sessions": sessions, "folders": folders})
}

func (s *Server) handleMobileSubscribe(mc *mobileClient, frame clientFrame) {
	if !mc.authenticated.Load() {
		mc.enqueue(map[string]any{"type": "error", "message": "not authenticated"})
		return
	}
	id := frame.SessionID
	if id == "" {
		return
	}

	mc.subsMu.Lock()
	if _, exists := mc.subs[id]; exists {
		mc.subsMu.Unlock()
		return
	}
	sub := s.hub.Bus().Session(id).Subscribe()
	mc.subs[id] = sub
	mc.subsMu.Unlock()

	go s.relaySessionToMobile(mc, id, sub, nil)

	s.sendChatHistory(mc, id)
	mc.enqueue(map[string]any{"type": "session_status", "sessionId": id, "running": s.hub.IsRunning(id)})
}

func (s *Server) sendChatHistory(mc *mobileClient, id string) {
	data, found, err := s.hub.ChatHistory(s.serverContext(), id)
	if err != nil || !found {
		mc.enqueue(map[string]any{"type": "chat_history", "sessionId": id, "messages": []any{}})
		return
	}
	messages := parseChatHistory(data)
	mc.enqueue(map[string]any{"type": "chat_history", "sessionId": id, "messages": messages})
}

// parseChatHistory interprets persisted scrollback as either a JSON array of
// messages or a newline-delimited sequence of agent message lines.
func parseChatHistory(data []byte) []any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []any{}
	}
	if trimmed[0] == '[' {
		var arr []any
		if err := json.Unmarshal(trimmed, &arr); err == nil {
			return arr
		}
	}
	var out []any
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if msg, ok := agentmsg.Parse(line); ok {
			out = append(out, msg)
		} else {
			out = append(out, string(line))
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func (s *Server) handleMobileUnsubscribe(mc *mobileClient, frame clientFrame) {
	id := frame.SessionID
	mc.subsMu.Lock()
	sub, ok := mc.subs[id]
	delete(mc.subs, id)
	mc.subsMu.Unlock()
	if ok {
		sub.Close()
	}
}

func (s *Server) handleMobileSendMessage(mc *mobileClient, frame clientFrame) {
	if !mc.authenticated.Load() {
		mc.enqueue(map[string]any{"type": "error", "message": "not authenticated"})
		return
	}
	id := frame.SessionID
	content := string(bytes.Trim(frame.Content, `"`))
	if err := s.hub.WriteSession(id, append([]byte(content), '\n')); err != nil {
		mc.enqueue(map[string]any{"type": "error", "message": err.Error()})
	}
}

func (s *Server) handleMobileInterrupt(mc *mobileClient, frame clientFrame) {
	if !mc.authenticated.Load() {
		return
	}
	if err := s.hub.InterruptSession(frame.SessionID); err != nil {
		mc.enqueue(map[string]any{"type": "error", "message": err.Error()})
	}
}

// relayStatusToMobile forwards global status-bus items to an authenticated
// client's outbound queue, reshaping each into the client frame the spec's
// server-initiated frame table names.
func (s *Server) relayStatusToMobile(mc *mobileClient, sub *bus.Subscription, done <-chan struct{}) {
	for {
		select {
		case item, ok := <-sub.Receive():
			if !ok {
				return
			}
			if !mc.authenticated.Load() {
				continue
			}
			fields, ok := item.Payload.(map[string]any)
			if !ok {
				continue
			}
			frame := map[string]any{"type": item.Kind}
			for k, v := range fields {
				frame[k] = v
			}
			mc.enqueue(frame)
		case <-done:
			return
		}
	}
}

// relaySessionToMobile forwards one subscribed session's broadcast items as
// chat_message frames scoped to that session.
func (s *Server) relaySessionToMobile(mc *mobileClient, sessionID string, sub *bus.Subscription, done <-chan struct{}) {
	for {
		select {
		case item, ok := <-sub.Receive():
			if !ok {
				return
			}
			frame := map[string]any{"type": "chat_message", "sessionId": sessionID}
			switch payload := item.Payload.(type) {
			case agentmsg.Message:
				frame["message"] = payload
			case []byte:
				if item.Kind == "pty-output" {
					continue // raw PTY bytes have no place in the chat-message frame
				}
				frame["message"] = string(payload)
			default:
				frame["message"] = payload
			}
			mc.enqueue(frame)
		case <-done:
			return
		}
	}
}

func (s *Server) serverContext() context.Context {
	return context.Background()
}
