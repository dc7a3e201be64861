// Package hub is the orchestration facade that wires the store, registry,
// fan-out bus, process supervisors, detector, and authenticator into the
// session lifecycle operations the HTTP/WS server and the embedded desktop
// UI both call into. Neither caller talks to the lower packages directly.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthub/internal/agentmsg"
	"agenthub/internal/auth"
	"agenthub/internal/bus"
	"agenthub/internal/detector"
	"agenthub/internal/registry"
	"agenthub/internal/store"
	"agenthub/internal/supervisor"
	"agenthub/internal/terminal"
)

// outputFlushInterval/outputFlushMaxBytes tune the shared PTY output
// coalescer: a burst of small reads from a chatty child is batched into
// fewer, larger hook calls and bus sends rather than one per read.
const (
	outputFlushInterval = 16 * time.Millisecond
	outputFlushMaxBytes = 8 * 1024
)

// Agent kind values a session row may carry.
const (
	KindPTYShell  = "pty-shell"
	KindPTYAgent  = "pty-agent"
	KindJSONAgent = "json-agent"
	KindCustom    = "custom"
)

var (
	ErrSessionNotFound = errors.New("hub: session not found")
	ErrAlreadyRunning  = errors.New("hub: session already running")
	ErrEmptyCommand    = errors.New("hub: command required")
)

// Config bundles everything Hub needs at construction: the opened store, the
// data directory (used to derive the foreign-id detector's projects root),
// and the default shell for pty-shell sessions.
type Config struct {
	Store        *store.Store
	ProjectsRoot string
	DefaultShell string
}

// Hub owns the live-session coordination: registry + bus + supervisors +
// detector, backed by durable state in Store.
type Hub struct {
	store        *store.Store
	registry     *registry.Registry
	bus          *bus.Bus
	auth         *auth.Authenticator
	projectsRoot string
	defaultShell string

	mu         sync.Mutex
	processing map[string]bool
	uiHooks    UIHooks

	// outputFlusher batches raw PTY byte output across every live session
	// through one shared background loop rather than a ticker per session.
	outputFlusher *terminal.OutputFlushManager
}

// UIHooks are the events the embedded desktop UI wants mirrored, separate
// from the fan-out bus that remote clients consume. Any field may be nil.
type UIHooks struct {
	OnOutput           func(sessionID string, data []byte, line []byte)
	OnExit             func(sessionID string, kind string, code int)
	OnForeignID        func(sessionID, foreignID string)
	OnProcessing       func(sessionID string, processing bool)
	OnStatus           func(sessionID string, running bool)
	OnInputEcho        func(sessionID string, data []byte)
	OnPairingRequested func(pairingID, code, deviceName string)
	OnDevicePaired     func(deviceID, deviceName string)
}

// New constructs a Hub. Call RecoverOrphans once at startup before serving
// any requests.
func New(cfg Config, authenticator *auth.Authenticator, uiHooks UIHooks) *Hub {
	h := &Hub{
		store:        cfg.Store,
		registry:     registry.New(),
		bus:          bus.New(),
		auth:         authenticator,
		projectsRoot: cfg.ProjectsRoot,
		defaultShell: cfg.DefaultShell,
		processing:   make(map[string]bool),
		uiHooks:      uiHooks,
	}
	h.outputFlusher = terminal.NewOutputFlushManager(outputFlushInterval, outputFlushMaxBytes, h.flushOutput)
	h.outputFlusher.Start()
	return h
}

// Close stops the shared output flusher, flushing any buffered output
// first. Call once during process shutdown.
func (h *Hub) Close() {
	h.outputFlusher.Stop()
}

// flushOutput is the output flusher's emit callback: it fires the UI output
// hook and re-broadcasts the coalesced chunk on the session's bus channel.
func (h *Hub) flushOutput(sessionID string, data []byte) {
	if h.uiHooks.OnOutput != nil {
		h.uiHooks.OnOutput(sessionID, data, nil)
	}
	h.bus.Session(sessionID).Send(bus.Item{Kind: "pty-output", Payload: data})
}

// Bus exposes the fan-out bus for the HTTP/WS layer's subscription paths.
func (h *Hub) Bus() *bus.Bus { return h.bus }

// Auth exposes the authenticator for read-only checks (Check, PINConfigured)
// that don't need to persist anything. Mutating auth flows — pairing, PIN
// login, revocation — go through the Hub wrapper methods below so the
// resulting device row is persisted alongside the in-memory token table.
func (h *Hub) Auth() *auth.Authenticator { return h.auth }

// RequestPairing issues a pairing code and raises a UI event so the human
// operator can read it aloud to whoever holds the remote device — the code
// itself is never returned over HTTP.
func (h *Hub) RequestPairing(deviceName string) (auth.PairingRequest, error) {
	req, err := h.auth.RequestPairing(deviceName)
	if err != nil {
		return auth.PairingRequest{}, err
	}
	if h.uiHooks.OnPairingRequested != nil {
		h.uiHooks.OnPairingRequested(req.ID, req.Code, req.DeviceName)
	}
	return req, nil
}

// CompletePairing finishes a pairing handshake and persists the minted
// device so it survives a restart.
func (h *Hub) CompletePairing(ctx context.Context, pairingID, code, deviceName string) (auth.Device, error) {
	device, err := h.auth.CompletePairing(pairingID, code, deviceName)
	if err != nil {
		return auth.Device{}, err
	}
	if err := h.persistDevice(ctx, device); err != nil {
		slog.Warn("[hub] failed to persist paired device", "device", device.ID, "error", err)
	}
	if h.uiHooks.OnDevicePaired != nil {
		h.uiHooks.OnDevicePaired(device.ID, device.Name)
	}
	return device, nil
}

// PINLogin authenticates by PIN and persists the minted device.
func (h *Hub) PINLogin(ctx context.Context, ip, pin, deviceName string) (auth.Device, error) {
	device, err := h.auth.PINLogin(ip, pin, deviceName)
	if err != nil {
		return auth.Device{}, err
	}
	if err := h.persistDevice(ctx, device); err != nil {
		slog.Warn("[hub] failed to persist paired device", "device", device.ID, "error", err)
	}
	if h.uiHooks.OnDevicePaired != nil {
		h.uiHooks.OnDevicePaired(device.ID, device.Name)
	}
	return device, nil
}

// RevokeDevice deletes a device's token from both the in-memory table and
// the store.
func (h *Hub) RevokeDevice(ctx context.Context, token string) error {
	h.auth.RevokeDevice(token)
	return h.store.DeletePairedDevice(ctx, token)
}

func (h *Hub) persistDevice(ctx context.Context, device auth.Device) error {
	return h.store.UpsertPairedDevice(ctx, store.PairedDevice{
		Token:    device.Token,
		ID:       device.ID,
		Name:     device.Name,
		PairedAt: device.PairedAt,
		LastSeen: device.LastSeen,
	})
}

// LoadPairedDevices rehydrates the authenticator's in-memory token table
// from the store. Call once at startup before constructing the Hub, since
// auth.New takes the initial device set by value.
func LoadPairedDevices(ctx context.Context, st *store.Store) ([]auth.Device, error) {
	rows, err := st.LoadPairedDevices(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]auth.Device, 0, len(rows))
	for _, d := range rows {
		devices = append(devices, auth.Device{
			Token: d.Token, ID: d.ID, Name: d.Name,
			PairedAt: d.PairedAt, LastSeen: d.LastSeen,
		})
	}
	return devices, nil
}

// Store exposes the store for read paths the HTTP layer serves directly
// (scrollback, folders) without needing hub-level orchestration.
func (h *Hub) Store() *store.Store { return h.store }

// RecoverOrphans runs the startup sweep: every session row with a non-null
// last PID gets SIGTERM'd then SIGKILL'd (it cannot be the live child of
// this process instance) and its PID column cleared.
func (h *Hub) RecoverOrphans(ctx context.Context) error {
	sessions, err := h.store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("hub: recover orphans: load sessions: %w", err)
	}
	for _, sess := range sessions {
		if !sess.LastPID.Valid || sess.LastPID.Int64 <= 0 {
			continue
		}
		pid := int(sess.LastPID.Int64)
		slog.Info("[hub] recovering orphaned session process", "session", sess.ID, "pid", pid)
		supervisor.RecoverOrphan(pid)
		if err := h.store.UpdateLastPID(ctx, sess.ID, 0); err != nil {
			slog.Warn("[hub] failed to clear recovered pid", "session", sess.ID, "error", err)
		}
	}
	return nil
}

// ListSessions returns every persisted session annotated with live status.
type SessionView struct {
	store.Session
	Running    bool
	Processing bool
}

func (h *Hub) ListSessions(ctx context.Context) ([]SessionView, error) {
	sessions, err := h.store.LoadSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionView{
			Session:    sess,
			Running:    h.registry.IsLive(sess.ID),
			Processing: h.isProcessing(sess.ID),
		})
	}
	return out, nil
}

// CreateSessionParams mirrors the POST /api/sessions request body.
type CreateSessionParams struct {
	Name          string
	AgentType     string
	CustomCommand string
	WorkingDir    string
	FolderID      string
}

// CreateSession persists a new session row. It does not start the process;
// callers invoke StartSession separately, matching the spec's
// create-then-start split.
func (h *Hub) CreateSession(ctx context.Context, p CreateSessionParams) (store.Session, error) {
	command, err := commandForKind(p.AgentType, p.CustomCommand, h.defaultShell)
	if err != nil {
		return store.Session{}, err
	}
	id := uuid.NewString()
	name := p.Name
	if name == "" {
		name = p.AgentType
	}
	sess := store.Session{
		ID:         id,
		Name:       name,
		AgentKind:  p.AgentType,
		Command:    command,
		WorkingDir: p.WorkingDir,
		CreatedAt:  time.Now().UTC(),
	}
	if p.FolderID != "" {
		sess.FolderID.String = p.FolderID
		sess.FolderID.Valid = true
	}
	if err := h.store.UpsertSession(ctx, sess); err != nil {
		return store.Session{}, err
	}
	h.broadcastStatus("session_created", sess.ID, map[string]any{"session": sess})
	return sess, nil
}

// commandForKind resolves the invocation string for an agent kind. custom
// requires an explicit command; the others have a fixed/derived default.
func commandForKind(kind, custom, defaultShell string) (string, error) {
	switch kind {
	case KindPTYShell:
		return defaultShell, nil
	case KindPTYAgent:
		if custom == "" {
			return "", ErrEmptyCommand
		}
		return custom, nil
	case KindJSONAgent:
		if custom == "" {
			return "claude", nil
		}
		return custom, nil
	case KindCustom:
		if custom == "" {
			return "", ErrEmptyCommand
		}
		return custom, nil
	default:
		return "", fmt.Errorf("hub: unknown agent kind %q", kind)
	}
}

// StartStatus is the result of StartSession, matching the two success shapes
// the REST endpoint returns.
type StartStatus string

const (
	StartStatusStarted         StartStatus = "started"
	StartStatusAlreadyRunning StartStatus = "already_running"
)

// StartSession spawns the process backing id if it is not already running.
// Repeated calls while live are a no-op returning StartStatusAlreadyRunning,
// satisfying the idempotent-start testable property.
func (h *Hub) StartSession(ctx context.Context, id string) (StartStatus, error) {
	if h.registry.IsLive(id) {
		return StartStatusAlreadyRunning, nil
	}
	sessions, err := h.store.LoadSessions(ctx)
	if err != nil {
		return "", err
	}
	var target *store.Session
	for i := range sessions {
		if sessions[i].ID == id {
			target = &sessions[i]
			break
		}
	}
	if target == nil {
		return "", ErrSessionNotFound
	}

	switch target.AgentKind {
	case KindJSONAgent:
		if err := h.spawnJSON(ctx, *target); err != nil {
			return "", err
		}
	default:
		if err := h.spawnPTY(ctx, *target); err != nil {
			return "", err
		}
	}
	return StartStatusStarted, nil
}

func (h *Hub) spawnPTY(ctx context.Context, sess store.Session) error {
	hooks := supervisor.Hooks{
		OnOutput: func(ev supervisor.OutputEvent) { h.handleOutput(sess.ID, ev) },
		OnExit:   func(ev supervisor.ExitEvent) { h.handleExit(sess.ID, ev) },
		OnForeignID: func(sessionID, foreignID string) {
			h.handleForeignID(sessionID, foreignID)
		},
	}
	_, err := supervisor.SpawnPTY(ctx, supervisor.PTYConfig{
		SessionID: sess.ID,
		Command:   sess.Command,
		WorkDir:   sess.WorkingDir,
		Columns:   80,
		Rows:      24,
		Hooks:     hooks,
		ForeignID: supervisor.ForeignIDConfig{
			Enabled:      sess.AgentKind == KindPTYAgent,
			ProjectsRoot: h.projectsRoot,
		},
		Install: func(sup registry.Supervisor) error {
			h.registry.Install(sess.ID, sup)
			_ = h.store.UpdateLastPID(ctx, sess.ID, sup.PID())
			h.broadcastStatus("session_status", sess.ID, map[string]any{"running": true})
			return nil
		},
	})
	return err
}

func (h *Hub) spawnJSON(ctx context.Context, sess store.Session) error {
	hooks := supervisor.ProcessingHooks{
		Hooks: supervisor.Hooks{
			OnOutput: func(ev supervisor.OutputEvent) { h.handleOutput(sess.ID, ev) },
			OnExit:   func(ev supervisor.ExitEvent) { h.handleExit(sess.ID, ev) },
		},
		OnProcessing: func(sessionID string, processing bool) {
			h.setProcessing(sessionID, processing)
		},
	}
	_, err := supervisor.SpawnJSON(ctx, supervisor.JSONConfig{
		SessionID: sess.ID,
		Command:   sess.Command,
		WorkDir:   sess.WorkingDir,
		Install: func(sup registry.Supervisor) error {
			h.registry.Install(sess.ID, sup)
			_ = h.store.UpdateLastPID(ctx, sess.ID, sup.PID())
			h.broadcastStatus("session_status", sess.ID, map[string]any{"running": true})
			return nil
		},
	}, hooks)
	return err
}

func (h *Hub) handleOutput(sessionID string, ev supervisor.OutputEvent) {
	if ev.Data != nil {
		// Raw PTY bytes go through the shared coalescer; flushOutput fires
		// the UI hook and bus send once a batch is ready.
		h.outputFlusher.Write(sessionID, ev.Data)
		return
	}
	if h.uiHooks.OnOutput != nil {
		h.uiHooks.OnOutput(sessionID, nil, ev.Line)
	}
	item := bus.Item{Kind: "json-line", Payload: ev.Line}
	if msg, ok := agentmsg.Parse(ev.Line); ok {
		item.Payload = msg
	}
	h.bus.Session(sessionID).Send(item)
}

func (h *Hub) handleExit(sessionID string, ev supervisor.ExitEvent) {
	// Flush any output still sitting in the coalescer before the exit status
	// goes out, so subscribers see the session's last bytes before its
	// running:false.
	h.outputFlusher.RemovePane(sessionID)
	h.registry.Remove(sessionID)
	h.clearProcessing(sessionID)
	ctx := context.Background()
	_ = h.store.UpdateLastPID(ctx, sessionID, 0)
	if h.uiHooks.OnExit != nil {
		h.uiHooks.OnExit(sessionID, string(ev.Kind), ev.Code)
	}
	h.broadcastStatus("session_status", sessionID, map[string]any{"running": false, "exit_kind": string(ev.Kind), "code": ev.Code})
}

func (h *Hub) handleForeignID(sessionID, foreignID string) {
	ctx := context.Background()
	if err := h.store.UpdateForeignID(ctx, sessionID, foreignID); err != nil {
		slog.Warn("[hub] failed to persist detected foreign id", "session", sessionID, "error", err)
	}
	if h.uiHooks.OnForeignID != nil {
		h.uiHooks.OnForeignID(sessionID, foreignID)
	}
	h.broadcastStatus("session_updated", sessionID, map[string]any{"foreign_id": foreignID})
}

func (h *Hub) setProcessing(sessionID string, processing bool) {
	h.mu.Lock()
	h.processing[sessionID] = processing
	h.mu.Unlock()
	if h.uiHooks.OnProcessing != nil {
		h.uiHooks.OnProcessing(sessionID, processing)
	}
	h.broadcastStatus("processing_status", sessionID, map[string]any{"processing": processing})
}

func (h *Hub) clearProcessing(sessionID string) {
	h.mu.Lock()
	delete(h.processing, sessionID)
	h.mu.Unlock()
}

func (h *Hub) isProcessing(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processing[sessionID]
}

// broadcastStatus emits a lifecycle/list-mutation event on the global status
// channel, the single source every connected client subscribes to.
func (h *Hub) broadcastStatus(kind, sessionID string, fields map[string]any) {
	payload := map[string]any{"session_id": sessionID}
	for k, v := range fields {
		payload[k] = v
	}
	h.bus.Status().Send(bus.Item{Kind: kind, Payload: payload})
}

// InterruptSession delivers the variant-appropriate interrupt to a live
// session: SIGINT for JSON, a single ETX byte for PTY.
func (h *Hub) InterruptSession(id string) error {
	sup, err := h.registry.Get(id)
	if err != nil {
		return ErrSessionNotFound
	}
	return sup.Interrupt()
}

// WriteSession writes raw bytes/text to a live session's input.
func (h *Hub) WriteSession(id string, data []byte) error {
	sup, err := h.registry.Get(id)
	if err != nil {
		return ErrSessionNotFound
	}
	if err := sup.Write(data); err != nil {
		return err
	}
	h.bus.Session(id).Send(bus.Item{Kind: "input-echo", Payload: data})
	if h.uiHooks.OnInputEcho != nil {
		h.uiHooks.OnInputEcho(id, data)
	}
	return nil
}

// ResizeSession resizes a live PTY session; a no-op for JSON sessions.
func (h *Hub) ResizeSession(id string, cols, rows int) error {
	sup, err := h.registry.Get(id)
	if err != nil {
		return ErrSessionNotFound
	}
	return sup.Resize(cols, rows)
}

// IsRunning reports whether id currently has a live supervisor installed.
func (h *Hub) IsRunning(id string) bool {
	return h.registry.IsLive(id)
}

// DeleteSession kills a live process if any, then removes the session row
// (cascading scrollback) and records a recently-closed entry.
func (h *Hub) DeleteSession(ctx context.Context, id string) error {
	sessions, err := h.store.LoadSessions(ctx)
	if err != nil {
		return err
	}
	var target *store.Session
	for i := range sessions {
		if sessions[i].ID == id {
			target = &sessions[i]
			break
		}
	}
	if target == nil {
		return ErrSessionNotFound
	}

	if sup, err := h.registry.Get(id); err == nil {
		_ = sup.Kill()
		h.registry.Remove(id)
	}

	if err := h.store.SaveRecentlyClosed(ctx, store.RecentlyClosed{
		ID: target.ID, Name: target.Name, AgentKind: target.AgentKind,
		Command: target.Command, WorkingDir: target.WorkingDir,
		ForeignID: target.ForeignID, ClosedAt: time.Now().UTC(),
	}); err != nil {
		slog.Warn("[hub] failed to record recently-closed entry", "session", id, "error", err)
	}

	if err := h.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	h.bus.RemoveSession(id)
	h.broadcastStatus("session_deleted", id, nil)
	return nil
}

// ChatHistory returns the best available transcript for id: this hub's own
// scrollback snapshot if one was ever captured, falling back to reading the
// externally-owned .jsonl transcript named by the session's detected foreign
// id when no local snapshot exists yet — covering a session created to
// attach to a pre-existing external conversation. The fallback is read-only
// and best-effort; this hub never writes to that file.
func (h *Hub) ChatHistory(ctx context.Context, id string) ([]byte, bool, error) {
	data, found, err := h.store.LoadScrollback(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if found {
		return data, true, nil
	}

	sessions, err := h.store.LoadSessions(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, sess := range sessions {
		if sess.ID != id || !sess.ForeignID.Valid || sess.ForeignID.String == "" {
			continue
		}
		dir := detector.ProjectDir(h.projectsRoot, sess.WorkingDir)
		path := filepath.Join(dir, sess.ForeignID.String+".jsonl")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, false, nil
		}
		return raw, true, nil
	}
	return nil, false, nil
}

// Detector exposes the configured foreign-id detection root, used by the
// desktop UI's manual "detect now" command.
func (h *Hub) ProjectDir(workingDir string) string {
	return detector.ProjectDir(h.projectsRoot, workingDir)
}
