package main

import (
	"context"
	"fmt"
	"sync"

	"agenthub/internal/auth"
	"agenthub/internal/config"
	"agenthub/internal/httpapi"
	"agenthub/internal/hub"
	"agenthub/internal/store"
)

// App is the Wails-bound application service. It owns nothing the hub
// doesn't already own — every method here either delegates to *hub.Hub or
// mirrors a slice of the REST surface for the embedded desktop UI, which
// talks to the same hub instance in-process instead of over HTTP.
type App struct {
	ctx   context.Context
	ctxMu sync.RWMutex

	cfg        config.Config
	configPath string

	store  *store.Store
	hub    *hub.Hub
	server *httpapi.Server
}

// NewApp creates the app service. Heavy initialization (opening the store,
// starting the HTTP/WS server) happens in startup, once a Wails context
// exists to emit events against.
func NewApp() *App {
	return &App{}
}

// GetServerAddr returns the bound HTTP/WS address the desktop WebView (or a
// paired mobile client) can reach the hub at, empty if the server failed to
// start.
func (a *App) GetServerAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// ListSessions mirrors GET /api/sessions for the in-process desktop UI.
func (a *App) ListSessions() ([]hub.SessionView, error) {
	return a.hub.ListSessions(a.runtimeContext())
}

// CreateSession mirrors POST /api/sessions.
func (a *App) CreateSession(params hub.CreateSessionParams) (store.Session, error) {
	return a.hub.CreateSession(a.runtimeContext(), params)
}

// StartSession mirrors POST /api/sessions/{id}/start.
func (a *App) StartSession(id string) (string, error) {
	status, err := a.hub.StartSession(a.runtimeContext(), id)
	return string(status), err
}

// WriteSession sends text to a live session's input. Wails' JS bridge only
// round-trips strings/JSON cleanly, so binary PTY input from the desktop
// terminal widget crosses as a string and is converted here.
func (a *App) WriteSession(id, data string) error {
	return a.hub.WriteSession(id, []byte(data))
}

// ResizeSession mirrors the WS resize control frame for the in-process UI.
func (a *App) ResizeSession(id string, cols, rows int) error {
	return a.hub.ResizeSession(id, cols, rows)
}

// InterruptSession mirrors POST /api/sessions/{id}/interrupt.
func (a *App) InterruptSession(id string) error {
	return a.hub.InterruptSession(id)
}

// DeleteSession has no REST equivalent in the fixed external contract (the
// desktop UI is trusted and can delete directly); remote clients don't get
// this verb.
func (a *App) DeleteSession(id string) error {
	return a.hub.DeleteSession(a.runtimeContext(), id)
}

// GetBuffer mirrors GET /api/sessions/{id}/buffer.
func (a *App) GetBuffer(id string) (string, error) {
	data, found, err := a.hub.ChatHistory(a.runtimeContext(), id)
	if err != nil || !found {
		return "", err
	}
	return string(data), nil
}

// PINConfigured reports whether an operator PIN is set, for the desktop
// settings screen.
func (a *App) PINConfigured() bool {
	return a.hub.Auth().PINConfigured()
}

// SetPIN hashes and persists a new operator PIN, enabling remote pin-login.
func (a *App) SetPIN(pin string) error {
	hash, err := auth.HashPIN(pin)
	if err != nil {
		return fmt.Errorf("app: hash pin: %w", err)
	}
	a.hub.Auth().SetPINHash(hash)
	a.cfg.PINHash = hash
	_, err = config.Save(a.configPath, a.cfg)
	return err
}
