package main

import (
	"context"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"agenthub/internal/hub"
)

// runtimeEventsEmitFn is a test seam over runtime.EventsEmit.
var runtimeEventsEmitFn = runtime.EventsEmit

// emitEvent forwards a hub lifecycle event to the Wails frontend. Dropped
// silently if no runtime context has been established yet (startup hasn't
// completed), matching the teacher's "no context, no event" convention.
func (a *App) emitEvent(name string, payload any) {
	a.ctxMu.RLock()
	ctx := a.ctx
	a.ctxMu.RUnlock()
	if ctx == nil {
		slog.Debug("[app] event dropped, no runtime context yet", "event", name)
		return
	}
	runtimeEventsEmitFn(ctx, name, payload)
}

// uiHooks wires hub lifecycle callbacks to named Wails events the frontend
// subscribes to with runtime.EventsOn.
func (a *App) uiHooks() hub.UIHooks {
	return hub.UIHooks{
		OnOutput: func(sessionID string, data, line []byte) {
			if data != nil {
				a.emitEvent("session:output:"+sessionID, data)
				return
			}
			a.emitEvent("session:line:"+sessionID, string(line))
		},
		OnExit: func(sessionID, kind string, code int) {
			a.emitEvent("session:exit:"+sessionID, map[string]any{"kind": kind, "code": code})
		},
		OnForeignID: func(sessionID, foreignID string) {
			a.emitEvent("session:foreign-id:"+sessionID, foreignID)
		},
		OnProcessing: func(sessionID string, processing bool) {
			a.emitEvent("session:processing:"+sessionID, processing)
		},
		OnStatus: func(sessionID string, running bool) {
			a.emitEvent("session:status:"+sessionID, running)
		},
		OnInputEcho: func(sessionID string, data []byte) {
			a.emitEvent("session:input:"+sessionID, string(data))
		},
		OnPairingRequested: func(pairingID, code, deviceName string) {
			a.emitEvent("auth:pairing-requested", map[string]any{
				"pairingId":  pairingID,
				"code":       code,
				"deviceName": deviceName,
			})
		},
		OnDevicePaired: func(deviceID, deviceName string) {
			a.emitEvent("auth:device-paired", map[string]any{
				"deviceId":   deviceID,
				"deviceName": deviceName,
			})
		},
	}
}
