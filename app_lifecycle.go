package main

import (
	"context"
	"log/slog"

	"agenthub/internal/httpapi"
)

func (a *App) startup(ctx context.Context) {
	a.setRuntimeContext(ctx)

	bs, err := bootstrapHub(ctx, a.uiHooks())
	if err != nil {
		slog.Error("[app] failed to initialize hub, desktop session management unavailable", "error", err)
		return
	}
	a.cfg = bs.cfg
	a.configPath = bs.configPath
	a.store = bs.store
	a.hub = bs.hub

	server := httpapi.New(a.hub, httpapi.Options{
		BindHost: a.cfg.BindHost,
		BindPort: a.cfg.BindPort,
		Debug:    a.cfg.Debug,
	})
	if err := server.Start(ctx); err != nil {
		slog.Error("[app] failed to start embedded http/ws server", "error", err)
		return
	}
	a.server = server
	slog.Info("[app] embedded server started", "addr", server.Addr())
}

func (a *App) shutdown(_ context.Context) {
	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			slog.Warn("[app] server shutdown error", "error", err)
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("[app] store close error", "error", err)
		}
	}
}
