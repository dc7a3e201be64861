package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"agenthub/internal/auth"
	"agenthub/internal/config"
	"agenthub/internal/hub"
	"agenthub/internal/store"
)

// bootstrapped is everything a hub-hosting command (desktop or serve) needs
// once config, store, and authenticator have been wired together.
type bootstrapped struct {
	cfg        config.Config
	configPath string
	store      *store.Store
	hub        *hub.Hub
}

// bootstrapHub loads config, opens the store, restores paired devices, and
// constructs a Hub with orphan recovery already run. Shared by the desktop
// Wails app and the headless serve command so the two entrypoints can't
// drift on startup order.
func bootstrapHub(ctx context.Context, uiHooks hub.UIHooks) (*bootstrapped, error) {
	configPath := config.DefaultPath(false)
	cfg, err := config.EnsureFile(configPath)
	if err != nil {
		slog.Warn("[agenthubd] failed to load config, running with defaults", "path", configPath, "error", err)
		cfg = config.DefaultConfig()
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir(cfg.Debug)
	}

	st, err := store.Open(dataDir + "/sessions.db")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	devices, err := hub.LoadPairedDevices(ctx, st)
	if err != nil {
		slog.Warn("[agenthubd] failed to load paired devices", "error", err)
	}
	authenticator := auth.New(devices, cfg.PINHash)

	h := hub.New(hub.Config{
		Store:        st,
		ProjectsRoot: defaultClaudeProjectsRoot(),
		DefaultShell: cfg.DefaultShell,
	}, authenticator, uiHooks)

	if err := h.RecoverOrphans(ctx); err != nil {
		slog.Warn("[agenthubd] orphan recovery failed", "error", err)
	}

	return &bootstrapped{cfg: cfg, configPath: configPath, store: st, hub: h}, nil
}

// defaultClaudeProjectsRoot resolves the directory the foreign-id detector
// watches, mirroring the original source's fixed "~/.claude/projects" root.
func defaultClaudeProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.claude/projects"
}
