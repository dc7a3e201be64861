package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"agenthub/internal/singleinstance"
)

// newDesktopCmd runs the same hub as serve, with the first-party Wails UI
// attached on top.
func newDesktopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "desktop",
		Short: "run the hub with the desktop UI attached",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDesktop()
		},
	}
}

func runDesktop() error {
	// Single-instance check BEFORE any Wails/WebView2 initialization. Two
	// simultaneous instances corrupt WebView2 browser process IME state.
	mutexLock, err := singleinstance.TryLock(singleinstance.DefaultMutexName())
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[agenthubd] another instance is already running")
		return nil
	}
	if err != nil {
		slog.Warn("[agenthubd] mutex creation failed, proceeding without single-instance guard", "error", err)
	}
	if mutexLock != nil {
		defer func() {
			if releaseErr := mutexLock.Release(); releaseErr != nil {
				slog.Warn("[agenthubd] mutex release failed", "error", releaseErr)
			}
		}()
	}

	app := NewApp()

	return wails.Run(&options.App{
		Title:     "agenthub",
		Width:     1280,
		Height:    840,
		MinWidth:  960,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 10, G: 16, B: 22, A: 1},
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop: true,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []any{
			app,
		},
	})
}
