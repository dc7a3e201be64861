package main

import (
	"embed"
	"log/slog"
	"os"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("[agenthubd] command failed", "error", err)
		os.Exit(1)
	}
}
