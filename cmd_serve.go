package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agenthub/internal/hub"
	"agenthub/internal/httpapi"
)

// newServeCmd runs the hub headless: HTTP/WS only, no desktop UI. Intended
// for a server/NAS deployment where the mobile client is the only consumer.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the hub headless, exposing only the HTTP/WS surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bs, err := bootstrapHub(ctx, hub.UIHooks{
				OnPairingRequested: func(pairingID, code, deviceName string) {
					slog.Info("[agenthubd] pairing requested, read this code to the remote device",
						"pairing_id", pairingID, "code", code, "device_name", deviceName)
				},
				OnDevicePaired: func(deviceID, deviceName string) {
					slog.Info("[agenthubd] device paired", "device_id", deviceID, "device_name", deviceName)
				},
			})
			if err != nil {
				return fmt.Errorf("bootstrap hub: %w", err)
			}
			defer bs.store.Close()
			defer bs.hub.Close()

			server := httpapi.New(bs.hub, httpapi.Options{
				BindHost: bs.cfg.BindHost,
				BindPort: bs.cfg.BindPort,
				Debug:    bs.cfg.Debug,
			})
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			slog.Info("[agenthubd] serving", "addr", server.Addr())

			<-ctx.Done()
			slog.Info("[agenthubd] shutting down")
			return server.Stop()
		},
	}
}
