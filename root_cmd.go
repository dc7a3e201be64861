package main

import "github.com/spf13/cobra"

// newRootCmd builds the agenthubd command tree: serve (headless), desktop
// (Wails UI attached), and pair (scriptable pairing without a browser).
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agenthubd",
		Short:         "agenthubd hosts multi-session agent execution and exposes it over HTTP/WS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newDesktopCmd())
	root.AddCommand(newPairCmd())

	return root
}
