package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voxlink",
	Short: "VoxLink — realtime voice/text session client",
	Long: `VoxLink connects a practice workstation to the VoxLink realtime session
service over WebSocket, server-sent events, or HTTP polling, falling back
between transports automatically when the network path blocks one of them.

Connections reconnect with exponential backoff if interrupted.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
