// Command server runs the chat-dispatch pipeline: the Session Gateway's
// WebSocket listener, the Dispatcher consumer loop, the retention sweep,
// and a thin read-only HTTP surface over the Message Store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatcore",
		Short: "chatcore - real-time one-to-one chat delivery service",
		Long:  "Runs the message dispatch pipeline: connection registry, message store, inbox cache, queue, ingress, dispatcher, and session gateway.",
	}

	rootCmd.AddCommand(serveCmd(), migrateCmd(), sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
