// Command posrt runs the POS realtime server and its operator tooling.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("command execution failed", "err", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "posrt",
		Short: "POS realtime event server",
		Long: `posrt serves the realtime event layer of the POS: order, table and kitchen events,
presence and state resync for terminals over WebSocket or long-polling.

Configuration is read from POS_* environment variables; a .env file is loaded first when present.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("posrt %s\n", version))
	root.AddCommand(buildServeCmd(), buildTokenCmd())
	return root
}
