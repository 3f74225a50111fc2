// Package cmd implements the sm CLI verbs.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/client"
	"github.com/xcawolfe-amzn/switchboard/internal/config"
	"github.com/xcawolfe-amzn/switchboard/internal/constants"
)

// Command groups for help output.
const (
	GroupSessions  = "sessions"
	GroupMessaging = "messaging"
	GroupServices  = "services"
	GroupDiag      = "diag"
)

var (
	flagStateDir string
	flagAddr     string
)

var rootCmd = &cobra.Command{
	Use:   "sm",
	Short: "Switchboard: coordinate a fleet of agent sessions in tmux panes",
	Long: `sm manages long-lived AI agent sessions hosted in tmux panes.

A background coordinator (sm serve) owns the session registry, message
queues, pane monitoring, and crash recovery. Every other verb talks to it
over a local RPC socket.

Inside an agent pane the CLI knows its own session identity from the
` + constants.EnvSessionID + ` environment variable; destructive verbs are
parent-scoped accordingly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSessions, Title: "Session commands:"},
		&cobra.Group{ID: GroupMessaging, Title: "Messaging commands:"},
		&cobra.Group{ID: GroupServices, Title: "Service commands:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostic commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "State directory (default ~/.switchboard)")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Coordinator address (default from config)")
}

// Execute runs the CLI and returns the process exit code: 0 on success, 2
// when the coordinator is unreachable, 1 otherwise.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return client.ExitCode(err)
	}
	return 0
}

// loadConfig resolves configuration for the chosen state directory.
func loadConfig() (*config.Config, error) {
	return config.Load(flagStateDir)
}

// api builds the RPC client, carrying the pane's session identity if any.
func api() (*client.Client, error) {
	addr := flagAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		addr = cfg.ListenAddr
	}
	return client.New(addr, client.SelfID(os.Getenv)), nil
}

// requireSubcommand is the RunE for group-only commands.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}
