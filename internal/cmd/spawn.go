package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/coordinator"
)

var spawnCmd = &cobra.Command{
	Use:     "spawn <working-dir>",
	GroupID: GroupSessions,
	Short:   "Spawn a new agent session",
	Long: `Spawn a new agent session in a fresh tmux pane.

The session gets an 8-hex id, a pane named after it, and (when a forum
chat is configured) its own thread. A spawn prompt, when given, is sent
once the agent's input prompt appears.

Examples:
  sm spawn ~/work/widgets
  sm spawn ~/work/widgets --name builder --prompt "Fix the failing tests"
  sm spawn ~/work/widgets --provider codex-tmux --parent 1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

func runSpawn(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	provider, _ := cmd.Flags().GetString("provider")
	parent, _ := cmd.Flags().GetString("parent")
	prompt, _ := cmd.Flags().GetString("prompt")
	chat, _ := cmd.Flags().GetInt64("chat")
	thread, _ := cmd.Flags().GetInt64("thread")

	s, err := c.CreateSession(coordinator.CreateParams{
		WorkingDir:   args[0],
		FriendlyName: name,
		Provider:     provider,
		ParentID:     parent,
		SpawnPrompt:  prompt,
		ChatID:       chat,
		ThreadID:     thread,
	})
	if err != nil {
		return err
	}
	fmt.Printf("spawned %s (%s) in pane %s\n", s.DisplayName(), s.ID, s.Pane())
	return nil
}

func init() {
	spawnCmd.Flags().String("name", "", "Friendly name for the session")
	spawnCmd.Flags().String("provider", "", "Agent provider (claude, codex-tmux, codex-app)")
	spawnCmd.Flags().String("parent", "", "Parent session id (defaults to the calling session)")
	spawnCmd.Flags().String("prompt", "", "Initial prompt sent once the agent is ready")
	spawnCmd.Flags().Int64("chat", 0, "Forum chat id for the session thread")
	spawnCmd.Flags().Int64("thread", 0, "Existing forum thread id to reuse")
	rootCmd.AddCommand(spawnCmd)
}
