package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/coordinator"
)

var killCmd = &cobra.Command{
	Use:     "kill <session-id>",
	GroupID: GroupSessions,
	Short:   "Kill a session and tear down its pane",
	Long: `Kill a session: its pane, queued messages, reminders, watchers,
workspace locks, and forum thread are all cleaned up.

Parent-scoped: inside a pane, only the caller's own children may be
killed. From an operator shell anything may be killed.

Examples:
  sm kill 1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	if err := c.KillSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("killed %s\n", args[0])
	return nil
}

var clearCmd = &cobra.Command{
	Use:     "clear <session-id>",
	GroupID: GroupSessions,
	Short:   "Clear an agent's context",
	Long: `Send /clear to the agent and invalidate the coordinator's cached
delivery state for it. The stop hooks produced by the clear are absorbed
instead of being treated as turn completions.

Use --cache-only when the context was already cleared by hand inside the
pane.

Examples:
  sm clear 1a2b3c4d
  sm clear 1a2b3c4d --cache-only`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	if cacheOnly, _ := cmd.Flags().GetBool("cache-only"); cacheOnly {
		return c.InvalidateCache(args[0])
	}
	return c.Clear(args[0])
}

var renameCmd = &cobra.Command{
	Use:     "rename <session-id> <name>",
	GroupID: GroupSessions,
	Short:   "Set a session's friendly name",
	Args:    cobra.ExactArgs(2),
	RunE:    runRename,
}

func runRename(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	s, err := c.PatchSession(args[0], patchName(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %q\n", s.ID, s.FriendlyName)
	return nil
}

func patchName(name string) coordinator.PatchParams {
	return coordinator.PatchParams{FriendlyName: &name}
}

func init() {
	clearCmd.Flags().Bool("cache-only", false, "Invalidate cached state without sending /clear")
	rootCmd.AddCommand(killCmd, clearCmd, renameCmd)
}
