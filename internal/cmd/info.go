package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/style"
)

var infoCmd = &cobra.Command{
	Use:     "info <session-id>",
	GroupID: GroupSessions,
	Short:   "Show one session in detail",
	Long: `Show a session's full record: status, provider, forum thread,
review slot, and queue state.

Examples:
  sm info 1a2b3c4d
  sm info 1a2b3c4d --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	s, err := c.GetSession(args[0])
	if err != nil {
		return err
	}

	if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Printf("%s %s\n", style.Bold.Render(s.DisplayName()), style.Dim.Render("("+s.ID+")"))
	fmt.Printf("  status:      %s", style.Status(string(s.Status)))
	if s.CompletionStatus != "" {
		fmt.Printf(" (%s)", s.CompletionStatus)
	}
	fmt.Println()
	fmt.Printf("  provider:    %s\n", s.Provider)
	fmt.Printf("  working dir: %s\n", s.WorkingDir)
	fmt.Printf("  pane:        %s\n", s.Pane())
	if s.ParentID != "" {
		fmt.Printf("  parent:      %s\n", s.ParentID)
	}
	if s.IsEM {
		fmt.Printf("  role:        EM\n")
	}
	if s.StatusText != "" {
		fmt.Printf("  reported:    %s %s\n", s.StatusText, style.Dim.Render("("+age(s.StatusTextAt)+" ago)"))
	}
	if s.LastToolCall != nil {
		fmt.Printf("  last tool:   %s ago\n", age(s.LastToolCall))
	}
	if s.ForumThreadID != 0 {
		fmt.Printf("  forum:       chat %d thread %d\n", s.ForumChatID, s.ForumThreadID)
	}
	if s.Review != nil {
		fmt.Printf("  review:      %s delivered=%v\n", s.Review.Mode, s.Review.Delivered)
	}

	if qs, err := c.Queue(s.ID); err == nil {
		fmt.Printf("  queue idle:  %v\n", qs.IsIdle)
	}
	return nil
}

func init() {
	infoCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(infoCmd)
}
