package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: GroupDiag,
	Short:   "Check whether the coordinator is up",
	RunE:    runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	h, err := c.Health()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d sessions, up %ds\n", h.Status, h.Sessions, h.UptimeSeconds)
	return nil
}

var peekCmd = &cobra.Command{
	Use:     "peek <session-id>",
	GroupID: GroupDiag,
	Short:   "Show the tail of a session's pane",
	Long: `Capture and print the last lines of a session's pane without
attaching to it.

Examples:
  sm peek 1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runPeek,
}

func runPeek(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	lines, _ := cmd.Flags().GetInt("lines")
	capture, err := c.Peek(args[0], lines)
	if err != nil {
		return err
	}
	fmt.Println(capture)
	return nil
}

var toolsCmd = &cobra.Command{
	Use:     "tools <session-id>",
	GroupID: GroupDiag,
	Short:   "List a session's recent tool calls",
	Long: `List the most recent tool invocations recorded for a session by the
hook pipeline, newest first.

Examples:
  sm tools 1a2b3c4d
  sm tools 1a2b3c4d -n 50`,
	Args: cobra.ExactArgs(1),
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt("n")
	events, err := c.Tools(args[0], n)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no tool events recorded")
		return nil
	}
	t := style.NewTable(
		style.Column{Name: "WHEN", Width: 19},
		style.Column{Name: "TOOL", Width: 14},
		style.Column{Name: "DETAIL", Width: 50},
	)
	for _, e := range events {
		detail := e.TargetFile
		if e.BashCommand != "" {
			detail = e.BashCommand
		}
		if e.IsDestructive {
			detail = style.Red.Render("! ") + detail
		}
		t.AddRow(e.Timestamp.Format("2006-01-02 15:04:05"), e.ToolName, truncate(detail, 50))
	}
	fmt.Print(t.Render())
	return nil
}

func init() {
	peekCmd.Flags().IntP("lines", "n", 0, "Number of pane lines to capture")
	toolsCmd.Flags().IntP("n", "n", 20, "Number of events to show")
	rootCmd.AddCommand(healthCmd, peekCmd, toolsCmd)
}
