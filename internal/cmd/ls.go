package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/style"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	GroupID: GroupSessions,
	Short:   "List registered sessions",
	Long: `List every registered session with status and activity.

Examples:
  sm ls
  sm ls --json`,
	RunE: runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	sessions, err := c.ListSessions()
	if err != nil {
		return err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	t := style.NewTable(
		style.Column{Name: "ID", Width: 8},
		style.Column{Name: "NAME", Width: 16},
		style.Column{Name: "STATUS", Width: 8},
		style.Column{Name: "PROVIDER", Width: 10},
		style.Column{Name: "TOOL", Width: 7, Align: style.AlignRight},
		style.Column{Name: "STATUS TEXT", Width: 40},
	)
	for _, s := range sessions {
		name := s.FriendlyName
		if name == "" {
			name = "-"
		}
		if s.IsEM {
			name = name + " (EM)"
		}
		t.AddRow(
			s.ID,
			truncate(name, 16),
			style.Status(string(s.Status)),
			string(s.Provider),
			age(s.LastToolCall),
			truncate(s.StatusText, 40),
		)
	}
	fmt.Print(t.Render())
	return nil
}

func init() {
	lsCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(lsCmd)
}
