package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/style"
)

var lockCmd = &cobra.Command{
	Use:     "lock <working-dir>",
	GroupID: GroupMessaging,
	Short:   "Lock a workspace for the calling session",
	Long: `Take the single-writer lock on a working directory. While held,
destructive tool calls from other sessions inside that directory are
blocked at the hook boundary.

Examples:
  sm lock ~/work/widgets --reason "migrating the schema"`,
	Args: cobra.ExactArgs(1),
	RunE: runLock,
}

func runLock(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	if err := c.AcquireLock(args[0], reason); err != nil {
		return err
	}
	fmt.Printf("locked %s\n", args[0])
	return nil
}

var unlockCmd = &cobra.Command{
	Use:     "unlock <working-dir>",
	GroupID: GroupMessaging,
	Short:   "Release a workspace lock",
	Args:    cobra.ExactArgs(1),
	RunE:    runUnlock,
}

func runUnlock(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	if err := c.ReleaseLock(args[0]); err != nil {
		return err
	}
	fmt.Printf("unlocked %s\n", args[0])
	return nil
}

var locksCmd = &cobra.Command{
	Use:     "locks",
	GroupID: GroupDiag,
	Short:   "List held workspace locks",
	RunE:    runLocks,
}

func runLocks(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	locks, err := c.Locks()
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		fmt.Println("no locks held")
		return nil
	}
	t := style.NewTable(
		style.Column{Name: "WORKSPACE", Width: 40},
		style.Column{Name: "OWNER", Width: 10},
		style.Column{Name: "AGE", Width: 7, Align: style.AlignRight},
		style.Column{Name: "REASON", Width: 30},
	)
	for _, l := range locks {
		at := l.AcquiredAt
		t.AddRow(truncate(l.WorkingDir, 40), l.OwnerID, age(&at), truncate(l.Reason, 30))
	}
	fmt.Print(t.Render())
	return nil
}

func init() {
	lockCmd.Flags().String("reason", "", "Why the workspace is locked")
	rootCmd.AddCommand(lockCmd, unlockCmd, locksCmd)
}
