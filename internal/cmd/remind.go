package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var remindCmd = &cobra.Command{
	Use:     "remind <session-id>",
	GroupID: GroupMessaging,
	Short:   "Arm the status reminder for a child session",
	Long: `Arm a two-stage status reminder on a child: a soft nudge after the
soft period without a status update, a firmer one after the hard period.
Both stop as soon as the child reports status or goes idle.

Examples:
  sm remind 1a2b3c4d
  sm remind 1a2b3c4d --soft 5m --hard 12m`,
	Args: cobra.ExactArgs(1),
	RunE: runRemind,
}

func runRemind(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	soft, _ := cmd.Flags().GetDuration("soft")
	hard, _ := cmd.Flags().GetDuration("hard")
	if err := c.Remind(args[0], soft, hard); err != nil {
		return err
	}
	fmt.Printf("reminder armed for %s\n", args[0])
	return nil
}

var parentWakeCmd = &cobra.Command{
	Use:     "parent-wake <child-id>",
	GroupID: GroupMessaging,
	Short:   "Get periodic digests about a child session",
	Long: `Register a periodic wake: the coordinator sends the parent a digest
of the child's reported status, last tool activity, and recent tool calls
every period until the child goes idle or completes.

Examples:
  sm parent-wake 1a2b3c4d --period 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runParentWake,
}

func runParentWake(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	period, _ := cmd.Flags().GetDuration("period")
	regID, err := c.ParentWake(args[0], period)
	if err != nil {
		return err
	}
	fmt.Printf("parent-wake registered (%s)\n", regID)
	return nil
}

func init() {
	remindCmd.Flags().Duration("soft", 0, "Soft reminder period (default from config)")
	remindCmd.Flags().Duration("hard", 0, "Hard reminder period (default from config)")
	parentWakeCmd.Flags().Duration("period", 5*time.Minute, "Digest period")
	rootCmd.AddCommand(remindCmd, parentWakeCmd)
}
