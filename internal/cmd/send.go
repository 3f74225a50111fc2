package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/coordinator"
)

var sendCmd = &cobra.Command{
	Use:     "send <session-id> <text>...",
	GroupID: GroupMessaging,
	Short:   "Queue a message for an agent",
	Long: `Queue a message for delivery to an agent's pane.

Delivery modes:
  sequential  wait until the target is idle (default)
  important   deliver on the target's next stop, even mid-chain
  urgent      interrupt the target and deliver now
  steer       inject into the running turn (codex only; falls back to urgent)

Examples:
  sm send 1a2b3c4d "status?"
  sm send 1a2b3c4d --mode urgent "stop what you're doing"
  sm send 1a2b3c4d --notify-stop "review this when you finish"
  sm send 1a2b3c4d --deadline 10m "only relevant for the next ten minutes"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	mode, _ := cmd.Flags().GetString("mode")
	notifyStop, _ := cmd.Flags().GetBool("notify-stop")
	notifyDelivery, _ := cmd.Flags().GetBool("notify-delivery")
	deadline, _ := cmd.Flags().GetDuration("deadline")

	id, err := c.SendInput(args[0], coordinator.InputParams{
		Text:             strings.Join(args[1:], " "),
		Mode:             mode,
		NotifyOnStop:     notifyStop,
		NotifyOnDelivery: notifyDelivery,
		DeadlineSeconds:  int(deadline.Seconds()),
	})
	if err != nil {
		return err
	}
	fmt.Printf("queued %s\n", id)
	return nil
}

var watchCmd = &cobra.Command{
	Use:     "watch <session-id>",
	GroupID: GroupMessaging,
	Short:   "Get notified when an agent goes idle",
	Long: `Register a one-shot watcher on a target session. When the target
goes idle (or the timeout passes) the calling session receives an
important-mode message.

Examples:
  sm watch 1a2b3c4d
  sm watch 1a2b3c4d --timeout 15m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if err := c.Watch(args[0], timeout); err != nil {
		return err
	}
	fmt.Printf("watching %s\n", args[0])
	return nil
}

var statusCmd = &cobra.Command{
	Use:     "status <message>",
	GroupID: GroupMessaging,
	Short:   "Report the calling agent's status",
	Long: `Record a status line for the calling session and restart its
reminder window. Meant to be run by agents from inside their own pane.

Examples:
  sm status "refactoring the parser, tests green"`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	self := selfOrFlag(cmd)
	if self == "" {
		return fmt.Errorf("not inside a session pane (and no --session given)")
	}
	return c.SetStatus(self, args[0])
}

var taskCompleteCmd = &cobra.Command{
	Use:     "task-complete",
	GroupID: GroupMessaging,
	Short:   "Report the calling agent's task as done",
	Long: `Mark the calling session's task complete. The responsible EM (or
parent) gets one important-mode notice; reminders and parent-wake digests
for the session stop.

Examples:
  sm task-complete
  sm task-complete --note "merged as #412"`,
	RunE: runTaskComplete,
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	self := selfOrFlag(cmd)
	if self == "" {
		return fmt.Errorf("not inside a session pane (and no --session given)")
	}
	note, _ := cmd.Flags().GetString("note")
	return c.TaskComplete(self, note)
}

// selfOrFlag resolves the target session: --session wins, else the pane's
// own identity.
func selfOrFlag(cmd *cobra.Command) string {
	if s, _ := cmd.Flags().GetString("session"); s != "" {
		return s
	}
	return selfSessionID()
}

func init() {
	sendCmd.Flags().String("mode", "", "Delivery mode (sequential, important, urgent, steer)")
	sendCmd.Flags().Bool("notify-stop", false, "Notify me when the target finishes the delivered work (EM only)")
	sendCmd.Flags().Bool("notify-delivery", false, "Notify me when the message lands")
	sendCmd.Flags().Duration("deadline", 0, "Drop the message if undelivered after this long")
	watchCmd.Flags().Duration("timeout", 10*time.Minute, "Give up watching after this long")
	statusCmd.Flags().String("session", "", "Act as this session id (operator use)")
	taskCompleteCmd.Flags().String("session", "", "Act as this session id (operator use)")
	taskCompleteCmd.Flags().String("note", "", "Completion note passed to the EM")
	rootCmd.AddCommand(sendCmd, watchCmd, statusCmd, taskCompleteCmd)
}
