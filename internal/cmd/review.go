package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/client"
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	GroupID: GroupMessaging,
	Short:   "Drive a code review through an agent",
	RunE:    requireSubcommand,
	Long: `Drive a code review. In-pane modes steer a codex agent through its
/review menu; pr mode posts a trigger comment on a GitHub pull request.`,
}

var reviewStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start an in-pane review",
	Long: `Start a review inside a codex session's pane.

Modes:
  branch       diff against a base branch (--base)
  uncommitted  review the working tree
  commit       review one commit (--commit)
  custom       free-form instructions (--custom)

Examples:
  sm review start 1a2b3c4d --mode branch --base main
  sm review start 1a2b3c4d --mode custom --custom "check the locking" --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewStart,
}

func runReviewStart(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	mode, _ := cmd.Flags().GetString("mode")
	base, _ := cmd.Flags().GetString("base")
	commit, _ := cmd.Flags().GetString("commit")
	custom, _ := cmd.Flags().GetString("custom")
	steer, _ := cmd.Flags().GetString("steer")
	watch, _ := cmd.Flags().GetBool("watch")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	err = c.Review(args[0], client.ReviewParams{
		Mode:           mode,
		Base:           base,
		Commit:         commit,
		Custom:         custom,
		Steer:          steer,
		Watch:          watch,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		return err
	}
	fmt.Printf("review started on %s\n", args[0])
	return nil
}

var reviewPRCmd = &cobra.Command{
	Use:   "pr <number>",
	Short: "Request a bot review on a pull request",
	Long: `Post the review-trigger comment on a pull request and optionally
wait for the bot's review to land.

Examples:
  sm review pr 412 --repo acme/widgets
  sm review pr 412 --repo acme/widgets --steer "focus on concurrency" --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewPR,
}

func runReviewPR(cmd *cobra.Command, args []string) error {
	c, err := api()
	if err != nil {
		return err
	}
	var pr int
	if _, err := fmt.Sscanf(args[0], "%d", &pr); err != nil || pr <= 0 {
		return fmt.Errorf("invalid pull request number %q", args[0])
	}
	repo, _ := cmd.Flags().GetString("repo")
	steer, _ := cmd.Flags().GetString("steer")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	res, err := c.PRReview(client.PRReviewParams{
		PR:             pr,
		Repo:           repo,
		Steer:          steer,
		Wait:           wait,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		return err
	}
	fmt.Printf("review requested (comment %d)\n", res.CommentID)
	return nil
}

func init() {
	reviewStartCmd.Flags().String("mode", "uncommitted", "Review mode (branch, uncommitted, commit, custom)")
	reviewStartCmd.Flags().String("base", "", "Base branch for branch mode")
	reviewStartCmd.Flags().String("commit", "", "Commit SHA for commit mode")
	reviewStartCmd.Flags().String("custom", "", "Instructions for custom mode")
	reviewStartCmd.Flags().String("steer", "", "Extra steering sent after the review starts")
	reviewStartCmd.Flags().Bool("watch", false, "Notify me when the review finishes")
	reviewStartCmd.Flags().Duration("timeout", 0, "Watch timeout")
	reviewPRCmd.Flags().String("repo", "", "Repository (owner/name)")
	reviewPRCmd.Flags().String("steer", "", "Steering appended to the trigger comment")
	reviewPRCmd.Flags().Bool("wait", false, "Wait for the bot review to land")
	reviewPRCmd.Flags().Duration("timeout", 0, "Wait timeout")
	reviewCmd.AddCommand(reviewStartCmd, reviewPRCmd)
	rootCmd.AddCommand(reviewCmd)
}
