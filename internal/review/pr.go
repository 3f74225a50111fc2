package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// prPollInterval paces the reviews-API poll while waiting for the bot.
const prPollInterval = 15 * time.Second

// PRResult reports a posted pr-review request.
type PRResult struct {
	CommentID int64     `json:"comment_id"`
	PostedAt  time.Time `json:"posted_at"`
}

// StartPR requests a pull-request review by posting a bot-trigger comment,
// optionally waiting until the bot's review appears. No pane is involved.
func (o *Orchestrator) StartPR(ctx context.Context, pr int, repo, steer string, wait bool, timeout time.Duration) (PRResult, error) {
	if repo == "" {
		return PRResult{}, fmt.Errorf("pr review needs a repo (owner/name)")
	}
	body := "@codex review"
	if steer != "" {
		body += " for " + steer
	}

	out, err := o.runGH(ctx, "api",
		fmt.Sprintf("repos/%s/issues/%d/comments", repo, pr),
		"-f", "body="+body)
	if err != nil {
		return PRResult{}, fmt.Errorf("posting review comment: %w", err)
	}
	var comment struct {
		ID        int64     `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal([]byte(out), &comment); err != nil {
		return PRResult{}, fmt.Errorf("decoding comment response: %w", err)
	}
	res := PRResult{CommentID: comment.ID, PostedAt: comment.CreatedAt}

	if !wait {
		return res, nil
	}
	if err := o.waitForBotReview(ctx, pr, repo, res.PostedAt, timeout); err != nil {
		return res, err
	}
	return res, nil
}

// waitForBotReview polls the reviews API until a bot review newer than the
// trigger comment shows up, or the timeout elapses.
func (o *Orchestrator) waitForBotReview(ctx context.Context, pr int, repo string, after time.Time, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no bot review on %s#%d within %v", repo, pr, timeout)
		}

		out, err := o.runGH(ctx, "api", fmt.Sprintf("repos/%s/pulls/%d/reviews", repo, pr))
		if err != nil {
			o.logger.Printf("Warning: polling reviews for %s#%d: %v", repo, pr, err)
		} else {
			var reviews []struct {
				User struct {
					Login string `json:"login"`
				} `json:"user"`
				SubmittedAt time.Time `json:"submitted_at"`
			}
			if err := json.Unmarshal([]byte(out), &reviews); err != nil {
				o.logger.Printf("Warning: decoding reviews for %s#%d: %v", repo, pr, err)
			} else {
				for _, r := range reviews {
					if strings.Contains(strings.ToLower(r.User.Login), "codex") && r.SubmittedAt.After(after) {
						return nil
					}
				}
			}
		}
		o.sleep(prPollInterval)
	}
}

// runGHCommand shells out to the gh CLI.
func runGHCommand(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("gh %s: %s", args[0], strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", args[0], err)
	}
	return string(out), nil
}
