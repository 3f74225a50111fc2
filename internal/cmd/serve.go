package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/client"
	"github.com/xcawolfe-amzn/switchboard/internal/coordinator"
	"github.com/xcawolfe-amzn/switchboard/internal/forum"
	"github.com/xcawolfe-amzn/switchboard/internal/tmux"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupServices,
	Short:   "Run the coordinator",
	Long: `Run the switchboard coordinator in the foreground.

The coordinator reconciles persisted sessions against live tmux panes,
binds the RPC port, and then serves until interrupted. Only one instance
may run per state directory.

Examples:
  sm serve
  sm serve --detach
  sm serve --state-dir /tmp/sb-test`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.ListenAddr = flagAddr
	}

	detach, _ := cmd.Flags().GetBool("detach")
	if detach {
		return detachServe(cfg.ListenAddr, cfg.LogPath())
	}

	logOut := io.Writer(os.Stderr)
	if !isTerminal() {
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			defer f.Close()
			logOut = f
		}
	}
	logger := log.New(logOut, "", log.LstdFlags)

	var notifier forum.Notifier
	if cfg.ForumToken != "" {
		notifier = forum.NewTelegram(cfg.ForumToken)
	} else {
		notifier = forum.NewLogOnly(logger)
	}

	c, err := coordinator.New(cfg, tmux.NewTmux(), notifier, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.Run(ctx)
}

// detachServe re-execs this binary without --detach, wired to the log file,
// then verifies the coordinator came up.
func detachServe(addr, logPath string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"serve"}
	if flagStateDir != "" {
		args = append(args, "--state-dir", flagStateDir)
	}
	if flagAddr != "" {
		args = append(args, "--addr", flagAddr)
	}
	child := exec.Command(self, args...)
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting detached coordinator: %w", err)
	}

	probe := client.New(addr, "")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := probe.Health(); err == nil {
			fmt.Printf("coordinator started (pid %d), logging to %s\n", child.Process.Pid, logPath)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("coordinator did not come up within 5s; check %s", logPath)
}

func init() {
	serveCmd.Flags().Bool("detach", false, "Run the coordinator in the background")
	rootCmd.AddCommand(serveCmd)
}
