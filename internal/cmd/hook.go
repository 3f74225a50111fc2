package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/switchboard/internal/hookevent"
)

var hookCmd = &cobra.Command{
	Use:    "hook <kind>",
	Hidden: true,
	Short:  "Forward an agent runtime hook event (invoked by the runtime)",
	Long: `Read a hook payload from stdin and forward it to the coordinator.

Configured as the agent runtime's hook command inside each pane. The kind
argument overrides the payload's own kind field when the runtime does not
set one. Exits 0 even when the coordinator is down: a dead coordinator
must never block an agent's turn. A blocked tool call is reported back to
the runtime as JSON on stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	var e hookevent.Event
	data, err := io.ReadAll(os.Stdin)
	if err == nil && len(data) > 0 {
		// Malformed payloads are forwarded empty rather than failing the turn.
		json.Unmarshal(data, &e)
	}
	if e.Kind == "" {
		e.Kind = hookevent.Kind(args[0])
	}
	if e.SessionID == "" {
		e.SessionID = selfSessionID()
	}

	c, err := api()
	if err != nil {
		return nil
	}
	resp, err := c.Hook(e)
	if err != nil {
		return nil
	}
	if resp.Block {
		out, _ := json.Marshal(resp)
		fmt.Println(string(out))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
