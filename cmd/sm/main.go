// sm is the switchboard CLI for coordinating agent sessions in tmux panes.
package main

import (
	"os"

	"github.com/xcawolfe-amzn/switchboard/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
