// Command agprobe locates a locally running Antigravity language server and
// extracts the credentials its editor stores on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/florianilch/agprobe/cmd/agprobe/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "agprobe:", err)
		os.Exit(1)
	}
}
