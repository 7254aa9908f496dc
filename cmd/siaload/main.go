package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/app"
	"github.com/mtlynch/sia-load-tester/internal/termio"
)

const (
	appName = "siaload"
	version = "v0.1.0"
)

func main() {
	termio.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	termio.Flush(2 * time.Second)
	os.Exit(code)
}

// execute runs the command line in args and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	code := app.ExitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	root.SetOut(termio.Stdout())
	root.SetErr(termio.Stderr())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(termio.Stderr(), "%s: %v\n", appName, err)
		if code == app.ExitOK {
			code = app.ExitFatal
		}
	}
	return code
}
