package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/foodnet-go/cmd"
	"github.com/tphakala/foodnet-go/internal/buildinfo"
)

// buildDate and version are set at build time with
// -ldflags "-X main.buildDate=... -X main.version=..."
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := &buildinfo.Context{
		Version:   version,
		BuildDate: buildDate,
	}

	rootCmd := cmd.RootCommand(build)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
