// scoreguard replay - session risk analysis over recorded or live score streams
package main

import (
	"errors"
	"fmt"
	"os"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	ExitCodeOK    = 0
	ExitCodeError = 1

	// ExitCodeBlocked signals that at least one session was blocked, so
	// pipelines can gate on the replay outcome.
	ExitCodeBlocked = 2
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	err := newRootCmd(os.Stdin, os.Stdout).Execute()
	switch {
	case err == nil:
		return ExitCodeOK
	case errors.Is(err, errBlocked):
		return ExitCodeBlocked
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCodeError
	}
}
