package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ciricc/go-stream-bench/internal/controller"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := RootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, controller.ErrInterrupted):
		fmt.Fprintln(os.Stderr, "Interrupted, all streams stopped.")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return exitFailure
	}
}
