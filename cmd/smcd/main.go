package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/KevinKickass/OpenFanCore/internal/daemon"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	os.Exit(execute())
}

func execute() int {
	defer syncLogger()

	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return daemon.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "smcd:", ee.err)
		}
		return ee.code
	}

	fmt.Fprintln(os.Stderr, "smcd:", err)
	return daemon.ExitFailure
}
