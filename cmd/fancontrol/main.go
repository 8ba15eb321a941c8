package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	defer logger.Sync()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fancontrol:", err)
		os.Exit(1)
	}
}
