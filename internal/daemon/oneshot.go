package daemon

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// RunOneShot executes a single command taken from args, prints the reply
// line to w and returns the process exit code.
func RunOneShot(ctx context.Context, h *Handler, args []string, w io.Writer) int {
	resp, _ := h.Handle(ctx, strings.Join(args, " "))
	fmt.Fprintln(w, resp.String())
	if resp.OK {
		return ExitOK
	}
	return ExitFailure
}
