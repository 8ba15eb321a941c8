//go:build darwin

package smc

import "golang.org/x/sys/unix"

// ProbeAlternate reports whether the machine is Apple Silicon. Rosetta
// processes see GOARCH=amd64, so the hardware flag is queried instead.
func ProbeAlternate() bool {
	v, err := unix.SysctlUint32("hw.optional.arm64")
	return err == nil && v == 1
}
