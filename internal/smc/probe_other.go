//go:build !darwin

package smc

import "runtime"

func ProbeAlternate() bool {
	return runtime.GOARCH == "arm64"
}
