//go:build !darwin || !cgo

package smc

import "fmt"

// OpenIOKit is only available on darwin with cgo enabled.
func OpenIOKit(service string) (Conn, error) {
	return nil, fmt.Errorf("%w: %s: IOKit is not available on this platform", ErrTransportUnavailable, service)
}
