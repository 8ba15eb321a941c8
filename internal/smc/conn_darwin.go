//go:build darwin && cgo

package smc

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation
#include <IOKit/IOKitLib.h>
#include <mach/mach.h>
#include <stdlib.h>

static kern_return_t smc_open(const char *name, io_connect_t *conn) {
	io_service_t service = IOServiceGetMatchingService(MACH_PORT_NULL, IOServiceMatching(name));
	if (service == 0) {
		return kIOReturnNotFound;
	}
	kern_return_t kr = IOServiceOpen(service, mach_task_self(), 0, conn);
	IOObjectRelease(service);
	return kr;
}

static kern_return_t smc_call(io_connect_t conn, uint32_t selector, void *in, size_t in_size, void *out, size_t *out_size) {
	return IOConnectCallStructMethod(conn, selector, in, in_size, out, out_size);
}

static kern_return_t smc_close(io_connect_t conn) {
	return IOServiceClose(conn);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type iokitConn struct {
	service string
	conn    C.io_connect_t
}

// OpenIOKit opens a user client connection to an SMC service such as
// "AppleSMC" or "AppleSMCKeysEndpoint".
func OpenIOKit(service string) (Conn, error) {
	name := C.CString(service)
	defer C.free(unsafe.Pointer(name))

	var conn C.io_connect_t
	if kr := C.smc_open(name, &conn); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("%w: IOServiceOpen(%s): 0x%x", ErrTransportUnavailable, service, uint32(kr))
	}

	return &iokitConn{service: service, conn: conn}, nil
}

func (c *iokitConn) Call(selector uint32, in []byte) ([]byte, error) {
	if len(in) != FrameSize {
		return nil, fmt.Errorf("request must be %d bytes, got %d", FrameSize, len(in))
	}

	out := make([]byte, FrameSize)
	outSize := C.size_t(FrameSize)

	kr := C.smc_call(c.conn, C.uint32_t(selector),
		unsafe.Pointer(&in[0]), C.size_t(len(in)),
		unsafe.Pointer(&out[0]), &outSize)
	if kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("IOConnectCallStructMethod(%s): 0x%x", c.service, uint32(kr))
	}

	return out[:int(outSize)], nil
}

func (c *iokitConn) Close() error {
	if kr := C.smc_close(c.conn); kr != C.KERN_SUCCESS {
		return fmt.Errorf("IOServiceClose(%s): 0x%x", c.service, uint32(kr))
	}
	return nil
}
