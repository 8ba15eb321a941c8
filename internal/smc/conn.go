package smc

// Conn is one privileged handle to the controller service. Implementations
// perform a single struct-method call: in and the returned slice are
// FrameSize bytes. Conn is not safe for concurrent use; Transport serialises
// access per handle.
type Conn interface {
	Call(selector uint32, in []byte) ([]byte, error)
	Close() error
}

// Opener opens a Conn to the named IOKit service.
type Opener func(service string) (Conn, error)
