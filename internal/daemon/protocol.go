package daemon

import (
	"errors"
	"fmt"
	"strings"
)

// Commands understood by the daemon. Matching is case-insensitive.
const (
	CmdUnlock  = "unlock"
	CmdSetFan  = "setfan"
	CmdMaxFans = "maxfans"
	CmdRelease = "release"
	CmdStatus  = "status"
	CmdQuit    = "quit"
	CmdDiag    = "diag"
)

const (
	prefixOK    = "OK:"
	prefixError = "ERROR:"
)

// Process exit codes shared by the one-shot and daemon modes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitNoHardware = 2
	ExitNoEndpoint = 3
)

var (
	ErrMalformedResponse = errors.New("malformed daemon response")
	ErrUnknownCommand    = errors.New("unknown command")
)

const unknownCommandPrefix = "Unknown command "

// Response is one protocol reply line.
type Response struct {
	OK      bool
	Message string
}

func OK(format string, args ...any) Response {
	return Response{OK: true, Message: fmt.Sprintf(format, args...)}
}

func Error(format string, args ...any) Response {
	return Response{Message: fmt.Sprintf(format, args...)}
}

func (r Response) String() string {
	if r.OK {
		return prefixOK + r.Message
	}
	return prefixError + r.Message
}

// Err converts a failed response into an error.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return &RemoteError{Message: r.Message}
}

// RemoteError is an ERROR reply from the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "daemon: " + e.Message
}

// Unwrap lets errors.Is match ErrUnknownCommand on rejected verbs.
func (e *RemoteError) Unwrap() error {
	if strings.HasPrefix(e.Message, unknownCommandPrefix) {
		return ErrUnknownCommand
	}
	return nil
}

// ParseResponse parses a reply line. Text after the prefix is kept verbatim.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, prefixOK):
		return Response{OK: true, Message: line[len(prefixOK):]}, nil
	case strings.HasPrefix(line, prefixError):
		return Response{Message: line[len(prefixError):]}, nil
	default:
		return Response{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}
}

// Request is a tokenised command line.
type Request struct {
	Name string
	Raw  string
	Args []string
}

// ParseRequest splits a command line on whitespace. ok is false for an
// empty line.
func ParseRequest(line string) (Request, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, false
	}
	return Request{
		Name: strings.ToLower(fields[0]),
		Raw:  fields[0],
		Args: fields[1:],
	}, true
}
