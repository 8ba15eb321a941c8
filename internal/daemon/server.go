package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// MaxLineLength bounds a single request line.
const MaxLineLength = 4096

// Server serves the line protocol on a unix socket, one client at a time.
// A second client waits in the accept backlog until the first disconnects.
type Server struct {
	logger  *zap.Logger
	handler *Handler
	path    string
	mode    os.FileMode

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	closed   bool
}

func NewServer(logger *zap.Logger, handler *Handler, path string, mode os.FileMode) *Server {
	return &Server{
		logger:  logger,
		handler: handler,
		path:    path,
		mode:    mode,
	}
}

func (s *Server) Path() string {
	return s.path
}

// Listen replaces any stale socket file and binds the endpoint. The file
// mode is applied explicitly so less privileged clients can connect.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	old := unix.Umask(0o077)
	l, err := net.Listen("unix", s.path)
	unix.Umask(old)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}

	if err := os.Chmod(s.path, s.mode); err != nil {
		l.Close()
		os.Remove(s.path)
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("Daemon listening",
		zap.String("socket", s.path),
		zap.String("mode", s.mode.String()))
	return nil
}

// Serve accepts connections until ctx is cancelled, a client sends quit,
// or the listener fails. The socket file is removed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("server not listening")
	}
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if quit := s.serveConn(ctx, conn); quit {
			s.logger.Info("Quit requested by client")
			return nil
		}
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	log := s.logger.With(zap.String("conn_id", uuid.New().String()))
	log.Debug("Client connected")

	r := bufio.NewReaderSize(conn, MaxLineLength)
	w := bufio.NewWriter(conn)

	for {
		line, err := readLine(r)
		if errors.Is(err, errLineTooLong) {
			log.Debug("Request line too long", zap.Int("limit", MaxLineLength))
			if err := writeResponse(w, Error("Line too long")); err != nil {
				log.Debug("Write to client failed", zap.Error(err))
				return false
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				log.Debug("Client read failed", zap.Error(err))
			}
			break
		}
		if ctx.Err() != nil {
			return false
		}

		resp, quit := s.handler.Handle(ctx, line)
		if err := writeResponse(w, resp); err != nil {
			log.Debug("Write to client failed", zap.Error(err))
			return quit
		}
		if quit {
			return true
		}
	}

	log.Debug("Client disconnected")
	return false
}

var errLineTooLong = errors.New("line too long")

// readLine returns the next request line. A line that does not fit in the
// reader's buffer is drained up to its newline and reported as
// errLineTooLong, leaving the connection usable.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", errLineTooLong
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return string(line), nil
		}
		return "", err
	}
	return string(line), nil
}

func writeResponse(w *bufio.Writer, resp Response) error {
	if _, err := fmt.Fprintln(w, resp.String()); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, drops the current client and removes the socket
// file. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l, conn := s.listener, s.conn
	s.mu.Unlock()

	var errs []error
	if conn != nil {
		conn.Close()
	}
	if l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}

	s.logger.Info("Daemon socket closed", zap.String("socket", s.path))
	return errors.Join(errs...)
}
