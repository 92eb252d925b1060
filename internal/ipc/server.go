package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/maxclaw/internal/types"
)

// maxLineBytes caps a single request line. Search payloads are the
// largest legitimate traffic and stay well under this.
const maxLineBytes = 4 * 1024 * 1024

// Handler serves one RPC method. Params arrive as raw JSON; the
// returned value is marshalled into the result member.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server accepts connections on a Unix socket and dispatches
// newline-delimited JSON-RPC requests. Requests on one connection are
// handled concurrently; responses may interleave in completion order.
type Server struct {
	socketPath string
	logger     *log.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

func NewServer(socketPath string, logger *log.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		logger:     logger,
		handlers:   make(map[string]Handler),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Handle registers a method. Registration after Start is allowed but
// expected only in tests.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// SocketPath returns the path the server binds.
func (s *Server) SocketPath() string { return s.socketPath }

// Start binds the socket and begins accepting connections. The parent
// directory is created mode 0700 and the socket itself is narrowed to
// 0600; a leftover socket file from a dead daemon is removed first.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return types.NewFatal("creating socket directory %s: %v", dir, err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return types.NewFatal("removing stale socket %s: %v", s.socketPath, err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return types.NewFatal("binding socket %s: %v", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return types.NewFatal("restricting socket %s: %v", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	s.logger.Printf("[IPC] listening on %s", s.socketPath)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Printf("[IPC] accept error: %v", err)
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	// One writer lock per connection: concurrent handlers share the
	// stream and frames must not interleave.
	var writeMu sync.Mutex
	var handlerWG sync.WaitGroup
	defer handlerWG.Wait()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			// Malformed framing: report and drop the connection.
			s.writeResponse(conn, &writeMu, errorResponse(nil, CodeParseError, "parse error"))
			return
		}
		reqCopy := req
		handlerWG.Add(1)
		go func() {
			defer handlerWG.Done()
			if resp := s.dispatch(&reqCopy); resp != nil {
				s.writeResponse(conn, &writeMu, resp)
			}
		}()
	}
}

func (s *Server) dispatch(req *Request) *Response {
	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		if req.ID == nil {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := h(context.Background(), req.Params)
	if req.ID == nil {
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, codeFor(err), err.Error())
	}
	resp, merr := resultResponse(req.ID, result)
	if merr != nil {
		return errorResponse(req.ID, CodeHandlerError, fmt.Sprintf("encoding result: %v", merr))
	}
	return resp
}

// codeFor maps handler failures onto wire codes. Malformed params get
// their own code; every domain failure travels as a handler error with
// the domain message.
func codeFor(err error) int {
	var ipcErr *Error
	if errors.As(err, &ipcErr) {
		return ipcErr.Code
	}
	return CodeHandlerError
}

func (s *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Printf("[IPC] encoding response: %v", err)
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.logger.Printf("[IPC] write error: %v", err)
	}
}

// Stop closes the listener and every open connection, waits for
// in-flight handlers, and removes the socket file. Safe to call twice.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.listener = nil
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("[IPC] removing socket: %v", err)
	}
	s.logger.Printf("[IPC] stopped")
}

// InvalidParams wraps a params decoding failure with the dedicated
// wire code.
func InvalidParams(err error) error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
}

// DecodeParams unmarshals the params member into dst, tolerating an
// absent params object when dst accepts zero values.
func DecodeParams(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return InvalidParams(err)
	}
	return nil
}
