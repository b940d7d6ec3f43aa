// Package rpc implements the Unix-domain-socket control protocol
// cmd/grallocd listens on and cmd/gralloc-dump speaks: a JSON request
// per connection, one JSON response back. This stands in for the
// Android service-manager registration spec.md describes ("registered
// under <descriptor>/default") — the wire is a socket instead of
// binder, but the operations it carries are the allocator/mapper
// operations spec.md names, grounded on the teacher corpus's
// runtime_ipc.go Unix-socket JSON pattern.
package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// DefaultSocketPath is where grallocd listens and gralloc-dump dials by
// default.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/goldfish-grallocd.sock"
	}
	return "/tmp/goldfish-grallocd.sock"
}

// Request is one RPC call: Cmd names the operation, Args carries its
// JSON-encoded parameters.
type Request struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response carries either a result or an error, never both.
type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Handler processes one decoded Request and returns the value to encode
// as Result, or an error.
type Handler func(Request) (any, error)

// Server accepts connections on a Unix socket and dispatches each one's
// single request/response exchange to handle.
type Server struct {
	ln      net.Listener
	handle  Handler
	done    chan struct{}
	sockPath string
}

// Listen binds a Unix socket at path, removing a stale socket left by a
// crashed prior instance.
func Listen(path string, handle Handler) (*Server, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		if conn, dialErr := net.DialTimeout("unix", path, 2*time.Second); dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("rpc: another instance is already listening on %s", path)
		}
		os.Remove(path)
		ln, err = net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("rpc: listen %s: %w", path, err)
		}
	}
	return &Server{ln: ln, handle: handle, done: make(chan struct{}), sockPath: path}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() {
	s.ln.Close()
	<-s.done
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.reply(conn, Response{Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	result, err := s.handle(req)
	if err != nil {
		s.reply(conn, Response{Error: err.Error()})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.reply(conn, Response{Error: fmt.Sprintf("marshal result: %v", err)})
		return
	}
	s.reply(conn, Response{OK: true, Result: raw})
}

func (s *Server) reply(conn net.Conn, resp Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}

// Call dials sockPath, sends one request, and decodes its response.
func Call(sockPath, cmd string, args any, result any) error {
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", sockPath, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: marshal args: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(Request{Cmd: cmd, Args: argBytes}); err != nil {
		return fmt.Errorf("rpc: send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("rpc: %s", resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc: unmarshal result: %w", err)
		}
	}
	return nil
}
