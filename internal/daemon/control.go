package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/portless-dev/portless/internal/allocator"
	"github.com/portless-dev/portless/internal/certs"
	"github.com/portless-dev/portless/internal/protocol"
	"github.com/portless-dev/portless/internal/registry"
	"github.com/portless-dev/portless/internal/supervisor"
)

const connTimeout = 30 * time.Second

// controlService answers CLI commands over a unix socket. Each connection
// carries exactly one request and one response.
type controlService struct {
	socketPath string
	daemon     *Daemon

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	// cmdMu keeps the control server the single serialization point for
	// registry and store mutation: one command at a time, even when several
	// clients connect at once.
	cmdMu sync.Mutex
}

func newControlService(socketPath string, d *Daemon) *controlService {
	return &controlService{socketPath: socketPath, daemon: d}
}

func (s *controlService) Start(ctx context.Context) error {
	if s.socketPath == "" {
		return fmt.Errorf("socket path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// A leftover socket from a crashed daemon would block the bind.
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	return nil
}

func (s *controlService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}

	return nil
}

func (s *controlService) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			log.Printf("[Control] accept: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *controlService) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	var req protocol.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		writeResponse(conn, errorResponse(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("malformed request: %v", err)))
		return
	}

	if req.Schema != protocol.SchemaVersion {
		writeResponse(conn, errorResponse(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("unsupported schema version %d (daemon speaks %d)", req.Schema, protocol.SchemaVersion)))
		return
	}

	writeResponse(conn, s.dispatch(&req))
}

func (s *controlService) dispatch(req *protocol.Request) protocol.Response {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	switch req.Type {
	case protocol.RequestRegister:
		return s.handleRegister(req)
	case protocol.RequestList:
		return dataResponse(req.ID, s.daemon.ListServices())
	case protocol.RequestStop:
		return s.handleStop(req)
	case protocol.RequestStatus:
		return dataResponse(req.ID, s.daemon.Status())
	case protocol.RequestShutdown:
		// Acknowledge before teardown starts tearing the socket down.
		go s.daemon.Shutdown()
		return dataResponse(req.ID, nil)
	case protocol.RequestRegenCert:
		if err := s.daemon.RegenerateCert(); err != nil {
			return errorFromErr(req.ID, err)
		}
		return dataResponse(req.ID, nil)
	default:
		return errorResponse(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (s *controlService) handleRegister(req *protocol.Request) protocol.Response {
	var data protocol.RegisterData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return errorResponse(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("malformed register payload: %v", err))
	}

	result, err := s.daemon.RegisterService(data)
	if err != nil {
		return errorFromErr(req.ID, err)
	}
	return dataResponse(req.ID, result)
}

func (s *controlService) handleStop(req *protocol.Request) protocol.Response {
	var data protocol.StopData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return errorResponse(req.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("malformed stop payload: %v", err))
	}

	if err := s.daemon.StopService(data.Domain); err != nil {
		return errorFromErr(req.ID, err)
	}
	return dataResponse(req.ID, nil)
}

func writeResponse(conn net.Conn, resp protocol.Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Printf("[Control] write response: %v", err)
	}
}

func dataResponse(id string, payload any) protocol.Response {
	resp := protocol.Response{ID: id, Success: true}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errorResponse(id, protocol.CodeInternal, fmt.Sprintf("encode response: %v", err))
		}
		resp.Data = data
	}
	return resp
}

func errorResponse(id string, code int, message string) protocol.Response {
	return protocol.Response{
		ID:    id,
		Error: &protocol.Error{Code: code, Message: message},
	}
}

// errorFromErr maps internal sentinel errors onto protocol codes so clients
// can branch without parsing messages.
func errorFromErr(id string, err error) protocol.Response {
	code := protocol.CodeInternal
	switch {
	case errors.Is(err, errInvalid):
		code = protocol.CodeInvalidRequest
	case errors.Is(err, registry.ErrDomainBound):
		code = protocol.CodeDomainAlreadyBound
	case errors.Is(err, ErrNotFound):
		code = protocol.CodeNotFound
	case errors.Is(err, allocator.ErrExhausted):
		code = protocol.CodeResourceExhausted
	case errors.Is(err, supervisor.ErrSpawn), errors.Is(err, supervisor.ErrEmptyCommand):
		code = protocol.CodeSpawnFailed
	case errors.Is(err, certs.ErrUnavailable):
		code = protocol.CodeCertUnavailable
	}
	return errorResponse(id, code, err.Error())
}
