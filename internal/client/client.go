// Package client implements the control-socket side used by the portless CLI
// to talk to a running daemon.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/portless-dev/portless/internal/config"
	"github.com/portless-dev/portless/internal/protocol"
)

// ErrDaemonNotRunning is returned when the control socket cannot be dialed.
var ErrDaemonNotRunning = errors.New("daemon is not running (start it with `portless daemon start`)")

const requestTimeout = 30 * time.Second

// Client sends control requests over the daemon's unix socket. Each request
// uses a fresh connection; the daemon closes it after one response.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// New creates a client for the socket at the given path.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: requestTimeout}
}

// NewDefault creates a client bound to the standard portless home.
func NewDefault() *Client {
	return New(config.GetPaths("").Socket)
}

// Send issues one request and waits for its response. Protocol-level errors
// arrive as *protocol.Error so callers can branch on the code.
func (c *Client) Send(reqType string, data any) (*protocol.Response, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	req := protocol.Request{
		ID:     uuid.NewString(),
		Schema: protocol.SchemaVersion,
		Type:   reqType,
		Data:   payload,
	}

	conn, err := net.DialTimeout("unix", c.socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send %s request: %w", reqType, err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", reqType, err)
	}

	if resp.ID != req.ID {
		return nil, fmt.Errorf("response ID mismatch: sent %s, got %s", req.ID, resp.ID)
	}
	if !resp.Success {
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, fmt.Errorf("%s request failed without error detail", reqType)
	}
	return &resp, nil
}

// Register asks the daemon to bind a domain, spawning the command when one
// is given or recording an externally managed port otherwise.
func (c *Client) Register(data protocol.RegisterData) (*protocol.RegisterResult, error) {
	resp, err := c.Send(protocol.RequestRegister, data)
	if err != nil {
		return nil, err
	}

	var result protocol.RegisterResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("decode register result: %w", err)
	}
	return &result, nil
}

// List returns every registered service.
func (c *Client) List() ([]protocol.ServiceInfo, error) {
	resp, err := c.Send(protocol.RequestList, nil)
	if err != nil {
		return nil, err
	}

	var services []protocol.ServiceInfo
	if err := json.Unmarshal(resp.Data, &services); err != nil {
		return nil, fmt.Errorf("decode service list: %w", err)
	}
	return services, nil
}

// Stop terminates the named service and removes its route.
func (c *Client) Stop(domain string) error {
	_, err := c.Send(protocol.RequestStop, protocol.StopData{Domain: domain})
	return err
}

// Status returns daemon metadata.
func (c *Client) Status() (*protocol.StatusResult, error) {
	resp, err := c.Send(protocol.RequestStatus, nil)
	if err != nil {
		return nil, err
	}

	var status protocol.StatusResult
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// Shutdown requests a graceful daemon shutdown. The daemon acknowledges
// before it begins tearing down.
func (c *Client) Shutdown() error {
	_, err := c.Send(protocol.RequestShutdown, nil)
	return err
}

// RegenCert forces regeneration of the TLS leaf certificate.
func (c *Client) RegenCert() error {
	_, err := c.Send(protocol.RequestRegenCert, nil)
	return err
}

// IsRunning reports whether a daemon is answering on the control socket.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
